package dispatch

import (
	"gitlab.com/gridshare/gpu-cloud-service/internal/logger"
)

var zlog *logger.Logger

func init() {
	zlog = logger.New("dispatch")
}
