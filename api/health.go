package api

import (
	"github.com/gin-gonic/gin"

	"gitlab.com/gridshare/gpu-cloud-service/db"
)

// RootHandler  godoc
//
//	@Summary		Liveness check.
//	@Description	Answers without touching storage or the queue, so a slow backing store cannot fail liveness.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	object
//	@Router			/ [get]
func (h *Handlers) RootHandler(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "GPU Cloud Platform API",
		"status":  "online",
	})
}

// HealthHandler  godoc
//
//	@Summary		Detailed health check.
//	@Description	Reports storage and channel subsystem status. A down dependency degrades the report, never the process.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	object
//	@Router			/health [get]
func (h *Handlers) HealthHandler(c *gin.Context) {
	dbStatus := "online"
	if !db.Reachable() {
		dbStatus = "offline"
	}
	queueStatus := "online"
	if !h.Queue.IsConnected(c.Request.Context()) {
		queueStatus = "offline"
	}

	status := "healthy"
	if dbStatus == "offline" || queueStatus == "offline" {
		status = "degraded"
	}

	c.JSON(200, gin.H{
		"status":       status,
		"active_hosts": h.Manager.ActiveHostCount(),
		"components": gin.H{
			"api":       "online",
			"database":  dbStatus,
			"queue":     queueStatus,
			"websocket": "online",
		},
	})
}
