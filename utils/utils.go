package utils

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

func RandomString(n int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	sb := strings.Builder{}
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(charset[rand.Intn(len(charset))])
	}
	return sb.String()
}

// NewJobID generates a job identifier of the form job_xxxxxxxx where the
// suffix is the first 8 hex characters of a random UUID.
func NewJobID() string {
	id := uuid.New()
	return fmt.Sprintf("job_%s", strings.ReplaceAll(id.String(), "-", "")[:8])
}

// NewModelID generates an identifier for a published model.
func NewModelID() string {
	id := uuid.New()
	return fmt.Sprintf("model_%s", strings.ReplaceAll(id.String(), "-", "")[:8])
}
