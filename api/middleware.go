package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"gitlab.com/gridshare/gpu-cloud-service/auth"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

const userContextKey = "current_user"

// Authenticate resolves the bearer credential on the request into a user and
// stores it on the context. The same resolution step serves the channel
// endpoints, which carry the credential as a query parameter instead.
func Authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		abortWithAuthError(c, auth.ErrNoCredential)
		return
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		abortWithAuthError(c, auth.ErrInvalidCredential)
		return
	}

	user, err := auth.ResolveUser(token)
	if err != nil {
		abortWithAuthError(c, err)
		return
	}

	c.Set(userContextKey, user)
	c.Next()
}

func currentUser(c *gin.Context) *models.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
