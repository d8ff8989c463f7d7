package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gitlab.com/gridshare/gpu-cloud-service/auth"
	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

// LoginURLHandler  godoc
//
//	@Summary		Get the provider login URL.
//	@Description	Returns the OAuth authorization URL carrying a fresh anti-forgery state token.
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	object
//	@Router			/auth/login [get]
func (h *Handlers) LoginURLHandler(c *gin.Context) {
	url, err := auth.AuthorizationURL()
	if err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "could not build authorization url"})
		return
	}
	c.JSON(200, gin.H{"authorization_url": url})
}

// OAuthCallbackHandler  godoc
//
//	@Summary		Complete the OAuth login.
//	@Description	Verifies the state token, exchanges the authorization code and returns a bearer credential.
//	@Tags			auth
//	@Produce		json
//	@Param			code	query		string	true	"authorization code"
//	@Param			state	query		string	true	"anti-forgery state token"
//	@Param			role	query		string	false	"declared account role (renter or host)"
//	@Success		200		{object}	object
//	@Failure		400		{object}	object	"missing or invalid state"
//	@Router			/auth/callback [get]
func (h *Handlers) OAuthCallbackHandler(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.AbortWithStatusJSON(400, gin.H{"error": "missing code or state parameter"})
		return
	}

	profile, err := auth.ExchangeCode(c.Request.Context(), code, state)
	if err != nil {
		c.AbortWithStatusJSON(400, gin.H{"error": err.Error()})
		return
	}

	user, err := auth.UpsertUser(profile)
	if err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "login failed"})
		return
	}

	// The declared account role may be (re)stated at login. Admin accounts
	// are provisioned out of band and never downgraded here.
	if role := c.Query("role"); (role == string(models.RoleHost) || role == string(models.RoleRenter)) && !user.IsAdmin() {
		if user.Role != models.UserRole(role) {
			user.Role = models.UserRole(role)
			db.DB.Model(user).Update("role", user.Role)
		}
	}

	token, err := auth.CreateAccessToken(user.ID)
	if err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "login failed"})
		return
	}

	c.JSON(200, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"user":         user,
	})
}

// MeHandler  godoc
//
//	@Summary		Get the authenticated user.
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	models.User
//	@Router			/auth/me [get]
func (h *Handlers) MeHandler(c *gin.Context) {
	c.JSON(200, currentUser(c))
}

// SwitchRoleHandler  godoc
//
//	@Summary		Switch the role the user is operating as.
//	@Description	Switching to host requires at least one registered host device.
//	@Tags			auth
//	@Produce		json
//	@Param			body	body		models.RoleSwitch	true	"Role Switch Body"
//	@Success		200		{object}	models.User
//	@Failure		400		{object}	api.ProblemDetail
//	@Failure		403		{object}	object	"insufficient role"
//	@Router			/auth/role [post]
func (h *Handlers) SwitchRoleHandler(c *gin.Context) {
	if c.Request.ContentLength == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, NewEmptyBodyProblem())
		return
	}

	var payload models.RoleSwitch
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, NewValidationProblem(err))
		return
	}

	user := currentUser(c)
	if err := auth.CanSwitchRole(user, payload.Role); err != nil {
		abortWithAuthError(c, err)
		return
	}

	user.ActiveRole = payload.Role
	if err := db.DB.Model(user).Update("active_role", payload.Role).Error; err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "could not switch role"})
		return
	}
	c.JSON(200, user)
}
