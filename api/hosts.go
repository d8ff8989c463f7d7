package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"gitlab.com/gridshare/gpu-cloud-service/auth"
	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

// RegisterHostHandler  godoc
//
//	@Summary		Register a GPU host device.
//	@Description	Requires the host role. The host id is owner-chosen and globally unique.
//	@Tags			hosts
//	@Produce		json
//	@Param			body	body		models.HostRegistration	true	"Host Registration Body"
//	@Success		200		{object}	models.Host
//	@Failure		400		{object}	api.ProblemDetail
//	@Failure		403		{object}	object	"insufficient role"
//	@Failure		409		{object}	object	"host id already exists"
//	@Router			/hosts/register [post]
func (h *Handlers) RegisterHostHandler(c *gin.Context) {
	user := currentUser(c)
	if err := auth.RequireRole(user, models.RoleHost); err != nil {
		abortWithAuthError(c, err)
		return
	}

	if c.Request.ContentLength == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, NewEmptyBodyProblem())
		return
	}

	var payload models.HostRegistration
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, NewValidationProblem(err))
		return
	}

	var count int64
	db.DB.Model(&models.Host{}).Where("host_id = ?", payload.HostID).Count(&count)
	if count > 0 {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "host id already exists"})
		return
	}

	gpuCount := payload.GPUCount
	if gpuCount == 0 {
		gpuCount = 1
	}
	tags, _ := json.Marshal(payload.Tags)

	host := models.Host{
		HostID:       payload.HostID,
		OwnerID:      user.ID,
		GPUModel:     payload.GPUModel,
		GPUMemory:    payload.GPUMemory,
		GPUCount:     gpuCount,
		CPUCores:     payload.CPUCores,
		RAMGB:        payload.RAMGB,
		StorageGB:    payload.StorageGB,
		PricePerHour: payload.PricePerHour,
		Location:     payload.Location,
		Tags:         string(tags),
		IsAvailable:  true,
	}

	if err := db.DB.Create(&host).Error; err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "host registration failed"})
		return
	}

	// First registered device makes the account host-capable, which is the
	// precondition for switching the active role to host.
	if !user.IsHost {
		user.IsHost = true
		db.DB.Model(user).Update("is_host", true)
	}

	zlog.Sugar().Infof("host registered: %s by user %s", host.HostID, user.Email)
	c.JSON(200, host)
}

// ListHostsHandler  godoc
//
//	@Summary		List available GPU hosts.
//	@Tags			hosts
//	@Produce		json
//	@Success		200	{object}	[]models.Host
//	@Router			/hosts [get]
func (h *Handlers) ListHostsHandler(c *gin.Context) {
	var hosts []models.Host
	if err := db.DB.Where("is_available = ?", true).Find(&hosts).Error; err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "failed to fetch hosts"})
		return
	}
	c.JSON(200, hosts)
}

// MyHostsHandler  godoc
//
//	@Summary		List the authenticated user's hosts.
//	@Tags			hosts
//	@Produce		json
//	@Success		200	{object}	[]models.Host
//	@Failure		403	{object}	object	"insufficient role"
//	@Router			/hosts/my [get]
func (h *Handlers) MyHostsHandler(c *gin.Context) {
	user := currentUser(c)
	if err := auth.RequireRole(user, models.RoleHost); err != nil {
		abortWithAuthError(c, err)
		return
	}

	var hosts []models.Host
	if err := db.DB.Where("owner_id = ?", user.ID).Find(&hosts).Error; err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "failed to fetch hosts"})
		return
	}
	c.JSON(200, hosts)
}

// HostAvailabilityHandler  godoc
//
//	@Summary		Toggle a host's owner-set availability.
//	@Description	Only the owner (or an admin) may change availability. Does not affect the derived online flag.
//	@Tags			hosts
//	@Produce		json
//	@Param			host_id	path		string					true	"host id"
//	@Param			body	body		models.HostAvailability	true	"Availability Body"
//	@Success		200		{object}	models.Host
//	@Failure		403		{object}	object	"not the resource owner"
//	@Failure		404		{object}	object	"host not found"
//	@Router			/hosts/{host_id}/availability [post]
func (h *Handlers) HostAvailabilityHandler(c *gin.Context) {
	user := currentUser(c)
	hostID := c.Param("host_id")

	var host models.Host
	if err := db.DB.Where("host_id = ?", hostID).First(&host).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "host not found"})
		return
	}

	if err := auth.RequireOwner(user, host.OwnerID); err != nil {
		abortWithAuthError(c, err)
		return
	}

	var payload models.HostAvailability
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, NewValidationProblem(err))
		return
	}

	host.IsAvailable = payload.IsAvailable
	if err := db.DB.Model(&host).Update("is_available", payload.IsAvailable).Error; err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "failed to update host"})
		return
	}
	c.JSON(200, host)
}
