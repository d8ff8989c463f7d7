package api

import (
	"github.com/gin-gonic/gin"

	"gitlab.com/gridshare/gpu-cloud-service/auth"
	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

// AdminStatsHandler  godoc
//
//	@Summary		Get platform statistics.
//	@Description	Aggregate counts over users, hosts and jobs plus live queue stats. Admin role only.
//	@Tags			admin
//	@Produce		json
//	@Success		200	{object}	object
//	@Failure		403	{object}	object	"insufficient role"
//	@Router			/admin/stats [get]
func (h *Handlers) AdminStatsHandler(c *gin.Context) {
	user := currentUser(c)
	if err := auth.RequireAdmin(user); err != nil {
		abortWithAuthError(c, err)
		return
	}

	var totalHosts, totalUsers, activeJobs, completedJobs, pendingJobs int64
	db.DB.Model(&models.Host{}).Count(&totalHosts)
	db.DB.Model(&models.User{}).Count(&totalUsers)
	db.DB.Model(&models.Job{}).Where("status = ?", models.JobStatusRunning).Count(&activeJobs)
	db.DB.Model(&models.Job{}).Where("status = ?", models.JobStatusCompleted).Count(&completedJobs)
	db.DB.Model(&models.Job{}).Where("status = ?", models.JobStatusPending).Count(&pendingJobs)

	c.JSON(200, gin.H{
		"total_hosts":    totalHosts,
		"active_hosts":   h.Manager.ActiveHostCount(),
		"total_users":    totalUsers,
		"active_jobs":    activeJobs,
		"completed_jobs": completedJobs,
		"pending_jobs":   pendingJobs,
		"queue":          h.Queue.Stats(c.Request.Context()),
	})
}
