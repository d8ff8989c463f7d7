package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gitlab.com/gridshare/gpu-cloud-service/auth"
	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/jobqueue"
	"gitlab.com/gridshare/gpu-cloud-service/models"
	"gitlab.com/gridshare/gpu-cloud-service/utils"
)

// SubmitJobHandler  godoc
//
//	@Summary		Submit a new GPU job.
//	@Description	Accepts the job into durable storage and enqueues it for dispatch. A preferred host must exist, be online and be available, or the submission is rejected.
//	@Tags			jobs
//	@Produce		json
//	@Param			body	body		models.JobSubmission	true	"Job Submission Body"
//	@Success		200		{object}	models.Job
//	@Failure		400		{object}	object	"specified host not available"
//	@Router			/jobs [post]
func (h *Handlers) SubmitJobHandler(c *gin.Context) {
	user := currentUser(c)

	if c.Request.ContentLength == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, NewEmptyBodyProblem())
		return
	}

	var payload models.JobSubmission
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, NewValidationProblem(err))
		return
	}

	if payload.GPUCountRequired == 0 {
		payload.GPUCountRequired = 1
	}
	if payload.MaxRuntimeHours == 0 {
		payload.MaxRuntimeHours = 24
	}

	// A dead preferred-host reference is rejected here, synchronously. It is
	// never written to the queue.
	var preferred *models.Host
	if payload.HostID != "" {
		var host models.Host
		err := db.DB.Where("host_id = ? AND is_available = ? AND is_online = ?",
			payload.HostID, true, true).First(&host).Error
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "specified host not available"})
			return
		}
		preferred = &host
	}

	job := models.Job{
		JobID:            utils.NewJobID(),
		RenterID:         user.ID,
		Title:            payload.Title,
		Description:      payload.Description,
		Command:          payload.Command,
		DockerImage:      payload.DockerImage,
		CodeArchiveURL:   payload.CodeArchiveURL,
		GPUCountRequired: payload.GPUCountRequired,
		MemoryGBRequired: payload.MemoryGBRequired,
		MaxRuntimeHours:  payload.MaxRuntimeHours,
		Status:           models.JobStatusPending,
		SubmittedAt:      time.Now().UTC(),
		MakePublic:       payload.MakePublic,
	}
	if preferred != nil {
		job.HostID = &preferred.ID
		estimate := payload.MaxRuntimeHours * preferred.PricePerHour
		job.EstimatedCost = &estimate
	}

	if err := db.DB.Create(&job).Error; err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "job submission failed"})
		return
	}

	rec := &jobqueue.JobRecord{
		JobID:            job.JobID,
		RenterID:         user.ID,
		Title:            job.Title,
		Command:          job.Command,
		DockerImage:      job.DockerImage,
		CodeArchiveURL:   job.CodeArchiveURL,
		GPUCountRequired: job.GPUCountRequired,
		MemoryGBRequired: job.MemoryGBRequired,
		MaxRuntimeHours:  job.MaxRuntimeHours,
	}
	if preferred != nil {
		rec.PreferredHostID = preferred.HostID
	}

	// Best-effort: the job is already accepted in durable storage. When the
	// queue store is unreachable the dispatch loop picks the job up once the
	// record can be written again.
	if !h.Queue.Enqueue(c.Request.Context(), rec) {
		zlog.Sugar().Warnf("queue unavailable, job %s accepted in durable storage only", job.JobID)
	}

	zlog.Sugar().Infof("job submitted: %s by user %s", job.JobID, user.Email)
	c.JSON(200, job)
}

// ListJobsHandler  godoc
//
//	@Summary		List jobs visible to the authenticated user.
//	@Description	Admins see all jobs, users operating as host see jobs on their devices, renters see their own submissions.
//	@Tags			jobs
//	@Produce		json
//	@Success		200	{object}	[]models.Job
//	@Router			/jobs [get]
func (h *Handlers) ListJobsHandler(c *gin.Context) {
	user := currentUser(c)

	var jobs []models.Job
	var err error
	switch {
	case user.IsAdmin():
		err = db.DB.Find(&jobs).Error
	case user.ActiveRole == models.RoleHost:
		var hostIDs []uint
		db.DB.Model(&models.Host{}).Where("owner_id = ?", user.ID).Pluck("id", &hostIDs)
		err = db.DB.Where("host_id IN ?", hostIDs).Find(&jobs).Error
	default:
		err = db.DB.Where("renter_id = ?", user.ID).Find(&jobs).Error
	}
	if err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "failed to fetch jobs"})
		return
	}
	c.JSON(200, jobs)
}

// GetJobHandler  godoc
//
//	@Summary		Get job status and details.
//	@Description	Restricted to the submitting renter, an admin, or the owner of the assigned host.
//	@Tags			jobs
//	@Produce		json
//	@Param			job_id	path		string	true	"job id"
//	@Success		200		{object}	models.Job
//	@Failure		403		{object}	object	"access denied"
//	@Failure		404		{object}	object	"job not found"
//	@Router			/jobs/{job_id} [get]
func (h *Handlers) GetJobHandler(c *gin.Context) {
	user := currentUser(c)
	jobID := c.Param("job_id")

	var job models.Job
	if err := db.DB.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	if err := h.authorizeJobRead(user, &job); err != nil {
		abortWithAuthError(c, err)
		return
	}
	c.JSON(200, job)
}

// CancelJobHandler  godoc
//
//	@Summary		Cancel a job.
//	@Description	Allowed for the submitting renter or an admin while the job is in a non-terminal state.
//	@Tags			jobs
//	@Produce		json
//	@Param			job_id	path		string	true	"job id"
//	@Success		200		{object}	models.Job
//	@Failure		403		{object}	object	"access denied"
//	@Failure		404		{object}	object	"job not found"
//	@Failure		409		{object}	object	"job already in a terminal state"
//	@Router			/jobs/{job_id}/cancel [post]
func (h *Handlers) CancelJobHandler(c *gin.Context) {
	user := currentUser(c)
	jobID := c.Param("job_id")

	var job models.Job
	if err := db.DB.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	if err := auth.RequireOwner(user, job.RenterID); err != nil {
		abortWithAuthError(c, err)
		return
	}

	if job.Status.Terminal() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "job already in a terminal state"})
		return
	}

	if err := h.Loop.CancelJob(c.Request.Context(), &job); err != nil {
		c.AbortWithStatusJSON(500, gin.H{"error": "failed to cancel job"})
		return
	}

	db.DB.Where("job_id = ?", jobID).First(&job)
	c.JSON(200, job)
}

// authorizeJobRead implements the read predicate: submitting renter, admin,
// or the owner of the host the job is assigned to.
func (h *Handlers) authorizeJobRead(user *models.User, job *models.Job) error {
	if user == nil {
		return auth.ErrNoCredential
	}
	if user.IsAdmin() || user.ID == job.RenterID {
		return nil
	}
	if job.HostID != nil {
		var count int64
		db.DB.Model(&models.Host{}).
			Where("id = ? AND owner_id = ?", *job.HostID, user.ID).
			Count(&count)
		if count > 0 {
			return nil
		}
	}
	return auth.ErrNotOwner
}
