package dispatch

import (
	"context"
	"time"

	"gitlab.com/gridshare/gpu-cloud-service/connection"
	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/jobqueue"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

// AssignMessage is the command pushed to a host over its live channel when
// a job is dispatched to it.
type AssignMessage struct {
	Type             string  `json:"type"` // "job_assign"
	JobID            string  `json:"job_id"`
	Command          string  `json:"command"`
	DockerImage      string  `json:"docker_image,omitempty"`
	CodeArchiveURL   string  `json:"code_archive_url,omitempty"`
	GPUCountRequired int     `json:"gpu_count_required"`
	MemoryGBRequired int     `json:"memory_gb_required,omitempty"`
	MaxRuntimeHours  float64 `json:"max_runtime_hours,omitempty"`
}

// ResultMessage is the job_result payload a host reports when a job ends.
type ResultMessage struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"` // "completed" or "failed"
	ExitCode     *int   `json:"exit_code,omitempty"`
	LogURL       string `json:"log_url,omitempty"`
	ResultsURL   string `json:"results_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// QueueStore is the slice of the job queue the loop depends on.
type QueueStore interface {
	DequeueNext(ctx context.Context) *jobqueue.JobRecord
	Requeue(ctx context.Context, rec *jobqueue.JobRecord) bool
	MarkRunning(ctx context.Context, jobID, hostID string) bool
	MarkCompleted(ctx context.Context, jobID string, result map[string]string) bool
	MarkFailed(ctx context.Context, jobID, errorMessage string) bool
	Cancel(ctx context.Context, jobID string) bool
	ListAvailableHosts(ctx context.Context) []string
	ReapExpired(ctx context.Context) []string
}

// Loop matches pending queue records to online, available hosts and is the
// sole writer reconciling the ephemeral record with the durable job row on
// terminal transitions.
type Loop struct {
	queue     QueueStore
	manager   *connection.Manager
	batchSize int
}

func NewLoop(queue QueueStore, manager *connection.Manager, batchSize int) *Loop {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Loop{queue: queue, manager: manager, batchSize: batchSize}
}

// Tick runs one dispatch pass: pop pending records, place each on a host,
// requeue the unplaceable ones. Requeueing happens after the pass so an
// unplaceable record cycles at most once per tick instead of churning
// through the rest of the batch. Jobs pinned to a preferred host are held
// pending until that host appears; they are never reassigned.
func (l *Loop) Tick(ctx context.Context) error {
	var unplaced []*jobqueue.JobRecord
	for i := 0; i < l.batchSize; i++ {
		rec := l.queue.DequeueNext(ctx)
		if rec == nil {
			break
		}

		host := l.selectHost(ctx, rec)
		if host == nil {
			unplaced = append(unplaced, rec)
			continue
		}

		if !l.dispatch(ctx, rec, host) {
			unplaced = append(unplaced, rec)
		}
	}

	for _, rec := range unplaced {
		l.queue.Requeue(ctx, rec)
	}
	return nil
}

// selectHost picks a host for a record. A pinned record only ever matches
// its preferred host; otherwise the first online, available host satisfying
// the resource requirements wins. No bin packing.
func (l *Loop) selectHost(ctx context.Context, rec *jobqueue.JobRecord) *models.Host {
	if rec.PreferredHostID != "" {
		host := l.lookupCandidate(rec.PreferredHostID)
		if host != nil && host.Fits(rec.GPUCountRequired, rec.MemoryGBRequired) {
			return host
		}
		return nil
	}

	for _, hostID := range l.queue.ListAvailableHosts(ctx) {
		host := l.lookupCandidate(hostID)
		if host == nil {
			continue
		}
		if host.Fits(rec.GPUCountRequired, rec.MemoryGBRequired) {
			return host
		}
	}
	return nil
}

// lookupCandidate returns the host row if it is available, online, and
// holds a live channel right now.
func (l *Loop) lookupCandidate(hostID string) *models.Host {
	if !l.manager.IsConnected(hostID) {
		return nil
	}
	var host models.Host
	err := db.DB.Where("host_id = ? AND is_available = ? AND is_online = ?", hostID, true, true).
		First(&host).Error
	if err != nil {
		return nil
	}
	return &host
}

// dispatch persists the assignment and pushes the job command to the host.
// Returns false if the push fails, in which case the caller requeues.
func (l *Loop) dispatch(ctx context.Context, rec *jobqueue.JobRecord, host *models.Host) bool {
	msg := AssignMessage{
		Type:             "job_assign",
		JobID:            rec.JobID,
		Command:          rec.Command,
		DockerImage:      rec.DockerImage,
		CodeArchiveURL:   rec.CodeArchiveURL,
		GPUCountRequired: rec.GPUCountRequired,
		MemoryGBRequired: rec.MemoryGBRequired,
		MaxRuntimeHours:  rec.MaxRuntimeHours,
	}

	if !l.manager.SendToHost(host.HostID, msg) {
		zlog.Sugar().Warnf("host %s dropped channel before dispatch of job %s", host.HostID, rec.JobID)
		return false
	}

	now := time.Now().UTC()
	err := db.DB.Model(&models.Job{}).
		Where("job_id = ?", rec.JobID).
		Updates(map[string]interface{}{
			"host_id":    host.ID,
			"status":     models.JobStatusRunning,
			"started_at": now,
		}).Error
	if err != nil {
		zlog.Sugar().Errorf("failed to persist assignment of job %s: %v", rec.JobID, err)
	}

	l.queue.MarkRunning(ctx, rec.JobID, host.HostID)
	l.manager.PublishJob(rec.JobID, connection.NewStatusEvent(rec.JobID, string(models.JobStatusRunning),
		"Job is running on host "+host.HostID, ""))

	zlog.Sugar().Infof("job %s dispatched to host %s", rec.JobID, host.HostID)
	return true
}

// terminalStatuses guards terminal writes: the transition only lands when
// the row is still in a non-terminal state, so the first writer wins.
var terminalStatuses = []models.JobStatus{
	models.JobStatusCompleted,
	models.JobStatusFailed,
	models.JobStatusCancelled,
}

// HandleResult reconciles a host's job_result report into both stores: the
// queue record and the durable row end up consistent, observers get the
// terminal status event, and their channels are closed.
func (l *Loop) HandleResult(ctx context.Context, hostID string, res ResultMessage) {
	var job models.Job
	if err := db.DB.Where("job_id = ?", res.JobID).First(&job).Error; err != nil {
		zlog.Sugar().Warnf("job_result for unknown job %s from host %s", res.JobID, hostID)
		return
	}
	if job.Status.Terminal() {
		// Retry of an already-applied terminal transition; keep it idempotent.
		return
	}

	now := time.Now().UTC()
	status := models.JobStatusCompleted
	if res.Status == "failed" {
		status = models.JobStatusFailed
	}

	updates := map[string]interface{}{
		"status":       status,
		"completed_at": now,
	}
	if res.ExitCode != nil {
		updates["exit_code"] = *res.ExitCode
	}
	if res.LogURL != "" {
		updates["log_url"] = res.LogURL
	}
	if res.ResultsURL != "" {
		updates["results_url"] = res.ResultsURL
	}
	if res.ErrorMessage != "" {
		updates["error_message"] = res.ErrorMessage
	}

	var cost float64
	var haveCost bool
	var host models.Host
	haveHost := db.DB.Where("host_id = ?", hostID).First(&host).Error == nil
	if haveHost && job.StartedAt != nil {
		cost = now.Sub(*job.StartedAt).Hours() * host.PricePerHour
		updates["actual_cost"] = cost
		haveCost = true
	}

	tx := db.DB.Model(&models.Job{}).
		Where("job_id = ? AND status NOT IN ?", res.JobID, terminalStatuses).
		Updates(updates)
	if tx.Error != nil {
		zlog.Sugar().Errorf("failed to persist result for job %s: %v", res.JobID, tx.Error)
		return
	}
	if tx.RowsAffected == 0 {
		// A concurrent terminal transition won; drop this report and its
		// side effects.
		return
	}

	if status == models.JobStatusCompleted {
		l.queue.MarkCompleted(ctx, res.JobID, map[string]string{
			"log_url":     res.LogURL,
			"results_url": res.ResultsURL,
		})
		if haveHost {
			hostUpdates := map[string]interface{}{
				"total_jobs_completed": host.TotalJobsCompleted + 1,
			}
			if haveCost {
				hostUpdates["total_earnings"] = host.TotalEarnings + cost
			}
			db.DB.Model(&host).Updates(hostUpdates)
		}
	} else {
		l.queue.MarkFailed(ctx, res.JobID, res.ErrorMessage)
	}

	l.manager.PublishJob(res.JobID, connection.NewStatusEvent(res.JobID, string(status),
		"Job "+string(status), res.ResultsURL))
	l.manager.CloseJobObservers(res.JobID)
}

// CancelJob applies a cancellation request: a state transition through the
// loop, not a channel-level signal. Running jobs get a best-effort cancel
// command pushed to their host.
func (l *Loop) CancelJob(ctx context.Context, job *models.Job) error {
	tx := db.DB.Model(&models.Job{}).
		Where("job_id = ? AND status NOT IN ?", job.JobID, terminalStatuses).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCancelled,
			"completed_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		// The job reached a terminal state since the caller read it; the
		// earlier outcome stands.
		return nil
	}

	l.queue.Cancel(ctx, job.JobID)

	if job.Status == models.JobStatusRunning && job.HostID != nil {
		var host models.Host
		if db.DB.Where("id = ?", *job.HostID).First(&host).Error == nil {
			l.manager.SendToHost(host.HostID, map[string]string{
				"type":   "job_cancel",
				"job_id": job.JobID,
			})
		}
	}

	l.manager.PublishJob(job.JobID, connection.NewStatusEvent(job.JobID,
		string(models.JobStatusCancelled), "Job cancelled", ""))
	l.manager.CloseJobObservers(job.JobID)
	return nil
}

// Sweep removes expired host liveness records and flips the durable online
// flag for hosts that also lost their channel. Channel presence wins: a
// connected host is never marked offline by the sweep.
func (l *Loop) Sweep(ctx context.Context) error {
	for _, hostID := range l.queue.ReapExpired(ctx) {
		if l.manager.IsConnected(hostID) {
			continue
		}
		if err := db.SetHostOnline(hostID, false); err != nil {
			zlog.Sugar().Errorf("failed to mark reaped host %s offline: %v", hostID, err)
		}
	}
	return nil
}
