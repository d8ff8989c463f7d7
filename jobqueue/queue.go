package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue-side status is richer than the durable row's: a record passes
// through assigned between pending and running.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const (
	pendingJobsKey   = "gpu_jobs:pending"
	runningJobsKey   = "gpu_jobs:running"
	completedJobsKey = "gpu_jobs:completed"
	activeHostsKey   = "active_hosts"

	jobRecordTTL  = 24 * time.Hour
	hostStatusTTL = 5 * time.Minute
	opTimeout     = 3 * time.Second
)

// JobRecord is the ephemeral, dispatch-facing mirror of a job. It is
// independent from the durable row; the dispatch loop reconciles the two.
type JobRecord struct {
	JobID            string            `json:"job_id"`
	RenterID         string            `json:"renter_id"`
	HostID           string            `json:"host_id,omitempty"` // assigned host
	PreferredHostID  string            `json:"preferred_host_id,omitempty"`
	Title            string            `json:"title,omitempty"`
	Command          string            `json:"command"`
	DockerImage      string            `json:"docker_image,omitempty"`
	CodeArchiveURL   string            `json:"code_archive_url,omitempty"`
	GPUCountRequired int               `json:"gpu_count_required"`
	MemoryGBRequired int               `json:"memory_gb_required,omitempty"`
	MaxRuntimeHours  float64           `json:"max_runtime_hours,omitempty"`
	Status           Status            `json:"status"`
	QueuedAt         time.Time         `json:"queued_at,omitempty"`
	AssignedAt       time.Time         `json:"assigned_at,omitempty"`
	StartedAt        time.Time         `json:"started_at,omitempty"`
	CompletedAt      time.Time         `json:"completed_at,omitempty"`
	FailedAt         time.Time         `json:"failed_at,omitempty"`
	Result           map[string]string `json:"result,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
}

// HostStatus is the ephemeral liveness snapshot for a host. Expiry of the
// backing record without renewal is the liveness signal.
type HostStatus struct {
	IsOnline       bool      `json:"is_online"`
	GPUUtilization float64   `json:"gpu_utilization,omitempty"`
	RunningJobs    int       `json:"running_jobs,omitempty"`
	LastUpdated    time.Time `json:"last_updated"`
}

type QueueStats struct {
	PendingJobs   int64 `json:"pending_jobs"`
	RunningJobs   int64 `json:"running_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	ActiveHosts   int64 `json:"active_hosts"`
	Connected     bool  `json:"redis_connected"`
}

// JobQueue is a best-effort mailbox over Redis. Every operation degrades to
// a false/none result when the store is unreachable; callers decide whether
// to fall back or surface a service-unavailable error.
type JobQueue struct {
	client *redis.Client
}

// New connects to Redis at the given URL. A failed initial ping is logged
// but not fatal: the queue stays usable and recovers when Redis returns.
func New(url string) *JobQueue {
	opts, err := redis.ParseURL(url)
	if err != nil {
		zlog.Sugar().Errorf("invalid redis url %q, using defaults: %v", url, err)
		opts = &redis.Options{Addr: "localhost:6379"}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		zlog.Sugar().Errorf("redis connection failed: %v", err)
	} else {
		zlog.Info("redis connection established")
	}

	return &JobQueue{client: client}
}

func (q *JobQueue) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

// IsConnected reports whether Redis currently answers pings.
func (q *JobQueue) IsConnected(ctx context.Context) bool {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()
	return q.client.Ping(ctx).Err() == nil
}

func jobKey(jobID string) string   { return "job:" + jobID }
func hostKey(hostID string) string { return "host:" + hostID }

// Enqueue appends a record to the FIFO pending list and writes the expiring
// job record. Returns false when the store is unreachable; the caller must
// treat the job as accepted in durable storage only.
func (q *JobQueue) Enqueue(ctx context.Context, rec *JobRecord) bool {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rec.Status = StatusPending
	rec.QueuedAt = time.Now().UTC()

	payload, err := json.Marshal(rec)
	if err != nil {
		zlog.Sugar().Errorf("failed to encode job %s: %v", rec.JobID, err)
		return false
	}

	if err := q.client.LPush(ctx, pendingJobsKey, payload).Err(); err != nil {
		zlog.Sugar().Errorf("failed to enqueue job %s: %v", rec.JobID, err)
		return false
	}
	if err := q.client.Set(ctx, jobKey(rec.JobID), payload, jobRecordTTL).Err(); err != nil {
		zlog.Sugar().Errorf("failed to write record for job %s: %v", rec.JobID, err)
		return false
	}

	zlog.Sugar().Infof("job %s enqueued", rec.JobID)
	return true
}

// DequeueNext pops the oldest pending record and marks it assigned. RPOP is
// atomic, so exactly one caller wins any given record under concurrency.
// Records cancelled while queued are skipped. Returns nil when the queue is
// empty or the store is unreachable.
func (q *JobQueue) DequeueNext(ctx context.Context) *JobRecord {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	for {
		payload, err := q.client.RPop(ctx, pendingJobsKey).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			zlog.Sugar().Errorf("failed to pop pending job: %v", err)
			return nil
		}

		var rec JobRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			zlog.Sugar().Errorf("discarding undecodable queue entry: %v", err)
			continue
		}

		// The list entry is a snapshot; the record key is authoritative
		// for cancellation that happened after enqueue.
		if current := q.GetStatus(ctx, rec.JobID); current != nil && current.Status == StatusCancelled {
			continue
		}

		rec.Status = StatusAssigned
		rec.AssignedAt = time.Now().UTC()
		q.writeRecord(ctx, &rec)
		return &rec
	}
}

// Requeue returns an unplaceable record to the pending list and resets its
// status. The record goes to the back of the list so other pending jobs are
// not starved behind it.
func (q *JobQueue) Requeue(ctx context.Context, rec *JobRecord) bool {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rec.Status = StatusPending
	rec.HostID = ""
	rec.AssignedAt = time.Time{}

	payload, err := json.Marshal(rec)
	if err != nil {
		return false
	}
	if err := q.client.LPush(ctx, pendingJobsKey, payload).Err(); err != nil {
		zlog.Sugar().Errorf("failed to requeue job %s: %v", rec.JobID, err)
		return false
	}
	q.client.Set(ctx, jobKey(rec.JobID), payload, jobRecordTTL)
	return true
}

// MarkRunning records that a job started on a specific host and moves it
// into the in-flight set.
func (q *JobQueue) MarkRunning(ctx context.Context, jobID, hostID string) bool {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rec := q.GetStatus(ctx, jobID)
	if rec == nil {
		return false
	}
	rec.Status = StatusRunning
	rec.HostID = hostID
	rec.StartedAt = time.Now().UTC()

	if !q.writeRecord(ctx, rec) {
		return false
	}
	if err := q.client.SAdd(ctx, runningJobsKey, jobID).Err(); err != nil {
		zlog.Sugar().Errorf("failed to track running job %s: %v", jobID, err)
		return false
	}
	zlog.Sugar().Infof("job %s started on host %s", jobID, hostID)
	return true
}

// MarkCompleted records a terminal success. Idempotent under retry: the
// record write is last-write-wins and the set moves are natural no-ops when
// reapplied.
func (q *JobQueue) MarkCompleted(ctx context.Context, jobID string, result map[string]string) bool {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rec := q.GetStatus(ctx, jobID)
	if rec == nil {
		return false
	}
	rec.Status = StatusCompleted
	rec.CompletedAt = time.Now().UTC()
	rec.Result = result

	if !q.writeRecord(ctx, rec) {
		return false
	}
	q.client.SRem(ctx, runningJobsKey, jobID)
	q.client.SAdd(ctx, completedJobsKey, jobID)
	zlog.Sugar().Infof("job %s completed", jobID)
	return true
}

// MarkFailed records a terminal failure with error details.
func (q *JobQueue) MarkFailed(ctx context.Context, jobID, errorMessage string) bool {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rec := q.GetStatus(ctx, jobID)
	if rec == nil {
		return false
	}
	rec.Status = StatusFailed
	rec.FailedAt = time.Now().UTC()
	rec.ErrorMessage = errorMessage

	if !q.writeRecord(ctx, rec) {
		return false
	}
	q.client.SRem(ctx, runningJobsKey, jobID)
	zlog.Sugar().Infof("job %s marked as failed: %s", jobID, errorMessage)
	return true
}

// Cancel marks a non-terminal record cancelled. A cancelled record still on
// the pending list is skipped at dequeue time.
func (q *JobQueue) Cancel(ctx context.Context, jobID string) bool {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rec := q.GetStatus(ctx, jobID)
	if rec == nil {
		return false
	}
	if rec.Status == StatusCompleted || rec.Status == StatusFailed {
		return false
	}
	rec.Status = StatusCancelled
	if !q.writeRecord(ctx, rec) {
		return false
	}
	q.client.SRem(ctx, runningJobsKey, jobID)
	return true
}

// GetStatus returns the current record for a job, or nil if it has expired,
// never existed, or the store is unreachable.
func (q *JobQueue) GetStatus(ctx context.Context, jobID string) *JobRecord {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	payload, err := q.client.Get(ctx, jobKey(jobID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		zlog.Sugar().Errorf("failed to get status for job %s: %v", jobID, err)
		return nil
	}

	var rec JobRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		zlog.Sugar().Errorf("undecodable record for job %s: %v", jobID, err)
		return nil
	}
	return &rec
}

// UpdateHostStatus writes a host's liveness snapshot with a short TTL and
// maintains its membership in the active set.
func (q *JobQueue) UpdateHostStatus(ctx context.Context, hostID string, status HostStatus) bool {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	status.LastUpdated = time.Now().UTC()
	payload, err := json.Marshal(status)
	if err != nil {
		return false
	}

	if err := q.client.Set(ctx, hostKey(hostID), payload, hostStatusTTL).Err(); err != nil {
		zlog.Sugar().Errorf("failed to update host %s status: %v", hostID, err)
		return false
	}

	if status.IsOnline {
		q.client.SAdd(ctx, activeHostsKey, hostID)
	} else {
		q.client.SRem(ctx, activeHostsKey, hostID)
	}
	return true
}

// ListAvailableHosts returns host ids currently in the active set.
func (q *JobQueue) ListAvailableHosts(ctx context.Context) []string {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	hosts, err := q.client.SMembers(ctx, activeHostsKey).Result()
	if err != nil {
		zlog.Sugar().Errorf("failed to list available hosts: %v", err)
		return nil
	}
	return hosts
}

// Stats returns point-in-time queue counts for observability.
func (q *JobQueue) Stats(ctx context.Context) QueueStats {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	stats := QueueStats{}
	var err error
	if stats.PendingJobs, err = q.client.LLen(ctx, pendingJobsKey).Result(); err != nil {
		return stats
	}
	stats.RunningJobs, _ = q.client.SCard(ctx, runningJobsKey).Result()
	stats.CompletedJobs, _ = q.client.SCard(ctx, completedJobsKey).Result()
	stats.ActiveHosts, _ = q.client.SCard(ctx, activeHostsKey).Result()
	stats.Connected = true
	return stats
}

// ReapExpired removes from the active set every host whose status record
// has expired, and returns the reaped host ids. Runs on a fixed interval
// independent of request traffic.
func (q *JobQueue) ReapExpired(ctx context.Context) []string {
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	hosts, err := q.client.SMembers(ctx, activeHostsKey).Result()
	if err != nil {
		zlog.Sugar().Errorf("failed to sweep active hosts: %v", err)
		return nil
	}

	var reaped []string
	for _, hostID := range hosts {
		exists, err := q.client.Exists(ctx, hostKey(hostID)).Result()
		if err != nil {
			continue
		}
		if exists == 0 {
			q.client.SRem(ctx, activeHostsKey, hostID)
			reaped = append(reaped, hostID)
			zlog.Sugar().Infof("removed expired host %s from active set", hostID)
		}
	}
	return reaped
}

func (q *JobQueue) writeRecord(ctx context.Context, rec *JobRecord) bool {
	payload, err := json.Marshal(rec)
	if err != nil {
		zlog.Sugar().Errorf("failed to encode record for job %s: %v", rec.JobID, err)
		return false
	}
	if err := q.client.Set(ctx, jobKey(rec.JobID), payload, jobRecordTTL).Err(); err != nil {
		zlog.Sugar().Errorf("failed to write record for job %s: %v", rec.JobID, err)
		return false
	}
	return true
}
