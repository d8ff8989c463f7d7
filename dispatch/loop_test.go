package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/gridshare/gpu-cloud-service/connection"
	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/jobqueue"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

// fakeQueue is an in-memory stand-in for the Redis-backed store, recording
// which transitions the loop applied.
type fakeQueue struct {
	pending   []*jobqueue.JobRecord
	hosts     []string
	requeued  []string
	running   map[string]string
	completed map[string]map[string]string
	failed    map[string]string
	cancelled []string
	reaped    []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		running:   make(map[string]string),
		completed: make(map[string]map[string]string),
		failed:    make(map[string]string),
	}
}

func (f *fakeQueue) DequeueNext(_ context.Context) *jobqueue.JobRecord {
	if len(f.pending) == 0 {
		return nil
	}
	rec := f.pending[0]
	f.pending = f.pending[1:]
	rec.Status = jobqueue.StatusAssigned
	return rec
}

func (f *fakeQueue) Requeue(_ context.Context, rec *jobqueue.JobRecord) bool {
	rec.Status = jobqueue.StatusPending
	f.pending = append(f.pending, rec)
	f.requeued = append(f.requeued, rec.JobID)
	return true
}

func (f *fakeQueue) MarkRunning(_ context.Context, jobID, hostID string) bool {
	f.running[jobID] = hostID
	return true
}

func (f *fakeQueue) MarkCompleted(_ context.Context, jobID string, result map[string]string) bool {
	f.completed[jobID] = result
	return true
}

func (f *fakeQueue) MarkFailed(_ context.Context, jobID, errorMessage string) bool {
	f.failed[jobID] = errorMessage
	return true
}

func (f *fakeQueue) Cancel(_ context.Context, jobID string) bool {
	f.cancelled = append(f.cancelled, jobID)
	return true
}

func (f *fakeQueue) ListAvailableHosts(_ context.Context) []string { return f.hosts }

func (f *fakeQueue) ReapExpired(_ context.Context) []string { return f.reaped }

func setupDispatchTest(t *testing.T) {
	require.NoError(t, db.ConnectDatabase("file:"+t.Name()+"?mode=memory&cache=shared"))
}

func createTestHost(t *testing.T, hostID, ownerID string, pricePerHour float64) *models.Host {
	host := &models.Host{
		HostID:       hostID,
		OwnerID:      ownerID,
		GPUModel:     "RTX 4090",
		GPUMemory:    "24GB",
		GPUCount:     2,
		RAMGB:        64,
		PricePerHour: pricePerHour,
	}
	require.NoError(t, db.DB.Create(host).Error)
	return host
}

func createTestJob(t *testing.T, jobID, renterID string, status models.JobStatus) *models.Job {
	job := &models.Job{
		JobID:            jobID,
		RenterID:         renterID,
		Title:            "train model",
		Command:          "python train.py",
		GPUCountRequired: 1,
		MaxRuntimeHours:  24,
		Status:           status,
		SubmittedAt:      time.Now().UTC(),
	}
	require.NoError(t, db.DB.Create(job).Error)
	return job
}

// connectTestHost gives the manager a real live channel for a host and
// returns the agent side of it.
func connectTestHost(t *testing.T, m *connection.Manager, hostID, ownerID string) *websocket.Conn {
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- ws
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var serverWS *websocket.Conn
	select {
	case serverWS = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade handler never delivered the server connection")
	}

	_, err = m.ConnectHost(serverWS, hostID, &models.User{ID: ownerID})
	require.NoError(t, err)
	return client
}

func TestTickDispatchesOldestJobToConnectedHost(t *testing.T) {
	setupDispatchTest(t)
	host := createTestHost(t, "host-1", "owner-1", 2.0)
	createTestJob(t, "job_aaaa0001", "renter-1", models.JobStatusPending)

	fq := newFakeQueue()
	fq.pending = []*jobqueue.JobRecord{{
		JobID:            "job_aaaa0001",
		RenterID:         "renter-1",
		Command:          "python train.py",
		GPUCountRequired: 1,
	}}
	fq.hosts = []string{"host-1"}

	m := connection.NewManager()
	agent := connectTestHost(t, m, "host-1", "owner-1")

	loop := NewLoop(fq, m, 5)
	require.NoError(t, loop.Tick(context.Background()))

	agent.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg AssignMessage
	require.NoError(t, agent.ReadJSON(&msg))
	assert.Equal(t, "job_assign", msg.Type)
	assert.Equal(t, "job_aaaa0001", msg.JobID)
	assert.Equal(t, "python train.py", msg.Command)

	var job models.Job
	require.NoError(t, db.DB.Where("job_id = ?", "job_aaaa0001").First(&job).Error)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.NotNil(t, job.HostID)
	assert.Equal(t, host.ID, *job.HostID)
	assert.NotNil(t, job.StartedAt)

	assert.Equal(t, "host-1", fq.running["job_aaaa0001"])
	assert.Empty(t, fq.requeued)
}

func TestTickRequeuesWhenNoHostHasCapacity(t *testing.T) {
	setupDispatchTest(t)
	createTestHost(t, "host-1", "owner-1", 2.0)

	fq := newFakeQueue()
	fq.pending = []*jobqueue.JobRecord{{
		JobID:            "job_toobig01",
		Command:          "python train.py",
		GPUCountRequired: 8,
	}}
	fq.hosts = []string{"host-1"}

	m := connection.NewManager()
	connectTestHost(t, m, "host-1", "owner-1")

	loop := NewLoop(fq, m, 5)
	require.NoError(t, loop.Tick(context.Background()))

	assert.Equal(t, []string{"job_toobig01"}, fq.requeued)
	require.Len(t, fq.pending, 1)
	assert.Equal(t, jobqueue.StatusPending, fq.pending[0].Status)
}

func TestTickHoldsPinnedJobForItsHost(t *testing.T) {
	setupDispatchTest(t)
	createTestHost(t, "host-other", "owner-1", 2.0)
	createTestJob(t, "job_pinned01", "renter-1", models.JobStatusPending)

	fq := newFakeQueue()
	fq.pending = []*jobqueue.JobRecord{{
		JobID:            "job_pinned01",
		PreferredHostID:  "host-preferred",
		Command:          "python train.py",
		GPUCountRequired: 1,
	}}
	fq.hosts = []string{"host-other"}

	// Another perfectly good host is connected, but a pinned job never goes
	// anywhere except its preferred host.
	m := connection.NewManager()
	connectTestHost(t, m, "host-other", "owner-1")

	loop := NewLoop(fq, m, 5)
	require.NoError(t, loop.Tick(context.Background()))

	assert.Equal(t, []string{"job_pinned01"}, fq.requeued)

	var job models.Job
	require.NoError(t, db.DB.Where("job_id = ?", "job_pinned01").First(&job).Error)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Nil(t, job.HostID)
}

func TestTickSkipsDisconnectedHosts(t *testing.T) {
	setupDispatchTest(t)
	createTestHost(t, "host-1", "owner-1", 2.0)

	fq := newFakeQueue()
	fq.pending = []*jobqueue.JobRecord{{
		JobID:            "job_nochan01",
		Command:          "python train.py",
		GPUCountRequired: 1,
	}}
	fq.hosts = []string{"host-1"}

	// The host is in the active set but holds no live channel.
	loop := NewLoop(fq, connection.NewManager(), 5)
	require.NoError(t, loop.Tick(context.Background()))

	assert.Equal(t, []string{"job_nochan01"}, fq.requeued)
}

func TestHandleResultCompleted(t *testing.T) {
	setupDispatchTest(t)
	host := createTestHost(t, "host-1", "owner-1", 2.0)

	job := createTestJob(t, "job_done0001", "renter-1", models.JobStatusRunning)
	startedAt := time.Now().UTC().Add(-90 * time.Minute)
	require.NoError(t, db.DB.Model(job).Updates(map[string]interface{}{
		"host_id":    host.ID,
		"started_at": startedAt,
	}).Error)

	fq := newFakeQueue()
	m := connection.NewManager()
	sub := m.SubscribeJob("job_done0001")

	loop := NewLoop(fq, m, 5)
	exitCode := 0
	loop.HandleResult(context.Background(), "host-1", ResultMessage{
		JobID:      "job_done0001",
		Status:     "completed",
		ExitCode:   &exitCode,
		ResultsURL: "https://results.example/job_done0001",
	})

	var updated models.Job
	require.NoError(t, db.DB.Where("job_id = ?", "job_done0001").First(&updated).Error)
	assert.Equal(t, models.JobStatusCompleted, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
	assert.Equal(t, "https://results.example/job_done0001", updated.ResultsURL)
	require.NotNil(t, updated.ActualCost)
	assert.InDelta(t, 3.0, *updated.ActualCost, 0.05, "90 minutes at 2.0/hour")

	var updatedHost models.Host
	require.NoError(t, db.DB.Where("host_id = ?", "host-1").First(&updatedHost).Error)
	assert.Equal(t, 1, updatedHost.TotalJobsCompleted)
	assert.InDelta(t, 3.0, updatedHost.TotalEarnings, 0.05, "earnings accrue the job's cost")

	assert.Contains(t, fq.completed, "job_done0001")

	ev, open := <-sub.C
	require.True(t, open)
	assert.Equal(t, "status", ev.Type)
	assert.Equal(t, "completed", ev.Status)
	_, open = <-sub.C
	assert.False(t, open, "observer streams end after the terminal event")
}

func TestHandleResultFailed(t *testing.T) {
	setupDispatchTest(t)
	createTestHost(t, "host-1", "owner-1", 2.0)
	createTestJob(t, "job_oops0001", "renter-1", models.JobStatusRunning)

	fq := newFakeQueue()
	loop := NewLoop(fq, connection.NewManager(), 5)
	loop.HandleResult(context.Background(), "host-1", ResultMessage{
		JobID:        "job_oops0001",
		Status:       "failed",
		ErrorMessage: "CUDA out of memory",
	})

	var job models.Job
	require.NoError(t, db.DB.Where("job_id = ?", "job_oops0001").First(&job).Error)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "CUDA out of memory", job.ErrorMessage)
	assert.Equal(t, "CUDA out of memory", fq.failed["job_oops0001"])
}

func TestHandleResultIdempotent(t *testing.T) {
	setupDispatchTest(t)
	createTestHost(t, "host-1", "owner-1", 2.0)
	createTestJob(t, "job_dup00001", "renter-1", models.JobStatusCompleted)

	fq := newFakeQueue()
	loop := NewLoop(fq, connection.NewManager(), 5)

	// A retried report for a job already in a terminal state changes nothing.
	loop.HandleResult(context.Background(), "host-1", ResultMessage{
		JobID:  "job_dup00001",
		Status: "failed",
	})

	var job models.Job
	require.NoError(t, db.DB.Where("job_id = ?", "job_dup00001").First(&job).Error)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Empty(t, fq.failed)
	assert.Empty(t, fq.completed)
}

func TestTickRequeuesEachUnplaceableJobOnce(t *testing.T) {
	setupDispatchTest(t)
	createTestHost(t, "host-1", "owner-1", 2.0)

	fq := newFakeQueue()
	fq.pending = []*jobqueue.JobRecord{
		{JobID: "job_toobig01", Command: "python train.py", GPUCountRequired: 8},
		{JobID: "job_toobig02", Command: "python train.py", GPUCountRequired: 8},
	}
	fq.hosts = []string{"host-1"}

	m := connection.NewManager()
	connectTestHost(t, m, "host-1", "owner-1")

	// With a batch size of 5 an unplaceable record must not churn through
	// the rest of the pass; each goes back exactly once, in order.
	loop := NewLoop(fq, m, 5)
	require.NoError(t, loop.Tick(context.Background()))

	assert.Equal(t, []string{"job_toobig01", "job_toobig02"}, fq.requeued)
	require.Len(t, fq.pending, 2)
	assert.Equal(t, "job_toobig01", fq.pending[0].JobID)
}

func TestCancelAfterCompletionKeepsCompleted(t *testing.T) {
	setupDispatchTest(t)
	host := createTestHost(t, "host-1", "owner-1", 2.0)

	job := createTestJob(t, "job_race0001", "renter-1", models.JobStatusRunning)
	require.NoError(t, db.DB.Model(job).Updates(map[string]interface{}{
		"host_id":    host.ID,
		"started_at": time.Now().UTC().Add(-time.Hour),
	}).Error)

	fq := newFakeQueue()
	loop := NewLoop(fq, connection.NewManager(), 5)

	exitCode := 0
	loop.HandleResult(context.Background(), "host-1", ResultMessage{
		JobID:    "job_race0001",
		Status:   "completed",
		ExitCode: &exitCode,
	})

	// The caller's row still says running; the cancel must lose to the
	// completion that landed in between.
	require.NoError(t, loop.CancelJob(context.Background(), job))

	var updated models.Job
	require.NoError(t, db.DB.Where("job_id = ?", "job_race0001").First(&updated).Error)
	assert.Equal(t, models.JobStatusCompleted, updated.Status)
	assert.Empty(t, fq.cancelled)
	assert.Contains(t, fq.completed, "job_race0001")
}

func TestLateResultAfterCancelKeepsCancelled(t *testing.T) {
	setupDispatchTest(t)
	host := createTestHost(t, "host-1", "owner-1", 2.0)

	job := createTestJob(t, "job_race0002", "renter-1", models.JobStatusRunning)
	require.NoError(t, db.DB.Model(job).Updates(map[string]interface{}{
		"host_id":    host.ID,
		"started_at": time.Now().UTC().Add(-time.Hour),
	}).Error)
	job.HostID = &host.ID

	fq := newFakeQueue()
	loop := NewLoop(fq, connection.NewManager(), 5)
	require.NoError(t, loop.CancelJob(context.Background(), job))

	exitCode := 0
	loop.HandleResult(context.Background(), "host-1", ResultMessage{
		JobID:    "job_race0002",
		Status:   "completed",
		ExitCode: &exitCode,
	})

	var updated models.Job
	require.NoError(t, db.DB.Where("job_id = ?", "job_race0002").First(&updated).Error)
	assert.Equal(t, models.JobStatusCancelled, updated.Status)
	assert.Empty(t, fq.completed)

	var updatedHost models.Host
	require.NoError(t, db.DB.Where("host_id = ?", "host-1").First(&updatedHost).Error)
	assert.Zero(t, updatedHost.TotalJobsCompleted)
	assert.Zero(t, updatedHost.TotalEarnings)
}

func TestCancelJobPending(t *testing.T) {
	setupDispatchTest(t)
	job := createTestJob(t, "job_stop0001", "renter-1", models.JobStatusPending)

	fq := newFakeQueue()
	m := connection.NewManager()
	sub := m.SubscribeJob("job_stop0001")

	loop := NewLoop(fq, m, 5)
	require.NoError(t, loop.CancelJob(context.Background(), job))

	var updated models.Job
	require.NoError(t, db.DB.Where("job_id = ?", "job_stop0001").First(&updated).Error)
	assert.Equal(t, models.JobStatusCancelled, updated.Status)
	assert.Equal(t, []string{"job_stop0001"}, fq.cancelled)

	ev, open := <-sub.C
	require.True(t, open)
	assert.Equal(t, "cancelled", ev.Status)
	_, open = <-sub.C
	assert.False(t, open)
}

func TestCancelRunningJobNotifiesHost(t *testing.T) {
	setupDispatchTest(t)
	host := createTestHost(t, "host-1", "owner-1", 2.0)

	job := createTestJob(t, "job_stop0002", "renter-1", models.JobStatusRunning)
	require.NoError(t, db.DB.Model(job).Update("host_id", host.ID).Error)
	job.HostID = &host.ID

	fq := newFakeQueue()
	m := connection.NewManager()
	agent := connectTestHost(t, m, "host-1", "owner-1")

	loop := NewLoop(fq, m, 5)
	require.NoError(t, loop.CancelJob(context.Background(), job))

	agent.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]string
	require.NoError(t, agent.ReadJSON(&msg))
	assert.Equal(t, "job_cancel", msg["type"])
	assert.Equal(t, "job_stop0002", msg["job_id"])
}

func TestSweepMarksReapedHostsOffline(t *testing.T) {
	setupDispatchTest(t)
	createTestHost(t, "host-gone", "owner-1", 2.0)
	createTestHost(t, "host-live", "owner-1", 2.0)
	require.NoError(t, db.SetHostOnline("host-gone", true))
	require.NoError(t, db.SetHostOnline("host-live", true))

	fq := newFakeQueue()
	fq.reaped = []string{"host-gone", "host-live"}

	// host-live still holds a channel, so the expired liveness record loses.
	m := connection.NewManager()
	connectTestHost(t, m, "host-live", "owner-1")

	loop := NewLoop(fq, m, 5)
	require.NoError(t, loop.Sweep(context.Background()))

	var gone, live models.Host
	require.NoError(t, db.DB.Where("host_id = ?", "host-gone").First(&gone).Error)
	require.NoError(t, db.DB.Where("host_id = ?", "host-live").First(&live).Error)
	assert.False(t, gone.IsOnline)
	assert.True(t, live.IsOnline)
}
