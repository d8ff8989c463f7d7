package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/gridshare/gpu-cloud-service/connection"
	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/dispatch"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func hostOnline(hostID string) func() bool {
	return func() bool {
		var host models.Host
		if db.DB.Where("host_id = ?", hostID).First(&host).Error != nil {
			return false
		}
		return host.IsOnline
	}
}

func TestHostChannelLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, "host-user", models.RoleHost)
	createTestHost(t, "host-1", "host-user", 2.0)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/host/host-1?token="+token)

	welcome := readMessage(t, conn)
	assert.Equal(t, "welcome", welcome["type"])

	require.Eventually(t, hostOnline("host-1"), 2*time.Second, 10*time.Millisecond)
	assert.True(t, env.manager.IsConnected("host-1"))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":            "heartbeat",
		"gpu_utilization": 37.5,
	}))
	ack := readMessage(t, conn)
	assert.Equal(t, "heartbeat_ack", ack["type"])

	var host models.Host
	require.NoError(t, db.DB.Where("host_id = ?", "host-1").First(&host).Error)
	assert.NotNil(t, host.LastHeartbeat)

	conn.Close()
	require.Eventually(t, func() bool { return !hostOnline("host-1")() }, 2*time.Second, 10*time.Millisecond,
		"host must be marked offline once its channel drops")
	assert.Eventually(t, func() bool { return !env.manager.IsConnected("host-1") }, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatRestoresOnlineFlag(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, "host-user", models.RoleHost)
	createTestHost(t, "host-1", "host-user", 2.0)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/host/host-1?token="+token)
	assert.Equal(t, "welcome", readMessage(t, conn)["type"])
	require.Eventually(t, hostOnline("host-1"), 2*time.Second, 10*time.Millisecond)

	// Simulate a missed online flip while the channel is still live; the
	// next heartbeat must repair it.
	require.NoError(t, db.DB.Model(&models.Host{}).
		Where("host_id = ?", "host-1").
		Update("is_online", false).Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "heartbeat"}))
	assert.Equal(t, "heartbeat_ack", readMessage(t, conn)["type"])
	require.Eventually(t, hostOnline("host-1"), 2*time.Second, 10*time.Millisecond,
		"heartbeat must reassert the online flag")
}

func TestHostChannelDeniedForNonOwner(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, "host-user", models.RoleHost)
	_, strangerToken := createTestUser(t, "stranger", models.RoleRenter)
	createTestHost(t, "host-1", "host-user", 2.0)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/host/host-1?token="+strangerToken)

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "host not found or access denied", closeErr.Text)

	assert.False(t, env.manager.IsConnected("host-1"))
}

func TestHostChannelRejectsBadToken(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, "host-user", models.RoleHost)
	createTestHost(t, "host-1", "host-user", 2.0)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/host/host-1?token=not.a.jwt")

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestHostChannelReconnectReplacesOldChannel(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, "host-user", models.RoleHost)
	createTestHost(t, "host-1", "host-user", 2.0)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	first := dialWS(t, srv, "/ws/host/host-1?token="+token)
	assert.Equal(t, "welcome", readMessage(t, first)["type"])

	// The agent reconnects while the old channel is still up.
	second := dialWS(t, srv, "/ws/host/host-1?token="+token)
	assert.Equal(t, "welcome", readMessage(t, second)["type"])

	// The replaced channel is closed by the server; its cleanup must not
	// take the reconnected host offline.
	_, _, err := first.ReadMessage()
	assert.Error(t, err)
	first.Close()

	time.Sleep(100 * time.Millisecond)
	assert.True(t, env.manager.IsConnected("host-1"))
	assert.True(t, hostOnline("host-1")())

	require.NoError(t, second.WriteJSON(map[string]string{"type": "heartbeat"}))
	assert.Equal(t, "heartbeat_ack", readMessage(t, second)["type"])
}

func TestHostChannelReportsJobResult(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, "host-user", models.RoleHost)
	host := createTestHost(t, "host-1", "host-user", 2.0)

	job := createTestJob(t, "job_abcd0001", "renter-1", models.JobStatusRunning)
	startedAt := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.DB.Model(job).Updates(map[string]interface{}{
		"host_id":    host.ID,
		"started_at": startedAt,
	}).Error)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/host/host-1?token="+token)
	assert.Equal(t, "welcome", readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":        "job_result",
		"job_id":      "job_abcd0001",
		"status":      "completed",
		"results_url": "https://results.example/job_abcd0001",
	}))
	ack := readMessage(t, conn)
	assert.Equal(t, "job_ack", ack["type"])

	var updated models.Job
	require.NoError(t, db.DB.Where("job_id = ?", "job_abcd0001").First(&updated).Error)
	assert.Equal(t, models.JobStatusCompleted, updated.Status)
	require.NotNil(t, updated.ActualCost)
	assert.InDelta(t, 2.0, *updated.ActualCost, 0.05, "one hour at 2.0/hour")
}

func TestJobChannelStreamsEvents(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, "renter-1", models.RoleRenter)
	createTestJob(t, "job_abcd0001", "renter-1", models.JobStatusRunning)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/job/job_abcd0001?token="+token)

	var ev connection.JobEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "status", ev.Type)
	assert.Equal(t, "running", ev.Status)

	// The subscription exists before the initial status is written, so
	// everything published from here on is delivered.
	env.manager.PublishJob("job_abcd0001", connection.NewLogEvent("job_abcd0001", "epoch 1/10"))

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "log", ev.Type)
	assert.Equal(t, "epoch 1/10", ev.Message)

	env.loop.HandleResult(context.Background(), "host-1", dispatch.ResultMessage{
		JobID:      "job_abcd0001",
		Status:     "completed",
		ResultsURL: "https://results.example/job_abcd0001",
	})

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "status", ev.Type)
	assert.Equal(t, "completed", ev.Status)
	assert.Equal(t, "https://results.example/job_abcd0001", ev.ResultsURL)

	// After the terminal event the server ends the channel.
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestJobChannelTerminalSnapshot(t *testing.T) {
	env := setupTestEnv(t)
	_, token := createTestUser(t, "renter-1", models.RoleRenter)
	createTestJob(t, "job_abcd0001", "renter-1", models.JobStatusCompleted)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/ws/job/job_abcd0001?token="+token)

	var ev connection.JobEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "status", ev.Type)
	assert.Equal(t, "completed", ev.Status)

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code,
		"a terminal job gets its snapshot and an immediate close")
}

func TestJobChannelAccessControl(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, "renter-1", models.RoleRenter)
	_, strangerToken := createTestUser(t, "stranger", models.RoleRenter)
	createTestJob(t, "job_abcd0001", "renter-1", models.JobStatusRunning)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	for _, path := range []string{
		"/ws/job/job_abcd0001?token=" + strangerToken,
		"/ws/job/job_unknown1?token=" + strangerToken,
	} {
		conn := dialWS(t, srv, path)
		_, _, err := conn.ReadMessage()
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr, path)
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
		assert.Equal(t, "job not found or access denied", closeErr.Text,
			"denial must not reveal whether the job exists")
	}
}
