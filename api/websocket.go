package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gitlab.com/gridshare/gpu-cloud-service/auth"
	"gitlab.com/gridshare/gpu-cloud-service/connection"
	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/dispatch"
	"gitlab.com/gridshare/gpu-cloud-service/jobqueue"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

var upgradeConnection = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hostMessage is the envelope for everything a host agent sends over its
// channel. Unknown types are logged and ignored, never fatal to the channel.
type hostMessage struct {
	Type           string  `json:"type"`
	JobID          string  `json:"job_id,omitempty"`
	Status         string  `json:"status,omitempty"`
	Message        string  `json:"message,omitempty"`
	ExitCode       *int    `json:"exit_code,omitempty"`
	LogURL         string  `json:"log_url,omitempty"`
	ResultsURL     string  `json:"results_url,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	GPUUtilization float64 `json:"gpu_utilization,omitempty"`
}

// closeWithPolicyError rejects a channel with close code 1008 and a reason
// string mirroring the HTTP error taxonomy.
func closeWithPolicyError(ws *websocket.Conn, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	ws.Close()
}

// HostChannelHandler  godoc
//
//	@Summary		Open the live channel for a host agent.
//	@Description	Requires a bearer credential as a query parameter; the authenticated user must own the host. Heartbeats keep the host live, job_result messages report completions.
//	@Tags			ws
//	@Success		200
//	@Router			/ws/host/{host_id} [get]
func (h *Handlers) HostChannelHandler(c *gin.Context) {
	hostID := c.Param("host_id")

	ws, err := upgradeConnection.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Sugar().Errorf("failed to set websocket upgrade: %v", err)
		return
	}

	user, err := auth.ResolveUser(c.Query("token"))
	if err != nil {
		closeWithPolicyError(ws, err.Error())
		return
	}

	hc, err := h.Manager.ConnectHost(ws, hostID, user)
	if err != nil {
		closeWithPolicyError(ws, err.Error())
		return
	}

	// Store calls inside the receive loop use a background context so that
	// channel closure cannot abort an in-flight write mid-transition.
	ctx := context.Background()

	h.Queue.UpdateHostStatus(ctx, hostID, jobqueue.HostStatus{IsOnline: true})

	hc.WriteJSON(gin.H{
		"type":      "welcome",
		"message":   "Connected as host " + hostID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	h.listenHostChannel(ctx, hc)
}

// listenHostChannel is the per-host receive loop. Inbound messages on one
// channel are processed in arrival order. The loop ends on transport error
// or client disconnect, after which liveness state is cleaned up.
func (h *Handlers) listenHostChannel(ctx context.Context, hc *connection.HostConn) {
	hostID := hc.HostID()
	defer func() {
		// Queue liveness is only cleared when this channel was still the
		// registered one; a reconnected host keeps its liveness record.
		if h.Manager.DisconnectHost(hc) {
			h.Queue.UpdateHostStatus(ctx, hostID, jobqueue.HostStatus{IsOnline: false})
		}
	}()

	for {
		var msg hostMessage
		if err := hc.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zlog.Sugar().Warnf("host %s channel error: %v", hostID, err)
			}
			return
		}

		switch msg.Type {
		case "heartbeat":
			// Reasserting is_online on every heartbeat repairs a missed
			// online flip without waiting for a reconnect.
			if err := db.SetHostOnline(hostID, true); err != nil {
				zlog.Sugar().Errorf("failed to record heartbeat for host %s: %v", hostID, err)
			}
			h.Queue.UpdateHostStatus(ctx, hostID, jobqueue.HostStatus{
				IsOnline:       true,
				GPUUtilization: msg.GPUUtilization,
			})
			hc.WriteJSON(gin.H{
				"type":      "heartbeat_ack",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})

		case "job_result":
			h.Loop.HandleResult(ctx, hostID, dispatch.ResultMessage{
				JobID:        msg.JobID,
				Status:       msg.Status,
				ExitCode:     msg.ExitCode,
				LogURL:       msg.LogURL,
				ResultsURL:   msg.ResultsURL,
				ErrorMessage: msg.ErrorMessage,
			})
			hc.WriteJSON(gin.H{
				"type":    "job_ack",
				"message": "Job result received",
			})

		case "job_log":
			if msg.JobID != "" {
				h.Manager.PublishJob(msg.JobID, connection.NewLogEvent(msg.JobID, msg.Message))
			}

		default:
			zlog.Sugar().Infof("ignoring unknown message type %q from host %s", msg.Type, hostID)
		}
	}
}

// JobChannelHandler  godoc
//
//	@Summary		Open the observer channel for a job.
//	@Description	Server-driven stream: an initial status message, log events while the job runs, and a final status message after which the server closes the channel.
//	@Tags			ws
//	@Success		200
//	@Router			/ws/job/{job_id} [get]
func (h *Handlers) JobChannelHandler(c *gin.Context) {
	jobID := c.Param("job_id")

	ws, err := upgradeConnection.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Sugar().Errorf("failed to set websocket upgrade: %v", err)
		return
	}

	user, err := auth.ResolveUser(c.Query("token"))
	if err != nil {
		closeWithPolicyError(ws, err.Error())
		return
	}

	var job models.Job
	if err := db.DB.Where("job_id = ?", jobID).First(&job).Error; err != nil {
		closeWithPolicyError(ws, "job not found or access denied")
		return
	}
	if err := h.authorizeJobRead(user, &job); err != nil {
		closeWithPolicyError(ws, "job not found or access denied")
		return
	}

	// Subscribe before reporting current status so no event between the
	// snapshot and the subscription is lost.
	sub := h.Manager.SubscribeJob(jobID)
	defer h.Manager.UnsubscribeJob(sub)

	ws.WriteJSON(connection.NewStatusEvent(jobID, string(job.Status), "Job is "+string(job.Status), job.ResultsURL))

	if job.Status.Terminal() {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(5*time.Second))
		ws.Close()
		return
	}

	// Detect observer disconnect; no inbound messages are expected on this
	// channel.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// Job reached a terminal state; the terminal status event has
				// already been delivered. The server ends the channel.
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(5*time.Second))
				ws.Close()
				return
			}
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
