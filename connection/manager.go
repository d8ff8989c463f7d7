package connection

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/models"
	"gitlab.com/gridshare/gpu-cloud-service/utils"
)

var (
	// ErrNotHostOwner is returned when the authenticated user on a channel
	// does not own the host id it tries to occupy.
	ErrNotHostOwner = errors.New("host not found or access denied")
)

// HostConn is the live channel handle for one connected host. Writes are
// serialized through a mutex because gorilla connections allow a single
// concurrent writer.
type HostConn struct {
	hostID  string
	user    *models.User
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (hc *HostConn) HostID() string     { return hc.hostID }
func (hc *HostConn) User() *models.User { return hc.user }

// WriteJSON sends a message over the channel, serialized against other
// writers on the same connection.
func (hc *HostConn) WriteJSON(v interface{}) error {
	hc.writeMu.Lock()
	defer hc.writeMu.Unlock()
	return hc.ws.WriteJSON(v)
}

// ReadJSON blocks on the next inbound message. Only the owning receive loop
// calls this.
func (hc *HostConn) ReadJSON(v interface{}) error {
	return hc.ws.ReadJSON(v)
}

func (hc *HostConn) Close() error {
	return hc.ws.Close()
}

// Manager owns the live channel per connected host and the observer feeds
// per watched job. It is injected into handlers rather than living in
// package state, and all map mutations are per-key atomic.
type Manager struct {
	hosts     utils.SyncMap[string, *HostConn]
	observers utils.SyncMap[string, *jobFeed]
}

func NewManager() *Manager {
	return &Manager{}
}

// ConnectHost validates ownership, registers the channel and marks the host
// online. The last registration for a host id wins: an older channel for the
// same host is closed and its later disconnect callback becomes a no-op.
func (m *Manager) ConnectHost(ws *websocket.Conn, hostID string, user *models.User) (*HostConn, error) {
	owned, err := db.HostOwnedBy(hostID, user.ID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, ErrNotHostOwner
	}

	hc := &HostConn{hostID: hostID, user: user, ws: ws}

	// Register before closing any previous channel. Closing first would give
	// the old receive loop a window to run DisconnectHost while the map entry
	// is still its own, releasing the slot the new channel just claimed.
	prev, had := m.hosts.Get(hostID)
	m.hosts.Put(hostID, hc)
	if had && prev != hc {
		prev.Close()
	}

	if err := db.SetHostOnline(hostID, true); err != nil {
		zlog.Sugar().Errorf("failed to mark host %s online: %v", hostID, err)
	} else {
		zlog.Sugar().Infof("host %s connected and marked online", hostID)
	}
	return hc, nil
}

// DisconnectHost releases the channel and marks the host offline, but only
// if the given handle is still the registered one. A stale disconnect for a
// host that has since reconnected must not flip it back offline. Returns
// true when the registration was actually released.
func (m *Manager) DisconnectHost(hc *HostConn) bool {
	if hc == nil {
		return false
	}
	if !m.hosts.RemoveIfValue(hc.hostID, hc) {
		return false
	}
	hc.Close()

	if err := db.SetHostOnline(hc.hostID, false); err != nil {
		zlog.Sugar().Errorf("failed to mark host %s offline: %v", hc.hostID, err)
	} else {
		zlog.Sugar().Infof("host %s disconnected and marked offline", hc.hostID)
	}
	return true
}

// SendToHost pushes a message to a connected host. Returns false when the
// host has no live channel; the caller decides whether to requeue.
func (m *Manager) SendToHost(hostID string, message interface{}) bool {
	hc, ok := m.hosts.Get(hostID)
	if !ok {
		return false
	}
	if err := hc.WriteJSON(message); err != nil {
		zlog.Sugar().Errorf("failed to send to host %s: %v", hostID, err)
		return false
	}
	return true
}

// IsConnected reports whether a host currently holds a live channel.
func (m *Manager) IsConnected(hostID string) bool {
	_, ok := m.hosts.Get(hostID)
	return ok
}

// ConnectedHosts returns the ids of all hosts with a live channel.
func (m *Manager) ConnectedHosts() []string {
	return m.hosts.Keys()
}

// ActiveHostCount returns the number of live host channels.
func (m *Manager) ActiveHostCount() int {
	return m.hosts.Len()
}
