package connection

import (
	"sync"
	"time"
)

// JobEvent is a status or log event streamed to job observers. Field names
// match the channel protocol.
type JobEvent struct {
	Type       string `json:"type"` // "status" or "log"
	JobID      string `json:"job_id"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
	ResultsURL string `json:"results_url,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

func NewLogEvent(jobID, message string) JobEvent {
	return JobEvent{
		Type:      "log",
		JobID:     jobID,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func NewStatusEvent(jobID, status, message, resultsURL string) JobEvent {
	return JobEvent{
		Type:       "status",
		JobID:      jobID,
		Status:     status,
		Message:    message,
		ResultsURL: resultsURL,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// Subscription is one observer's feed of events for a job. C is closed when
// the job reaches a terminal state or the observer unsubscribes.
type Subscription struct {
	C      chan JobEvent
	jobID  string
	closed bool
}

type jobFeed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	// dead marks a feed that has been removed from the observers map; a
	// subscriber that races the removal must start a fresh feed instead of
	// joining one nobody will publish to.
	dead bool
}

// SubscribeJob registers an observer for a job's event stream.
func (m *Manager) SubscribeJob(jobID string) *Subscription {
	sub := &Subscription{C: make(chan JobEvent, 64), jobID: jobID}

	for {
		feed, _ := m.observers.GetOrPut(jobID, &jobFeed{subs: make(map[*Subscription]struct{})})

		feed.mu.Lock()
		if feed.dead {
			feed.mu.Unlock()
			continue
		}
		feed.subs[sub] = struct{}{}
		feed.mu.Unlock()
		return sub
	}
}

// UnsubscribeJob removes one observer and closes its channel. The feed itself
// is dropped from the observers map when the last subscriber leaves, so jobs
// that never reach a terminal transition do not accumulate empty feeds.
func (m *Manager) UnsubscribeJob(sub *Subscription) {
	if sub == nil {
		return
	}
	feed, ok := m.observers.Get(sub.jobID)
	if !ok {
		return
	}
	feed.mu.Lock()
	if _, present := feed.subs[sub]; present {
		delete(feed.subs, sub)
		if !sub.closed {
			sub.closed = true
			close(sub.C)
		}
	}
	if len(feed.subs) == 0 && !feed.dead {
		feed.dead = true
		feed.mu.Unlock()
		m.observers.RemoveIfValue(sub.jobID, feed)
		return
	}
	feed.mu.Unlock()
}

// PublishJob fans an event out to every observer of the job. Slow observers
// with a full buffer miss the event rather than blocking the publisher.
func (m *Manager) PublishJob(jobID string, ev JobEvent) {
	feed, ok := m.observers.Get(jobID)
	if !ok {
		return
	}
	feed.mu.Lock()
	defer feed.mu.Unlock()
	for sub := range feed.subs {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

// CloseJobObservers ends every observer stream for a job. Called after the
// terminal status event has been published.
func (m *Manager) CloseJobObservers(jobID string) {
	feed, ok := m.observers.Get(jobID)
	if !ok {
		return
	}
	feed.mu.Lock()
	for sub := range feed.subs {
		delete(feed.subs, sub)
		if !sub.closed {
			sub.closed = true
			close(sub.C)
		}
	}
	feed.dead = true
	feed.mu.Unlock()
	m.observers.RemoveIfValue(jobID, feed)
}
