package store

import (
	"sync"
	"time"

	"github.com/agoradebate/agora/internal/domain"
)

// PendingWrite is one durable-tier write that succeeded in the cache but
// has not yet reached the durable tier.
type PendingWrite struct {
	SessionID  string
	Message    domain.Message
	Attempts   int
	EnqueuedAt time.Time
}

// Outbox queues durable writes for replay after a durable-tier failure.
// While a session has queued entries it is in the "cache-ahead" state: the
// cache tier holds messages the durable tier does not. Entries survive only
// for the life of the process; if the process dies before Reconcile drains
// the queue, the queued messages are lost. The session store keeps the
// cache entry's TTL refreshed while the queue is non-empty to keep that
// window from silently widening.
type Outbox struct {
	mu     sync.Mutex
	queues map[string][]*PendingWrite
}

func NewOutbox() *Outbox {
	return &Outbox{queues: make(map[string][]*PendingWrite)}
}

// Enqueue appends a pending write at the tail of the session's queue
func (o *Outbox) Enqueue(sessionID string, msg domain.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queues[sessionID] = append(o.queues[sessionID], &PendingWrite{
		SessionID:  sessionID,
		Message:    msg,
		EnqueuedAt: time.Now(),
	})
}

// Head returns the oldest pending write for the session, or nil. Replays
// must go oldest-first so the durable tier stays gap-free.
func (o *Outbox) Head(sessionID string) *PendingWrite {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[sessionID]
	if len(q) == 0 {
		return nil
	}
	head := *q[0]
	return &head
}

// AckHead removes the head entry after a successful replay
func (o *Outbox) AckHead(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[sessionID]
	if len(q) == 0 {
		return
	}
	q = q[1:]
	if len(q) == 0 {
		delete(o.queues, sessionID)
	} else {
		o.queues[sessionID] = q
	}
}

// FailHead bumps the head entry's attempt count and returns the new count
func (o *Outbox) FailHead(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[sessionID]
	if len(q) == 0 {
		return 0
	}
	q[0].Attempts++
	return q[0].Attempts
}

// Pending returns the number of queued writes for a session
func (o *Outbox) Pending(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[sessionID])
}

// PendingMessages returns copies of the queued messages for a session,
// oldest first.
func (o *Outbox) PendingMessages(sessionID string) []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[sessionID]
	if len(q) == 0 {
		return nil
	}
	out := make([]domain.Message, len(q))
	for i, pw := range q {
		out[i] = pw.Message
	}
	return out
}

// Sessions lists session ids with queued writes
func (o *Outbox) Sessions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.queues))
	for id := range o.queues {
		ids = append(ids, id)
	}
	return ids
}

// Drop discards all queued writes for a session
func (o *Outbox) Drop(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.queues, sessionID)
}
