package memory

import (
	"context"
	"sync"
	"time"

	"github.com/agoradebate/agora/internal/domain"
)

// Durable is an in-process implementation of domain.DurableStore backed by
// a mutex-guarded map. It is the "memory" storage driver and the durable
// tier used by tests.
type Durable struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session

	// FailAppends makes AppendMessage fail while set, for exercising the
	// cache-ahead path in tests.
	FailAppends bool
	failErr     error
}

func NewDurable() *Durable {
	return &Durable{sessions: make(map[string]*domain.Session)}
}

func (d *Durable) CreateSession(_ context.Context, session *domain.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[session.ID]; ok {
		return domain.ErrAlreadyExists
	}

	stored := cloneSession(session)
	d.sessions[session.ID] = stored
	return nil
}

func (d *Durable) GetSession(_ context.Context, id string) (*domain.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	session, ok := d.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSession(session), nil
}

func (d *Durable) AppendMessage(_ context.Context, sessionID string, msg domain.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailAppends {
		if d.failErr != nil {
			return d.failErr
		}
		return domain.ErrUpstreamUnavailable
	}

	session, ok := d.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}

	session.Messages = append(session.Messages, msg)
	session.LastUpdated = msg.Timestamp
	return nil
}

func (d *Durable) ListMessages(_ context.Context, sessionID string, sinceSeq int64, limit int) ([]domain.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	session, ok := d.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	var out []domain.Message
	for _, m := range session.Messages {
		if m.Sequence > sinceSeq {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *Durable) DeleteSession(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(d.sessions, id)
	return nil
}

func (d *Durable) Close() error { return nil }

// SetFailure arms or clears an append failure with a specific error.
func (d *Durable) SetFailure(err error) {
	d.mu.Lock()
	d.FailAppends = err != nil
	d.failErr = err
	d.mu.Unlock()
}

// Touch updates last_updated without appending, test helper.
func (d *Durable) Touch(id string, at time.Time) {
	d.mu.Lock()
	if s, ok := d.sessions[id]; ok {
		s.LastUpdated = at
	}
	d.mu.Unlock()
}

func cloneSession(s *domain.Session) *domain.Session {
	out := *s
	out.Participants = append([]domain.Participant(nil), s.Participants...)
	out.Messages = append([]domain.Message(nil), s.Messages...)
	return &out
}
