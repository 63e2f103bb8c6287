package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/store"
)

// State of a session subscription
type State int

const (
	StateActive State = iota
	StateBackoff
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateBackoff:
		return "backoff"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

const (
	DefaultPollInterval = 3 * time.Second
	DefaultSuspendAfter = 10
)

// Source is the message feed a synchronizer polls. *store.SessionStore
// satisfies it, as does the HTTP client adapter.
type Source interface {
	ListNewMessages(ctx context.Context, sessionID string, since store.Cursor) ([]domain.Message, error)
}

// Options tunes one subscription
type Options struct {
	PollInterval time.Duration
	SuspendAfter int
	// OnUpdate is invoked with the full merged message list after every
	// poll that produced new messages.
	OnUpdate func([]domain.Message)
}

// Synchronizer incrementally pulls new messages for one session without
// re-fetching history. It keeps a message-id cursor, deduplicates by id,
// and suspends itself after SuspendAfter consecutive empty polls; an
// explicit Refresh resumes polling. At most one poll is in flight at a
// time, so cursor updates cannot reorder.
type Synchronizer struct {
	source    Source
	sessionID string
	interval  time.Duration
	suspend   int
	onUpdate  func([]domain.Message)

	kick chan struct{}

	mu         sync.Mutex
	state      State
	emptyPolls int
	seen       map[string]struct{}
	messages   []domain.Message
	cursor     store.Cursor
	alive      bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSynchronizer creates a subscription for one session
func NewSynchronizer(source Source, sessionID string, opts Options) *Synchronizer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SuspendAfter <= 0 {
		opts.SuspendAfter = DefaultSuspendAfter
	}
	return &Synchronizer{
		source:    source,
		sessionID: sessionID,
		interval:  opts.PollInterval,
		suspend:   opts.SuspendAfter,
		onUpdate:  opts.OnUpdate,
		kick:      make(chan struct{}, 1),
		seen:      make(map[string]struct{}),
	}
}

// Start begins polling. The loop stops when ctx is cancelled or Close is
// called.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.alive = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Close tears the subscription down. A poll already in flight may
// complete, but its result is discarded.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.alive = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Refresh resets the empty-poll counter, reactivates a suspended
// subscription and triggers an immediate poll.
func (s *Synchronizer) Refresh() {
	s.mu.Lock()
	s.emptyPolls = 0
	s.state = StateActive
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Messages returns a copy of the merged message list, sorted ascending by
// sequence.
func (s *Synchronizer) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// State reports the subscription's poll state
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Synchronizer) run(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		s.poll(ctx)

		// A suspended subscription does not rearm; only Refresh (via the
		// kick channel) wakes it.
		if s.State() != StateSuspended {
			timer.Reset(s.interval)
		}
	}
}

func (s *Synchronizer) poll(ctx context.Context) {
	s.mu.Lock()
	cursor := s.cursor
	s.mu.Unlock()

	batch, err := s.source.ListNewMessages(ctx, s.sessionID, cursor)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("session_id", s.sessionID).Msg("poll failed")
		}
		return
	}

	s.apply(batch)
}

// apply merges a poll result. Arrival order is not trusted: the batch is
// duplicate-filtered and sorted before the cursor moves.
func (s *Synchronizer) apply(batch []domain.Message) {
	merged := s.merge(batch)
	if merged != nil && s.onUpdate != nil {
		s.onUpdate(merged)
	}
}

// merge returns the updated message list when the batch contained fresh
// messages, nil otherwise. Callbacks run outside the lock.
func (s *Synchronizer) merge(batch []domain.Message) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive {
		return nil
	}

	var fresh []domain.Message
	for _, m := range batch {
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		s.seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}

	if len(fresh) == 0 {
		s.emptyPolls++
		if s.emptyPolls >= s.suspend {
			s.state = StateSuspended
		} else {
			s.state = StateBackoff
		}
		return nil
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Sequence < fresh[j].Sequence })

	s.messages = append(s.messages, fresh...)
	sort.Slice(s.messages, func(i, j int) bool { return s.messages[i].Sequence < s.messages[j].Sequence })

	last := fresh[len(fresh)-1]
	s.cursor = store.Cursor{MessageID: last.ID}

	s.emptyPolls = 0
	s.state = StateActive

	merged := make([]domain.Message, len(s.messages))
	copy(merged, s.messages)
	return merged
}
