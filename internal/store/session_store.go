package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agoradebate/agora/internal/domain"
)

const (
	DefaultCacheTTL       = 24 * time.Hour
	DefaultRecentFallback = 10
	DefaultRetryBudget    = 5
)

// Cursor marks a position in a session's message feed. The zero value means
// "from the beginning". Either MessageID or (Sequence, BySequence) is set,
// never both.
type Cursor struct {
	MessageID  string
	Sequence   int64
	BySequence bool
}

// Options tunes the session store
type Options struct {
	CacheTTL       time.Duration
	RecentFallback int
	RetryBudget    int
}

// SessionStore orchestrates the cache and durable tiers for debate
// sessions: write-through on mutation, read-through with cache refill on
// miss. The append hot path never waits on a durable round-trip it cannot
// afford: a failed durable write is queued in the outbox and replayed via
// Reconcile.
type SessionStore struct {
	cache   domain.CacheStore
	durable domain.DurableStore
	outbox  *Outbox

	cacheTTL       time.Duration
	recentFallback int
	retryBudget    int

	now func() time.Time

	mu          sync.Mutex
	appendLocks map[string]*sync.Mutex
}

// New creates a session store over the given tiers
func New(cache domain.CacheStore, durable domain.DurableStore, opts Options) *SessionStore {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.RecentFallback <= 0 {
		opts.RecentFallback = DefaultRecentFallback
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = DefaultRetryBudget
	}
	return &SessionStore{
		cache:          cache,
		durable:        durable,
		outbox:         NewOutbox(),
		cacheTTL:       opts.CacheTTL,
		recentFallback: opts.RecentFallback,
		retryBudget:    opts.RetryBudget,
		now:            time.Now,
		appendLocks:    make(map[string]*sync.Mutex),
	}
}

// InitializeSession creates the durable record and primes the cache with an
// empty message list. id may be empty, in which case one is generated.
// Returns domain.ErrAlreadyExists when the id is already taken.
func (s *SessionStore) InitializeSession(ctx context.Context, id, topic string, participants []domain.Participant, ownerID string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	session := &domain.Session{
		ID:           id,
		Topic:        topic,
		OwnerID:      ownerID,
		Participants: participants,
		Messages:     []domain.Message{},
		LastUpdated:  s.now(),
	}

	if err := s.durable.CreateSession(ctx, session); err != nil {
		return "", err
	}

	if err := s.cache.SetSession(ctx, session, s.cacheTTL); err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("failed to prime session cache")
	}

	return id, nil
}

// AppendMessage assigns the message's sequence (and id/timestamp when
// absent), writes the updated snapshot to the cache, then writes to the
// durable tier. A durable failure does not fail the call; the write is
// queued for Reconcile and the session enters the cache-ahead state.
func (s *SessionStore) AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) error {
	lock := s.appendLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.loadSnapshot(ctx, sessionID)
	if err != nil {
		return err
	}

	msg.Sequence = session.LastSequence() + 1
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if msg.ID == "" {
		msg.ID = domain.FormatMessageID(msg.Timestamp, msg.Sequence)
	}

	session.Messages = append(session.Messages, *msg)
	session.LastUpdated = msg.Timestamp

	// Cache first so concurrent readers see the new turn immediately.
	if err := s.cache.SetSession(ctx, session, s.cacheTTL); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("cache write failed on append")
	}

	// While earlier writes are still queued, this message must not reach
	// the durable tier ahead of them: replay goes through the same queue so
	// the durable sequence stays gap-free.
	if s.outbox.Pending(sessionID) > 0 {
		log.Warn().
			Str("session_id", sessionID).
			Str("message_id", msg.ID).
			Msg("durable write queued behind pending reconciliation")
		s.outbox.Enqueue(sessionID, *msg)
		return nil
	}

	if err := s.durable.AppendMessage(ctx, sessionID, *msg); err != nil {
		log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("message_id", msg.ID).
			Msg("durable write failed, queued for reconciliation")
		s.outbox.Enqueue(sessionID, *msg)
	}

	return nil
}

// GetSession returns the full session, reading the cache first and falling
// back to the durable tier with a cache refill on miss. Cache read errors
// are treated as a miss. Returns domain.ErrNotFound when neither tier has
// the session.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	cached, err := s.cache.GetSession(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("cache read failed, falling through")
	}
	if cached != nil {
		if err := s.cache.SetSession(ctx, cached, s.cacheTTL); err != nil {
			log.Error().Err(err).Str("session_id", id).Msg("cache TTL refresh failed")
		}
		return cached, nil
	}

	session, err := s.durable.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mergePending(session)

	// The refill is idempotent: two racing fillers write the same snapshot.
	if err := s.cache.SetSession(ctx, session, s.cacheTTL); err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("cache refill failed")
	}

	return session, nil
}

// ListNewMessages returns messages strictly after the cursor, ordered by
// sequence. An unknown message-id cursor degrades to the last
// RecentFallback messages instead of failing.
func (s *SessionStore) ListNewMessages(ctx context.Context, sessionID string, since Cursor) ([]domain.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sinceSeq := int64(-1)
	switch {
	case since.BySequence:
		sinceSeq = since.Sequence
	case since.MessageID != "":
		found := false
		for _, m := range session.Messages {
			if m.ID == since.MessageID {
				sinceSeq = m.Sequence
				found = true
				break
			}
		}
		if !found {
			return tail(session.Messages, s.recentFallback), nil
		}
	}

	var out []domain.Message
	for _, m := range session.Messages {
		if m.Sequence > sinceSeq {
			out = append(out, m)
		}
	}
	return out, nil
}

// Reconcile replays queued cache-ahead writes for a session into the
// durable tier, oldest first. A transient failure leaves the queue intact
// for the next pass; once the head entry exhausts the retry budget the
// call reports domain.ErrUpstreamUnavailable.
func (s *SessionStore) Reconcile(ctx context.Context, sessionID string) error {
	for {
		pw := s.outbox.Head(sessionID)
		if pw == nil {
			return nil
		}

		if err := s.durable.AppendMessage(ctx, sessionID, pw.Message); err != nil {
			attempts := s.outbox.FailHead(sessionID)
			if attempts >= s.retryBudget {
				return fmt.Errorf("replay of message %s failed after %d attempts: %w",
					pw.Message.ID, attempts, domain.ErrUpstreamUnavailable)
			}
			return nil
		}
		s.outbox.AckHead(sessionID)
		log.Info().
			Str("session_id", sessionID).
			Str("message_id", pw.Message.ID).
			Msg("replayed pending durable write")
	}
}

// RunRetryLoop drains outboxes in the background until ctx is cancelled.
// Each pass also refreshes the cache TTL for cache-ahead sessions so the
// queued messages' only warm copy does not expire mid-retry.
func (s *SessionStore) RunRetryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sessionID := range s.outbox.Sessions() {
				if err := s.Reconcile(ctx, sessionID); err != nil {
					log.Error().Err(err).Str("session_id", sessionID).Msg("reconciliation failed")
				}
				if s.outbox.Pending(sessionID) > 0 {
					s.extendCacheTTL(ctx, sessionID)
				}
			}
		}
	}
}

// PendingWrites reports the cache-ahead depth for a session, for
// diagnostics.
func (s *SessionStore) PendingWrites(sessionID string) int {
	return s.outbox.Pending(sessionID)
}

// PendingSessions lists sessions currently in the cache-ahead state
func (s *SessionStore) PendingSessions() []string {
	return s.outbox.Sessions()
}

// DeleteSession invalidates the cache entry and removes the session from
// the durable tier, in that order: a cache entry that outlives the durable
// row would keep serving a deleted session for up to the full TTL. A failed
// invalidation aborts the delete. Admin-level operation; queued writes are
// discarded.
func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	s.outbox.Drop(id)

	if err := s.cache.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("cache invalidate failed, delete aborted: %w", err)
	}
	return s.durable.DeleteSession(ctx, id)
}

func (s *SessionStore) appendLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.appendLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.appendLocks[sessionID] = lock
	}
	return lock
}

// loadSnapshot returns the freshest full session view: the cache entry if
// present, otherwise the durable record merged with any queued cache-ahead
// messages.
func (s *SessionStore) loadSnapshot(ctx context.Context, sessionID string) (*domain.Session, error) {
	cached, err := s.cache.GetSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("cache read failed, falling through")
	}
	if cached != nil {
		return cached, nil
	}

	session, err := s.durable.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.mergePending(session)
	return session, nil
}

// mergePending re-applies queued cache-ahead messages onto a durable
// snapshot so a cold read does not roll the feed backwards. Messages are
// deduplicated by id and kept in sequence order: a queued write may sit
// between already-replayed neighbors, not only past the snapshot's tail.
func (s *SessionStore) mergePending(session *domain.Session) {
	pending := s.outbox.PendingMessages(session.ID)
	if len(pending) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(session.Messages))
	for _, m := range session.Messages {
		seen[m.ID] = struct{}{}
	}

	merged := false
	for _, msg := range pending {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		session.Messages = append(session.Messages, msg)
		if msg.Timestamp.After(session.LastUpdated) {
			session.LastUpdated = msg.Timestamp
		}
		merged = true
	}
	if merged {
		sort.Slice(session.Messages, func(i, j int) bool {
			return session.Messages[i].Sequence < session.Messages[j].Sequence
		})
	}
}

func (s *SessionStore) extendCacheTTL(ctx context.Context, sessionID string) {
	cached, err := s.cache.GetSession(ctx, sessionID)
	if err != nil || cached == nil {
		return
	}
	if err := s.cache.SetSession(ctx, cached, s.cacheTTL); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("cache TTL extension failed")
	}
}

func tail(messages []domain.Message, n int) []domain.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
