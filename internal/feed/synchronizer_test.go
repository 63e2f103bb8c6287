package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/store"
)

type scriptedSource struct {
	mu      sync.Mutex
	batches [][]domain.Message
	calls   int
	cursors []store.Cursor
}

func (f *scriptedSource) ListNewMessages(_ context.Context, _ string, since store.Cursor) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, since)
	var batch []domain.Message
	if f.calls < len(f.batches) {
		batch = f.batches[f.calls]
	}
	f.calls++
	return batch, nil
}

func (f *scriptedSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedSource) lastCursor() store.Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cursors) == 0 {
		return store.Cursor{}
	}
	return f.cursors[len(f.cursors)-1]
}

func msg(id string, seq int64) domain.Message {
	return domain.Message{ID: id, Role: domain.RoleUser, Content: id, Sequence: seq, Timestamp: time.Now()}
}

func TestSynchronizer_MergesOutOfOrderArrivals(t *testing.T) {
	src := &scriptedSource{batches: [][]domain.Message{
		{msg("m1", 1), msg("m0", 0)}, // arrival order not monotonic
	}}

	updates := make(chan []domain.Message, 4)
	s := NewSynchronizer(src, "sess", Options{
		PollInterval: 5 * time.Millisecond,
		OnUpdate:     func(m []domain.Message) { updates <- m },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Close()

	select {
	case merged := <-updates:
		require.Len(t, merged, 2)
		assert.Equal(t, "m0", merged[0].ID)
		assert.Equal(t, "m1", merged[1].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	// The cursor advances to the highest-sequence id, not the first-arrived.
	assert.Eventually(t, func() bool {
		return src.callCount() >= 2 && src.lastCursor().MessageID == "m1"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSynchronizer_DeduplicatesRedelivery(t *testing.T) {
	src := &scriptedSource{batches: [][]domain.Message{
		{msg("m0", 0)},
		{msg("m0", 0), msg("m1", 1)}, // m0 delivered twice
	}}

	s := NewSynchronizer(src, "sess", Options{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Close()

	assert.Eventually(t, func() bool {
		return len(s.Messages()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	merged := s.Messages()
	assert.Equal(t, "m0", merged[0].ID)
	assert.Equal(t, "m1", merged[1].ID)
}

func TestSynchronizer_SuspendsAfterEmptyPolls(t *testing.T) {
	src := &scriptedSource{} // always empty
	s := NewSynchronizer(src, "sess", Options{
		PollInterval: 2 * time.Millisecond,
		SuspendAfter: 3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Close()

	assert.Eventually(t, func() bool {
		return s.State() == StateSuspended
	}, 2*time.Second, 2*time.Millisecond)

	// No further polls while suspended.
	suspendedAt := src.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, suspendedAt, src.callCount())

	// Refresh resumes polling and resets the counter.
	s.Refresh()
	assert.Eventually(t, func() bool {
		return src.callCount() > suspendedAt
	}, 2*time.Second, 2*time.Millisecond)
	assert.NotEqual(t, StateSuspended, s.State())
}

type blockingSource struct {
	started chan struct{}
	release chan []domain.Message
	once    sync.Once
}

func (b *blockingSource) ListNewMessages(_ context.Context, _ string, _ store.Cursor) ([]domain.Message, error) {
	b.once.Do(func() { close(b.started) })
	batch := <-b.release
	return batch, nil
}

func TestSynchronizer_CloseDiscardsInflightPoll(t *testing.T) {
	src := &blockingSource{
		started: make(chan struct{}),
		release: make(chan []domain.Message, 2),
	}
	s := NewSynchronizer(src, "sess", Options{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	<-src.started

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	// Let the in-flight poll complete after teardown began.
	src.release <- []domain.Message{msg("late", 0)}
	close(src.release)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.Empty(t, s.Messages(), "result of a poll completing after teardown must be discarded")
}

func TestSynchronizer_BackoffStateBeforeSuspension(t *testing.T) {
	src := &scriptedSource{batches: [][]domain.Message{{msg("m0", 0)}}}
	s := NewSynchronizer(src, "sess", Options{
		PollInterval: 2 * time.Millisecond,
		SuspendAfter: 50,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Close()

	// First poll delivers, later polls are empty: Active then Backoff.
	assert.Eventually(t, func() bool {
		return len(s.Messages()) == 1
	}, 2*time.Second, 2*time.Millisecond)

	assert.Eventually(t, func() bool {
		return s.State() == StateBackoff
	}, 2*time.Second, 2*time.Millisecond)
}
