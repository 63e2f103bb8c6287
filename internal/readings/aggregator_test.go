package readings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/metrics"
)

var (
	partA = domain.Participant{ID: "p-a", Name: "Ada", Stance: domain.StancePro, Kind: domain.KindFixedPersona}
	partB = domain.Participant{ID: "p-b", Name: "Berta", Stance: domain.StanceCon, Kind: domain.KindGeneratedPersona}
	partC = domain.Participant{ID: "p-c", Name: "Cleo", Stance: domain.StancePro, Kind: domain.KindGeneratedPersona}
)

func sampleResults(title string) []domain.ReadingResult {
	return []domain.ReadingResult{{Title: title, URL: "https://example.org/" + title, Snippet: "..."}}
}

func newTestAggregator(lookup domain.ReadingLookup) (*Aggregator, *Limiter) {
	limiter := NewLimiter()
	agg := NewAggregator(lookup, limiter, metrics.NewStore(100), Options{})
	agg.sleep = func(context.Context, time.Duration) error { return nil }
	return agg, limiter
}

func TestGetReadings_CachesPerParticipantAndTopic(t *testing.T) {
	lookup := new(MockLookup)
	agg, _ := newTestAggregator(lookup)
	ctx := context.Background()

	lookup.On("Lookup", mock.Anything, mock.Anything).Return(sampleResults("r1"), nil).Once()

	first, err := agg.GetReadings(ctx, "topic X", partA)
	require.NoError(t, err)
	assert.Equal(t, "r1", first[0].Title)

	second, err := agg.GetReadings(ctx, "topic X", partA)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	lookup.AssertNumberOfCalls(t, "Lookup", 1)
}

func TestGetReadings_IdentityKeyDisambiguates(t *testing.T) {
	lookup := new(MockLookup)
	agg, _ := newTestAggregator(lookup)
	ctx := context.Background()

	lookup.On("Lookup", mock.Anything, mock.Anything).Return(sampleResults("r"), nil)

	sameNameFixed := domain.Participant{Name: "Ada", Stance: domain.StancePro, Kind: domain.KindFixedPersona}
	sameNameGenerated := domain.Participant{Name: "Ada", Stance: domain.StancePro, Kind: domain.KindGeneratedPersona}

	_, err := agg.GetReadings(ctx, "topic X", sameNameFixed)
	require.NoError(t, err)
	_, err = agg.GetReadings(ctx, "topic X", sameNameGenerated)
	require.NoError(t, err)

	// Same name, different kind: two distinct cache slots, two calls.
	lookup.AssertNumberOfCalls(t, "Lookup", 2)
}

func TestThrottleFastFail(t *testing.T) {
	lookup := new(MockLookup)
	agg, limiter := newTestAggregator(lookup)
	ctx := context.Background()

	base := time.Now()
	now := base
	limiter.now = func() time.Time { return now }

	limiter.Trip(30 * time.Second)

	_, err := agg.GetReadings(ctx, "topic X", partA)
	var te *domain.ThrottledError
	require.ErrorAs(t, err, &te)
	assert.LessOrEqual(t, te.RetryAfter, 30*time.Second)
	assert.Greater(t, te.RetryAfter, time.Duration(0))

	_, _, err = agg.GetReadingsForAll(ctx, "topic X", []domain.Participant{partA, partB})
	require.ErrorAs(t, err, &te)

	lookup.AssertNumberOfCalls(t, "Lookup", 0)

	// Cooldown elapses, calls flow again.
	now = base.Add(31 * time.Second)
	lookup.On("Lookup", mock.Anything, mock.Anything).Return(sampleResults("r"), nil).Once()
	_, err = agg.GetReadings(ctx, "topic X", partA)
	require.NoError(t, err)
}

func TestGetReadingsForAll_PartialOnMidBatchThrottle(t *testing.T) {
	lookup := new(MockLookup)
	agg, _ := newTestAggregator(lookup)
	ctx := context.Background()

	lookup.On("Lookup", mock.Anything, mock.Anything).Return(sampleResults("a"), nil).Once()
	lookup.On("Lookup", mock.Anything, mock.Anything).Return(nil, &domain.ThrottledError{RetryAfter: time.Minute}).Once()

	results, errs, err := agg.GetReadingsForAll(ctx, "topic X", []domain.Participant{partA, partB, partC})
	require.NoError(t, err, "mid-batch throttling must not raise")

	require.Contains(t, results, partA.IdentityKey())
	assert.NotContains(t, results, partB.IdentityKey())
	assert.NotContains(t, results, partC.IdentityKey())

	assert.ErrorIs(t, errs[partB.IdentityKey()], domain.ErrSkippedDueToThrottle)
	assert.ErrorIs(t, errs[partC.IdentityKey()], domain.ErrSkippedDueToThrottle)

	// The third participant was never attempted.
	lookup.AssertNumberOfCalls(t, "Lookup", 2)
}

func TestGetReadingsForAll_SingleFailureDoesNotAbortBatch(t *testing.T) {
	lookup := new(MockLookup)
	agg, _ := newTestAggregator(lookup)
	ctx := context.Background()

	upstreamErr := errors.New("boom")
	lookup.On("Lookup", mock.Anything, mock.Anything).Return(sampleResults("a"), nil).Once()
	lookup.On("Lookup", mock.Anything, mock.Anything).Return(nil, upstreamErr).Once()
	lookup.On("Lookup", mock.Anything, mock.Anything).Return(sampleResults("c"), nil).Once()

	results, errs, err := agg.GetReadingsForAll(ctx, "topic X", []domain.Participant{partA, partB, partC})
	require.NoError(t, err)

	assert.Len(t, results, 2)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[partB.IdentityKey()], upstreamErr)
}

func TestGetReadingsForAll_AllFailedStillReturnsMaps(t *testing.T) {
	lookup := new(MockLookup)
	agg, _ := newTestAggregator(lookup)
	ctx := context.Background()

	lookup.On("Lookup", mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	results, errs, err := agg.GetReadingsForAll(ctx, "topic X", []domain.Participant{partA, partB})
	require.NoError(t, err, "total failure is conveyed via the errors map, not an error")
	assert.Empty(t, results)
	assert.Len(t, errs, 2)
}

func TestGetReadingsForAll_BatchCacheShortCircuits(t *testing.T) {
	lookup := new(MockLookup)
	agg, _ := newTestAggregator(lookup)
	ctx := context.Background()

	lookup.On("Lookup", mock.Anything, mock.Anything).Return(sampleResults("r"), nil).Twice()

	participants := []domain.Participant{partA, partB}
	first, errs, err := agg.GetReadingsForAll(ctx, "topic X", participants)
	require.NoError(t, err)
	require.Empty(t, errs)
	require.Len(t, first, 2)

	second, errs, err := agg.GetReadingsForAll(ctx, "topic X", participants)
	require.NoError(t, err)
	require.Empty(t, errs)
	assert.Equal(t, first, second)

	lookup.AssertNumberOfCalls(t, "Lookup", 2)
}

func TestDoLookup_ThrottleTripsSharedCooldown(t *testing.T) {
	lookup := new(MockLookup)
	agg, limiter := newTestAggregator(lookup)
	ctx := context.Background()

	lookup.On("Lookup", mock.Anything, mock.Anything).Return(nil, &domain.ThrottledError{RetryAfter: time.Minute}).Once()

	_, err := agg.GetReadings(ctx, "topic X", partA)
	assert.True(t, domain.IsThrottled(err))
	assert.True(t, limiter.Throttled(), "a throttling response must arm the shared cooldown")
}

func TestLookupMetricsRecorded(t *testing.T) {
	lookup := new(MockLookup)
	limiter := NewLimiter()
	store := metrics.NewStore(10)
	agg := NewAggregator(lookup, limiter, store, Options{})
	agg.sleep = func(context.Context, time.Duration) error { return nil }

	lookup.On("Lookup", mock.Anything, mock.Anything).Return(sampleResults("r"), nil).Once()
	lookup.On("Lookup", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Once()

	_, err := agg.GetReadings(context.Background(), "topic X", partA)
	require.NoError(t, err)
	_, err = agg.GetReadings(context.Background(), "topic X", partB)
	require.Error(t, err)

	stats := store.Aggregate()
	require.Contains(t, stats, "readings.lookup")
	assert.Equal(t, 2, stats["readings.lookup"].Count)
	assert.Equal(t, 1, stats["readings.lookup"].ErrorCount)
}

func TestLimiter_ClearsAfterCooldown(t *testing.T) {
	l := NewLimiter()
	base := time.Now()
	now := base
	l.now = func() time.Time { return now }

	require.NoError(t, l.Check())

	l.Trip(10 * time.Second)
	assert.Error(t, l.Check())

	now = base.Add(5 * time.Second)
	var te *domain.ThrottledError
	require.ErrorAs(t, l.Check(), &te)
	assert.Equal(t, 5*time.Second, te.RetryAfter)

	now = base.Add(11 * time.Second)
	assert.NoError(t, l.Check())
	assert.False(t, l.Throttled())
}
