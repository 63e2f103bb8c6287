package readings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agoradebate/agora/internal/domain"
	"github.com/agoradebate/agora/internal/metrics"
)

const (
	DefaultCacheTTL      = 30 * time.Minute
	DefaultBatchCacheTTL = 30 * time.Minute
	DefaultCallDelay     = 2 * time.Second
	DefaultLookupTimeout = 20 * time.Second
	DefaultCooldown      = 60 * time.Second

	lookupMetricPath = "readings.lookup"
)

// QueryFunc renders the external search query for one participant on one
// topic.
type QueryFunc func(topic string, p domain.Participant) string

// Options tunes the aggregator
type Options struct {
	CacheTTL      time.Duration
	BatchCacheTTL time.Duration
	CallDelay     time.Duration
	LookupTimeout time.Duration
	Cooldown      time.Duration
	Query         QueryFunc
}

type cachedResults struct {
	results   []domain.ReadingResult
	expiresAt time.Time
}

type cachedBatch struct {
	results   map[string][]domain.ReadingResult
	expiresAt time.Time
}

// Aggregator fans out reading lookups per participant in front of the
// slow, quota-limited external search primitive. Within a batch the calls
// are issued sequentially with a fixed inter-call delay: the upstream
// quota is low enough that naive fan-out trips throttling and the shared
// cooldown then penalizes every other caller, so latency is traded for
// availability.
type Aggregator struct {
	lookup  domain.ReadingLookup
	limiter *Limiter
	metrics *metrics.Store

	cacheTTL      time.Duration
	batchTTL      time.Duration
	callDelay     time.Duration
	lookupTimeout time.Duration
	cooldown      time.Duration
	query         QueryFunc

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	perKey  map[string]cachedResults
	batches map[string]cachedBatch
}

// NewAggregator creates an aggregator over the given lookup primitive and
// shared limiter.
func NewAggregator(lookup domain.ReadingLookup, limiter *Limiter, metricsStore *metrics.Store, opts Options) *Aggregator {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.BatchCacheTTL <= 0 {
		opts.BatchCacheTTL = DefaultBatchCacheTTL
	}
	if opts.CallDelay <= 0 {
		opts.CallDelay = DefaultCallDelay
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Query == nil {
		opts.Query = defaultQuery
	}
	return &Aggregator{
		lookup:        lookup,
		limiter:       limiter,
		metrics:       metricsStore,
		cacheTTL:      opts.CacheTTL,
		batchTTL:      opts.BatchCacheTTL,
		callDelay:     opts.CallDelay,
		lookupTimeout: opts.LookupTimeout,
		cooldown:      opts.Cooldown,
		query:         opts.Query,
		now:           time.Now,
		sleep:         sleepCtx,
		perKey:        make(map[string]cachedResults),
		batches:       make(map[string]cachedBatch),
	}
}

// GetReadings returns readings for one participant on a topic, from cache
// when possible. Fails fast with *domain.ThrottledError while the shared
// cooldown is active.
func (a *Aggregator) GetReadings(ctx context.Context, topic string, p domain.Participant) ([]domain.ReadingResult, error) {
	key := resultKey(p, topic)
	if results, ok := a.cachedFor(key); ok {
		return results, nil
	}

	if err := a.limiter.Check(); err != nil {
		return nil, err
	}

	results, err := a.doLookup(ctx, topic, p)
	if err != nil {
		return nil, err
	}

	a.store(key, results)
	return results, nil
}

// GetReadingsForAll fetches readings for every participant. Results are
// always partial-tolerant: a failure for one participant lands in the
// errors map and never aborts the rest. When throttling hits mid-batch the
// remaining participants are recorded as ErrSkippedDueToThrottle and what
// was gathered so far is returned. The only top-level error is the
// fast-fail *domain.ThrottledError when the cooldown is already active on
// entry and nothing is cached for the batch.
func (a *Aggregator) GetReadingsForAll(ctx context.Context, topic string, participants []domain.Participant) (map[string][]domain.ReadingResult, map[string]error, error) {
	bk := batchKey(topic, participants)
	if results, ok := a.cachedBatchFor(bk); ok {
		return results, map[string]error{}, nil
	}

	if err := a.limiter.Check(); err != nil {
		return nil, nil, err
	}

	results := make(map[string][]domain.ReadingResult)
	errs := make(map[string]error)
	throttled := false
	called := false

	for _, p := range participants {
		key := p.IdentityKey()

		if throttled {
			errs[key] = domain.ErrSkippedDueToThrottle
			continue
		}

		if cached, ok := a.cachedFor(resultKey(p, topic)); ok {
			results[key] = cached
			continue
		}

		// The cooldown can be tripped by a concurrent batch between our
		// calls; re-check right before each one.
		if err := a.limiter.Check(); err != nil {
			throttled = true
			errs[key] = domain.ErrSkippedDueToThrottle
			continue
		}

		if called {
			if err := a.sleep(ctx, a.callDelay); err != nil {
				errs[key] = fmt.Errorf("batch interrupted: %w", err)
				continue
			}
		}

		res, err := a.doLookup(ctx, topic, p)
		called = true
		if err != nil {
			if domain.IsThrottled(err) {
				throttled = true
				errs[key] = domain.ErrSkippedDueToThrottle
				continue
			}
			log.Warn().Err(err).Str("participant", p.Name).Msg("reading lookup failed")
			errs[key] = err
			continue
		}

		a.store(resultKey(p, topic), res)
		results[key] = res
	}

	if len(errs) == 0 {
		a.storeBatch(bk, results)
	}

	return results, errs, nil
}

// doLookup runs one bounded, instrumented external call. A throttling
// response trips the shared cooldown before the error is returned.
func (a *Aggregator) doLookup(ctx context.Context, topic string, p domain.Participant) ([]domain.ReadingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.lookupTimeout)
	defer cancel()

	start := a.now()
	results, err := a.lookup.Lookup(ctx, a.query(topic, p))
	elapsed := a.now().Sub(start)

	sample := metrics.Sample{
		Path:        lookupMetricPath,
		DurationMs:  elapsed.Milliseconds(),
		TimestampMs: start.UnixMilli(),
		StatusCode:  200,
	}

	if err != nil {
		sample.IsError = true
		var te *domain.ThrottledError
		switch {
		case errors.As(err, &te):
			sample.StatusCode = 429
			cooldown := te.RetryAfter
			if cooldown <= 0 {
				cooldown = a.cooldown
			}
			a.limiter.Trip(cooldown)
		case errors.Is(err, context.DeadlineExceeded):
			sample.StatusCode = 0
			err = fmt.Errorf("lookup timed out: %w", domain.ErrUpstreamUnavailable)
		default:
			sample.StatusCode = 0
		}
	}

	if a.metrics != nil {
		a.metrics.Record(sample)
	}

	return results, err
}

func (a *Aggregator) cachedFor(key string) ([]domain.ReadingResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.perKey[key]
	if !ok || a.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.results, true
}

func (a *Aggregator) store(key string, results []domain.ReadingResult) {
	a.mu.Lock()
	a.perKey[key] = cachedResults{results: results, expiresAt: a.now().Add(a.cacheTTL)}
	a.mu.Unlock()
}

func (a *Aggregator) cachedBatchFor(key string) (map[string][]domain.ReadingResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.batches[key]
	if !ok || a.now().After(entry.expiresAt) {
		return nil, false
	}
	out := make(map[string][]domain.ReadingResult, len(entry.results))
	for k, v := range entry.results {
		out[k] = v
	}
	return out, true
}

func (a *Aggregator) storeBatch(key string, results map[string][]domain.ReadingResult) {
	stored := make(map[string][]domain.ReadingResult, len(results))
	for k, v := range results {
		stored[k] = v
	}
	a.mu.Lock()
	a.batches[key] = cachedBatch{results: stored, expiresAt: a.now().Add(a.batchTTL)}
	a.mu.Unlock()
}

func resultKey(p domain.Participant, topic string) string {
	return p.IdentityKey() + "|" + topic
}

func batchKey(topic string, participants []domain.Participant) string {
	keys := make([]string, len(participants))
	for i, p := range participants {
		keys[i] = p.IdentityKey()
	}
	sort.Strings(keys)
	return topic + "||" + strings.Join(keys, ";")
}

func defaultQuery(topic string, p domain.Participant) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "recommended readings for a debater arguing the %s side of %q", p.Stance, topic)
	if len(p.ExpertiseTags) > 0 {
		fmt.Fprintf(&sb, " with expertise in %s", strings.Join(p.ExpertiseTags, ", "))
	}
	return sb.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
