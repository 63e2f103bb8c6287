package metrics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearestRankPercentile(t *testing.T) {
	// ceil(0.9*5)-1 = 4 -> 50
	sorted := []int64{10, 20, 30, 40, 50}
	assert.Equal(t, int64(50), nearestRank(sorted, 90))
	assert.Equal(t, int64(30), nearestRank(sorted, 50))
	assert.Equal(t, int64(50), nearestRank(sorted, 99))
	assert.Equal(t, int64(10), nearestRank(sorted, 1))

	assert.Equal(t, int64(0), nearestRank(nil, 50))
	assert.Equal(t, int64(7), nearestRank([]int64{7}, 99))
}

func TestAggregate(t *testing.T) {
	s := NewStore(100)

	for _, d := range []int64{10, 20, 30, 40, 50} {
		s.Record(Sample{Path: "readings.lookup", DurationMs: d, StatusCode: 200})
	}
	s.Record(Sample{Path: "readings.lookup", DurationMs: 100, StatusCode: 429, IsError: true})
	s.Record(Sample{Path: "other", DurationMs: 5, StatusCode: 200})

	agg := s.Aggregate()
	require.Contains(t, agg, "readings.lookup")
	require.Contains(t, agg, "other")

	lookup := agg["readings.lookup"]
	assert.Equal(t, 6, lookup.Count)
	assert.Equal(t, 1, lookup.ErrorCount)
	assert.InDelta(t, 41.666, lookup.AvgMs, 0.01)
	// sorted: 10 20 30 40 50 100; p90: ceil(0.9*6)-1 = 5 -> 100
	assert.Equal(t, int64(100), lookup.P90Ms)
	// p50: ceil(0.5*6)-1 = 2 -> 30
	assert.Equal(t, int64(30), lookup.P50Ms)

	assert.Equal(t, 1, agg["other"].Count)
	assert.Equal(t, 0, agg["other"].ErrorCount)
}

func TestRingEviction(t *testing.T) {
	s := NewStore(3)

	for i := 0; i < 5; i++ {
		s.Record(Sample{Path: fmt.Sprintf("p%d", i), DurationMs: int64(i)})
	}

	assert.Equal(t, 3, s.Len())

	agg := s.Aggregate()
	assert.NotContains(t, agg, "p0")
	assert.NotContains(t, agg, "p1")
	assert.Contains(t, agg, "p2")
	assert.Contains(t, agg, "p3")
	assert.Contains(t, agg, "p4")
}
