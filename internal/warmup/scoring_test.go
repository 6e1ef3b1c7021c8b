package warmup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreAcceptableWhenLatencyWithinThreshold(t *testing.T) {
	norm, s, acceptable, threshold := score(90, 20, 100, 15, 0.7, 0.3, 2.0)
	assert.InDelta(t, 0.9, norm, 1e-9)
	assert.InDelta(t, 30.0, threshold, 1e-9)
	assert.True(t, acceptable)
	assert.Greater(t, s, 0.0)
}

func TestScoreRejectedWhenLatencyExceedsThreshold(t *testing.T) {
	_, _, acceptable, threshold := score(100, 100, 100, 15, 0.7, 0.3, 2.0)
	assert.InDelta(t, 30.0, threshold, 1e-9)
	assert.False(t, acceptable)
}

// An accepted trial's score must always reflect latency <= baseline *
// multiplier (spec.md invariant: score>0 AND acceptable => latency <=
// baseline*multiplier).
func TestAcceptableImpliesLatencyWithinMultiplier(t *testing.T) {
	cases := []struct {
		throughput, latency, estimated, baseline, multiplier float64
	}{
		{50, 10, 100, 10, 2.0},
		{100, 19.9, 100, 10, 2.0},
		{10, 0, 50, 25, 1.5},
	}
	for _, tc := range cases {
		_, _, acceptable, threshold := score(tc.throughput, tc.latency, tc.estimated, tc.baseline, 0.7, 0.3, tc.multiplier)
		if acceptable {
			assert.LessOrEqual(t, tc.latency, threshold)
		}
	}
}

func TestScoreNormThroughputClampedToOne(t *testing.T) {
	norm, _, _, _ := score(500, 5, 100, 50, 0.7, 0.3, 2.0)
	assert.Equal(t, 1.0, norm)
}

func TestScoreZeroEstimatedTreatedAsOne(t *testing.T) {
	// estimatedMbps <= 0 is substituted with 1 so normThroughput doesn't
	// divide by zero.
	norm, _, _, _ := score(2, 5, 0, 50, 0.7, 0.3, 2.0)
	assert.Equal(t, 1.0, norm) // 2/1 clamped to 1
}

func TestScoreLatencyScoreFloorsAtZero(t *testing.T) {
	// latencyMs far beyond threshold should floor latencyScore at 0, so
	// the overall score never goes negative from that term.
	_, s, acceptable, _ := score(0, 1000, 100, 10, 0.0, 1.0, 2.0)
	assert.False(t, acceptable)
	assert.Equal(t, 0.0, s)
}
