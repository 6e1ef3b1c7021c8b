package probe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFeedSamplesSinceOrdersOldestFirst(t *testing.T) {
	f := NewFeed()
	t0 := time.Now()
	f.Observe(Sample{Timestamp: t0, RTTMillis: 10})
	f.Observe(Sample{Timestamp: t0.Add(time.Millisecond), RTTMillis: 20})
	f.Observe(Sample{Timestamp: t0.Add(2 * time.Millisecond), RTTMillis: 30})

	out := f.SamplesSince(t0)
	if assert.Len(t, out, 3) {
		assert.Equal(t, 10.0, out[0].RTTMillis)
		assert.Equal(t, 20.0, out[1].RTTMillis)
		assert.Equal(t, 30.0, out[2].RTTMillis)
	}
}

func TestFeedSamplesSinceExcludesEarlierSamples(t *testing.T) {
	f := NewFeed()
	t0 := time.Now()
	f.Observe(Sample{Timestamp: t0, RTTMillis: 1})
	cutoff := t0.Add(time.Millisecond)
	f.Observe(Sample{Timestamp: cutoff, RTTMillis: 2})

	out := f.SamplesSince(cutoff)
	assert.Len(t, out, 1)
	assert.Equal(t, 2.0, out[0].RTTMillis)
}

func TestFeedRecentMeanMillisIgnoresTimeouts(t *testing.T) {
	f := NewFeed()
	now := time.Now()
	f.Observe(Sample{Timestamp: now, RTTMillis: 10})
	f.Observe(Sample{Timestamp: now, Timeout: true})
	f.Observe(Sample{Timestamp: now, RTTMillis: 30})

	assert.InDelta(t, 20.0, f.RecentMeanMillis(time.Minute), 1e-9)
}

func TestFeedRecentMeanMillisZeroWithNoSamples(t *testing.T) {
	f := NewFeed()
	assert.Equal(t, 0.0, f.RecentMeanMillis(time.Minute))
}

func TestFeedRecentMeanMillisExcludesOutsideWindow(t *testing.T) {
	f := NewFeed()
	f.Observe(Sample{Timestamp: time.Now().Add(-time.Hour), RTTMillis: 999})
	f.Observe(Sample{Timestamp: time.Now(), RTTMillis: 10})
	assert.InDelta(t, 10.0, f.RecentMeanMillis(time.Minute), 1e-9)
}

func TestFeedWrapsAfterCapacity(t *testing.T) {
	f := NewFeed()
	base := time.Now()
	for i := 0; i < feedCapacity+10; i++ {
		f.Observe(Sample{Timestamp: base.Add(time.Duration(i) * time.Millisecond), RTTMillis: float64(i)})
	}
	out := f.SamplesSince(base)
	assert.Len(t, out, feedCapacity)
	// Oldest surviving sample should be the 11th observed (index 10), the
	// first 10 having been overwritten once the ring wrapped.
	assert.Equal(t, 10.0, out[0].RTTMillis)
}
