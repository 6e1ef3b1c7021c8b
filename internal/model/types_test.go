package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRecordBytesMonotonic(t *testing.T) {
	rec := NewStreamRecord(1, Download, KindSaturation)
	require.Equal(t, int64(0), rec.BytesTransferred())

	rec.AddBytes(100)
	rec.AddBytes(50)
	assert.Equal(t, int64(150), rec.BytesTransferred())

	before := rec.LastActivity()
	time.Sleep(time.Millisecond)
	rec.AddBytes(1)
	assert.True(t, rec.LastActivity().After(before) || rec.LastActivity().Equal(before))
}

func TestStreamRecordTerminated(t *testing.T) {
	rec := NewStreamRecord(1, Upload, KindWarmup)
	assert.False(t, rec.Terminated())
	rec.MarkTerminated()
	assert.True(t, rec.Terminated())
	// idempotent
	rec.MarkTerminated()
	assert.True(t, rec.Terminated())
}

func TestAbortTriggerFiresOnce(t *testing.T) {
	a := NewAbortTrigger()
	assert.False(t, a.Fired())

	select {
	case <-a.Done():
		t.Fatal("Done() closed before Fire()")
	default:
	}

	a.Fire()
	assert.True(t, a.Fired())
	select {
	case <-a.Done():
	default:
		t.Fatal("Done() not closed after Fire()")
	}

	assert.NotPanics(t, a.Fire)
}

func TestConfigCandidateConcurrency(t *testing.T) {
	cases := []struct {
		name string
		cand ConfigCandidate
		dir  Direction
		want int
	}{
		{"download ignores pending uploads", ConfigCandidate{StreamCount: 4, PendingUploads: 0}, Download, 4},
		{"upload multiplies by pending", ConfigCandidate{StreamCount: 3, PendingUploads: 4}, Upload, 12},
		{"upload floors pending at 1", ConfigCandidate{StreamCount: 2, PendingUploads: 0}, Upload, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.cand.Concurrency(tc.dir))
		})
	}
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "download", Download.String())
	assert.Equal(t, "upload", Upload.String())
}

func TestSpeedTierString(t *testing.T) {
	assert.Equal(t, "slow", TierSlow.String())
	assert.Equal(t, "ultragig", TierUltragig.String())
	assert.Equal(t, "unknown", SpeedTier(99).String())
}
