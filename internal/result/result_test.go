package result

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LibreQoE/bufferbloat-core/internal/model"
	"github.com/LibreQoE/bufferbloat-core/internal/warmup"
)

func TestFromWarmupResultFlattensTrialErrors(t *testing.T) {
	wr := warmup.Result{
		OptimalConfig:      model.ConfigCandidate{StreamCount: 4},
		OptimalChunkSize:   262144,
		EstimatedSpeedMbps: 250,
		Tier:               model.TierFast,
		TrialResults: []model.TrialResult{
			{Candidate: model.ConfigCandidate{StreamCount: 1}, ThroughputMbps: 10, Acceptable: true},
			{Candidate: model.ConfigCandidate{StreamCount: 2}, Err: errors.New("connection reset")},
		},
		TotalDuration: 2500 * time.Millisecond,
		Fallback:      false,
		Aborted:       false,
	}

	summary := FromWarmupResult(wr)
	require.Len(t, summary.TrialResults, 2)
	assert.Empty(t, summary.TrialResults[0].Error)
	assert.Equal(t, "connection reset", summary.TrialResults[1].Error)
	assert.Equal(t, "fast", summary.SpeedTier)
	assert.InDelta(t, 2.5, summary.TotalDurationSec, 1e-9)
}

func TestRecordMarshalsToReadableJSON(t *testing.T) {
	rec := Record{
		StartedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndedAt:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		BaselineRTTMs: 12.5,
		DownloadWarmup: WarmupSummary{
			OptimalConfig: model.ConfigCandidate{StreamCount: 4},
			SpeedTier:     "fast",
		},
	}

	data, err := rec.MarshalJSONIndent()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 12.5, decoded["baselineRttMs"])
	assert.Contains(t, string(data), "\n  ") // two-space indentation
}

func TestPhaseSeriesOmitsEmptySampleSlices(t *testing.T) {
	ps := PhaseSeries{Phase: "baseline", StartedAt: time.Now(), EndedAt: time.Now()}
	data, err := json.Marshal(ps)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"latency"`)
	assert.NotContains(t, string(data), `"download"`)
	assert.NotContains(t, string(data), `"upload"`)
}
