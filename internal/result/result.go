// Package result assembles the final JSON-emittable record for a
// completed test run (spec.md §4.6 step 7: "emit the per-phase time
// series to the result layer"). Grounded in the teacher's
// cfspeedtest/speedtest.Result JSON shape, extended with the per-phase
// latency/throughput series and warmup diagnostics this spec's richer
// phase model produces.
package result

import (
	"encoding/json"
	"time"

	"github.com/LibreQoE/bufferbloat-core/internal/model"
	"github.com/LibreQoE/bufferbloat-core/internal/warmup"
)

// PhaseSeries is the sampled time series for one sealed phase.
type PhaseSeries struct {
	Phase           string                    `json:"phase"`
	StartedAt       time.Time                 `json:"startedAt"`
	EndedAt         time.Time                 `json:"endedAt"`
	DurationSeconds float64                   `json:"durationSeconds"`
	Latency         []model.LatencySample     `json:"latency,omitempty"`
	Download        []model.ThroughputSample  `json:"download,omitempty"`
	Upload          []model.ThroughputSample  `json:"upload,omitempty"`
}

// TrialOutcome is the JSON-safe projection of a model.TrialResult — its
// Err field (an error interface) does not marshal meaningfully on its
// own, so it is flattened to a string here.
type TrialOutcome struct {
	Candidate      model.ConfigCandidate `json:"candidate"`
	ThroughputMbps float64               `json:"throughputMbps"`
	LatencyMs      float64               `json:"latencyMs"`
	Score          float64               `json:"score"`
	Acceptable     bool                  `json:"acceptable"`
	Error          string                `json:"error,omitempty"`
}

// WarmupSummary mirrors warmup.Result minus the still-running stream ids,
// which have no meaning once serialized.
type WarmupSummary struct {
	OptimalConfig      model.ConfigCandidate `json:"optimalConfig"`
	OptimalChunkSize   int                   `json:"optimalChunkSize,omitempty"`
	EstimatedSpeedMbps float64               `json:"estimatedSpeedMbps"`
	SpeedTier          string                `json:"speedTier"`
	TrialResults       []TrialOutcome        `json:"trialResults,omitempty"`
	TotalDurationSec   float64               `json:"totalDurationSec"`
	Fallback           bool                  `json:"fallback"`
	Aborted            bool                  `json:"aborted"`
}

// Record is the complete test result.
type Record struct {
	StartedAt      time.Time     `json:"startedAt"`
	EndedAt        time.Time     `json:"endedAt"`
	BaselineRTTMs  float64       `json:"baselineRttMs"`
	DownloadWarmup WarmupSummary `json:"downloadWarmup"`
	UploadWarmup   WarmupSummary `json:"uploadWarmup"`
	Phases         []PhaseSeries `json:"phases"`
}

// FromWarmupResult converts an engine's Result into its JSON-safe summary.
func FromWarmupResult(r warmup.Result) WarmupSummary {
	trials := make([]TrialOutcome, len(r.TrialResults))
	for i, t := range r.TrialResults {
		o := TrialOutcome{
			Candidate: t.Candidate, ThroughputMbps: t.ThroughputMbps, LatencyMs: t.LatencyMs,
			Score: t.Score, Acceptable: t.Acceptable,
		}
		if t.Err != nil {
			o.Error = t.Err.Error()
		}
		trials[i] = o
	}
	return WarmupSummary{
		OptimalConfig:      r.OptimalConfig,
		OptimalChunkSize:   r.OptimalChunkSize,
		EstimatedSpeedMbps: r.EstimatedSpeedMbps,
		SpeedTier:          r.Tier.String(),
		TrialResults:       trials,
		TotalDurationSec:   r.TotalDuration.Seconds(),
		Fallback:           r.Fallback,
		Aborted:            r.Aborted,
	}
}

// MarshalJSONIndent renders the record with two-space indentation, matching the
// teacher's pretty-printed stdout result.
func (r Record) MarshalJSONIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
