// Package warmup implements the Adaptive Warmup Engine (C5 in
// SPEC_FULL.md): per-direction bandwidth estimation, tier classification,
// chunk-size probing, and scored parameter search. This is the largest
// component of the core (~35% of the source budget). It is grounded in
// the teacher's MeasureThroughput sampling loop for the mechanics of
// running bounded trials and reading back aggregate Mbps, generalized
// into the two-stage search spec.md §4.4 describes (the teacher itself
// has no adaptive search — it always runs a fixed stream count).
package warmup

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LibreQoE/bufferbloat-core/internal/model"
	"github.com/LibreQoE/bufferbloat-core/internal/payload"
	"github.com/LibreQoE/bufferbloat-core/internal/phase"
	"github.com/LibreQoE/bufferbloat-core/internal/streammgr"
	"github.com/LibreQoE/bufferbloat-core/internal/throughput"
)

// LatencyFeed exposes recent loaded-latency samples to the warmup engine,
// satisfied by probe.Feed, the buffer the orchestrator's probe.Prober
// observer fills.
type LatencyFeed interface {
	RecentMeanMillis(window time.Duration) float64
}

// ScoringConfig mirrors config.ScoringConfig without importing the config
// package, keeping warmup's dependency surface limited to what it needs.
type ScoringConfig struct {
	ThroughputWeight  float64
	LatencyWeight     float64
	LatencyMultiplier float64
}

// Config bundles the tunables from spec.md §6's adaptiveWarmup.* table.
type Config struct {
	ConfigTrialDuration time.Duration
	// SpeedEstimationTimeout bounds Stage 1/Stage 2 for the download
	// direction (spec.md §4.4 Deadline awareness); upload derives its own
	// deadline from the phase's remaining budget regardless of this value.
	// Zero falls back to downloadDeadline.
	SpeedEstimationTimeout time.Duration
	// MaxTrials further bounds trialCap(tier)'s per-tier Stage-2 ceiling;
	// zero (or a value >= the tier's own cap) leaves the tier cap as-is.
	MaxTrials int
	// EarlyTerminationThreshold is the normalized-throughput cutoff for
	// Stage 2's near-saturation early exit. Zero falls back to 0.95.
	EarlyTerminationThreshold float64
	Scoring                   ScoringConfig
}

// DefaultConfig matches config.Default().AdaptiveWarmup.
func DefaultConfig() Config {
	return Config{
		ConfigTrialDuration:       600 * time.Millisecond,
		SpeedEstimationTimeout:    downloadDeadline,
		MaxTrials:                 8,
		EarlyTerminationThreshold: 0.95,
		Scoring:                   ScoringConfig{ThroughputWeight: 0.7, LatencyWeight: 0.3, LatencyMultiplier: 2.0},
	}
}

// Result is the Adaptive Warmup Engine's output (spec.md §4.4).
type Result struct {
	OptimalConfig      model.ConfigCandidate
	OptimalChunkSize   int
	EstimatedSpeedMbps float64
	Tier               model.SpeedTier
	TrialResults       []model.TrialResult
	TotalDuration      time.Duration
	Fallback           bool
	Aborted            bool
	ActiveStreamIDs    []uint64 // stabilization streams still running; caller owns teardown
}

// Engine runs the two-stage warmup for one direction.
type Engine struct {
	log     *zap.Logger
	mgr     *streammgr.Manager
	tracker *throughput.Tracker
	payload *payload.Source
	latency LatencyFeed
	cfg     Config

	direction model.Direction
	url       string

	saturationPhase string
	forceTerm       atomic.Bool
	lastChunkSize   int
}

// New builds an Engine for one direction. saturationPhase is the phase
// name whose start should set forceTermination (e.g. "upload-saturation"
// for the upload engine), per spec.md §4.5.
func New(log *zap.Logger, mgr *streammgr.Manager, tracker *throughput.Tracker, ps *payload.Source, feed LatencyFeed, cfg Config, dir model.Direction, url string, saturationPhase string) *Engine {
	return &Engine{
		log: log, mgr: mgr, tracker: tracker, payload: ps, latency: feed,
		cfg: cfg, direction: dir, url: url, saturationPhase: saturationPhase,
	}
}

// OnPhaseEvent is registered with phase.Controller.Subscribe. It sets
// forceTermination the instant this engine's saturation phase starts,
// short-circuiting any in-progress warmup loop (spec.md §4.4
// Force-termination).
func (e *Engine) OnPhaseEvent(ev phase.Event) {
	if ev.Type == phase.EventStart && ev.Phase == e.saturationPhase {
		e.forceTerm.Store(true)
	}
}

// ResetForceTermination re-arms the engine for its next invocation.
func (e *Engine) ResetForceTermination() { e.forceTerm.Store(false) }

// StartOptimalConfig (re-)starts cand as a set of streams in this
// engine's direction, using the engine's last-chosen chunk size for
// uploads. Used by the orchestrator to restart a direction's optimal
// configuration after a phase barrier has torn down the running streams:
// once at the start of that direction's saturation phase, and again for
// the bidirectional phase.
func (e *Engine) StartOptimalConfig(ctx context.Context, cand model.ConfigCandidate, kind model.StreamKind) ([]uint64, error) {
	chunkSize := e.lastChunkSize
	if chunkSize <= 0 {
		chunkSize = chunkCandidates(model.TierMedium)[0]
	}
	// chunks are not released here: the caller (orchestrator) owns these
	// streams' teardown and they keep reading from their buffers until
	// then (see startStreams).
	ids, _, err := e.startStreams(ctx, cand, chunkSize, kind)
	return ids, err
}

const (
	downloadDeadline  = 5250 * time.Millisecond
	uploadDeadlineCap = 10 * time.Second
	minStageDuration  = 1500 * time.Millisecond
	barrierSettle     = 300 * time.Millisecond
	stabilizeWait     = 250 * time.Millisecond
)

// Run executes Stage 1 (+1.5 for upload) and Stage 2, then starts the
// optimal configuration continuously and returns without tearing it
// down — the caller (test orchestrator) lets it run through the
// subsequent saturation phase. remainingPhaseBudget is consulted only
// for Direction == Upload (spec.md §4.4 Deadline awareness); pass nil
// for Download, where the deadline is cfg.SpeedEstimationTimeout (5.25s
// when unset).
func (e *Engine) Run(ctx context.Context, baselineLatencyMs float64, remainingPhaseBudget func() time.Duration) Result {
	start := time.Now()
	deadline := e.computeDeadline(start, remainingPhaseBudget)

	estimatedMbps, fellBack := e.stage1(ctx, deadline)
	tier := classifyTier(e.direction, estimatedMbps)

	if elapsed := time.Since(start); elapsed < minStageDuration {
		sleepCtx(ctx, minStageDuration-elapsed)
	}

	chunkSize := chunkCandidates(tier)[len(chunkCandidates(tier))-1] // default: largest
	if e.direction == model.Upload {
		if time.Until(deadline) >= 2*time.Second {
			chunkSize = e.stage15(ctx, tier, baselineLatencyMs)
		}
	}

	e.lastChunkSize = chunkSize

	e.mgr.TerminateAllStreams(ctx) // direction-scoped in spirit: this warmup owns no cross-direction streams at this point
	sleepCtx(ctx, barrierSettle)

	result := Result{
		EstimatedSpeedMbps: estimatedMbps,
		Tier:               tier,
		OptimalChunkSize:   chunkSize,
		Fallback:           fellBack,
	}

	if e.forceTerm.Load() {
		result.Aborted = true
		result.OptimalConfig = tierDefault(e.direction, tier, estimatedMbps)
		result.TotalDuration = time.Since(start)
		return result
	}

	if time.Until(deadline) < 1*time.Second {
		result.OptimalConfig = tierDefault(e.direction, tier, estimatedMbps)
		result.Fallback = true
	} else {
		cand, trials, aborted := e.stage2(ctx, tier, estimatedMbps, baselineLatencyMs, chunkSize, deadline)
		result.TrialResults = trials
		if aborted {
			result.Aborted = true
		}
		if cand == nil {
			result.OptimalConfig = tierDefault(e.direction, tier, estimatedMbps)
			result.Fallback = true
		} else {
			result.OptimalConfig = *cand
		}
	}

	// chunks are not released here: these stabilization streams keep running
	// past this function's return, torn down only by the next phase barrier.
	ids, _, err := e.startStreams(ctx, result.OptimalConfig, chunkSize, model.KindStabilization)
	if err != nil && e.log != nil {
		e.log.Warn("warmup stabilization start failed", zap.Error(err))
	}
	result.ActiveStreamIDs = ids
	result.TotalDuration = time.Since(start)
	return result
}

func (e *Engine) computeDeadline(start time.Time, remainingPhaseBudget func() time.Duration) time.Time {
	if e.direction == model.Download || remainingPhaseBudget == nil {
		deadline := e.cfg.SpeedEstimationTimeout
		if deadline <= 0 {
			deadline = downloadDeadline
		}
		return start.Add(deadline)
	}
	remaining := remainingPhaseBudget()
	budget := time.Duration(float64(remaining) * 0.8)
	if budget > uploadDeadlineCap {
		budget = uploadDeadlineCap
	}
	if budget < 0 {
		budget = 0
	}
	return start.Add(budget)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
