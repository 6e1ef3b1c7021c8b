// Package orchestrator implements the Test Orchestrator (C7 in
// SPEC_FULL.md): wires the phase controller, stream manager, throughput
// tracker, latency probe and adaptive warmup engines together and drives
// the seven-phase sequence of spec.md §4.6. Grounded in the teacher's
// uwnspeedtest/main.go and cfspeedtest/main.go `run()` functions, which
// sequence baseline -> download -> upload -> summary in strict order;
// generalized here into an explicit phase-controller-driven sequence with
// adaptive warmup and a barrier between every phase instead of the
// teacher's back-to-back inline measurement calls.
package orchestrator

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/LibreQoE/bufferbloat-core/internal/bblog"
	"github.com/LibreQoE/bufferbloat-core/internal/config"
	"github.com/LibreQoE/bufferbloat-core/internal/metrics"
	"github.com/LibreQoE/bufferbloat-core/internal/model"
	"github.com/LibreQoE/bufferbloat-core/internal/payload"
	"github.com/LibreQoE/bufferbloat-core/internal/phase"
	"github.com/LibreQoE/bufferbloat-core/internal/probe"
	"github.com/LibreQoE/bufferbloat-core/internal/result"
	"github.com/LibreQoE/bufferbloat-core/internal/streammgr"
	"github.com/LibreQoE/bufferbloat-core/internal/throughput"
	"github.com/LibreQoE/bufferbloat-core/internal/transport"
	"github.com/LibreQoE/bufferbloat-core/internal/warmup"
)

const (
	phaseBaseline           = "baseline"
	phaseDownloadWarmup     = "download-warmup"
	phaseDownloadSaturation = "download-saturation"
	phaseUploadWarmup       = "upload-warmup"
	phaseUploadSaturation   = "upload-saturation"
	phaseBidirectional      = "bidirectional"
)

// Orchestrator drives the full phase sequence for one test run. A fresh
// Orchestrator is built per run; none of its dependencies are reused
// across runs except the logger and metrics registry.
type Orchestrator struct {
	tc  *bblog.TestContext
	cfg config.Config
	reg *metrics.Registry

	mgr      *streammgr.Manager
	tracker  *throughput.Tracker
	phaseCtl *phase.Controller
	prober   *probe.Prober
	feed     *probe.Feed

	downloadEngine *warmup.Engine
	uploadEngine   *warmup.Engine

	downloadURL string
	uploadURL   string
}

// New builds an Orchestrator. transferBaseURL and pingBaseURL are a
// pre-resolved endpoint pair — this package never performs discovery
// itself (see internal/discovery).
func New(tc *bblog.TestContext, cfg config.Config, reg *metrics.Registry, transferBaseURL, pingBaseURL string) (*Orchestrator, error) {
	ps := payload.NewSource()

	onReset := func() {
		if tc.Logger != nil {
			tc.Logger.Warn("stream registry emergency reset observed by orchestrator")
		}
	}
	mgr, err := streammgr.New(tc.Logger, ps, cfg.Endpoints.Interface, 32, onReset)
	if err != nil {
		return nil, err
	}

	tracker := throughput.New(mgr, reg.Registerer(), reg.ActiveStreams)
	phaseCtl := phase.New(tc.Logger, mgr)

	feed := probe.NewFeed()
	pingTransport, err := pingProbeTransport(cfg.Endpoints.Interface)
	if err != nil {
		return nil, err
	}
	observe := func(s probe.Sample) {
		feed.Observe(s)
		if !s.Timeout {
			reg.LatencyRTT.Observe(s.RTTMillis)
		}
	}
	prober := probe.New(pingTransport, tc.Logger, observe)
	prober.SetServer(pingBaseURL)

	o := &Orchestrator{
		tc: tc, cfg: cfg, reg: reg,
		mgr: mgr, tracker: tracker, phaseCtl: phaseCtl, prober: prober, feed: feed,
		downloadURL: transferBaseURL + "/download",
		uploadURL:   transferBaseURL + "/upload",
	}

	warmupCfg := warmup.Config{
		ConfigTrialDuration:       cfg.AdaptiveWarmup.ConfigTrialDuration,
		SpeedEstimationTimeout:    cfg.AdaptiveWarmup.SpeedEstimationTimeout,
		MaxTrials:                 cfg.AdaptiveWarmup.MaxTrials,
		EarlyTerminationThreshold: cfg.AdaptiveWarmup.EarlyTerminationThreshold,
		Scoring: warmup.ScoringConfig{
			ThroughputWeight:  cfg.AdaptiveWarmup.Scoring.ThroughputWeight,
			LatencyWeight:     cfg.AdaptiveWarmup.Scoring.LatencyWeight,
			LatencyMultiplier: cfg.AdaptiveWarmup.Scoring.LatencyMultiplier,
		},
	}
	o.downloadEngine = warmup.New(tc.Logger, mgr, tracker, ps, feed, warmupCfg, model.Download, o.downloadURL, phaseDownloadSaturation)
	o.uploadEngine = warmup.New(tc.Logger, mgr, tracker, ps, feed, warmupCfg, model.Upload, o.uploadURL, phaseUploadSaturation)
	phaseCtl.Subscribe(o.downloadEngine.OnPhaseEvent)
	phaseCtl.Subscribe(o.uploadEngine.OnPhaseEvent)
	phaseCtl.Subscribe(o.trackPhaseMetric)

	return o, nil
}

func (o *Orchestrator) trackPhaseMetric(ev phase.Event) {
	if o.reg == nil {
		return
	}
	evType := "start"
	if ev.Type == phase.EventEnd {
		evType = "end"
	}
	o.reg.PhaseTransitions.WithLabelValues(ev.Phase, evType).Inc()
}

// pingProbeTransport builds a dedicated single-connection transport for
// the latency probe, isolated from throughput transports per spec.md §5's
// worker-task-isolation requirement.
func pingProbeTransport(ifaceName string) (*http.Client, error) {
	t, err := transport.NewWorkerTransport(transport.Options{Interface: ifaceName})
	if err != nil {
		return nil, err
	}
	return &http.Client{Timeout: 2 * time.Second, Transport: t}, nil
}

// Run executes the full seven-phase sequence and returns the assembled
// result record. ctx cancellation aborts the run early; phases already
// completed remain in the returned record.
func (o *Orchestrator) Run(ctx context.Context) result.Record {
	start := time.Now()
	o.phaseCtl.Initialize(start)

	rec := result.Record{StartedAt: start}

	o.prober.Start(ctx)
	defer o.prober.Stop()
	o.tracker.Start(ctx)
	defer o.tracker.Stop()

	o.runBaseline(ctx, &rec)
	baselineMs := o.feed.RecentMeanMillis(2 * time.Second)
	rec.BaselineRTTMs = baselineMs

	dlResult := o.runDirectionalPhase(ctx, model.Download, phaseDownloadWarmup, phaseDownloadSaturation,
		o.downloadEngine, o.cfg.Test.Phases.DownloadWarmup, o.cfg.Test.Phases.DownloadSaturation, baselineMs, &rec)
	rec.DownloadWarmup = result.FromWarmupResult(dlResult)

	ulResult := o.runDirectionalPhase(ctx, model.Upload, phaseUploadWarmup, phaseUploadSaturation,
		o.uploadEngine, o.cfg.Test.Phases.UploadWarmup, o.cfg.Test.Phases.UploadSaturation, baselineMs, &rec)
	rec.UploadWarmup = result.FromWarmupResult(ulResult)

	o.runBidirectional(ctx, dlResult, ulResult, &rec)

	o.phaseCtl.EndPhase(ctx)
	rec.EndedAt = time.Now()
	return rec
}

func (o *Orchestrator) runBaseline(ctx context.Context, rec *result.Record) {
	o.tc.SetCurrentPhase(phaseBaseline)
	o.phaseCtl.StartPhase(ctx, phaseBaseline)
	phaseStart := time.Now()
	sleepUntil(ctx, o.cfg.Test.Phases.Baseline)
	o.phaseCtl.EndPhase(ctx)
	rec.Phases = append(rec.Phases, o.latencySeries(phaseBaseline, phaseStart, time.Now()))
}

// runDirectionalPhase runs {warmup, stabilize, saturation, sample} for one
// direction, per spec.md §4.6 steps 2-3 / 4-5.
func (o *Orchestrator) runDirectionalPhase(ctx context.Context, dir model.Direction, warmupPhase, saturationPhase string, engine *warmup.Engine, warmupDuration, saturationDuration time.Duration, baselineMs float64, rec *result.Record) warmup.Result {
	o.tc.SetCurrentPhase(warmupPhase)
	engine.ResetForceTermination()
	o.phaseCtl.StartPhase(ctx, warmupPhase)
	phaseStart := time.Now()

	var remainingBudget func() time.Duration
	if dir == model.Upload {
		remainingBudget = func() time.Duration {
			return warmupDuration - o.phaseCtl.GetPhaseElapsedTime()
		}
	}

	wr := engine.Run(ctx, baselineMs, remainingBudget)
	o.tc.SetLastThroughput(toTCDirection(dir), wr.EstimatedSpeedMbps)
	if dir == model.Upload {
		o.tc.SetOptimalUploadChunk(wr.OptimalChunkSize)
	}

	if elapsed := time.Since(phaseStart); elapsed < warmupDuration {
		sleepUntil(ctx, warmupDuration-elapsed)
	}
	rec.Phases = append(rec.Phases, o.combinedSeries(warmupPhase, phaseStart, time.Now()))

	o.tc.SetCurrentPhase(saturationPhase)
	o.phaseCtl.StartPhase(ctx, saturationPhase)
	satStart := time.Now()

	// The barrier StartPhase just ran tore down Stage 2's stabilization
	// streams; restart the winning config so the saturation phase actually
	// induces load (spec.md §4.6 steps 3/5). The next phase's barrier tears
	// these down in turn, so no explicit teardown is needed here.
	if _, err := engine.StartOptimalConfig(ctx, wr.OptimalConfig, model.KindSaturation); err != nil && o.tc.Logger != nil {
		o.tc.Logger.Warn("saturation phase restart failed", zap.Error(err))
	}

	sleepUntil(ctx, saturationDuration)
	rec.Phases = append(rec.Phases, o.combinedSeries(saturationPhase, satStart, time.Now()))

	return wr
}

func (o *Orchestrator) runBidirectional(ctx context.Context, dl, ul warmup.Result, rec *result.Record) {
	o.tc.SetCurrentPhase(phaseBidirectional)
	o.phaseCtl.StartPhase(ctx, phaseBidirectional)
	start := time.Now()

	dlIDs, err := o.downloadEngine.StartOptimalConfig(ctx, dl.OptimalConfig, model.KindStabilization)
	if err != nil && o.tc.Logger != nil {
		o.tc.Logger.Warn("bidirectional download restart failed", zap.Error(err))
	}
	ulIDs, err := o.uploadEngine.StartOptimalConfig(ctx, ul.OptimalConfig, model.KindStabilization)
	if err != nil && o.tc.Logger != nil {
		o.tc.Logger.Warn("bidirectional upload restart failed", zap.Error(err))
	}

	sleepUntil(ctx, o.cfg.Test.Phases.Bidirectional)

	for _, id := range dlIDs {
		o.mgr.TerminateStream(model.Download, id)
	}
	for _, id := range ulIDs {
		o.mgr.TerminateStream(model.Upload, id)
	}

	rec.Phases = append(rec.Phases, o.combinedSeries(phaseBidirectional, start, time.Now()))
}

func (o *Orchestrator) latencySeries(phaseName string, start, end time.Time) result.PhaseSeries {
	return result.PhaseSeries{
		Phase: phaseName, StartedAt: start, EndedAt: end, DurationSeconds: end.Sub(start).Seconds(),
		Latency: o.feed.SamplesSince(start),
	}
}

func (o *Orchestrator) combinedSeries(phaseName string, start, end time.Time) result.PhaseSeries {
	return result.PhaseSeries{
		Phase: phaseName, StartedAt: start, EndedAt: end, DurationSeconds: end.Sub(start).Seconds(),
		Latency:  o.feed.SamplesSince(start),
		Download: o.tracker.SamplesSince(model.Download, start),
		Upload:   o.tracker.SamplesSince(model.Upload, start),
	}
}

func sleepUntil(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func toTCDirection(dir model.Direction) bblog.Direction {
	if dir == model.Upload {
		return bblog.DirectionUpload
	}
	return bblog.DirectionDownload
}
