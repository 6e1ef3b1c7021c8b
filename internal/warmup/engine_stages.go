package warmup

import (
	"context"
	"time"

	"github.com/LibreQoE/bufferbloat-core/internal/bberrors"
	"github.com/LibreQoE/bufferbloat-core/internal/model"
	"github.com/LibreQoE/bufferbloat-core/internal/streammgr"
	"github.com/LibreQoE/bufferbloat-core/internal/throughput"
)

// stage1 runs Sub-probe A (fixed seed payload, ≤5s) and, budget permitting,
// Sub-probe B (sized from A's result, clamped to the tier envelope), per
// spec.md §4.4 Stage 1. Falls back to conservativeDefault if A itself
// fails to produce any bytes.
func (e *Engine) stage1(ctx context.Context, deadline time.Time) (estimatedMbps float64, fellBack bool) {
	const aMaxDur = 5 * time.Second
	aDur := aMaxDur
	if remaining := time.Until(deadline); remaining < aDur {
		aDur = remaining
	}
	if aDur <= 0 {
		return conservativeDefault(e.direction), true
	}

	seedBytes := seedPayloadSize(e.direction)
	bytesA, elapsedA, errA := e.runTimedTransfer(ctx, aDur, 64*1024, 2, seedBytes)
	if errA != nil || bytesA <= 0 || elapsedA <= 0 {
		return conservativeDefault(e.direction), true
	}
	roughMbps := mbps(bytesA, elapsedA)

	if time.Until(deadline) < 500*time.Millisecond {
		return roughMbps, false
	}

	targetBytes := pickPrecisionTarget(e.direction, roughMbps)
	bDur := time.Duration(float64(targetBytes) * 8 / (roughMbps * 1_000_000) * float64(time.Second))
	if remaining := time.Until(deadline); bDur > remaining {
		bDur = remaining
	}
	if bDur < 200*time.Millisecond {
		return roughMbps, false
	}

	bytesB, elapsedB, errB := e.runTimedTransfer(ctx, bDur, precisionChunkSize(targetBytes), 4, targetBytes)
	if errB != nil || bytesB <= 0 || elapsedB <= 0 {
		return roughMbps, true
	}
	return mbps(bytesB, elapsedB), false
}

// precisionChunkSize picks an upload chunk size proportional to the
// Sub-probe B target, ignored entirely on download (runTimedTransfer's
// download branch has no chunk-size concept).
func precisionChunkSize(targetBytes int64) int {
	switch {
	case targetBytes < 5*mib:
		return 64 * 1024
	case targetBytes < 50*mib:
		return 256 * 1024
	default:
		return 1024 * 1024
	}
}

// stage15 probes upload chunk sizes (spec.md §4.4 Stage 1.5). A candidate
// is accepted if its throughput strictly exceeds the best accepted so far
// AND its mean latency stays within baseline*2 (baseline*4 on gigabit); the
// chosen size is the accepted candidate with the highest throughput. If
// none qualify, the largest candidate tested is used. Each candidate is
// measured on a single upload stream with chunkProbeConfig's
// PendingUploads window; its StreamCount is not used. Download never
// calls this.
func (e *Engine) stage15(ctx context.Context, tier model.SpeedTier, baselineMs float64) int {
	candidates := chunkCandidates(tier)
	cfg := chunkProbeConfig(tier)
	multiplier := 2.0
	if tier == model.TierGigabit || tier == model.TierUltragig {
		multiplier = 4.0
	}
	threshold := multiplier * baselineMs

	largestTested := candidates[0]
	best := -1
	bestThroughput := -1.0

	for _, cs := range candidates {
		if e.forceTerm.Load() {
			break
		}
		n, elapsed, err := e.runTimedTransfer(ctx, 1*time.Second, cs, cfg.PendingUploads, 0)
		if err != nil || n <= 0 || elapsed <= 0 {
			continue
		}
		largestTested = cs
		th := mbps(n, elapsed)
		lat := 0.0
		if e.latency != nil {
			lat = e.latency.RecentMeanMillis(1 * time.Second)
		}
		if th > bestThroughput && (threshold <= 0 || lat <= threshold) {
			bestThroughput = th
			best = cs
		}
	}
	if best < 0 {
		return largestTested
	}
	return best
}

// stage2 runs the scored parameter search over candidateMatrix, applying
// the three early-termination rules of spec.md §4.4: near-saturation
// (normThroughput>=threshold on a newly-accepted best), three consecutive
// non-improving trials, and latency collapse (>2x baseline). Returns the
// best accepted candidate (nil if none), the trial log, and whether the
// search was cut short by forceTermination.
func (e *Engine) stage2(ctx context.Context, tier model.SpeedTier, estimatedMbps, baselineMs float64, chunkSize int, deadline time.Time) (*model.ConfigCandidate, []model.TrialResult, bool) {
	candidates := candidateMatrix(e.direction, tier)
	trialLimit := trialCap(tier)
	if e.cfg.MaxTrials > 0 && e.cfg.MaxTrials < trialLimit {
		trialLimit = e.cfg.MaxTrials
	}
	if len(candidates) > trialLimit {
		candidates = candidates[:trialLimit]
	}

	earlyThreshold := e.cfg.EarlyTerminationThreshold
	if earlyThreshold <= 0 {
		earlyThreshold = 0.95
	}

	var trials []model.TrialResult
	var best *model.ConfigCandidate
	bestScore := -1.0
	noImprove := 0

	for _, cand := range candidates {
		if e.forceTerm.Load() {
			return best, trials, true
		}
		if time.Until(deadline) < e.cfg.ConfigTrialDuration {
			break
		}

		ids, chunks, err := e.startStreams(ctx, cand, chunkSize, model.KindWarmup)
		if err != nil {
			trials = append(trials, model.TrialResult{Candidate: cand, Err: err})
			noImprove++
			continue
		}
		sleepCtx(ctx, stabilizeWait)
		trialStart := time.Now()
		before := e.snapshotBytes(ids)
		sleepCtx(ctx, e.cfg.ConfigTrialDuration)

		avgThroughput := averageMbps(e.tracker.SamplesSince(e.direction, trialStart))
		if avgThroughput <= 0 {
			after := e.snapshotBytes(ids)
			avgThroughput = throughput.FallbackAverage(before, after, e.cfg.ConfigTrialDuration.Seconds())
		}
		latencyMs := 0.0
		if e.latency != nil {
			latencyMs = e.latency.RecentMeanMillis(e.cfg.ConfigTrialDuration)
		}
		e.stopStreams(ids, chunks)

		normT, sc, acceptable, _ := score(avgThroughput, latencyMs, estimatedMbps, baselineMs,
			e.cfg.Scoring.ThroughputWeight, e.cfg.Scoring.LatencyWeight, e.cfg.Scoring.LatencyMultiplier)
		trials = append(trials, model.TrialResult{
			Candidate: cand, ThroughputMbps: avgThroughput, LatencyMs: latencyMs, Score: sc, Acceptable: acceptable,
		})

		improved := acceptable && sc > bestScore
		if improved {
			bestScore = sc
			c := cand
			best = &c
			noImprove = 0
		} else {
			noImprove++
		}

		if improved && normT >= earlyThreshold {
			break
		}
		if baselineMs > 0 && latencyMs > 2*baselineMs {
			break
		}
		if noImprove >= 3 {
			break
		}
	}

	return best, trials, false
}

// snapshotBytes reads each stream's current transferred-byte count, for use
// as a before/after pair feeding throughput.FallbackAverage when the
// tracker itself reports no samples for the trial window.
func (e *Engine) snapshotBytes(ids []uint64) map[uint64]int64 {
	out := make(map[uint64]int64, len(ids))
	for _, id := range ids {
		if rec, ok := e.mgr.Record(e.direction, id); ok {
			out[id] = rec.BytesTransferred()
		}
	}
	return out
}

// startStreams launches cand's configured streams for the engine's
// direction and returns their ids along with any upload chunk buffers it
// drew from the payload pool, so the caller can release them once the
// streams are torn down (or deliberately keep them alive past this call by
// discarding the returned slice, for streams it intends to keep running).
func (e *Engine) startStreams(ctx context.Context, cand model.ConfigCandidate, chunkSize int, kind model.StreamKind) ([]uint64, [][]byte, error) {
	count := cand.StreamCount
	if count < 1 {
		count = 1
	}
	var ids []uint64
	var allChunks [][]byte
	for i := 0; i < count; i++ {
		var id uint64
		var err error
		if e.direction == model.Download {
			id, err = e.mgr.CreateDownloadStream(ctx, streammgr.DownloadOpts{URL: e.url, Kind: kind})
		} else {
			chunks := e.buildChunks(4, chunkSize)
			id, err = e.mgr.CreateUploadStream(ctx, streammgr.UploadOpts{
				URL: e.url, Kind: kind, PendingUploads: cand.PendingUploads, StreamIndex: i,
			}, chunks)
			if err == nil {
				allChunks = append(allChunks, chunks...)
			}
		}
		if err != nil {
			e.stopStreams(ids, allChunks)
			return nil, nil, err
		}
		ids = append(ids, id)
	}
	return ids, allChunks, nil
}

// stopStreams terminates ids and releases chunks back to the payload pool.
// Callers that keep streams running past their own return (Run's
// stabilization streams, StartOptimalConfig's restarted streams) must not
// call this with those chunks until the streams are actually torn down.
func (e *Engine) stopStreams(ids []uint64, chunks [][]byte) {
	for _, id := range ids {
		e.mgr.TerminateStream(e.direction, id)
	}
	for _, c := range chunks {
		e.payload.Release(c)
	}
}

// buildChunks draws n chunks of size from the shared pool-backed payload
// source, for upload workers that cycle through a fixed chunk list.
func (e *Engine) buildChunks(n, size int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = e.payload.Get(size)
	}
	return out
}

// runTimedTransfer runs one stream for at most dur and reports its final
// byte count and elapsed time via the stream's Done callback. targetBytes,
// when positive, additionally caps the transfer at that many bytes (spec.md
// §4.4 seed payload sizing): download streams get it as DownloadOpts.
// TargetBytes directly; upload streams (whose UploadOpts has no byte-cap
// field) are watched by a poller that terminates the stream once its
// recorded byte count reaches the target. Used by Stage 1 and Stage 1.5,
// which need a single bounded measurement rather than a persistent trial
// stream.
func (e *Engine) runTimedTransfer(ctx context.Context, dur time.Duration, chunkSize int, pending int, targetBytes int64) (int64, time.Duration, error) {
	type res struct {
		bytes   int64
		elapsed time.Duration
	}
	ch := make(chan res, 1)
	done := func(b int64, el time.Duration) { ch <- res{b, el} }

	probeCtx, cancel := context.WithTimeout(ctx, dur+1*time.Second)
	defer cancel()

	var id uint64
	var err error
	var chunks [][]byte
	if e.direction == model.Download {
		id, err = e.mgr.CreateDownloadStream(probeCtx, streammgr.DownloadOpts{
			URL: e.url, Kind: model.KindWarmup, TargetBytes: targetBytes, MaxDuration: dur, Done: done,
		})
	} else {
		chunks = e.buildChunks(4, chunkSize)
		id, err = e.mgr.CreateUploadStream(probeCtx, streammgr.UploadOpts{
			URL: e.url, Kind: model.KindWarmup, PendingUploads: pending, Done: done,
		}, chunks)
		if err == nil {
			go e.watchUploadProbe(probeCtx, id, dur, targetBytes)
		}
	}
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		for _, c := range chunks {
			e.payload.Release(c)
		}
	}()

	select {
	case r := <-ch:
		return r.bytes, r.elapsed, nil
	case <-ctx.Done():
		e.mgr.TerminateStream(e.direction, id)
		return 0, 0, ctx.Err()
	case <-time.After(dur + 2*time.Second):
		e.mgr.TerminateStream(e.direction, id)
		return 0, 0, bberrors.TransportFailure(nil, "warmup sub-probe timed out waiting for completion")
	}
}

// watchUploadProbe terminates an upload sub-probe once it has run for dur
// or, when targetBytes is positive, once it has transferred that many
// bytes — whichever comes first. UploadOpts has no byte-count cap of its
// own, so this is the only way to bound an upload sub-probe by size.
func (e *Engine) watchUploadProbe(ctx context.Context, streamID uint64, dur time.Duration, targetBytes int64) {
	if targetBytes <= 0 {
		select {
		case <-time.After(dur):
			e.mgr.TerminateStream(model.Upload, streamID)
		case <-ctx.Done():
		}
		return
	}

	const pollInterval = 20 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.After(dur)
	for {
		select {
		case <-deadline:
			e.mgr.TerminateStream(model.Upload, streamID)
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rec, ok := e.mgr.Record(model.Upload, streamID); ok && rec.BytesTransferred() >= targetBytes {
				e.mgr.TerminateStream(model.Upload, streamID)
				return
			}
		}
	}
}

func mbps(bytes int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bytes) * 8 / 1_000_000 / secs
}

func averageMbps(samples []model.ThroughputSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Mbps
	}
	return sum / float64(len(samples))
}
