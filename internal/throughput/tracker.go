// Package throughput implements the Throughput Tracker (C4 in
// SPEC_FULL.md): per-direction rolling byte counters sampled on a fixed
// wall-clock tick, aggregated into Mbps. Grounded in the teacher's
// MeasureThroughput sampling loop (delta of totalBytes over
// sampleInterval), generalized from a single inline measurement loop into
// a standalone component the warmup engine and orchestrator both read
// from.
package throughput

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LibreQoE/bufferbloat-core/internal/model"
	"github.com/LibreQoE/bufferbloat-core/internal/streammgr"
)

const tickInterval = 100 * time.Millisecond

// Tracker aggregates bytes/sec per direction on a 10Hz tick. It credits
// bytes only from records the stream manager's registry currently
// reports live — a stream whose termination the registry has already
// observed never contributes another tick's delta (spec.md §4.3, §5).
type Tracker struct {
	mgr *streammgr.Manager

	mu         sync.RWMutex
	lastBytes  map[model.Direction]int64
	current    map[model.Direction]float64
	samples    map[model.Direction][]model.ThroughputSample

	gauge       *prometheus.GaugeVec
	activeGauge *prometheus.GaugeVec

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Tracker bound to mgr. If reg is non-nil, a
// bufferbloat_throughput_mbps gauge is registered for {direction}.
// activeGauge, if non-nil, is updated with the live per-direction stream
// count on every tick (e.g. metrics.Registry.ActiveStreams).
func New(mgr *streammgr.Manager, reg prometheus.Registerer, activeGauge *prometheus.GaugeVec) *Tracker {
	t := &Tracker{
		mgr:         mgr,
		lastBytes:   map[model.Direction]int64{},
		current:     map[model.Direction]float64{},
		samples:     map[model.Direction][]model.ThroughputSample{},
		activeGauge: activeGauge,
	}
	if reg != nil {
		t.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bufferbloat_throughput_mbps",
			Help: "Current aggregate throughput per direction.",
		}, []string{"direction"})
		reg.MustRegister(t.gauge)
	}
	return t
}

// Start begins ticking. Stop must be called to release the goroutine.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx)
}

// Stop halts ticking.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds()
			last = now
			t.tick(now, elapsed)
		}
	}
}

func (t *Tracker) tick(now time.Time, elapsedSecs float64) {
	totals := map[model.Direction]int64{model.Download: 0, model.Upload: 0}
	counts := map[model.Direction]int{model.Download: 0, model.Upload: 0}
	for _, rec := range t.mgr.AllRecords() {
		totals[rec.Direction] += rec.BytesTransferred()
		counts[rec.Direction]++
	}
	if t.activeGauge != nil {
		for _, dir := range []model.Direction{model.Download, model.Upload} {
			t.activeGauge.WithLabelValues(dir.String()).Set(float64(counts[dir]))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, dir := range []model.Direction{model.Download, model.Upload} {
		delta := totals[dir] - t.lastBytes[dir]
		t.lastBytes[dir] = totals[dir]
		if delta < 0 {
			delta = 0 // a registry reset can make totals regress; never credit negative throughput
		}
		mbps := 0.0
		if elapsedSecs > 0.01 {
			mbps = (float64(delta) * 8.0 / 1_000_000.0) / elapsedSecs
		}
		t.current[dir] = mbps
		t.samples[dir] = append(t.samples[dir], model.ThroughputSample{Timestamp: now, Direction: dir, Mbps: mbps})
		if t.gauge != nil {
			t.gauge.WithLabelValues(dir.String()).Set(mbps)
		}
	}
}

// GetCurrentThroughput returns the most recent tick's Mbps for dir.
func (t *Tracker) GetCurrentThroughput(dir model.Direction) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current[dir]
}

// SamplesSince returns every sample recorded for dir at or after since,
// used by the warmup engine to compute a trial-window average.
func (t *Tracker) SamplesSince(dir model.Direction, since time.Time) []model.ThroughputSample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []model.ThroughputSample
	for _, s := range t.samples[dir] {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// Reset clears sample history and counters. The phase barrier does not
// call it; callers cut phase and trial windows by timestamp through
// SamplesSince instead.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastBytes = map[model.Direction]int64{}
	t.current = map[model.Direction]float64{}
	t.samples = map[model.Direction][]model.ThroughputSample{}
}

// FallbackAverage computes throughput directly from stream byte deltas
// over a window, for use when the Tracker itself is unavailable (spec.md
// §4.3 Fallback clause). It takes a before/after snapshot pair rather
// than running its own goroutine.
func FallbackAverage(before, after map[uint64]int64, elapsedSecs float64) float64 {
	if elapsedSecs <= 0 {
		return 0
	}
	var delta int64
	for id, b := range before {
		if a, ok := after[id]; ok && a > b {
			delta += a - b
		}
	}
	return (float64(delta) * 8.0 / 1_000_000.0) / elapsedSecs
}
