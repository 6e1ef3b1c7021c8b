// Package probe implements the Latency Probe (C1 in SPEC_FULL.md): an
// out-of-band RTT sampler against a dedicated ping endpoint, isolated
// from transfer I/O so large upload bodies never starve its scheduling.
// Grounded in the teacher's uwn.pingServer/MeasureLatency and
// cfspeedtest's MeasureLatency (sequential timed GETs, Server-Timing
// aware), generalized into a free-running periodic sampler with the
// spec's backoff-based timeout schedule.
package probe

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LibreQoE/bufferbloat-core/internal/bberrors"
	"github.com/LibreQoE/bufferbloat-core/internal/model"
)

const sampleInterval = 100 * time.Millisecond

// Sample is delivered to the probe's observer for every completed
// request, success or timeout, in probe-completion order.
type Sample = model.LatencySample

// Observer receives probe samples. It must not block.
type Observer func(Sample)

// Prober runs the isolated periodic RTT sampler described in spec.md §4.1.
type Prober struct {
	client   *http.Client
	log      *zap.Logger
	observer Observer

	mu      sync.Mutex
	baseURL string
	backoff *timeoutBackoff

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Prober. client should be a dedicated client (separate
// transport from any throughput workers) so probe scheduling is never
// contended with transfer bodies, per spec.md §5.
func New(client *http.Client, log *zap.Logger, observer Observer) *Prober {
	return &Prober{
		client:   client,
		log:      log,
		observer: observer,
		backoff:  newTimeoutBackoff(),
	}
}

// SetServer updates the dedicated ping base URL. Safe to call while running.
func (p *Prober) SetServer(baseURL string) {
	p.mu.Lock()
	p.baseURL = baseURL
	p.mu.Unlock()
}

// Start launches the sampling loop in its own goroutine and returns
// immediately. Calling Start twice without an intervening Stop panics in
// debug builds of the teacher's original (browser) implementation; here
// it is simply a no-op guarded by the cancel field.
func (p *Prober) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Stop halts sampling and waits for the loop to exit.
func (p *Prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context) {
	p.mu.Lock()
	base := p.baseURL
	p.mu.Unlock()
	if base == "" {
		return
	}

	timeout := p.backoff.NextBackOff()
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/ping?cb=%d", base, rand.Int63()) //nolint:gosec // cache-busting only
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		p.emitTimeout()
		return
	}
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	req.Header.Set("X-Priority", "high")
	req.Header.Set("X-Ping-Attempt", fmt.Sprintf("%d", p.backoff.ConsecutiveTimeouts()))

	start := time.Now()
	resp, err := p.client.Do(req)
	rtt := time.Since(start)
	if err != nil {
		if reqCtx.Err() != nil {
			p.emitTimeout()
			return
		}
		// Non-timeout transport error: still counts toward the
		// consecutive-timeout schedule per spec.md §7 (TransportFailure
		// increments the same counter as TransportTimeout for probes).
		if p.log != nil {
			p.log.Warn("latency probe transport error", zap.Error(bberrors.TransportFailure(err, "ping request")))
		}
		p.emitTimeout()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if p.log != nil {
			p.log.Warn("latency probe non-2xx", zap.Int("status", resp.StatusCode))
		}
		p.emitTimeout()
		return
	}

	p.backoff.Reset()
	p.emit(Sample{Timestamp: start, RTTMillis: float64(rtt.Microseconds()) / 1000.0})
}

func (p *Prober) emitTimeout() {
	p.backoff.recordTimeout()
	p.emit(Sample{Timestamp: time.Now(), Timeout: true, ConsecutiveTimeouts: p.backoff.ConsecutiveTimeouts()})
}

func (p *Prober) emit(s Sample) {
	if p.observer != nil {
		p.observer(s)
	}
}
