// Package phase implements the Phase Controller (C6 in SPEC_FULL.md): the
// idle/active/transitioning state machine, the phase barrier
// (terminate-quiesce-verify), and phase-change event emission. Grounded
// in the teacher's run() phase sequencing (uwnspeedtest/main.go,
// cfspeedtest/main.go — fmt.Fprintf-delimited phases run in strict
// sequence) generalized into an explicit state machine with a real
// barrier and observable events, since the teacher runs phases
// back-to-back without a verified quiescence step.
package phase

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LibreQoE/bufferbloat-core/internal/bberrors"
	"github.com/LibreQoE/bufferbloat-core/internal/model"
	"github.com/LibreQoE/bufferbloat-core/internal/streammgr"
)

// State is the Phase Controller's state machine position.
type State int

const (
	StateIdle State = iota
	StateActive
	StateTransitioning
)

// EventType distinguishes a phase start from a phase end.
type EventType int

const (
	EventStart EventType = iota
	EventEnd
)

// Event is emitted on every transition (spec.md §4.5).
type Event struct {
	Type         EventType
	Phase        string
	Elapsed      time.Duration
	TotalElapsed time.Duration
}

// Observer receives phase events. Must not block.
type Observer func(Event)

// Terminator is the subset of streammgr.Manager the barrier needs. It is
// an interface (rather than a direct streammgr.Manager dependency) so
// phase can be unit tested with a fake and so the barrier's verification
// retries aren't coupled to the manager's internals.
type Terminator interface {
	TerminateAllStreams(ctx context.Context)
	GetActiveStreamCounts() streammgr.Counts
	ResetRegistry()
}

// Controller drives the phase state machine and barrier.
type Controller struct {
	log        *zap.Logger
	terminator Terminator

	mu            sync.Mutex
	state         State
	current       model.PhaseRecord
	history       []model.PhaseRecord
	testStart     time.Time
	observers     []Observer
}

// New builds a Controller bound to a stream terminator.
func New(log *zap.Logger, terminator Terminator) *Controller {
	return &Controller{log: log, terminator: terminator, state: StateIdle}
}

// Subscribe registers an observer for phase events; used by the Adaptive
// Warmup Engine to set forceTermination when its direction's saturation
// phase starts.
func (c *Controller) Subscribe(obs Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, obs)
	c.mu.Unlock()
}

// Initialize records the wall-clock test start time, used by
// GetTotalElapsedTime.
func (c *Controller) Initialize(testStart time.Time) {
	c.mu.Lock()
	c.testStart = testStart
	c.mu.Unlock()
}

// StartPhase transitions into phase p. If a phase is already active it
// first runs EndPhase (and the barrier), satisfying "startPhase while
// active first runs endPhase" (spec.md §4.5).
func (c *Controller) StartPhase(ctx context.Context, p string) bool {
	c.mu.Lock()
	if c.state == StateActive {
		c.mu.Unlock()
		c.EndPhase(ctx)
		c.mu.Lock()
	}
	c.state = StateTransitioning
	c.mu.Unlock()

	ok := c.barrier(ctx)

	c.mu.Lock()
	now := time.Now()
	c.current = model.PhaseRecord{Phase: p, StartedAt: now}
	if ok {
		c.state = StateActive
	} else {
		c.state = StateIdle
	}
	elapsed := time.Duration(0)
	total := now.Sub(c.testStart)
	c.mu.Unlock()

	c.emit(Event{Type: EventStart, Phase: p, Elapsed: elapsed, TotalElapsed: total})
	return ok
}

// EndPhase seals the current phase's record and appends it to history.
// endPhase happens-before any subsequent startPhase (spec.md §5).
func (c *Controller) EndPhase(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateTransitioning {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	rec := c.current
	rec.EndedAt = &now
	c.history = append(c.history, rec)
	elapsed := now.Sub(rec.StartedAt)
	total := now.Sub(c.testStart)
	phaseName := rec.Phase
	c.state = StateTransitioning
	c.mu.Unlock()

	c.emit(Event{Type: EventEnd, Phase: phaseName, Elapsed: elapsed, TotalElapsed: total})
}

// GetCurrentPhase returns the name of the active phase, or "" if idle.
func (c *Controller) GetCurrentPhase() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return ""
	}
	return c.current.Phase
}

// GetPhaseElapsedTime returns time elapsed in the current phase.
func (c *Controller) GetPhaseElapsedTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return 0
	}
	return time.Since(c.current.StartedAt)
}

// GetTotalElapsedTime returns time elapsed since Initialize.
func (c *Controller) GetTotalElapsedTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.testStart)
}

// GetPhaseHistory returns a snapshot of sealed phase records.
func (c *Controller) GetPhaseHistory() []model.PhaseRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.PhaseRecord, len(c.history))
	copy(out, c.history)
	return out
}

const (
	barrierQuiesce    = 200 * time.Millisecond
	barrierMaxAttempts = 15
	barrierBaseDelay  = 100 * time.Millisecond
	barrierWidening   = 1.5
)

// barrier runs the atomic terminate-quiesce-verify sequence of spec.md
// §4.5. It never returns an error to the caller — on ultimate failure it
// invokes the emergency ResetRegistry and reports false.
func (c *Controller) barrier(ctx context.Context) bool {
	c.terminator.TerminateAllStreams(ctx)

	select {
	case <-time.After(barrierQuiesce):
	case <-ctx.Done():
	}

	for attempt := 0; attempt < barrierMaxAttempts; attempt++ {
		counts := c.terminator.GetActiveStreamCounts()
		if counts.Total == 0 {
			return true
		}
		if attempt == barrierMaxAttempts-2 {
			// Second sweep one attempt before the last, per spec.md §4.5.
			c.terminator.TerminateAllStreams(ctx)
		}
		delay := time.Duration(float64(barrierBaseDelay) * math.Pow(barrierWidening, float64(attempt)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			break
		}
	}

	counts := c.terminator.GetActiveStreamCounts()
	if counts.Total == 0 {
		return true
	}

	if c.log != nil {
		c.log.Warn("phase barrier failed, forcing emergency reset", zap.Error(bberrors.BarrierFailure(counts.Total)))
	}
	c.terminator.ResetRegistry()
	return false
}

func (c *Controller) emit(ev Event) {
	c.mu.Lock()
	obs := make([]Observer, len(c.observers))
	copy(obs, c.observers)
	c.mu.Unlock()
	for _, o := range obs {
		o(ev)
	}
}
