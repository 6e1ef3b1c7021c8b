// Package model defines the data types shared across the bufferbloat
// measurement core: streams, samples, configuration candidates, tiers,
// trial results and phase records (see SPEC_FULL.md Data Model).
package model

import (
	"sync/atomic"
	"time"
)

// Direction identifies which way bytes flow for a stream or sample.
type Direction int

const (
	Download Direction = iota
	Upload
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// StreamKind classifies why a stream exists.
type StreamKind int

const (
	KindSpeedProbe StreamKind = iota
	KindDiscovery
	KindWarmup
	KindSaturation
	KindStabilization
)

func (k StreamKind) String() string {
	switch k {
	case KindSpeedProbe:
		return "speed-probe"
	case KindDiscovery:
		return "discovery"
	case KindWarmup:
		return "warmup"
	case KindSaturation:
		return "saturation"
	case KindStabilization:
		return "stabilization"
	default:
		return "unknown"
	}
}

// StreamRecord is a handle for one in-flight transfer. Its bytes counter is
// monotonic and safe to read concurrently with the writer goroutine; the
// writer is always the stream's own I/O task (model.StreamRecord.AddBytes),
// never the registry or a reader of GetActiveStreamCounts.
type StreamRecord struct {
	ID           uint64
	Direction    Direction
	Kind         StreamKind
	CreatedAt    time.Time
	bytes        atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	abort        *AbortTrigger
	terminated   atomic.Bool
}

// NewStreamRecord allocates a record with a fresh abort trigger.
func NewStreamRecord(id uint64, dir Direction, kind StreamKind) *StreamRecord {
	r := &StreamRecord{
		ID:        id,
		Direction: dir,
		Kind:      kind,
		CreatedAt: time.Now(),
		abort:     NewAbortTrigger(),
	}
	r.lastActivity.Store(r.CreatedAt.UnixNano())
	return r
}

// AddBytes increments the transferred-byte counter. A terminated stream
// must never call this — the invariant is enforced by callers checking
// Terminated() before reporting, not by this method (which stays a cheap
// append-only op on the hot path).
func (r *StreamRecord) AddBytes(n int64) {
	r.bytes.Add(n)
	r.lastActivity.Store(time.Now().UnixNano())
}

// BytesTransferred returns the monotonic byte count.
func (r *StreamRecord) BytesTransferred() int64 { return r.bytes.Load() }

// LastActivity returns the last time AddBytes was called.
func (r *StreamRecord) LastActivity() time.Time {
	return time.Unix(0, r.lastActivity.Load())
}

// Abort returns the one-shot cancellation handle for this stream.
func (r *StreamRecord) Abort() *AbortTrigger { return r.abort }

// Terminated reports whether the record has been marked terminated.
func (r *StreamRecord) Terminated() bool { return r.terminated.Load() }

// MarkTerminated flips the terminated flag. Idempotent.
func (r *StreamRecord) MarkTerminated() { r.terminated.Store(true) }

// AbortTrigger is a one-shot cancellation capability, analogous to an
// AbortController: Fire() closes Done() exactly once.
type AbortTrigger struct {
	done chan struct{}
	once atomic.Bool
}

// NewAbortTrigger returns an armed trigger.
func NewAbortTrigger() *AbortTrigger {
	return &AbortTrigger{done: make(chan struct{})}
}

// Fire signals cancellation. Safe to call more than once.
func (a *AbortTrigger) Fire() {
	if a.once.CompareAndSwap(false, true) {
		close(a.done)
	}
}

// Done returns a channel closed when Fire has been called.
func (a *AbortTrigger) Done() <-chan struct{} { return a.done }

// Fired reports whether Fire has already been called.
func (a *AbortTrigger) Fired() bool { return a.once.Load() }

// LatencySample is either a measured RTT or a timeout marker. Exactly one
// of the two shapes is meaningful at a time; Timeout distinguishes them.
// Accuracy-preserving: a timed-out probe never carries an RTT value.
type LatencySample struct {
	Timestamp           time.Time `json:"timestamp"`
	RTTMillis           float64   `json:"rttMillis,omitempty"`
	Timeout             bool      `json:"timeout,omitempty"`
	ConsecutiveTimeouts int       `json:"consecutiveTimeouts,omitempty"`
}

// ThroughputSample is one tick of the throughput tracker for a direction.
type ThroughputSample struct {
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"-"`
	Mbps      float64   `json:"mbps"`
}

// ConfigCandidate is a stream/in-flight-window configuration under trial.
// PendingUploads is meaningless (left at zero) for Direction == Download.
type ConfigCandidate struct {
	StreamCount    int `json:"streamCount"`
	PendingUploads int `json:"pendingUploads,omitempty"`
}

// Concurrency returns the effective in-flight request count: streamCount
// for downloads, streamCount*pendingUploads for uploads.
func (c ConfigCandidate) Concurrency(dir Direction) int {
	if dir == Upload {
		p := c.PendingUploads
		if p < 1 {
			p = 1
		}
		return c.StreamCount * p
	}
	return c.StreamCount
}

// SpeedTier classifies estimated bandwidth into a coarse bucket used to
// pick a candidate matrix and chunk-size set. Boundaries are direction
// specific (see SPEC_FULL.md / spec.md §6); Ultragig exists for download
// only — on upload it is treated as an alias of Gigabit (see DESIGN.md).
type SpeedTier int

const (
	TierSlow SpeedTier = iota
	TierMedium
	TierFast
	TierGigabit
	TierUltragig
)

func (t SpeedTier) String() string {
	switch t {
	case TierSlow:
		return "slow"
	case TierMedium:
		return "medium"
	case TierFast:
		return "fast"
	case TierGigabit:
		return "gigabit"
	case TierUltragig:
		return "ultragig"
	default:
		return "unknown"
	}
}

// TrialResult records one Stage-2 parameter-search attempt.
type TrialResult struct {
	Candidate        ConfigCandidate
	ThroughputMbps   float64
	LatencyMs        float64
	Score            float64
	Acceptable       bool
	Err              error
}

// PhaseRecord is an append-only (except EndedAt) entry in the phase
// history kept by the Phase Controller.
type PhaseRecord struct {
	Phase    string
	StartedAt time.Time
	EndedAt   *time.Time
}
