// Package bberrors defines the error kinds of SPEC_FULL.md / spec.md §7,
// built on top of github.com/gravitational/trace so every error returned
// by this module carries call-site context the way teleport's components
// do.
package bberrors

import (
	"errors"

	"github.com/gravitational/trace"
)

// ErrBarrierFailure is wrapped and returned when the phase barrier could
// not verify zero active streams after its retry budget. Never fatal:
// callers log it and proceed.
var ErrBarrierFailure = errors.New("phase barrier: streams still active after verification retries")

// ErrWarmupAborted is wrapped and returned when a warmup stage observes
// its forceTermination flag set mid-search.
var ErrWarmupAborted = errors.New("adaptive warmup: force-terminated by phase change")

// ErrFatal marks the single fatal condition in spec.md §7: no bytes could
// be obtained from the transfer endpoint at all during baseline estimation.
var ErrFatal = errors.New("bufferbloat-core: could not obtain any bytes from transfer endpoint")

// TransportFailure wraps a network-level error (reset, DNS, TLS) observed
// by a stream worker. The stream terminates; trial throughput for the
// window is recorded as whatever bytes were already counted.
func TransportFailure(err error, format string, args ...interface{}) error {
	return trace.Wrap(trace.ConnectionProblem(err, format, args...))
}

// TransportTimeout wraps a per-request timeout (probe ping or upload
// chunk). Latency probes must not synthesize an RTT from this; upload
// chunks are simply counted as zero bytes for that request.
func TransportTimeout(err error, format string, args ...interface{}) error {
	return trace.Wrap(trace.LimitExceeded(format, args...).AddField("cause", errString(err)))
}

// NonTwoXX wraps a non-2xx HTTP response, treated as TransportFailure for
// the current request.
func NonTwoXX(statusCode int, url string) error {
	return trace.Wrap(trace.ConnectionProblem(nil, "non-2xx response (%d) from %s", statusCode, url))
}

// BarrierFailure wraps ErrBarrierFailure with the observed residual count.
func BarrierFailure(residual int) error {
	return trace.Wrap(ErrBarrierFailure, "residual=%d", residual)
}

// WarmupAborted wraps ErrWarmupAborted.
func WarmupAborted(direction string) error {
	return trace.Wrap(ErrWarmupAborted, "direction=%s", direction)
}

// IsWarmupAborted reports whether err (or its wrapped chain) is ErrWarmupAborted.
func IsWarmupAborted(err error) bool {
	return errors.Is(err, ErrWarmupAborted)
}

// IsBarrierFailure reports whether err (or its wrapped chain) is ErrBarrierFailure.
func IsBarrierFailure(err error) bool {
	return errors.Is(err, ErrBarrierFailure)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
