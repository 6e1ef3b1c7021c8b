// Package bblog provides the structured logger used throughout the core
// and the explicit TestContext that replaces the source program's
// browser-window globals (currentTestPhase, optimalUploadChunkSize,
// lastDownloadThroughput — see SPEC_FULL.md Design Notes).
package bblog

import (
	"sync"

	"go.uber.org/zap"
)

// NewLogger builds the zap logger used by the core. Production builds get
// JSON output at Info level; callers that want human-readable output
// during development can swap in zap.NewDevelopment themselves.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// TestContext carries the mutable-but-bounded state that several
// components need to observe without owning: the current phase name, the
// optimal chunk size chosen by the upload warmup, and the most recent
// per-direction throughput estimate. It replaces the teacher/original's
// global window variables with an explicit, passed-through value.
//
// All fields are accessed through the snapshot-returning getters below;
// writers go through the corresponding setters. Both are safe for
// concurrent use.
type TestContext struct {
	Logger *zap.Logger

	mu                  sync.RWMutex
	currentPhase        string
	optimalUploadChunk  int
	lastDownloadMbps    float64
	lastUploadMbps      float64
}

// NewTestContext builds a TestContext around the given logger.
func NewTestContext(logger *zap.Logger) *TestContext {
	return &TestContext{Logger: logger}
}

func (c *TestContext) SetCurrentPhase(phase string) {
	c.mu.Lock()
	c.currentPhase = phase
	c.mu.Unlock()
}

func (c *TestContext) CurrentPhase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentPhase
}

func (c *TestContext) SetOptimalUploadChunk(n int) {
	c.mu.Lock()
	c.optimalUploadChunk = n
	c.mu.Unlock()
}

func (c *TestContext) OptimalUploadChunk() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.optimalUploadChunk
}

func (c *TestContext) SetLastThroughput(dir Direction, mbps float64) {
	c.mu.Lock()
	if dir == DirectionUpload {
		c.lastUploadMbps = mbps
	} else {
		c.lastDownloadMbps = mbps
	}
	c.mu.Unlock()
}

func (c *TestContext) LastThroughput(dir Direction) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if dir == DirectionUpload {
		return c.lastUploadMbps
	}
	return c.lastDownloadMbps
}

// Direction mirrors model.Direction without importing it, to keep this
// leaf package dependency-free of the data-model package; the
// orchestrator converts at the boundary.
type Direction int

const (
	DirectionDownload Direction = iota
	DirectionUpload
)
