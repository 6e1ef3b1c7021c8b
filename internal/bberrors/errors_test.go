package bberrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWarmupAbortedRoundTrip(t *testing.T) {
	err := WarmupAborted("upload")
	assert.True(t, IsWarmupAborted(err))
	assert.False(t, IsBarrierFailure(err))
	assert.Contains(t, err.Error(), "direction=upload")
}

func TestBarrierFailureRoundTrip(t *testing.T) {
	err := BarrierFailure(3)
	assert.True(t, IsBarrierFailure(err))
	assert.False(t, IsWarmupAborted(err))
	assert.Contains(t, err.Error(), "residual=3")
}

func TestTransportFailureWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := TransportFailure(cause, "download stream %d", 7)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "download stream 7")
}

func TestNonTwoXX(t *testing.T) {
	err := NonTwoXX(503, "https://example.test/download")
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "https://example.test/download")
}
