package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProberEmitsSamplesFromAPingEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	feed := NewFeed()
	p := New(srv.Client(), zap.NewNop(), feed.Observe)
	p.SetServer(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 450*time.Millisecond)
	defer cancel()
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()

	samples := feed.SamplesSince(time.Time{})
	require.NotEmpty(t, samples)
	assert.False(t, samples[0].Timeout)
	assert.Greater(t, samples[0].RTTMillis, 0.0)
}

func TestProberEmitsTimeoutOnNonTwoXX(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	feed := NewFeed()
	p := New(srv.Client(), zap.NewNop(), feed.Observe)
	p.SetServer(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()

	samples := feed.SamplesSince(time.Time{})
	require.NotEmpty(t, samples)
	assert.True(t, samples[0].Timeout)
	assert.Greater(t, samples[0].ConsecutiveTimeouts, 0)
}

func TestProberStartIsIdempotentWithoutStop(t *testing.T) {
	feed := NewFeed()
	p := New(http.DefaultClient, zap.NewNop(), feed.Observe)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	assert.NotPanics(t, func() { p.Start(ctx) })
	p.Stop()
}

func TestProberDoesNothingWithoutServerConfigured(t *testing.T) {
	feed := NewFeed()
	p := New(http.DefaultClient, zap.NewNop(), feed.Observe)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	assert.Empty(t, feed.SamplesSince(time.Time{}))
}
