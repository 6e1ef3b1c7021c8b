package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LibreQoE/bufferbloat-core/internal/bblog"
	"github.com/LibreQoE/bufferbloat-core/internal/config"
	"github.com/LibreQoE/bufferbloat-core/internal/metrics"
	"github.com/LibreQoE/bufferbloat-core/internal/phase"
)

func testContext(t *testing.T) *bblog.TestContext {
	t.Helper()
	return bblog.NewTestContext(zap.NewNop())
}

func TestNewWiresAllCollaboratorsWithoutError(t *testing.T) {
	pingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer pingSrv.Close()

	tc := testContext(t)
	reg := metrics.New()
	o, err := New(tc, config.Default(), reg, "http://127.0.0.1:0", pingSrv.URL)
	require.NoError(t, err)
	assert.NotNil(t, o.downloadEngine)
	assert.NotNil(t, o.uploadEngine)
	assert.Equal(t, "http://127.0.0.1:0/download", o.downloadURL)
	assert.Equal(t, "http://127.0.0.1:0/upload", o.uploadURL)
}

func TestTrackPhaseMetricIncrementsCounter(t *testing.T) {
	pingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer pingSrv.Close()

	tc := testContext(t)
	reg := metrics.New()
	o, err := New(tc, config.Default(), reg, "http://127.0.0.1:0", pingSrv.URL)
	require.NoError(t, err)

	before := testutil.ToFloat64(o.reg.PhaseTransitions.WithLabelValues("baseline", "start"))
	o.trackPhaseMetric(phase.Event{Type: phase.EventStart, Phase: "baseline"})
	after := testutil.ToFloat64(o.reg.PhaseTransitions.WithLabelValues("baseline", "start"))
	assert.Equal(t, before+1, after)
}

// TestRunExecutesFullPhaseSequence drives a complete Run() against fake
// download/upload/ping servers with the real, spec-mandated phase and
// warmup deadlines — this takes on the order of a minute given the
// engine's fixed 5.25s-per-direction download deadline, so it is skipped
// under -short.
func TestRunExecutesFullPhaseSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("exercises the full real-time phase sequence; skipped under -short")
	}

	chunk := make([]byte, 64*1024)
	transferSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/download":
			flusher, _ := w.(http.Flusher)
			for {
				select {
				case <-r.Context().Done():
					return
				default:
				}
				if _, err := w.Write(chunk); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		case "/upload":
			buf := make([]byte, 64*1024)
			for {
				if _, err := r.Body.Read(buf); err != nil {
					break
				}
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer transferSrv.Close()

	pingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer pingSrv.Close()

	cfg := config.Default()
	cfg.Test.Phases.Baseline = 300 * time.Millisecond
	cfg.Test.Phases.DownloadWarmup = 300 * time.Millisecond
	cfg.Test.Phases.DownloadSaturation = 300 * time.Millisecond
	cfg.Test.Phases.UploadWarmup = 300 * time.Millisecond
	cfg.Test.Phases.UploadSaturation = 300 * time.Millisecond
	cfg.Test.Phases.Bidirectional = 300 * time.Millisecond

	tc := testContext(t)
	reg := metrics.New()
	o, err := New(tc, cfg, reg, transferSrv.URL, pingSrv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	rec := o.Run(ctx)
	assert.False(t, rec.EndedAt.Before(rec.StartedAt))
	assert.NotEmpty(t, rec.Phases)
	assert.Greater(t, rec.BaselineRTTMs, 0.0)
}
