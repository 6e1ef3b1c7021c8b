package throughput

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LibreQoE/bufferbloat-core/internal/model"
	"github.com/LibreQoE/bufferbloat-core/internal/payload"
	"github.com/LibreQoE/bufferbloat-core/internal/streammgr"
)

func chunkedServer(t *testing.T) *httptest.Server {
	t.Helper()
	chunk := make([]byte, 32*1024)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
	}))
}

func TestTrackerAccumulatesDownloadThroughput(t *testing.T) {
	srv := chunkedServer(t)
	defer srv.Close()

	mgr, err := streammgr.New(zap.NewNop(), payload.NewSource(), "", 4, nil)
	require.NoError(t, err)
	tr := New(mgr, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)
	defer tr.Stop()

	_, err = mgr.CreateDownloadStream(ctx, streammgr.DownloadOpts{URL: srv.URL, Kind: model.KindSaturation})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.GetCurrentThroughput(model.Download) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mgr.TerminateAllStreams(ctx)
}

func TestTrackerSamplesSinceFiltersByTime(t *testing.T) {
	mgr, err := streammgr.New(zap.NewNop(), payload.NewSource(), "", 1, nil)
	require.NoError(t, err)
	tr := New(mgr, nil, nil)

	cutoff := time.Now()
	tr.samples[model.Download] = []model.ThroughputSample{
		{Timestamp: cutoff.Add(-time.Second), Mbps: 1},
		{Timestamp: cutoff.Add(time.Millisecond), Mbps: 2},
	}
	out := tr.SamplesSince(model.Download, cutoff)
	require.Len(t, out, 1)
	assert.Equal(t, 2.0, out[0].Mbps)
}

func TestTrackerResetClearsState(t *testing.T) {
	mgr, err := streammgr.New(zap.NewNop(), payload.NewSource(), "", 1, nil)
	require.NoError(t, err)
	tr := New(mgr, nil, nil)
	tr.current[model.Download] = 42
	tr.samples[model.Download] = []model.ThroughputSample{{Mbps: 1}}

	tr.Reset()
	assert.Equal(t, 0.0, tr.GetCurrentThroughput(model.Download))
	assert.Empty(t, tr.samples[model.Download])
}

func TestTrackerActiveGaugeReflectsLiveStreamCount(t *testing.T) {
	srv := chunkedServer(t)
	defer srv.Close()

	mgr, err := streammgr.New(zap.NewNop(), payload.NewSource(), "", 4, nil)
	require.NoError(t, err)
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_active_streams"}, []string{"direction"})
	tr := New(mgr, nil, gauge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)
	defer tr.Stop()

	_, err = mgr.CreateDownloadStream(ctx, streammgr.DownloadOpts{URL: srv.URL, Kind: model.KindSaturation})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(gauge.WithLabelValues("download")) == 1
	}, 2*time.Second, 20*time.Millisecond)

	mgr.TerminateAllStreams(ctx)
}

func TestFallbackAverage(t *testing.T) {
	before := map[uint64]int64{1: 1000, 2: 2000}
	after := map[uint64]int64{1: 2_000_000, 2: 2000}
	mbps := FallbackAverage(before, after, 1.0)
	assert.InDelta(t, (2_000_000-1000)*8/1_000_000.0, mbps, 1e-6)
}

func TestFallbackAverageZeroElapsed(t *testing.T) {
	assert.Equal(t, 0.0, FallbackAverage(nil, nil, 0))
}
