package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecDurations(t *testing.T) {
	d := Default()
	require.Equal(t, 5*time.Second, d.Test.Phases.Baseline)
	require.Equal(t, 15*time.Second, d.Test.Phases.DownloadWarmup)
	require.Equal(t, 5*time.Second, d.Test.Phases.DownloadSaturation)
	require.Equal(t, 15*time.Second, d.Test.Phases.UploadWarmup)
	require.Equal(t, 5*time.Second, d.Test.Phases.UploadSaturation)
	require.Equal(t, 5*time.Second, d.Test.Phases.Bidirectional)
	require.Equal(t, 600*time.Millisecond, d.AdaptiveWarmup.ConfigTrialDuration)
	require.InDelta(t, 0.7, d.AdaptiveWarmup.Scoring.ThroughputWeight, 1e-9)
	require.InDelta(t, 0.3, d.AdaptiveWarmup.Scoring.LatencyWeight, 1e-9)
}

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	_, cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Test.Phases, cfg.Test.Phases)
}

func TestLoadMergesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bbcore.yaml")
	contents := []byte("test:\n  phases:\n    baseline: 9s\nendpoints:\n  transferBaseURL: https://transfer.example.test\n")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	_, cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9*time.Second, cfg.Test.Phases.Baseline)
	require.Equal(t, "https://transfer.example.test", cfg.Endpoints.TransferBaseURL)
	// Unspecified fields still fall back to defaults.
	require.Equal(t, 15*time.Second, cfg.Test.Phases.DownloadWarmup)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	_, cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Test.Phases, cfg.Test.Phases)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BBCORE_ADAPTIVEWARMUP_MAXTRIALS", "2")
	_, cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 2, cfg.AdaptiveWarmup.MaxTrials)
}
