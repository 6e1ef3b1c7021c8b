// Package config implements the configuration surface of spec.md §6 on
// top of viper, with an optional YAML file layered under flags and
// environment variables (flags > env > file > defaults, viper's normal
// precedence).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ScoringConfig mirrors adaptiveWarmup.scoring.*.
type ScoringConfig struct {
	ThroughputWeight  float64 `mapstructure:"throughputWeight" yaml:"throughputWeight"`
	LatencyWeight     float64 `mapstructure:"latencyWeight" yaml:"latencyWeight"`
	LatencyMultiplier float64 `mapstructure:"latencyMultiplier" yaml:"latencyMultiplier"`
}

// WarmupConfig mirrors the adaptiveWarmup.* table in spec.md §6.
type WarmupConfig struct {
	Enabled                 bool          `mapstructure:"enabled" yaml:"enabled"`
	SpeedEstimationTimeout  time.Duration `mapstructure:"speedEstimationTimeout" yaml:"speedEstimationTimeout"`
	ConfigTrialDuration     time.Duration `mapstructure:"configTrialDuration" yaml:"configTrialDuration"`
	MaxTrials               int           `mapstructure:"maxTrials" yaml:"maxTrials"`
	EarlyTerminationThreshold float64     `mapstructure:"earlyTerminationThreshold" yaml:"earlyTerminationThreshold"`
	Scoring                 ScoringConfig `mapstructure:"scoring" yaml:"scoring"`
}

// PhaseDurations mirrors test.phases.*.
type PhaseDurations struct {
	Baseline         time.Duration `mapstructure:"baseline" yaml:"baseline"`
	DownloadWarmup   time.Duration `mapstructure:"downloadWarmup" yaml:"downloadWarmup"`
	DownloadSaturation time.Duration `mapstructure:"downloadSaturation" yaml:"downloadSaturation"`
	UploadWarmup     time.Duration `mapstructure:"uploadWarmup" yaml:"uploadWarmup"`
	UploadSaturation time.Duration `mapstructure:"uploadSaturation" yaml:"uploadSaturation"`
	Bidirectional    time.Duration `mapstructure:"bidirectional" yaml:"bidirectional"`
}

// Endpoints holds the transfer and dedicated ping bases (spec.md §6).
type Endpoints struct {
	TransferBaseURL string `mapstructure:"transferBaseURL" yaml:"transferBaseURL"`
	PingBaseURL     string `mapstructure:"pingBaseURL" yaml:"pingBaseURL"`
	Interface       string `mapstructure:"interface" yaml:"interface"`
}

// Config is the fully resolved configuration surface.
type Config struct {
	AdaptiveWarmup WarmupConfig   `mapstructure:"adaptiveWarmup" yaml:"adaptiveWarmup"`
	Test           struct {
		Phases PhaseDurations `mapstructure:"phases" yaml:"phases"`
	} `mapstructure:"test" yaml:"test"`
	Endpoints Endpoints `mapstructure:"endpoints" yaml:"endpoints"`
}

// Default returns spec.md's default phase durations and warmup tuning.
func Default() Config {
	var c Config
	c.AdaptiveWarmup = WarmupConfig{
		Enabled:                true,
		SpeedEstimationTimeout: 5250 * time.Millisecond, // download deadline; upload derives its own (see warmup package)
		ConfigTrialDuration:    600 * time.Millisecond,
		MaxTrials:              8, // gigabit cap; tier search truncates further per direction
		EarlyTerminationThreshold: 0.95,
		Scoring: ScoringConfig{
			ThroughputWeight:  0.7,
			LatencyWeight:     0.3,
			LatencyMultiplier: 2.0,
		},
	}
	c.Test.Phases = PhaseDurations{
		Baseline:           5 * time.Second,
		DownloadWarmup:     15 * time.Second,
		DownloadSaturation: 5 * time.Second,
		UploadWarmup:       15 * time.Second,
		UploadSaturation:   5 * time.Second,
		Bidirectional:      5 * time.Second,
	}
	return c
}

// Load builds a viper instance seeded with defaults, optionally merges a
// YAML file at path (if non-empty and present), and lets environment
// variables prefixed BBCORE_ override both; it returns the resolved
// Config. Flags are not bound to viper: the caller (cmd/bbcore) applies
// any endpoint flags it was given on top of the returned Config.
func Load(path string) (*viper.Viper, Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BBCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("adaptiveWarmup.enabled", def.AdaptiveWarmup.Enabled)
	v.SetDefault("adaptiveWarmup.speedEstimationTimeout", def.AdaptiveWarmup.SpeedEstimationTimeout)
	v.SetDefault("adaptiveWarmup.configTrialDuration", def.AdaptiveWarmup.ConfigTrialDuration)
	v.SetDefault("adaptiveWarmup.maxTrials", def.AdaptiveWarmup.MaxTrials)
	v.SetDefault("adaptiveWarmup.earlyTerminationThreshold", def.AdaptiveWarmup.EarlyTerminationThreshold)
	v.SetDefault("adaptiveWarmup.scoring.throughputWeight", def.AdaptiveWarmup.Scoring.ThroughputWeight)
	v.SetDefault("adaptiveWarmup.scoring.latencyWeight", def.AdaptiveWarmup.Scoring.LatencyWeight)
	v.SetDefault("adaptiveWarmup.scoring.latencyMultiplier", def.AdaptiveWarmup.Scoring.LatencyMultiplier)
	v.SetDefault("test.phases.baseline", def.Test.Phases.Baseline)
	v.SetDefault("test.phases.downloadWarmup", def.Test.Phases.DownloadWarmup)
	v.SetDefault("test.phases.downloadSaturation", def.Test.Phases.DownloadSaturation)
	v.SetDefault("test.phases.uploadWarmup", def.Test.Phases.UploadWarmup)
	v.SetDefault("test.phases.uploadSaturation", def.Test.Phases.UploadSaturation)
	v.SetDefault("test.phases.bidirectional", def.Test.Phases.Bidirectional)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return v, Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return v, Config{}, err
	}
	return v, cfg, nil
}
