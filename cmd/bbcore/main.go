// Command bbcore runs the Adaptive Bandwidth Discovery and Bufferbloat
// Measurement Core against a configured transfer/ping endpoint pair and
// prints the resulting JSON record to stdout, progress to stderr — the
// same split the teacher's uwnspeedtest/cfspeedtest binaries use, built
// here on cobra/viper/zap instead of flag/fmt.Fprintf.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LibreQoE/bufferbloat-core/internal/bblog"
	"github.com/LibreQoE/bufferbloat-core/internal/config"
	"github.com/LibreQoE/bufferbloat-core/internal/metrics"
	"github.com/LibreQoE/bufferbloat-core/internal/orchestrator"
	"github.com/LibreQoE/bufferbloat-core/internal/probe"
	"github.com/LibreQoE/bufferbloat-core/internal/transport"
)

var version = "dev"

var (
	transferBaseURL string
	pingBaseURL     string
	ifaceName       string
	configFile      string
	timeoutSecs     int
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "bbcore",
		Short:   "Adaptive bandwidth discovery and bufferbloat measurement core",
		Version: version,
		RunE:    runRun,
	}
	root.PersistentFlags().StringVar(&transferBaseURL, "transfer-base-url", "http://localhost:8080", "base URL serving /download and /upload")
	root.PersistentFlags().StringVar(&pingBaseURL, "ping-base-url", "", "dedicated base URL serving /ping (defaults to transfer-base-url)")
	root.PersistentFlags().StringVar(&ifaceName, "interface", "", "network interface to bind outbound connections to")
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")
	root.PersistentFlags().IntVar(&timeoutSecs, "timeout", 90, "overall run timeout in seconds")

	root.AddCommand(newProbeCmd())
	return root
}

func runRun(cmd *cobra.Command, args []string) error {
	log, err := bblog.NewLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck // best-effort flush on exit

	_, cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cmd.Flags().Changed("transfer-base-url") || cfg.Endpoints.TransferBaseURL == "" {
		cfg.Endpoints.TransferBaseURL = transferBaseURL
	}
	if pingBaseURL != "" {
		cfg.Endpoints.PingBaseURL = pingBaseURL
	}
	if cfg.Endpoints.PingBaseURL == "" {
		cfg.Endpoints.PingBaseURL = cfg.Endpoints.TransferBaseURL
	}
	if ifaceName != "" {
		cfg.Endpoints.Interface = ifaceName
	}

	tc := bblog.NewTestContext(log)
	reg := metrics.New()

	orch, err := orchestrator.New(tc, cfg, reg, cfg.Endpoints.TransferBaseURL, cfg.Endpoints.PingBaseURL)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	log.Info("starting measurement run",
		zap.String("transferBaseURL", cfg.Endpoints.TransferBaseURL),
		zap.String("pingBaseURL", cfg.Endpoints.PingBaseURL),
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	rec := orch.Run(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func newProbeCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run the latency probe against a ping endpoint in isolation",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := bblog.NewLogger()
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer log.Sync() //nolint:errcheck

			base := pingBaseURL
			if base == "" {
				base = transferBaseURL
			}

			t, err := transport.NewWorkerTransport(transport.Options{Interface: ifaceName})
			if err != nil {
				return err
			}
			client := transport.NewClient(t, 2*time.Second)

			feed := probe.NewFeed()
			p := probe.New(client, log, feed.Observe)
			p.SetServer(base)

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(count)*sampleSpacing+2*time.Second)
			defer cancel()
			p.Start(ctx)
			<-ctx.Done()
			p.Stop()

			fmt.Fprintf(os.Stdout, "mean RTT over last %s: %.2fms\n", time.Duration(count)*sampleSpacing, feed.RecentMeanMillis(time.Duration(count)*sampleSpacing))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "samples", 10, "number of 100ms probe ticks to collect before reporting")
	return cmd
}

const sampleSpacing = 100 * time.Millisecond
