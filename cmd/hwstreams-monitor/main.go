// Package main implements the hwstreams monitor daemon. It subscribes
// to one telemetry source and the environmental state feed, evaluates
// every data batch against state-dependent thresholds, and publishes
// verdicts back to the broker. Prometheus metrics are served over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/hwstreams/config"
	"github.com/c360/hwstreams/metric"
	"github.com/c360/hwstreams/monitor"
	"github.com/c360/hwstreams/natsclient"
	"github.com/c360/hwstreams/threshold"
	"github.com/c360/hwstreams/thresholdstore"
	"github.com/c360/hwstreams/types"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "hwstreams-monitor"
)

type cliConfig struct {
	configPath     string
	thresholdsPath string
	monitorID      string
	sourceID       string
	metricsAddr    string
	logLevel       string
	logFormat      string
	saveThresholds bool
	showVersion    bool
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Monitor failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}
	flag.StringVar(&cli.configPath, "config", "", "Path to JSON config file (defaults apply when empty)")
	flag.StringVar(&cli.thresholdsPath, "thresholds", "", "Path to YAML thresholds file (falls back to the KV store when empty)")
	flag.StringVar(&cli.monitorID, "monitor-id", "monitor", "Monitor identifier")
	flag.StringVar(&cli.sourceID, "source", "", "Source id to monitor (required)")
	flag.StringVar(&cli.metricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")
	flag.StringVar(&cli.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cli.logFormat, "log-format", "json", "Log format (json, text)")
	flag.BoolVar(&cli.saveThresholds, "save-thresholds", false, "Write the loaded thresholds file to the KV store and exit")
	flag.BoolVar(&cli.showVersion, "version", false, "Print version and exit")
	flag.Parse()
	return cli
}

func run() error {
	cli := parseFlags()

	if cli.showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cli.sourceID == "" {
		return fmt.Errorf("missing required -source flag")
	}

	logger := setupLogger(cli.logLevel, cli.logFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("Starting monitor",
		"monitor_id", cli.monitorID,
		"source", cli.sourceID,
		"nats_url", cfg.URL,
		"stream", cfg.StreamName)

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	client, err := buildClient(cfg, metrics)
	if err != nil {
		return err
	}

	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout.Std())
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = client.Close(closeCtx)
	}()

	thresholds, err := loadThresholds(ctx, cli, client)
	if err != nil {
		return err
	}
	if cli.saveThresholds {
		slog.Info("Thresholds saved", "states", len(thresholds))
		return nil
	}
	if len(thresholds) == 0 {
		return fmt.Errorf("no thresholds available for monitor %s", cli.monitorID)
	}

	metricsServer := startMetricsServer(cli.metricsAddr, registry)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	mon := monitor.New(client, cfg,
		types.MonitorID(cli.monitorID),
		types.SourceID(cli.sourceID),
		thresholds,
		monitor.WithLogger(logger),
		monitor.WithMetrics(metrics),
		monitor.WithViolationHandler(func(result monitor.MonitorResult) {
			slog.Warn("Threshold violations detected",
				"state", result.StateID,
				"violations", len(result.Violations))
		}))

	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutting down", "signal", sig.String())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return mon.Stop(stopCtx)
}

func buildClient(cfg *config.Config, metrics *metric.Metrics) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithClientName(appName),
		natsclient.WithConnectTimeout(cfg.ConnectTimeout.Std()),
		natsclient.WithReconnectWait(cfg.ReconnectWait.Std()),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithMetrics(metrics),
	}
	if cfg.User != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.User, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	return natsclient.NewClient(cfg.URL, opts...)
}

// loadThresholds prefers the YAML file when given, otherwise falls back
// to the KV store. With -save-thresholds the file content is written to
// the store for other monitors to load.
func loadThresholds(
	ctx context.Context,
	cli *cliConfig,
	client *natsclient.Client,
) (map[types.StateID]threshold.StateThresholds, error) {
	if cli.thresholdsPath != "" {
		thresholds, err := threshold.LoadStateThresholds(cli.thresholdsPath)
		if err != nil {
			return nil, fmt.Errorf("load thresholds file: %w", err)
		}
		if cli.saveThresholds {
			store, err := thresholdstore.Open(ctx, client, thresholdstore.DefaultBucket)
			if err != nil {
				return nil, fmt.Errorf("open threshold store: %w", err)
			}
			for _, st := range thresholds {
				if err := store.Save(ctx, st); err != nil {
					return nil, fmt.Errorf("save thresholds for %s: %w", st.StateID, err)
				}
			}
		}
		return thresholds, nil
	}

	store, err := thresholdstore.Open(ctx, client, thresholdstore.DefaultBucket)
	if err != nil {
		return nil, fmt.Errorf("open threshold store: %w", err)
	}
	thresholds, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load thresholds from store: %w", err)
	}
	return thresholds, nil
}

func startMetricsServer(addr string, registry *metric.MetricsRegistry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return server
}
