// Package main implements a telemetry simulator for exercising the
// hwstreams pipeline without hardware. It publishes sine-wave batches
// for one source and, optionally, walks the environment through a
// state cycle so a monitor downstream has transitions to react to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360/hwstreams/config"
	"github.com/c360/hwstreams/natsclient"
	"github.com/c360/hwstreams/state"
	"github.com/c360/hwstreams/stream"
	"github.com/c360/hwstreams/types"
	"github.com/c360/hwstreams/wire"
)

const appName = "hwstreams-sim"

func main() {
	if err := run(); err != nil {
		slog.Error("Simulator failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "Path to JSON config file")
		sourceID    = flag.String("source", "sim_daq", "Source id to publish as")
		sampleHz    = flag.Float64("sample-hz", 100, "Sample rate within a batch")
		batchSize   = flag.Int("batch-size", 10, "Samples per published batch")
		cycleStates = flag.Bool("cycle-states", false, "Cycle ambient/ramp/thermal_stress states")
		logLevel    = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *logLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", appName)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := natsclient.NewClient(cfg.URL,
		natsclient.WithClientName(appName),
		natsclient.WithConnectTimeout(cfg.ConnectTimeout.Std()))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	schema, err := wire.NewSchema(types.SourceID(*sourceID), []wire.StreamField{
		{Name: "voltage", DType: types.F64, Unit: "V"},
		{Name: "current", DType: types.F64, Unit: "A"},
		{Name: "temperature", DType: types.F32, Unit: "degC"},
	})
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	publisher, err := stream.NewPublisher(client, cfg, schema)
	if err != nil {
		return err
	}
	if err := publisher.Start(ctx); err != nil {
		return fmt.Errorf("start publisher: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = publisher.Stop(stopCtx)
	}()

	if *cycleStates {
		go cycleStateLoop(ctx, client, cfg)
	}

	logger.Info("simulator running",
		"source", *sourceID,
		"schema_id", fmt.Sprintf("0x%08x", schema.SchemaID()),
		"sample_hz", *sampleHz)

	return publishLoop(ctx, publisher, schema, *sampleHz, *batchSize)
}

// publishLoop emits one batch per period. Sample timestamps inside a
// batch are spaced at the sample rate so consumers reconstruct the
// original sampling instants.
func publishLoop(ctx context.Context, publisher *stream.Publisher, schema *wire.StreamSchema, sampleHz float64, batchSize int) error {
	periodNs := uint64(float64(time.Second) / sampleHz)
	batchPeriod := time.Duration(periodNs) * time.Duration(batchSize)

	ticker := time.NewTicker(batchPeriod)
	defer ticker.Stop()

	phase := 0.0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			samples := make([][]float64, batchSize)
			for i := range samples {
				phase += 2 * math.Pi / (sampleHz * 5)
				samples[i] = []float64{
					3.3 + 0.1*math.Sin(phase),
					0.5 + 0.05*math.Cos(phase),
					25 + 2*math.Sin(phase/10),
				}
			}
			batch := &wire.StreamData{
				SchemaID:    schema.SchemaID(),
				TimestampNs: uint64(time.Now().UnixNano()) - periodNs*uint64(batchSize),
				PeriodNs:    periodNs,
				Samples:     samples,
			}
			if err := publisher.Publish(ctx, batch); err != nil {
				slog.Warn("publish failed", "error", err)
			}
		}
	}
}

// cycleStateLoop walks ambient -> ramp (transition) -> thermal_stress
// and back, holding each stable state for a while
func cycleStateLoop(ctx context.Context, conn state.Conn, cfg *config.Config) {
	publisher := state.NewPublisher(conn, cfg)
	if err := publisher.Start(ctx); err != nil {
		slog.Warn("state publisher start failed", "error", err)
		return
	}

	states := []state.EnvironmentalState{
		{StateID: "ambient", Name: "Ambient", Description: "Room temperature, no stress"},
		{StateID: "ramp", Name: "Ramp", Description: "Moving between conditions", IsTransition: true},
		{StateID: "thermal_stress", Name: "Thermal Stress", Description: "Elevated temperature"},
		{StateID: "ramp", Name: "Ramp", Description: "Moving between conditions", IsTransition: true},
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	i := 0
	if err := publisher.SetState(ctx, states[0], "Simulation start"); err != nil {
		slog.Warn("state publish failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i = (i + 1) % len(states)
			if err := publisher.SetState(ctx, states[i], "Simulated cycle"); err != nil {
				slog.Warn("state publish failed", "error", err)
			}
		}
	}
}
