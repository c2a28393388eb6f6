// Package hwstreams distributes time-series instrument telemetry over
// NATS JetStream and evaluates it against state-dependent thresholds in
// near-real time.
//
// # Architecture
//
// Producers (hardware drivers, DAQ scanners) publish self-describing
// binary frames; consumers decode them against a content-addressed
// schema and judge each batch under the current environmental state:
//
//	┌──────────────┐   schema + data frames   ┌──────────────┐
//	│   stream     │ ───────────────────────► │   stream     │
//	│  Publisher   │   telemetry.<src>.>      │  Subscriber  │
//	└──────────────┘                          └──────┬───────┘
//	                                                 │
//	┌──────────────┐   state transitions      ┌──────▼───────┐
//	│    state     │ ───────────────────────► │  Telemetry   │
//	│  Publisher   │   telemetry.state        │   Monitor    │
//	└──────────────┘                          └──────┬───────┘
//	                                                 │ verdicts
//	                                    telemetry.monitor.results
//
// A schema's identity is the CRC32 of its field list, so two sources
// sharing a layout share a schema id, and a data frame can always be
// checked against the schema it claims. Data batches carry one base
// timestamp plus a sample period; per-sample timestamps are implicit.
//
// Environmental states describe test conditions (ambient, thermal
// stress, vibration). Transition states mark movement between stable
// conditions; monitors emit SKIP verdicts instead of judging unsettled
// measurements.
//
// # Packages
//
// Core:
//   - wire: binary codec for schema and data frames
//   - threshold: bound checks, per-state threshold sets, YAML loading
//   - stream: schema/data publish and subscribe per source
//   - state: environmental state broadcast and tracking
//   - monitor: state-aware threshold evaluation and result publishing
//
// Infrastructure:
//   - natsclient: NATS connection management with circuit breaker
//   - thresholdstore: per-state thresholds in a NATS KV bucket
//   - config: deployment configuration and subject naming
//   - metric: Prometheus metrics
//   - errors: classified error handling
//   - types: shared identifiers and value types
//
// # Usage
//
// A minimal monitor:
//
//	client, _ := natsclient.NewClient("nats://localhost:4222")
//	client.Connect(ctx)
//
//	cfg := config.Default()
//	thresholds, _ := threshold.LoadStateThresholds("thresholds.yaml")
//
//	mon := monitor.New(client, cfg, "psu-monitor", "daq1", thresholds)
//	mon.Start(ctx)
//
// A minimal producer:
//
//	schema, _ := wire.NewSchema("daq1", []wire.StreamField{
//	    {Name: "voltage", DType: types.F64, Unit: "V"},
//	})
//	pub, _ := stream.NewPublisher(client, cfg, schema)
//	pub.Start(ctx)
//	pub.Publish(ctx, batch)
package hwstreams
