// Package stream publishes and consumes binary telemetry frames over
// the JetStream telemetry stream. A publisher carries exactly one
// schema for its lifetime; subscribers demux schema and data frames on
// the leading type byte.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/hwstreams/config"
	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/metric"
	"github.com/c360/hwstreams/wire"
)

// Conn is the broker surface the stream package needs. *natsclient.Client
// satisfies it.
type Conn interface {
	IsHealthy() bool
	EnsureStream(ctx context.Context, name string, subjects ...string) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
	ConsumeStream(ctx context.Context, streamName, subject string, handler func([]byte)) error
	StopConsumer(streamName, subject string)
	Close(ctx context.Context) error
}

// Publisher publishes data frames for a single source. The schema is
// fixed at construction: every data batch must carry the schema's id,
// and the schema frame is rebroadcast periodically so late subscribers
// can decode without replaying the stream.
type Publisher struct {
	conn     Conn
	cfg      *config.Config
	schema   *wire.StreamSchema
	ownsConn bool
	logger   *slog.Logger
	metrics  *metric.Metrics

	schemaFrame   []byte
	dataSubject   string
	schemaSubject string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

// WithPublisherMetrics wires frame counters
func WithPublisherMetrics(m *metric.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// PublisherOwnsConnection makes Stop close the connection
func PublisherOwnsConnection() PublisherOption {
	return func(p *Publisher) { p.ownsConn = true }
}

// NewPublisher creates a publisher bound to one schema. The schema
// frame is encoded once here so Start and the rebroadcast loop reuse
// the same bytes.
func NewPublisher(conn Conn, cfg *config.Config, schema *wire.StreamSchema, opts ...PublisherOption) (*Publisher, error) {
	frame, err := schema.Encode()
	if err != nil {
		return nil, errors.WrapInvalid(err, "Publisher", "NewPublisher", "encode schema")
	}

	p := &Publisher{
		conn:          conn,
		cfg:           cfg,
		schema:        schema,
		schemaFrame:   frame,
		dataSubject:   cfg.DataSubject(schema.SourceID),
		schemaSubject: cfg.SchemaSubject(schema.SourceID),
		logger:        slog.Default().With("component", "stream.publisher", "source", schema.SourceID),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Schema returns the publisher's fixed schema
func (p *Publisher) Schema() *wire.StreamSchema {
	return p.schema
}

// Start ensures the telemetry stream exists, publishes the schema, and
// begins the periodic schema rebroadcast. Calling Start twice is an
// error.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.conn.IsHealthy() {
		return errors.ErrNotConnected
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Publisher", "Start", "already started")
	}
	p.started = true
	p.mu.Unlock()

	if err := p.conn.EnsureStream(ctx, p.cfg.StreamName, p.cfg.StreamWildcard()); err != nil {
		p.reset()
		return errors.WrapTransient(err, "Publisher", "Start", "ensure stream")
	}

	if err := p.PublishSchema(ctx); err != nil {
		p.reset()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.rebroadcastLoop(loopCtx)

	p.logger.Info("publisher started",
		"schema_id", p.schema.SchemaID(),
		"subject", p.dataSubject)
	return nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
}

// rebroadcastLoop republishes the schema frame on a fixed interval so
// subscribers that join mid-stream receive it promptly
func (p *Publisher) rebroadcastLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SchemaPublishInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishSchema(ctx); err != nil {
				p.logger.Warn("schema rebroadcast failed", "error", err)
			}
		}
	}
}

// PublishSchema publishes the schema frame once
func (p *Publisher) PublishSchema(ctx context.Context) error {
	if err := p.conn.PublishToStream(ctx, p.schemaSubject, p.schemaFrame); err != nil {
		return errors.WrapTransient(err, "Publisher", "PublishSchema", "publish schema frame")
	}
	if p.metrics != nil {
		p.metrics.FramesPublished.WithLabelValues(string(p.schema.SourceID), "schema").Inc()
	}
	return nil
}

// Publish encodes and publishes one data batch. The batch's schema id
// must match the publisher's schema; arity and sample count are
// validated during encoding, before anything reaches the broker.
func (p *Publisher) Publish(ctx context.Context, data *wire.StreamData) error {
	if !p.conn.IsHealthy() {
		return errors.ErrNotConnected
	}

	frame, err := data.Encode(p.schema)
	if err != nil {
		return err
	}

	if err := p.conn.PublishToStream(ctx, p.dataSubject, frame); err != nil {
		return errors.WrapTransient(err, "Publisher", "Publish", "publish data frame")
	}

	if p.metrics != nil {
		p.metrics.FramesPublished.WithLabelValues(string(p.schema.SourceID), "data").Inc()
	}
	return nil
}

// Stop halts the rebroadcast loop and, when the publisher owns the
// connection, closes it. Safe to call before Start.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.started = false
	p.mu.Unlock()

	if started && p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}

	if p.ownsConn {
		return p.conn.Close(ctx)
	}
	return nil
}
