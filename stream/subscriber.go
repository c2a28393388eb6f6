package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/hwstreams/config"
	"github.com/c360/hwstreams/errors"
	"github.com/c360/hwstreams/metric"
	"github.com/c360/hwstreams/pkg/queue"
	"github.com/c360/hwstreams/types"
	"github.com/c360/hwstreams/wire"
)

// Subscriber consumes schema and data frames for a single source. The
// schema cache is set once per subscription: the first schema frame
// wins, later ones are checked against it. Data frames that arrive
// before any schema are dropped; the publisher's periodic rebroadcast
// bounds how long that window lasts.
type Subscriber struct {
	conn     Conn
	cfg      *config.Config
	sourceID types.SourceID
	ownsConn bool
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu         sync.Mutex
	subscribed bool

	schema      atomic.Pointer[wire.StreamSchema]
	schemaReady chan struct{}
	schemaOnce  sync.Once

	pending    *queue.Queue[*wire.StreamData]
	dataCh     chan *wire.StreamData
	pumpDone   chan struct{}
	cancelPump context.CancelFunc
}

// SubscriberOption configures a Subscriber
type SubscriberOption func(*Subscriber)

// WithSubscriberLogger sets the logger
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = logger }
}

// WithSubscriberMetrics wires frame and queue gauges
func WithSubscriberMetrics(m *metric.Metrics) SubscriberOption {
	return func(s *Subscriber) { s.metrics = m }
}

// SubscriberOwnsConnection makes Stop close the connection
func SubscriberOwnsConnection() SubscriberOption {
	return func(s *Subscriber) { s.ownsConn = true }
}

// NewSubscriber creates a subscriber for one source's telemetry
func NewSubscriber(conn Conn, cfg *config.Config, sourceID types.SourceID, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		conn:     conn,
		cfg:      cfg,
		sourceID: sourceID,
		logger:   slog.Default().With("component", "stream.subscriber", "source", sourceID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SourceID returns the source this subscriber follows
func (s *Subscriber) SourceID() types.SourceID {
	return s.sourceID
}

// Subscribe starts consuming the source's schema and data subjects via
// the wildcard. One subscription per Subscriber instance; a second
// Subscribe without an Unsubscribe returns ErrAlreadySubscribed.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	if !s.conn.IsHealthy() {
		return errors.ErrNotConnected
	}

	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		return errors.ErrAlreadySubscribed
	}
	s.subscribed = true
	s.schema.Store(nil)
	s.schemaReady = make(chan struct{})
	s.schemaOnce = sync.Once{}
	s.pending = queue.New[*wire.StreamData]()
	s.dataCh = make(chan *wire.StreamData)
	s.pumpDone = make(chan struct{})
	s.mu.Unlock()

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancelPump = cancel
	go s.pump(pumpCtx)

	subject := s.cfg.SourceWildcard(s.sourceID)
	if err := s.conn.ConsumeStream(ctx, s.cfg.StreamName, subject, s.handleMessage); err != nil {
		cancel()
		<-s.pumpDone
		s.mu.Lock()
		s.subscribed = false
		s.mu.Unlock()
		return errors.WrapTransient(errors.ErrSubscriptionFailed, "Subscriber", "Subscribe", err.Error())
	}

	s.logger.Info("subscribed", "subject", subject)
	return nil
}

// handleMessage demultiplexes one frame on its leading type byte. It
// runs on the broker callback and never blocks; decoded batches go into
// the unbounded pending queue.
func (s *Subscriber) handleMessage(data []byte) {
	if len(data) == 0 {
		s.logger.Warn("dropping empty frame")
		s.countDecodeError("unknown")
		return
	}

	switch data[0] {
	case wire.MsgTypeSchema:
		s.handleSchema(data)
	case wire.MsgTypeData:
		s.handleData(data)
	default:
		s.logger.Warn("dropping frame with unknown type tag", "tag", data[0])
		s.countDecodeError("unknown")
	}
}

func (s *Subscriber) handleSchema(data []byte) {
	schema, err := wire.DecodeSchema(data)
	if err != nil {
		s.logger.Warn("dropping malformed schema frame", "error", err)
		s.countDecodeError("schema")
		return
	}

	if s.metrics != nil {
		s.metrics.FramesReceived.WithLabelValues(string(s.sourceID), "schema").Inc()
	}

	cached := s.schema.Load()
	if cached == nil {
		s.schema.Store(schema)
		s.schemaOnce.Do(func() { close(s.schemaReady) })
		s.logger.Info("schema cached", "schema_id", schema.SchemaID())
		return
	}

	// Rebroadcasts of the same schema are routine. A different id on
	// the same source means a producer changed layout mid-stream; keep
	// the cached schema and say so.
	if cached.SchemaID() != schema.SchemaID() {
		s.logger.Warn("ignoring schema with different id",
			"cached_id", cached.SchemaID(),
			"received_id", schema.SchemaID())
	}
}

func (s *Subscriber) handleData(data []byte) {
	schema := s.schema.Load()
	if schema == nil {
		s.logger.Debug("dropping data frame received before schema")
		return
	}

	batch, err := wire.DecodeData(data, schema)
	if err != nil {
		s.logger.Warn("dropping malformed data frame", "error", err)
		s.countDecodeError("data")
		return
	}

	if s.metrics != nil {
		s.metrics.FramesReceived.WithLabelValues(string(s.sourceID), "data").Inc()
	}

	s.pending.Push(batch)
	if s.metrics != nil {
		s.metrics.DataQueueDepth.WithLabelValues(string(s.sourceID)).Set(float64(s.pending.Len()))
	}
}

func (s *Subscriber) countDecodeError(kind string) {
	if s.metrics != nil {
		s.metrics.DecodeErrors.WithLabelValues(string(s.sourceID), kind).Inc()
	}
}

// pump moves batches from the pending queue onto the delivery channel.
// It is the only sender on the channel and closes it on exit, so a
// consumer ranging over Data() unblocks when Unsubscribe tears down.
func (s *Subscriber) pump(ctx context.Context) {
	out := s.dataCh
	defer close(s.pumpDone)
	defer close(out)
	for {
		batch, ok := s.pending.Pop(ctx)
		if !ok {
			return
		}
		select {
		case out <- batch:
			if s.metrics != nil {
				s.metrics.DataQueueDepth.WithLabelValues(string(s.sourceID)).Set(float64(s.pending.Len()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Schema blocks until the first schema frame arrives, then returns the
// cached schema immediately on every later call. It gives up after the
// configured schema wait timeout or when ctx is cancelled.
func (s *Subscriber) Schema(ctx context.Context) (*wire.StreamSchema, error) {
	if schema := s.schema.Load(); schema != nil {
		return schema, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.SchemaWaitTimeout.Std())
	defer cancel()

	s.mu.Lock()
	ready := s.schemaReady
	s.mu.Unlock()
	if ready == nil {
		return nil, errors.WrapInvalid(errors.ErrNotSubscribed, "Subscriber", "Schema", "wait for schema")
	}

	select {
	case <-ready:
		return s.schema.Load(), nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, errors.WrapTransient(ctx.Err(), "Subscriber", "Schema", "wait for schema")
		}
		return nil, errors.WrapTransient(errors.ErrSchemaTimeout, "Subscriber", "Schema", "wait for schema")
	}
}

// Data returns the channel of decoded data batches, in arrival order.
// The channel is created by Subscribe and closed by Unsubscribe.
func (s *Subscriber) Data() <-chan *wire.StreamData {
	return s.dataCh
}

// QueueDepth reports how many batches are waiting to be consumed
func (s *Subscriber) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return 0
	}
	return s.pending.Len()
}

// Unsubscribe stops the consumer and the delivery pump, clearing the
// schema cache so a later Subscribe starts fresh. Safe to call when not
// subscribed.
func (s *Subscriber) Unsubscribe() {
	s.mu.Lock()
	if !s.subscribed {
		s.mu.Unlock()
		return
	}
	s.subscribed = false
	s.mu.Unlock()

	s.conn.StopConsumer(s.cfg.StreamName, s.cfg.SourceWildcard(s.sourceID))
	s.pending.Close()
	s.cancelPump()
	<-s.pumpDone
	s.schema.Store(nil)
}

// Stop unsubscribes and closes the connection when the subscriber owns it
func (s *Subscriber) Stop(ctx context.Context) error {
	s.Unsubscribe()
	if s.ownsConn {
		return s.conn.Close(ctx)
	}
	return nil
}
