package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/hwstreams/metric"
)

// Logger is the interface for client logging
type Logger interface {
	Printf(format string, v ...any)
	Debugf(format string, v ...any)
	Errorf(format string, v ...any)
}

// defaultLogger routes client messages through slog
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", "natsclient")
}

func (l *defaultLogger) Debugf(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "natsclient")
}

func (l *defaultLogger) Errorf(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...), "component", "natsclient")
}

// ClientOption configures a Client
type ClientOption func(*Client) error

// WithLogger sets a custom logger
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithCredentials sets username/password authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS enables TLS with the given certificate files. CA file may be
// empty to use the system pool.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		c.tlsEnabled = true
		c.tlsCertFile = certFile
		c.tlsKeyFile = keyFile
		c.tlsCAFile = caFile
		return nil
	}
}

// WithClientName sets the connection name reported to the server
func WithClientName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithMaxReconnects sets the reconnect attempt limit (-1 for unlimited)
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the wait between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("reconnect wait must be positive, got %v", d)
		}
		c.reconnectWait = d
		return nil
	}
}

// WithConnectTimeout sets the initial connection timeout
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout sets the maximum time Close waits for in-flight
// messages to drain
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", d)
		}
		c.drainTimeout = d
		return nil
	}
}

// WithCircuitThreshold sets the consecutive failure count that opens
// the circuit breaker
func WithCircuitThreshold(n int32) ClientOption {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("circuit threshold must be positive, got %d", n)
		}
		c.circuitThreshold = n
		return nil
	}
}

// WithMaxBackoff caps the circuit breaker backoff duration
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("max backoff must be positive, got %v", d)
		}
		c.maxBackoff = d
		return nil
	}
}

// WithDisconnectHandler registers a callback for disconnect events
func WithDisconnectHandler(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectHandler registers a callback for reconnect events
func WithReconnectHandler(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeHandler registers a callback invoked when connection
// health flips
func WithHealthChangeHandler(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithMetrics wires connection gauges into the given metrics set
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) error {
		if m == nil {
			return fmt.Errorf("metrics cannot be nil")
		}
		c.metrics = &clientMetrics{m: m}
		return nil
	}
}

// clientMetrics translates connection events into prometheus updates.
// A nil receiver is valid and does nothing, so the client never has to
// check whether metrics were configured.
type clientMetrics struct {
	m *metric.Metrics
}

func (cm *clientMetrics) observeStatus(status ConnectionStatus) {
	if cm == nil {
		return
	}
	if status == StatusConnected {
		cm.m.NATSConnected.Set(1)
	} else {
		cm.m.NATSConnected.Set(0)
	}
	if status == StatusCircuitOpen {
		cm.m.NATSCircuitBreaker.Set(1)
	} else {
		cm.m.NATSCircuitBreaker.Set(0)
	}
}

func (cm *clientMetrics) observeReconnect() {
	if cm == nil {
		return
	}
	cm.m.NATSReconnects.Inc()
}
