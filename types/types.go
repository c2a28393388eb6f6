// Package types provides the foundational identifiers and value types
// shared across hwstreams packages: source/channel/state/monitor ids, the
// wire data type enumeration, nanosecond timestamps, and telemetry values.
package types

import (
	"fmt"
	"time"
)

// SourceID identifies a data source (an instrument or sensor).
type SourceID string

// ChannelID identifies a measurement channel within a source.
type ChannelID string

// StateID identifies an environmental state.
type StateID string

// MonitorID identifies a telemetry monitor.
type MonitorID string

// DataType is a wire type code for the binary streaming protocol. The
// code values and byte widths are part of the compatibility surface and
// must match existing producers and consumers.
type DataType uint8

// Wire type codes.
const (
	I8  DataType = 0x01
	I16 DataType = 0x02
	I32 DataType = 0x03
	I64 DataType = 0x04
	U8  DataType = 0x05
	U16 DataType = 0x06
	U32 DataType = 0x07
	U64 DataType = 0x08
	F32 DataType = 0x09
	F64 DataType = 0x0A
)

// Size returns the fixed byte width of the type, or 0 for an unknown code.
func (d DataType) Size() int {
	switch d {
	case I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32, F32:
		return 4
	case I64, U64, F64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether d is a known wire type code.
func (d DataType) Valid() bool {
	return d.Size() != 0
}

// IsFloat reports whether d is a floating point type.
func (d DataType) IsFloat() bool {
	return d == F32 || d == F64
}

// IsSigned reports whether d is a signed integer type.
func (d DataType) IsSigned() bool {
	switch d {
	case I8, I16, I32, I64:
		return true
	default:
		return false
	}
}

// String returns the protocol name of the type.
func (d DataType) String() string {
	switch d {
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(d))
	}
}

// Timestamp is a nanosecond Unix timestamp with source tracking. The
// source records where the clock reading originated ("local", "ntp",
// "ptp", "stream").
type Timestamp struct {
	UnixNs int64  `json:"unix_ns"`
	Source string `json:"source"`
}

// Now returns a timestamp for the current local clock.
func Now() Timestamp {
	return Timestamp{UnixNs: time.Now().UnixNano(), Source: "local"}
}

// NewTimestamp builds a timestamp from a nanosecond reading and source.
func NewTimestamp(unixNs int64, source string) Timestamp {
	if source == "" {
		source = "local"
	}
	return Timestamp{UnixNs: unixNs, Source: source}
}

// Time converts to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, t.UnixNs).UTC()
}

// UnixMs returns milliseconds since the Unix epoch, truncated.
func (t Timestamp) UnixMs() int64 {
	return t.UnixNs / int64(time.Millisecond)
}

// Quality indicates the trustworthiness of a measurement value.
type Quality string

// Quality levels.
const (
	QualityGood      Quality = "good"
	QualityUncertain Quality = "uncertain"
	QualityBad       Quality = "bad"
	QualityStale     Quality = "stale"
)

// TelemetryValue is a single measurement with metadata, derived per
// (sample, field) pair when a stream batch is unpacked against its schema.
type TelemetryValue struct {
	Channel          ChannelID  `json:"channel"`
	Value            float64    `json:"value"`
	Unit             string     `json:"unit"`
	SourceTimestamp  Timestamp  `json:"source_timestamp"`
	PublishTimestamp *Timestamp `json:"publish_timestamp,omitempty"`
	Quality          Quality    `json:"quality"`
}
