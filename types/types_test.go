package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataType_Size(t *testing.T) {
	assert.Equal(t, 1, I8.Size())
	assert.Equal(t, 1, U8.Size())
	assert.Equal(t, 2, I16.Size())
	assert.Equal(t, 2, U16.Size())
	assert.Equal(t, 4, I32.Size())
	assert.Equal(t, 4, U32.Size())
	assert.Equal(t, 4, F32.Size())
	assert.Equal(t, 8, I64.Size())
	assert.Equal(t, 8, U64.Size())
	assert.Equal(t, 8, F64.Size())
	assert.Equal(t, 0, DataType(0x00).Size())
	assert.Equal(t, 0, DataType(0x0B).Size())
}

func TestDataType_Predicates(t *testing.T) {
	assert.True(t, F32.IsFloat())
	assert.True(t, F64.IsFloat())
	assert.False(t, I64.IsFloat())

	assert.True(t, I8.IsSigned())
	assert.True(t, I64.IsSigned())
	assert.False(t, U8.IsSigned())
	assert.False(t, F64.IsSigned())

	assert.True(t, I8.Valid())
	assert.False(t, DataType(0xFF).Valid())
}

func TestDataType_String(t *testing.T) {
	assert.Equal(t, "f64", F64.String())
	assert.Equal(t, "u16", U16.String())
	assert.Equal(t, "unknown(0xff)", DataType(0xFF).String())
}

func TestTimestamp(t *testing.T) {
	before := time.Now().UnixNano()
	ts := Now()
	after := time.Now().UnixNano()

	assert.GreaterOrEqual(t, ts.UnixNs, before)
	assert.LessOrEqual(t, ts.UnixNs, after)
	assert.Equal(t, "local", ts.Source)
}

func TestNewTimestamp(t *testing.T) {
	ts := NewTimestamp(1_500_000_000, "stream")
	assert.Equal(t, int64(1_500_000_000), ts.UnixNs)
	assert.Equal(t, "stream", ts.Source)
	assert.Equal(t, int64(1500), ts.UnixMs())
	assert.Equal(t, time.Unix(1, 500_000_000).UTC(), ts.Time())

	// Empty source defaults to the local clock label.
	assert.Equal(t, "local", NewTimestamp(0, "").Source)
}

func TestTelemetryValue_JSON(t *testing.T) {
	v := TelemetryValue{
		Channel:         "voltage",
		Value:           3.3,
		Unit:            "V",
		SourceTimestamp: NewTimestamp(123456789, "stream"),
		Quality:         QualityGood,
	}

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "publish_timestamp")

	var restored TelemetryValue
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, v, restored)
}
