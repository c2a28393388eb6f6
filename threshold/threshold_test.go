package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/hwstreams/types"
)

func TestThreshold_InclusiveBounds(t *testing.T) {
	th := InclusiveThreshold("voltage", 3.0, 3.6)

	assert.True(t, th.Check(3.0))
	assert.True(t, th.Check(3.3))
	assert.True(t, th.Check(3.6))
	assert.False(t, th.Check(2.99))
	assert.False(t, th.Check(3.61))
}

func TestThreshold_ExclusiveBounds(t *testing.T) {
	th := Threshold{
		Channel: "voltage",
		Low:     &ThresholdBound{Value: 3.0, Type: Exclusive},
		High:    &ThresholdBound{Value: 3.6, Type: Exclusive},
	}

	assert.False(t, th.Check(3.0))
	assert.True(t, th.Check(3.01))
	assert.True(t, th.Check(3.59))
	assert.False(t, th.Check(3.6))
}

func TestThreshold_UnboundedSides(t *testing.T) {
	lowOnly := Threshold{
		Channel: "temp",
		Low:     &ThresholdBound{Value: 0, Type: Inclusive},
	}
	assert.True(t, lowOnly.Check(1e9))
	assert.False(t, lowOnly.Check(-0.1))

	highOnly := Threshold{
		Channel: "temp",
		High:    &ThresholdBound{Value: 100, Type: Inclusive},
	}
	assert.True(t, highOnly.Check(-1e9))
	assert.False(t, highOnly.Check(100.1))

	unbounded := Threshold{Channel: "temp"}
	assert.True(t, unbounded.Check(1e300))
	assert.True(t, unbounded.Check(-1e300))
}

func TestStateThresholds_CheckValue(t *testing.T) {
	st := StateThresholds{
		StateID: "ambient",
		Thresholds: map[types.ChannelID]Threshold{
			"voltage": InclusiveThreshold("voltage", 3.0, 3.6),
		},
	}

	ok, defined := st.CheckValue("voltage", 3.3)
	assert.True(t, ok)
	assert.True(t, defined)

	ok, defined = st.CheckValue("voltage", 4.0)
	assert.False(t, ok)
	assert.True(t, defined)

	_, defined = st.CheckValue("current", 100)
	assert.False(t, defined)
}

func TestStateThresholds_BytesRoundTrip(t *testing.T) {
	st := StateThresholds{
		StateID: "thermal_stress",
		Thresholds: map[types.ChannelID]Threshold{
			"voltage": InclusiveThreshold("voltage", 2.8, 3.8),
			"temp": {
				Channel: "temp",
				High:    &ThresholdBound{Value: 85, Type: Exclusive},
			},
		},
	}

	data, err := st.ToBytes()
	require.NoError(t, err)

	restored, err := StateThresholdsFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, st, restored)
}

func TestStateThresholdsFromBytes_RejectsMissingStateID(t *testing.T) {
	_, err := StateThresholdsFromBytes([]byte(`{"thresholds":{}}`))
	assert.Error(t, err)

	_, err = StateThresholdsFromBytes([]byte(`not json`))
	assert.Error(t, err)
}
