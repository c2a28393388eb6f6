package threshold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/hwstreams/types"
)

func writeThresholdsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadStateThresholds_LowHighForm(t *testing.T) {
	path := writeThresholdsFile(t, `
states:
  ambient:
    voltage:
      low: 3.0
      high: {value: 3.6, bound_type: inclusive}
    temp:
      high: {value: 85, bound_type: exclusive}
`)

	thresholds, err := LoadStateThresholds(path)
	require.NoError(t, err)
	require.Len(t, thresholds, 1)

	ambient := thresholds["ambient"]
	assert.Equal(t, types.StateID("ambient"), ambient.StateID)
	require.Len(t, ambient.Thresholds, 2)

	voltage := ambient.Thresholds["voltage"]
	assert.Equal(t, types.ChannelID("voltage"), voltage.Channel)
	assert.True(t, voltage.Check(3.0))
	assert.True(t, voltage.Check(3.6))
	assert.False(t, voltage.Check(3.7))

	temp := ambient.Thresholds["temp"]
	assert.Nil(t, temp.Low)
	assert.True(t, temp.Check(84.9))
	assert.False(t, temp.Check(85))
}

func TestLoadStateThresholds_TaggedForms(t *testing.T) {
	path := writeThresholdsFile(t, `
states:
  thermal_stress:
    voltage:
      within_range: [3.3, 0.5]
    current:
      less_than: 5.0
    rpm:
      greater_than: 100
    pressure:
      within_tolerance: [100, 0.05]
    humidity:
      good_interval: [20, 80]
`)

	thresholds, err := LoadStateThresholds(path)
	require.NoError(t, err)
	st := thresholds["thermal_stress"]

	assert.True(t, st.Thresholds["voltage"].Check(3.8))
	assert.False(t, st.Thresholds["voltage"].Check(3.81))

	assert.True(t, st.Thresholds["current"].Check(4.99))
	assert.False(t, st.Thresholds["current"].Check(5.0))

	assert.True(t, st.Thresholds["rpm"].Check(101))
	assert.False(t, st.Thresholds["rpm"].Check(100))

	assert.True(t, st.Thresholds["pressure"].Check(95))
	assert.False(t, st.Thresholds["pressure"].Check(94))

	assert.True(t, st.Thresholds["humidity"].Check(20))
	assert.False(t, st.Thresholds["humidity"].Check(19))
}

func TestLoadStateThresholds_MultipleStates(t *testing.T) {
	path := writeThresholdsFile(t, `
states:
  ambient:
    voltage:
      low: 3.0
      high: 3.6
  thermal_stress:
    voltage:
      low: 2.8
      high: 3.8
`)

	thresholds, err := LoadStateThresholds(path)
	require.NoError(t, err)
	require.Len(t, thresholds, 2)

	assert.False(t, thresholds["ambient"].Thresholds["voltage"].Check(3.7))
	assert.True(t, thresholds["thermal_stress"].Thresholds["voltage"].Check(3.7))
}

func TestLoadStateThresholds_RejectsStatefulForms(t *testing.T) {
	path := writeThresholdsFile(t, `
states:
  ambient:
    voltage:
      within_baseline: [20, 1.0, 0.1]
`)

	_, err := LoadStateThresholds(path)
	assert.Error(t, err)
}

func TestLoadStateThresholds_RejectsBadInput(t *testing.T) {
	for name, content := range map[string]string{
		"empty":          ``,
		"no states":      `states: {}`,
		"bad bound_type": "states:\n  a:\n    v:\n      low: {value: 1, bound_type: sideways}",
		"unknown tag":    "states:\n  a:\n    v:\n      between: [1, 2]",
	} {
		path := writeThresholdsFile(t, content)
		_, err := LoadStateThresholds(path)
		assert.Error(t, err, name)
	}
}

func TestLoadStateThresholds_MissingFile(t *testing.T) {
	_, err := LoadStateThresholds(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
