package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/c360/hwstreams/errors"
)

func TestFromTagged_AllVariants(t *testing.T) {
	tests := []struct {
		name   string
		tagged map[string]any
		pass   float64
		fail   float64
	}{
		{"within_tolerance", map[string]any{"within_tolerance": []any{100, 0.05}}, 103, 110},
		{"within_range", map[string]any{"within_range": []any{3.3, 0.3}}, 3.5, 3.7},
		{"within_baseline", map[string]any{"within_baseline": []any{20, 1.0, 0.1}}, 20.5, 25},
		{"less_than", map[string]any{"less_than": 5}, 4, 6},
		{"greater_than", map[string]any{"greater_than": 5}, 6, 4},
		{"good_interval", map[string]any{"good_interval": []any{1, 10}}, 5, 11},
		{"bad_interval", map[string]any{"bad_interval": []any{1, 10}}, 11, 5},
		{"good_values", map[string]any{"good_values": []any{1, 2, 3}}, 2, 9},
		{"bad_values", map[string]any{"bad_values": []any{0}}, 7, 0},
		{"special", map[string]any{"special": "any"}, 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := FromTagged(tt.tagged)
			require.NoError(t, err)
			assert.True(t, check.Check(tt.pass), "expected %v to pass", tt.pass)
			if tt.name != "special" {
				assert.False(t, check.Check(tt.fail), "expected %v to fail", tt.fail)
			}
		})
	}
}

func TestFromTagged_RejectsUnknownTag(t *testing.T) {
	_, err := FromTagged(map[string]any{"between": []any{1, 2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownBoundTag)
}

func TestFromTagged_RejectsMultipleKeys(t *testing.T) {
	_, err := FromTagged(map[string]any{
		"less_than":    5,
		"greater_than": 1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedBound)
}

func TestFromTagged_RejectsEmptyMap(t *testing.T) {
	_, err := FromTagged(map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMalformedBound)
}

func TestFromTagged_RejectsBadArgCounts(t *testing.T) {
	cases := []map[string]any{
		{"within_tolerance": []any{100}},
		{"within_range": []any{1, 2, 3}},
		{"within_baseline": []any{1, 2}},
		{"within_baseline": []any{1, 2, 3, 4, 5}},
		{"good_interval": []any{1}},
		{"less_than": "five"},
		{"special": "sometimes"},
	}
	for _, tagged := range cases {
		_, err := FromTagged(tagged)
		assert.Error(t, err, "tagged form %v", tagged)
	}
}

// A locked baseline serializes its captured value as a fourth argument
// and restores directly into the locked phase.
func TestTagged_RoundTripLockedBaseline(t *testing.T) {
	b, err := NewWithinBaseline(20, 1.0, 0.1)
	require.NoError(t, err)
	require.True(t, b.Check(19.5))

	restored, err := FromTagged(b.Tagged())
	require.NoError(t, err)

	wb, ok := restored.(*WithinBaseline)
	require.True(t, ok)
	assert.True(t, wb.Locked())
	baseline, _ := wb.Baseline()
	assert.Equal(t, 19.5, baseline)
}

func TestTagged_RoundTripAll(t *testing.T) {
	checks := []BoundCheck{
		mustBound(NewWithinTolerance(100, 0.05)),
		mustBound(NewWithinRange(3.3, 0.3)),
		mustBound(NewWithinBaseline(20, 1, 0.1)),
		&LessThan{Limit: 5},
		&GreaterThan{Limit: 5},
		mustBound(NewGoodInterval(1, 10)),
		mustBound(NewBadInterval(1, 10)),
		NewGoodValues(1, 2, 3),
		NewBadValues(0, 255),
		&Special{Kind: "any"},
	}
	for _, check := range checks {
		restored, err := FromTagged(check.Tagged())
		require.NoError(t, err)
		assert.Equal(t, check.Tagged(), restored.Tagged())
	}
}

func TestBound_UnmarshalYAML(t *testing.T) {
	var b Bound
	err := yaml.Unmarshal([]byte(`within_range: [3.3, 0.3]`), &b)
	require.NoError(t, err)

	assert.True(t, b.Check(3.5))
	assert.False(t, b.Check(3.7))
}

func TestBound_UnmarshalYAML_UnknownTag(t *testing.T) {
	var b Bound
	err := yaml.Unmarshal([]byte(`between: [1, 2]`), &b)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownBoundTag)
}

func TestBound_MarshalYAML(t *testing.T) {
	b := Bound{BoundCheck: &LessThan{Limit: 5}}
	out, err := yaml.Marshal(b)
	require.NoError(t, err)

	var restored Bound
	require.NoError(t, yaml.Unmarshal(out, &restored))
	assert.True(t, restored.Check(4))
	assert.False(t, restored.Check(5))
}

func mustBound[T BoundCheck](b T, err error) T {
	if err != nil {
		panic(err)
	}
	return b
}
