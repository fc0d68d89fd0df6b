package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/config"
)

func TestNewValues(t *testing.T) {
	assert.NotNil(t, config.NewValues(nil).Raw())
	assert.Equal(t, "v", config.NewValues(map[string]any{"k": "v"}).Raw()["k"])
}

// TestValuesDuration verifies duration extraction with various input types.
func TestValuesDuration(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want time.Duration
	}{
		{"string duration", map[string]any{"timeout": "30s"}, 30 * time.Second},
		{"complex string", map[string]any{"timeout": "1h30m"}, 90 * time.Minute},
		{"int millis", map[string]any{"timeout": 250}, 250 * time.Millisecond},
		{"float millis", map[string]any{"timeout": 1.5}, 1500 * time.Microsecond},
		{"json number", map[string]any{"timeout": json.Number("5000")}, 5 * time.Second},
		{"duration value", map[string]any{"timeout": 5 * time.Minute}, 5 * time.Minute},
		{"missing", map[string]any{}, 10 * time.Second},
		{"invalid string", map[string]any{"timeout": "soon"}, 10 * time.Second},
		{"wrong type", map[string]any{"timeout": true}, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := config.NewValues(tt.data)
			assert.Equal(t, tt.want, v.Duration("timeout", 10*time.Second))
		})
	}
}

// TestValuesInt verifies integer extraction and precision rules.
func TestValuesInt(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int
	}{
		{"int", 42, 42},
		{"int64", int64(7), 7},
		{"whole float", 3.0, 3},
		{"fractional float", 3.5, -1},
		{"json number", json.Number("12"), 12},
		{"json number fraction", json.Number("1.5"), -1},
		{"string", "12", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := config.NewValues(map[string]any{"n": tt.val})
			assert.Equal(t, tt.want, v.Int("n", -1))
		})
	}
}

func TestValuesFloat(t *testing.T) {
	v := config.NewValues(map[string]any{
		"f":   0.25,
		"i":   2,
		"num": json.Number("1.5"),
		"s":   "x",
	})
	assert.Equal(t, 0.25, v.Float("f", 0))
	assert.Equal(t, 2.0, v.Float("i", 0))
	assert.Equal(t, 1.5, v.Float("num", 0))
	assert.Equal(t, 9.0, v.Float("s", 9))
}

func TestValuesStringAndBool(t *testing.T) {
	v := config.NewValues(map[string]any{"model": "tiny", "stream": true, "n": 1})
	assert.Equal(t, "tiny", v.String("model", "default"))
	assert.Equal(t, "default", v.String("n", "default"))
	assert.True(t, v.Bool("stream", false))
	assert.False(t, v.Bool("model", false))
}

func TestValuesStringSlice(t *testing.T) {
	v := config.NewValues(map[string]any{
		"typed": []string{"a", "b"},
		"any":   []any{"c", "d"},
		"mixed": []any{"e", 1},
	})
	assert.Equal(t, []string{"a", "b"}, v.StringSlice("typed", nil))
	assert.Equal(t, []string{"c", "d"}, v.StringSlice("any", nil))
	assert.Equal(t, []string{"x"}, v.StringSlice("mixed", []string{"x"}))
	assert.Nil(t, v.StringSlice("missing", nil))
}

func TestValuesAnyAndHas(t *testing.T) {
	v := config.NewValues(map[string]any{"k": nil})
	assert.True(t, v.Has("k"))
	assert.Nil(t, v.Any("k", "default"))
	assert.False(t, v.Has("other"))
	assert.Equal(t, "default", v.Any("other", "default"))
}
