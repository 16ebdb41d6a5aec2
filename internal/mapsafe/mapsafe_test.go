package mapsafe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	m := map[string]any{
		"int":     7,
		"float":   1.5,
		"string":  "onnx/model.onnx",
		"bool":    true,
		"strings": []any{"a", "b"},
		"mixed":   []any{"a", 1},
	}

	assert.Equal(t, 7, Get(m, "int", 0))
	assert.Equal(t, 1, Get(m, "float", 0))
	assert.InDelta(t, 7.0, Get(m, "int", 0.0), 1e-9)
	assert.Equal(t, float32(1.5), Get(m, "float", float32(0)))
	assert.Equal(t, "onnx/model.onnx", Get(m, "string", ""))
	assert.True(t, Get(m, "bool", false))
	assert.Equal(t, []string{"a", "b"}, Get(m, "strings", []string(nil)))
	assert.Equal(t, []string{"x"}, Get(m, "mixed", []string{"x"}))
}

func TestGet_Fallbacks(t *testing.T) {
	m := map[string]any{"string": 3}

	assert.Equal(t, "default", Get(m, "string", "default"))
	assert.Equal(t, 42, Get(m, "missing", 42))
	assert.Equal(t, 42, Get[int](nil, "missing", 42))
}
