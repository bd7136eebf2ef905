package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFloat64(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want float64
		ok   bool
	}{
		{"float", 0.8, 0.8, true},
		{"int", 1, 1, true},
		{"json number", json.Number("0.25"), 0.25, true},
		{"numeric string", " 0.7 ", 0.7, true},
		{"percent string", "85%", 0.85, true},
		{"garbage", "high", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFloat64(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestExtractStringList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ExtractStringList([]interface{}{"a", " ", "b"}))
	assert.Equal(t, []string{"single"}, ExtractStringList("single"))
	assert.Nil(t, ExtractStringList(nil))
	assert.Equal(t, []string{"1"}, ExtractStringList([]interface{}{1.0}))
}

func TestExtractJSONObjectFromProse(t *testing.T) {
	text := "Here is my analysis {not json} and then:\n```json\n{\"outcome\": \"PASS\", \"note\": \"brace } inside\"}\n```\nthanks"
	m, ok := ExtractJSONObject(text)
	require.True(t, ok)
	assert.Equal(t, "PASS", m["outcome"])
	assert.Equal(t, "brace } inside", m["note"])

	_, ok = ExtractJSONObject("no json here")
	assert.False(t, ok)
}

func TestExtractJSONArray(t *testing.T) {
	arr, ok := ExtractJSONArray(`prefix [1, 2] then [{"id": "t1"}, {"id": "t2"}]`)
	require.True(t, ok)
	require.Len(t, arr, 2)
	assert.Equal(t, "t2", arr[1]["id"])
}

func TestExtractTaggedAndFenced(t *testing.T) {
	body, ok := ExtractTagged("x <results>\n[1]\n</results> y", "results")
	require.True(t, ok)
	assert.Equal(t, "[1]", body)

	_, ok = ExtractTagged("<results> unterminated", "results")
	assert.False(t, ok)

	body, ok = ExtractFenced("text\n```json\n{\"a\":1}\n```", "json")
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, body)

	_, ok = ExtractFenced("none", "json")
	assert.False(t, ok)
}

func TestFirstOf(t *testing.T) {
	m := map[string]interface{}{"result": "FAIL", "outcome": nil}
	v, ok := FirstOf(m, "outcome", "result")
	require.True(t, ok)
	assert.Equal(t, "FAIL", v)

	_, ok = FirstOf(m, "missing")
	assert.False(t, ok)
}
