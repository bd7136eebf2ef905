package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labvalidate/internal/types"
)

func TestParseVector(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []float32
		wantErr bool
	}{
		{name: "compact", input: "[1.1,2.2]", want: []float32{1.1, 2.2}},
		{name: "spaces", input: " [ 1.1 , 2.2 ] ", want: []float32{1.1, 2.2}},
		{name: "exponent", input: "[1e-07,-3]", want: []float32{1e-07, -3}},
		{name: "empty array", input: "[]", want: []float32{}},
		{name: "empty column", input: "", want: nil},
		{name: "not an array", input: "not json", wantErr: true},
		{name: "bad element", input: "[1,x]", wantErr: true},
		{name: "unterminated", input: "[1,2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVector(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRankOrdersVectorBeforeLexical(t *testing.T) {
	docs := []types.Document{
		{ID: "a", Content: "carrier state"},
		{ID: "b", Content: "cell count mismatch", Embedding: []float32{0, 1}},
		{ID: "c", Content: "cell setup", Embedding: []float32{1, 0}},
		{ID: "d", Content: "other model", Embedding: []float32{1, 0, 0}},
	}

	res := rank(docs, []float32{1, 0}, "Carrier", 3)
	require.Len(t, res.matches, 3)
	assert.Equal(t, "c", res.matches[0].Document.ID)
	assert.Equal(t, SourceVector, res.matches[0].Source)
	assert.Equal(t, "b", res.matches[1].Document.ID)
	assert.Equal(t, "a", res.matches[2].Document.ID)
	assert.Equal(t, SourceLexical, res.matches[2].Source)
	assert.Equal(t, LexicalScore, res.matches[2].Score)
	assert.Equal(t, 1, res.lexical)
	assert.Equal(t, 1, res.skipped)
}

func TestRankWithoutQueryVector(t *testing.T) {
	docs := []types.Document{
		{ID: "a", Content: "cell setup", Embedding: []float32{1, 0}},
		{ID: "b", Content: "carrier state"},
	}
	res := rank(docs, nil, "state", 5)
	require.Len(t, res.matches, 1)
	assert.Equal(t, "b", res.matches[0].Document.ID)

	assert.Empty(t, rank(docs, []float32{1, 0}, "cell", 0).matches)
	assert.Empty(t, rank(docs, nil, "   ", 5).matches)
}
