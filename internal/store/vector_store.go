// Package store holds the retrieval stores used for knowledge lookups.
// Two implementations share one ranking routine: an in-memory store for
// single-process runs and a SQLite-backed store that persists documents.
package store

import (
	"context"

	"labvalidate/internal/types"
)

// LexicalScore is assigned to lexical fallback matches. It sits below the
// cosine range [-1, 1] so lexical matches always rank after vector matches.
const LexicalScore = -2.0

// MatchSource tells where a match came from.
type MatchSource string

const (
	SourceVector  MatchSource = "vector"
	SourceLexical MatchSource = "lexical"
)

// Match is one search hit.
type Match struct {
	Document types.Document `json:"document"`
	Score    float64        `json:"score"`
	Source   MatchSource    `json:"source"`
}

// RetrievalStore is an append-only document store with semantic search.
// Implementations never surface embedding failures to callers: Insert reports
// false and Search degrades to lexical matching.
type RetrievalStore interface {
	// Insert embeds content and appends it. Returns false when embedding
	// failed and nothing was stored.
	Insert(ctx context.Context, content string, metadata map[string]string) bool

	// Search returns at most k matches: cosine-ranked vector matches first,
	// then lexical matches in discovery order.
	Search(ctx context.Context, query string, k int) []Match

	// Len returns the number of stored documents.
	Len() int

	// Stats reports store statistics.
	Stats() Stats
}

// Stats summarizes a store.
type Stats struct {
	Backend           string `json:"backend"`
	TotalDocuments    int    `json:"total_documents"`
	WithEmbeddings    int    `json:"with_embeddings"`
	WithoutEmbeddings int    `json:"without_embeddings"`
	EmbeddingEngine   string `json:"embedding_engine"`
}
