package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"labvalidate/internal/embedding"
	"labvalidate/internal/logging"
	"labvalidate/internal/observability"
	"labvalidate/internal/types"
)

// Option configures a store.
type Option func(*options)

type options struct {
	metrics *observability.Metrics
	now     func() time.Time
}

// WithMetrics records fallbacks and embedding failures on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the document timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MemoryStore is an in-process, append-only RetrievalStore. Documents are
// never mutated once appended, so searches rank a snapshot taken under a read
// lock and embedding calls never hold the lock.
type MemoryStore struct {
	engine embedding.EmbeddingEngine
	opts   options

	mu   sync.RWMutex
	docs []types.Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(engine embedding.EmbeddingEngine, opts ...Option) *MemoryStore {
	logging.Retrieval("in-memory store using %s embeddings", engine.Name())
	return &MemoryStore{
		engine: engine,
		opts:   buildOptions(opts),
	}
}

// Insert embeds content and appends the document. The document becomes
// visible to searches in one step, content and vector together.
func (s *MemoryStore) Insert(ctx context.Context, content string, metadata map[string]string) bool {
	vec, err := s.engine.Embed(ctx, content)
	if err != nil || len(vec) == 0 {
		logging.RetrievalWarn("insert skipped, embedding failed: %v", err)
		observability.RecordEmbeddingFailure(ctx, s.opts.metrics, "insert")
		return false
	}

	doc := types.Document{
		ID:        uuid.NewString(),
		Content:   content,
		Metadata:  copyMetadata(metadata),
		Embedding: vec,
		CreatedAt: s.opts.now(),
	}

	s.mu.Lock()
	s.docs = append(s.docs, doc)
	n := len(s.docs)
	s.mu.Unlock()

	logging.RetrievalDebug("inserted document %s (%d chars, total=%d)", doc.ID, len(content), n)
	return true
}

// Search ranks stored documents against query.
func (s *MemoryStore) Search(ctx context.Context, query string, k int) []Match {
	if k <= 0 {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryRetrieval, "MemoryStore.Search")
	defer timer.Stop()

	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		logging.RetrievalWarn("query embedding failed, lexical only: %v", err)
		observability.RecordEmbeddingFailure(ctx, s.opts.metrics, "search")
		queryVec = nil
	}

	s.mu.RLock()
	snapshot := s.docs[:len(s.docs):len(s.docs)]
	s.mu.RUnlock()

	res := rank(snapshot, queryVec, query, k)
	if res.lexical > 0 {
		observability.RecordLexicalFallback(ctx, s.opts.metrics, "memory")
	}
	if res.skipped > 0 {
		logging.RetrievalDebug("skipped %d documents with mismatched dimensions", res.skipped)
	}
	logging.RetrievalDebug("search %q k=%d -> %d matches (%d lexical)", query, k, len(res.matches), res.lexical)
	return res.matches
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Stats reports store statistics.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Backend:         "memory",
		TotalDocuments:  len(s.docs),
		EmbeddingEngine: s.engine.Name(),
	}
	for _, d := range s.docs {
		if len(d.Embedding) > 0 {
			st.WithEmbeddings++
		}
	}
	st.WithoutEmbeddings = st.TotalDocuments - st.WithEmbeddings
	return st
}

// Documents returns a snapshot of all stored documents in insertion order.
func (s *MemoryStore) Documents() []types.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Document, len(s.docs))
	copy(out, s.docs)
	return out
}
