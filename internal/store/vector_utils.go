package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"labvalidate/internal/embedding"
	"labvalidate/internal/types"
)

// rankResult is the outcome of ranking a document snapshot.
type rankResult struct {
	matches []Match
	lexical int // number of lexical matches appended
	skipped int // documents skipped for dimension mismatch
}

// rank scores docs against the query. queryVec may be nil when the query
// could not be embedded; then only the lexical pass runs.
//
// Vector pass: every document with a non-empty embedding of the query's
// dimensionality is scored by cosine similarity, sorted descending (ties keep
// insertion order) and cut to k. Lexical pass: if fewer than k matches
// remain, documents not yet selected whose lowercased content contains any
// lowercased query token are appended in insertion order with LexicalScore.
func rank(docs []types.Document, queryVec []float32, query string, k int) rankResult {
	var res rankResult
	if k <= 0 || len(docs) == 0 {
		return res
	}

	type scored struct {
		idx   int
		score float64
	}

	selected := make(map[int]bool)
	if len(queryVec) > 0 {
		candidates := make([]scored, 0, len(docs))
		for i, doc := range docs {
			if len(doc.Embedding) == 0 {
				continue
			}
			sim, err := embedding.CosineSimilarity(queryVec, doc.Embedding)
			if err != nil {
				res.skipped++
				continue
			}
			candidates = append(candidates, scored{idx: i, score: sim})
		}

		sort.SliceStable(candidates, func(a, b int) bool {
			return candidates[a].score > candidates[b].score
		})
		if len(candidates) > k {
			candidates = candidates[:k]
		}

		for _, c := range candidates {
			selected[c.idx] = true
			res.matches = append(res.matches, Match{
				Document: docs[c.idx],
				Score:    c.score,
				Source:   SourceVector,
			})
		}
	}

	if len(res.matches) >= k {
		return res
	}

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return res
	}

	for i, doc := range docs {
		if len(res.matches) >= k {
			break
		}
		if selected[i] {
			continue
		}
		if containsAny(strings.ToLower(doc.Content), tokens) {
			selected[i] = true
			res.lexical++
			res.matches = append(res.matches, Match{
				Document: doc,
				Score:    LexicalScore,
				Source:   SourceLexical,
			})
		}
	}

	return res
}

// tokenize splits a query on whitespace and lowercases each token.
func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

func containsAny(content string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(content, tok) {
			return true
		}
	}
	return false
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// parseVector decodes a stored embedding column. The column holds a JSON
// array of numbers; parsing it directly avoids reflection on every search.
func parseVector(data string) ([]float32, error) {
	s := strings.TrimSpace(data)
	if s == "" {
		return nil, nil
	}
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("embedding is not a JSON array: %.20q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	vec := make([]float32, 0, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("embedding element %d: %w", i, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
