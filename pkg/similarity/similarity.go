// Package similarity scores a query against a corpus of summarized memory
// records, using embeddings with a keyword-overlap fallback.
package similarity

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/chatmem/chatmem/pkg/embedding"
	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/keyterms"
	"github.com/chatmem/chatmem/pkg/log"
	"github.com/chatmem/chatmem/pkg/memory"
)

// Default thresholds. Cosine scores on dense embeddings concentrate near
// 0.6-0.9 for topically related text; Jaccard over small term sets runs much
// lower, so the two are calibrated separately and must not be conflated.
const (
	DefaultEmbeddingThreshold = 0.7
	DefaultKeywordThreshold   = 0.3
	DefaultMaxResults         = 3
	DefaultMaxQueryTerms      = 20
)

// SemanticMatch is a scored candidate returned by a search.
type SemanticMatch struct {
	// MemoryID identifies the matched record
	MemoryID string `json:"memory_id"`

	// Score is cosine similarity on the embedding path, Jaccard on the
	// keyword path
	Score float64 `json:"score"`

	// MatchedTerms is the term intersection on the keyword path; the
	// embedding path cannot report matched terms and leaves it empty
	MatchedTerms []string `json:"matched_terms,omitempty"`

	// Summary is the candidate's stored summary
	Summary string `json:"summary"`
}

// Persister writes a lazily computed embedding back onto a memory record,
// amortizing the cost across future searches.
type Persister interface {
	UpdateEmbedding(ctx context.Context, memoryID string, embedding []float32) error
}

// Config holds tuning knobs for the engine.
type Config struct {
	// EmbeddingThreshold is the minimum cosine score kept
	EmbeddingThreshold float64

	// KeywordThreshold is the minimum Jaccard score kept
	KeywordThreshold float64

	// MaxResults caps the returned matches
	MaxResults int

	// MaxQueryTerms caps the terms extracted from the query on the
	// keyword path
	MaxQueryTerms int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		EmbeddingThreshold: DefaultEmbeddingThreshold,
		KeywordThreshold:   DefaultKeywordThreshold,
		MaxResults:         DefaultMaxResults,
		MaxQueryTerms:      DefaultMaxQueryTerms,
	}
}

// Engine ranks memory records against a query.
type Engine struct {
	provider  *embedding.Provider
	persister Persister
	config    Config
}

// NewEngine creates a similarity engine. The persister may be nil, in which
// case lazily computed embeddings are not written back.
func NewEngine(provider *embedding.Provider, persister Persister, config Config) *Engine {
	if config.EmbeddingThreshold <= 0 {
		config.EmbeddingThreshold = DefaultEmbeddingThreshold
	}
	if config.KeywordThreshold <= 0 {
		config.KeywordThreshold = DefaultKeywordThreshold
	}
	if config.MaxResults <= 0 {
		config.MaxResults = DefaultMaxResults
	}
	if config.MaxQueryTerms <= 0 {
		config.MaxQueryTerms = DefaultMaxQueryTerms
	}
	return &Engine{
		provider:  provider,
		persister: persister,
		config:    config,
	}
}

// Cosine computes the cosine similarity dot(a,b)/(|a||b|) of two vectors.
// It is 0 when either norm is 0 and fails when the vectors differ in length;
// a length mismatch indicates a data-integrity bug and is never coerced.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, chatmemerrors.Wrap(chatmemerrors.ErrDimensionMismatch,
			"cosine similarity of %d-d and %d-d vectors", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// FindSemanticMatches scores the candidates against the query via embeddings
// and returns the top matches with score >= threshold, sorted descending.
// A threshold <= 0 selects the configured default. Failure to embed the query
// fails the whole call so the caller can apply the keyword fallback; failure
// to embed a single candidate skips that candidate only.
func (e *Engine) FindSemanticMatches(ctx context.Context, query string, memories []memory.ChatMemory, threshold float64) ([]SemanticMatch, error) {
	if threshold <= 0 {
		threshold = e.config.EmbeddingThreshold
	}

	queryVec, err := e.provider.Embed(ctx, query)
	if err != nil {
		return nil, chatmemerrors.Wrap(err, "embed query")
	}

	matches := make([]SemanticMatch, 0, len(memories))
	for _, mem := range memories {
		vec := mem.Embedding
		if len(vec) == 0 {
			vec, err = e.provider.Embed(ctx, mem.Summary)
			if err != nil {
				log.WarnContext(ctx, "Skipping candidate, embedding failed",
					"memory_id", mem.ID, "error", err)
				continue
			}
			e.persistEmbedding(ctx, mem.ID, vec)
		}

		score, err := Cosine(queryVec, vec)
		if err != nil {
			return nil, chatmemerrors.Wrap(err, "score memory %s", mem.ID)
		}

		if score >= threshold {
			matches = append(matches, SemanticMatch{
				MemoryID: mem.ID,
				Score:    score,
				Summary:  mem.Summary,
			})
		}
	}

	return e.top(matches), nil
}

// FindSemanticMatchesByKeywords scores the candidates by the Jaccard index
// between the query's extracted terms and each candidate's persisted key
// terms. Matches carry the actual term intersection, unlike the embedding
// path. A threshold <= 0 selects the configured default.
func (e *Engine) FindSemanticMatchesByKeywords(ctx context.Context, query string, memories []memory.ChatMemory, threshold float64) []SemanticMatch {
	if threshold <= 0 {
		threshold = e.config.KeywordThreshold
	}

	queryTerms := keyterms.Extract(query, e.config.MaxQueryTerms)
	querySet := make(map[string]struct{}, len(queryTerms))
	for _, term := range queryTerms {
		querySet[term] = struct{}{}
	}

	matches := make([]SemanticMatch, 0, len(memories))
	for _, mem := range memories {
		memSet := make(map[string]struct{}, len(mem.KeyTerms))
		for _, term := range mem.KeyTerms {
			memSet[strings.ToLower(term)] = struct{}{}
		}

		var intersection []string
		for _, term := range queryTerms {
			if _, ok := memSet[term]; ok {
				intersection = append(intersection, term)
			}
		}

		union := len(querySet) + len(memSet) - len(intersection)
		if union == 0 {
			continue
		}

		score := float64(len(intersection)) / float64(union)
		if score >= threshold {
			matches = append(matches, SemanticMatch{
				MemoryID:     mem.ID,
				Score:        score,
				MatchedTerms: intersection,
				Summary:      mem.Summary,
			})
		}
	}

	return e.top(matches)
}

// FindMatches runs the embedding path and falls back to keyword overlap when
// the query embedding cannot be obtained. Per-candidate failures inside the
// embedding path do not trigger the fallback, and a dimension mismatch never
// does: a persisted vector of the wrong length is a data-integrity fault that
// must surface, not be papered over with keyword results.
func (e *Engine) FindMatches(ctx context.Context, query string, memories []memory.ChatMemory) ([]SemanticMatch, error) {
	matches, err := e.FindSemanticMatches(ctx, query, memories, 0)
	if err == nil {
		return matches, nil
	}
	if chatmemerrors.Is(err, chatmemerrors.ErrDimensionMismatch) {
		return nil, err
	}

	log.WarnContext(ctx, "Embedding search failed, falling back to keyword overlap", "error", err)
	return e.FindSemanticMatchesByKeywords(ctx, query, memories, 0), nil
}

// persistEmbedding writes a lazily computed embedding back to the store.
// Best effort: a write failure costs a recomputation on the next search but
// does not fail the current one.
func (e *Engine) persistEmbedding(ctx context.Context, memoryID string, vec []float32) {
	if e.persister == nil {
		return
	}
	if err := e.persister.UpdateEmbedding(ctx, memoryID, vec); err != nil {
		log.WarnContext(ctx, "Failed to persist embedding", "memory_id", memoryID, "error", err)
	}
}

// top sorts matches by score descending and truncates to the configured
// maximum. The sort is stable so candidate order breaks ties.
func (e *Engine) top(matches []SemanticMatch) []SemanticMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > e.config.MaxResults {
		matches = matches[:e.config.MaxResults]
	}
	return matches
}
