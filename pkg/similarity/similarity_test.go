package similarity

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmem/chatmem/pkg/embedding"
	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/llm"
	"github.com/chatmem/chatmem/pkg/llm/adapters/mock"
	"github.com/chatmem/chatmem/pkg/memory"
)

// stubEngine lets tests fail embedding generation for specific texts.
type stubEngine struct {
	vectors  map[string][]float32
	failFor  map[string]bool
	failAll  bool
	fallback []float32
}

func (s *stubEngine) ChatComplete(ctx context.Context, messages []llm.ChatMessage, opts ...llm.Option) (llm.Completion, error) {
	return llm.Completion{Content: "stub"}, nil
}

func (s *stubEngine) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if s.failAll {
		return nil, fmt.Errorf("%w: stub failure", chatmemerrors.ErrExternalCall)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if s.failFor[text] {
			return nil, fmt.Errorf("%w: stub failure for %q", chatmemerrors.ErrExternalCall, text)
		}
		if vec, ok := s.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = s.fallback
		}
	}
	return out, nil
}

// recordingPersister records embedding write-backs.
type recordingPersister struct {
	saved map[string][]float32
	err   error
}

func (p *recordingPersister) UpdateEmbedding(ctx context.Context, memoryID string, vec []float32) error {
	if p.err != nil {
		return p.err
	}
	if p.saved == nil {
		p.saved = make(map[string][]float32)
	}
	p.saved[memoryID] = vec
	return nil
}

func newTestEngine(eng llm.Engine, persister Persister) *Engine {
	provider := embedding.NewProvider(eng, embedding.NewCache(0))
	return NewEngine(provider, persister, DefaultConfig())
}

func TestCosineProperties(t *testing.T) {
	a := []float32{0.5, 0.2, 0.8}
	b := []float32{0.1, 0.9, 0.3}

	self, err := Cosine(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, self, 1e-6)

	ab, err := Cosine(a, b)
	require.NoError(t, err)
	ba, err := Cosine(b, a)
	require.NoError(t, err)
	assert.InDelta(t, ab, ba, 1e-9)

	zero := []float32{0, 0, 0}
	score, err := Cosine(a, zero)
	require.NoError(t, err)
	assert.Zero(t, score)
	score, err = Cosine(zero, zero)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)
	assert.True(t, chatmemerrors.Is(err, chatmemerrors.ErrDimensionMismatch))
}

func TestFindSemanticMatchesRanksAndTruncates(t *testing.T) {
	eng := mock.NewMockEngine()
	eng.AddEmbedding("query", []float32{1, 0, 0})

	memories := []memory.ChatMemory{
		{ID: "m1", Summary: "s1", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "m2", Summary: "s2", Embedding: []float32{0, 1, 0}},       // orthogonal, below threshold
		{ID: "m3", Summary: "s3", Embedding: []float32{1, 0, 0}},       // exact
		{ID: "m4", Summary: "s4", Embedding: []float32{0.8, 0.2, 0.1}}, // close
		{ID: "m5", Summary: "s5", Embedding: []float32{0.75, 0.3, 0.2}},
	}

	e := newTestEngine(eng, nil)
	matches, err := e.FindSemanticMatches(context.Background(), "query", memories, 0.7)
	require.NoError(t, err)

	require.Len(t, matches, 3, "results are truncated to top 3")
	assert.Equal(t, "m3", matches[0].MemoryID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	for _, match := range matches {
		assert.NotEqual(t, "m2", match.MemoryID)
		assert.Empty(t, match.MatchedTerms, "embedding path reports no matched terms")
	}
}

func TestFindSemanticMatchesPersistsLazyEmbeddings(t *testing.T) {
	eng := mock.NewMockEngine()
	eng.AddEmbedding("query", []float32{1, 0, 0})
	eng.AddEmbedding("rust borrow checker", []float32{0.9, 0.1, 0})

	persister := &recordingPersister{}
	e := newTestEngine(eng, persister)

	memories := []memory.ChatMemory{
		{ID: "m1", Summary: "rust borrow checker"},
	}

	matches, err := e.FindSemanticMatches(context.Background(), "query", memories, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	saved, ok := persister.saved["m1"]
	require.True(t, ok, "computed embedding should be written back")
	assert.Equal(t, []float32{0.9, 0.1, 0}, saved)
}

func TestFindSemanticMatchesSkipsFailedCandidate(t *testing.T) {
	eng := &stubEngine{
		vectors: map[string][]float32{
			"query": {1, 0, 0},
			"good":  {1, 0, 0},
		},
		failFor: map[string]bool{"bad": true},
	}

	e := newTestEngine(eng, nil)
	memories := []memory.ChatMemory{
		{ID: "m1", Summary: "bad"},
		{ID: "m2", Summary: "good"},
	}

	matches, err := e.FindSemanticMatches(context.Background(), "query", memories, 0)
	require.NoError(t, err, "per-candidate failure is non-fatal")
	require.Len(t, matches, 1)
	assert.Equal(t, "m2", matches[0].MemoryID)
}

func TestFindSemanticMatchesQueryFailurePropagates(t *testing.T) {
	eng := &stubEngine{failAll: true}
	e := newTestEngine(eng, nil)

	_, err := e.FindSemanticMatches(context.Background(), "query", nil, 0)
	require.Error(t, err)
	assert.True(t, chatmemerrors.Is(err, chatmemerrors.ErrExternalCall))
}

func TestKeywordFallbackReportsMatchedTerms(t *testing.T) {
	eng := mock.NewMockEngine(mock.WithShouldError(true))
	e := newTestEngine(eng, nil)

	memories := []memory.ChatMemory{
		{ID: "py", Summary: "Python API error debugging", KeyTerms: []string{"python", "api", "error"}},
		{ID: "rn", Summary: "React Native UI layout", KeyTerms: []string{"react", "native", "ui"}},
	}

	matches := e.FindSemanticMatchesByKeywords(context.Background(), "I have a python api bug", memories, 0.2)

	require.Len(t, matches, 1)
	assert.Equal(t, "py", matches[0].MemoryID)
	assert.Contains(t, matches[0].MatchedTerms, "python")
	assert.Contains(t, matches[0].MatchedTerms, "api")
	assert.Greater(t, matches[0].Score, 0.0)
}

func TestFindMatchesFallsBackOnEmbeddingFailure(t *testing.T) {
	eng := mock.NewMockEngine(mock.WithShouldError(true))
	e := newTestEngine(eng, nil)

	memories := []memory.ChatMemory{
		{ID: "py", Summary: "Python API error debugging", KeyTerms: []string{"python", "api", "error", "bug"}},
	}

	matches, err := e.FindMatches(context.Background(), "debugging a python api bug", memories)
	require.NoError(t, err)

	require.NotEmpty(t, matches, "fallback path should produce results")
	for _, match := range matches {
		if match.Score > 0 {
			assert.NotEmpty(t, match.MatchedTerms,
				"fallback matches with positive score carry matched terms")
		}
	}
}

func TestCreateContextInjection(t *testing.T) {
	eng := mock.NewMockEngine()
	eng.AddEmbedding("kubernetes", []float32{1, 0, 0})
	eng.SetDefaultEmbedding([]float32{0.95, 0.05, 0})

	e := newTestEngine(eng, nil)
	memories := []memory.ChatMemory{
		{ID: "m1", Summary: "Debugging kubernetes ingress", Embedding: []float32{0.9, 0.1, 0}},
	}

	injection, err := e.CreateContextInjection(context.Background(), "kubernetes ingress broken", memories)
	require.NoError(t, err)

	assert.Equal(t, "kubernetes ingress broken", injection.OriginalMessage)
	require.Len(t, injection.InjectedContext, 1)
	assert.Equal(t, "Previous conversation context: Debugging kubernetes ingress", injection.InjectedContext[0])
	require.Len(t, injection.RelevantMemories, 1)
	assert.Equal(t, "m1", injection.RelevantMemories[0].MemoryID)
}

func TestCreateContextInjectionEmptyOnNoMatches(t *testing.T) {
	eng := mock.NewMockEngine(mock.WithShouldError(true))
	e := newTestEngine(eng, nil)

	injection, err := e.CreateContextInjection(context.Background(), "totally unrelated", []memory.ChatMemory{
		{ID: "m1", Summary: "something else", KeyTerms: []string{"golang", "channels"}},
	})
	require.NoError(t, err)

	assert.Empty(t, injection.InjectedContext)
	assert.Empty(t, injection.RelevantMemories)
}

func TestFindMatchesDimensionMismatchIsFatal(t *testing.T) {
	eng := mock.NewMockEngine()
	eng.AddEmbedding("python", []float32{1, 0, 0})

	e := newTestEngine(eng, nil)

	// The candidate's key terms overlap the query, so a silent keyword
	// fallback would produce a plausible-looking match and hide the corrupt
	// two-dimensional persisted vector.
	memories := []memory.ChatMemory{
		{
			ID:        "py",
			Summary:   "Python API error debugging",
			Embedding: []float32{1, 0},
			KeyTerms:  []string{"python", "api", "bug"},
		},
	}

	matches, err := e.FindMatches(context.Background(), "python api bug", memories)
	require.Error(t, err)
	assert.True(t, chatmemerrors.Is(err, chatmemerrors.ErrDimensionMismatch))
	assert.Empty(t, matches, "a data-integrity fault must not yield fallback results")

	injection, err := e.CreateContextInjection(context.Background(), "python api bug", memories)
	require.Error(t, err)
	assert.True(t, chatmemerrors.Is(err, chatmemerrors.ErrDimensionMismatch))
	assert.Empty(t, injection.RelevantMemories)
	assert.Equal(t, "python api bug", injection.OriginalMessage)
}

func TestIndexNarrowsCandidates(t *testing.T) {
	ix, err := NewIndex("test_memories")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ix.Add(ctx, memory.ChatMemory{
		ID: "m1", Summary: "python api", Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, ix.Add(ctx, memory.ChatMemory{
		ID: "m2", Summary: "react ui", Embedding: []float32{0, 1, 0},
	}))
	// No embedding: skipped, not an error.
	require.NoError(t, ix.Add(ctx, memory.ChatMemory{ID: "m3", Summary: "no vector"}))

	ids, err := ix.Query(ctx, []float32{0.9, 0.1, 0}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	assert.Equal(t, "m1", ids[0])
}
