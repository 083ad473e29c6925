package embedding

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/llm/adapters/mock"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello World \n"))
	assert.Equal(t, "", Normalize("   "))
}

func TestCachePutGet(t *testing.T) {
	c := NewCache(10)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("key", []float32{1, 2, 3})
	vec, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func TestCacheEvictsOldestInserted(t *testing.T) {
	c := NewCache(3)

	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("c", []float32{3})

	// Access "a" so a true LRU would keep it; insertion order must not care.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", []float32{4})

	_, ok = c.Get("a")
	assert.False(t, ok, "oldest-inserted entry should be evicted")
	for _, key := range []string{"b", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "entry %q should survive", key)
	}
	assert.Equal(t, 3, c.Len())
}

func TestCacheReplaceKeepsPosition(t *testing.T) {
	c := NewCache(2)

	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("a", []float32{9})

	// "a" keeps its original slot, so it is still the eviction candidate.
	c.Put("c", []float32{3})

	_, ok := c.Get("a")
	assert.False(t, ok)
	vec, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, []float32{2}, vec)
}

func TestProviderCachesResults(t *testing.T) {
	engine := mock.NewMockEngine()
	engine.AddEmbedding("python", []float32{0.9, 0.1, 0.0})

	provider := NewProvider(engine, NewCache(10))

	vec, err := provider.Embed(context.Background(), "  Python  ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.9, 0.1, 0.0}, vec)

	// Second call with different whitespace/case hits the cache.
	vec2, err := provider.Embed(context.Background(), "PYTHON")
	require.NoError(t, err)
	assert.Equal(t, vec, vec2)

	calls := engine.GetCallHistory()
	assert.Len(t, calls, 1, "external capability should be invoked once")
}

func TestProviderPropagatesFailure(t *testing.T) {
	engine := mock.NewMockEngine(mock.WithShouldError(true))
	provider := NewProvider(engine, nil)

	_, err := provider.Embed(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, chatmemerrors.Is(err, chatmemerrors.ErrExternalCall),
		fmt.Sprintf("expected external call failure, got %v", err))
}
