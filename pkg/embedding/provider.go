package embedding

import (
	"context"
	"fmt"

	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/llm"
	"github.com/chatmem/chatmem/pkg/log"
)

// Provider obtains a vector for a text, consulting the bounded cache before
// invoking the external embedding capability.
type Provider struct {
	engine llm.Engine
	cache  *Cache
}

// NewProvider creates a provider backed by the given engine and cache. A nil
// cache gets a default-sized one.
func NewProvider(engine llm.Engine, cache *Cache) *Provider {
	if cache == nil {
		cache = NewCache(0)
	}
	return &Provider{engine: engine, cache: cache}
}

// Embed returns the vector for the text. The text is normalized first so
// identical queries share cache entries. External call failures propagate to
// the caller; the similarity engine uses that signal to apply its keyword
// fallback.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized := Normalize(text)

	if vec, ok := p.cache.Get(normalized); ok {
		log.DebugContext(ctx, "Embedding cache hit", "text_length", len(normalized))
		return vec, nil
	}

	embeddings, err := p.engine.GenerateEmbeddings(ctx, []string{normalized})
	if err != nil {
		return nil, chatmemerrors.Wrap(err, "embed text")
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: provider returned no embedding", chatmemerrors.ErrExternalCall)
	}

	vec := embeddings[0]
	p.cache.Put(normalized, vec)

	log.DebugContext(ctx, "Embedding cache fill",
		"text_length", len(normalized),
		"dimensions", len(vec))

	return vec, nil
}
