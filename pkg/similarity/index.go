package similarity

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/chatmem/chatmem/pkg/log"
	"github.com/chatmem/chatmem/pkg/memory"
)

// Index is an optional in-process vector index over memory summaries. It
// narrows the candidate set before in-process scoring; the similarity engine
// still computes the authoritative scores, so the index complements (not
// replaces) FindSemanticMatches, the same way the store's term pre-filter
// does.
type Index struct {
	collection *chromem.Collection
}

// NewIndex creates an in-memory index with the given collection name.
func NewIndex(collectionName string) (*Index, error) {
	if collectionName == "" {
		collectionName = "memories"
	}

	db := chromem.NewDB()
	// Embeddings are always supplied by the caller, so no embedding func.
	collection, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &Index{collection: collection}, nil
}

// Add indexes a memory under its persisted embedding. Memories without an
// embedding are skipped; they stay reachable through full-corpus scoring.
func (ix *Index) Add(ctx context.Context, mem memory.ChatMemory) error {
	if !mem.HasEmbedding() {
		log.DebugContext(ctx, "Not indexing memory without embedding", "memory_id", mem.ID)
		return nil
	}

	doc := chromem.Document{
		ID:        mem.ID,
		Content:   mem.Summary,
		Embedding: mem.Embedding,
	}
	if err := ix.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Remove drops a memory from the index.
func (ix *Index) Remove(ctx context.Context, memoryID string) error {
	return ix.collection.Delete(ctx, nil, nil, memoryID)
}

// Query returns the IDs of up to n indexed memories closest to the query
// vector, best first.
func (ix *Index) Query(ctx context.Context, queryVec []float32, n int) ([]string, error) {
	// chromem requires nResults <= collection size.
	if count := ix.collection.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := ix.collection.QueryEmbedding(ctx, queryVec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	ids := make([]string, len(results))
	for i, result := range results {
		ids[i] = result.ID
	}
	return ids, nil
}
