// Package engine wires the store, the external LLM capability, the embedding
// provider, the similarity engine and the general-purpose cache into one
// retrieval facade.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatmem/chatmem/pkg/cache"
	"github.com/chatmem/chatmem/pkg/config"
	"github.com/chatmem/chatmem/pkg/embedding"
	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/keyterms"
	"github.com/chatmem/chatmem/pkg/llm"
	"github.com/chatmem/chatmem/pkg/llm/adapters/mock"
	"github.com/chatmem/chatmem/pkg/llm/adapters/openai"
	"github.com/chatmem/chatmem/pkg/log"
	"github.com/chatmem/chatmem/pkg/memory"
	"github.com/chatmem/chatmem/pkg/similarity"
	"github.com/chatmem/chatmem/pkg/store"
)

// Prompts for the derived-text operations. Kept short and imperative; the
// transcript follows as a separate user message.
const (
	summaryPrompt = "Summarize the following conversation in 2-3 sentences. " +
		"Focus on what was discussed and decided, not on pleasantries."
	tagsPrompt = "Suggest up to 5 short lowercase tags for the following " +
		"conversation. Reply with the tags only, comma-separated."
	titlePrompt = "Write a short title (at most 8 words) for the following " +
		"conversation. Reply with the title only."
)

// Engine is the retrieval facade. Construct it explicitly with NewEngine or
// NewEngineFromConfig; there is no package-level instance.
type Engine struct {
	store      *store.Store
	llm        llm.Engine
	provider   *embedding.Provider
	similarity *similarity.Engine
	cache      *cache.Cache
	index      *similarity.Index
	cfg        config.Config
}

// NewEngine assembles a facade from explicitly constructed parts. The index
// may be nil; retrieval then scores the full candidate set.
func NewEngine(s *store.Store, engine llm.Engine, provider *embedding.Provider, sim *similarity.Engine, c *cache.Cache, index *similarity.Index, cfg config.Config) *Engine {
	return &Engine{
		store:      s,
		llm:        engine,
		provider:   provider,
		similarity: sim,
		cache:      c,
		index:      index,
		cfg:        cfg,
	}
}

// NewEngineFromConfig loads the config file, opens and migrates the store and
// wires every component from the resulting configuration. An empty path loads
// defaults.
func NewEngineFromConfig(path string) (*Engine, error) {
	var cfg *config.Config
	var err error
	if path == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	log.Setup(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	})

	s, err := store.Open(cfg.Store.Driver, cfg.Store.DSN, store.Options{
		MaxKeyTerms: cfg.KeyTerms.MaxStoredTerms,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}

	llmEngine, err := buildLLM(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	provider := embedding.NewProvider(llmEngine, embedding.NewCache(cfg.Embedding.CacheSize))
	sim := similarity.NewEngine(provider, s, similarity.Config{
		EmbeddingThreshold: cfg.Similarity.EmbeddingThreshold,
		KeywordThreshold:   cfg.Similarity.KeywordThreshold,
		MaxResults:         cfg.Similarity.MaxResults,
		MaxQueryTerms:      cfg.Similarity.MaxQueryTerms,
	})

	genCache, err := cache.New(cache.Config{
		MaxSize:         cfg.Cache.MaxSize,
		MaxEntries:      cfg.Cache.MaxEntries,
		DefaultTTL:      cfg.Cache.DefaultTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
		Path:            cfg.Cache.Path,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	var index *similarity.Index
	if cfg.Similarity.Index.Enabled {
		index, err = similarity.NewIndex(cfg.Similarity.Index.Collection)
		if err != nil {
			s.Close()
			genCache.Close()
			return nil, err
		}
		if err := seedIndex(ctx, index, s); err != nil {
			log.Warn("Failed to seed candidate index", "error", err)
		}
	}

	return NewEngine(s, llmEngine, provider, sim, genCache, index, *cfg), nil
}

func buildLLM(cfg *config.Config) (llm.Engine, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return openai.NewOpenAIAdapter(openai.Config{
			APIKey:         cfg.LLM.OpenAI.APIKey,
			ChatModel:      cfg.LLM.OpenAI.Model,
			EmbeddingModel: cfg.LLM.OpenAI.EmbeddingModel,
			BaseURL:        cfg.LLM.OpenAI.BaseURL,
		})
	case "mock":
		return mock.NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// seedIndex loads every memory that already carries an embedding into the
// candidate index.
func seedIndex(ctx context.Context, index *similarity.Index, s *store.Store) error {
	memories, err := s.ListMemories(ctx)
	if err != nil {
		return err
	}
	for _, mem := range memories {
		if err := index.Add(ctx, mem); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the store and cache handles.
func (e *Engine) Close() error {
	var firstErr error
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Store exposes the underlying store for direct record management.
func (e *Engine) Store() *store.Store {
	return e.store
}

// CacheStats reports the general-purpose cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// SaveMemory persists a conversation record. Missing key terms are extracted
// from the summary and title first, and the record is added to the candidate
// index when one is configured.
func (e *Engine) SaveMemory(ctx context.Context, mem *memory.ChatMemory) error {
	if len(mem.KeyTerms) == 0 {
		maxTerms := e.cfg.KeyTerms.MaxTerms
		mem.KeyTerms = keyterms.Extract(mem.Title+" "+mem.Summary, maxTerms)
	}

	if err := e.store.CreateMemory(ctx, mem); err != nil {
		return err
	}

	if e.index != nil {
		if err := e.index.Add(ctx, *mem); err != nil {
			log.WarnContext(ctx, "Failed to index memory", "memory_id", mem.ID, "error", err)
		}
	}
	return nil
}

// DeleteMemory removes a record and drops it from the candidate index.
func (e *Engine) DeleteMemory(ctx context.Context, id string) error {
	if err := e.store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if e.index != nil {
		if err := e.index.Remove(ctx, id); err != nil {
			log.WarnContext(ctx, "Failed to unindex memory", "memory_id", id, "error", err)
		}
	}
	return nil
}

// RetrieveContext finds the memories relevant to the query and assembles them
// into an injectable context. Retrieval is an enhancement to the caller's
// prompt building: every failure degrades to an empty injection rather than
// failing the call.
func (e *Engine) RetrieveContext(ctx context.Context, query string) similarity.ContextInjection {
	candidates, err := e.candidates(ctx, query)
	if err != nil {
		log.WarnContext(ctx, "Candidate lookup failed, continuing without context", "error", err)
		return similarity.ContextInjection{OriginalMessage: query}
	}
	if len(candidates) == 0 {
		return similarity.ContextInjection{OriginalMessage: query}
	}

	injection, err := e.similarity.CreateContextInjection(ctx, query, candidates)
	if err != nil {
		// A dimension mismatch means a persisted vector is corrupt; the
		// record needs operator attention, so log loudly before degrading.
		log.ErrorContext(ctx, "Context matching failed", "error", err)
		return similarity.ContextInjection{OriginalMessage: query}
	}
	return injection
}

// candidates returns the memories worth scoring for the query. With a
// configured index the set is narrowed to the index's nearest records plus
// any key-term matches; otherwise the whole corpus is scored.
func (e *Engine) candidates(ctx context.Context, query string) ([]memory.ChatMemory, error) {
	if e.index == nil {
		return e.store.ListMemories(ctx)
	}

	n := e.cfg.Similarity.Index.Candidates
	byID := make(map[string]memory.ChatMemory)

	if queryVec, err := e.provider.Embed(ctx, query); err == nil {
		ids, err := e.index.Query(ctx, queryVec, n)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			mem, err := e.store.GetMemory(ctx, id)
			if err != nil {
				if chatmemerrors.Is(err, chatmemerrors.ErrNotFound) {
					continue // index lags a delete
				}
				return nil, err
			}
			byID[mem.ID] = *mem
		}
	} else {
		log.WarnContext(ctx, "Query embedding failed, candidates come from key terms only", "error", err)
	}

	// Key-term matches keep un-embedded memories reachable.
	terms := keyterms.Extract(query, e.cfg.Similarity.MaxQueryTerms)
	matched, err := e.store.SearchMemoriesByTerms(ctx, terms)
	if err != nil {
		return nil, err
	}
	for _, mem := range matched {
		byID[mem.ID] = mem
	}

	candidates := make([]memory.ChatMemory, 0, len(byID))
	for _, mem := range byID {
		candidates = append(candidates, mem)
	}
	return candidates, nil
}

// GenerateSummary produces (and memoizes) a 2-3 sentence summary of the
// memory's transcript.
func (e *Engine) GenerateSummary(ctx context.Context, memoryID string) (string, error) {
	return e.derivedText(ctx, memoryID, "summary", summaryPrompt)
}

// GenerateChatTitle produces (and memoizes) a short display title for the
// memory's transcript.
func (e *Engine) GenerateChatTitle(ctx context.Context, memoryID string) (string, error) {
	return e.derivedText(ctx, memoryID, "title", titlePrompt)
}

// GenerateTags produces (and memoizes) up to five lowercase tags for the
// memory's transcript.
func (e *Engine) GenerateTags(ctx context.Context, memoryID string) ([]string, error) {
	raw, err := e.derivedText(ctx, memoryID, "tags", tagsPrompt)
	if err != nil {
		return nil, err
	}

	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// derivedText runs one of the fixed prompts over a memory's transcript,
// consulting the cache first. Cache entries are tagged "llm" so they can be
// inspected and invalidated as a group.
func (e *Engine) derivedText(ctx context.Context, memoryID, kind, prompt string) (string, error) {
	cacheKey := "llm:" + kind + ":" + memoryID

	var cached string
	if e.cache.Get(ctx, cacheKey, &cached) {
		return cached, nil
	}

	mem, err := e.store.GetMemory(ctx, memoryID)
	if err != nil {
		return "", err
	}

	completion, err := e.llm.ChatComplete(ctx, []llm.ChatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: transcript(mem)},
	}, e.completionOptions()...)
	if err != nil {
		return "", chatmemerrors.Wrap(err, "generate %s", kind)
	}

	result := strings.TrimSpace(completion.Content)
	e.cache.Set(ctx, cacheKey, result, cache.WithTags("llm", kind))
	return result, nil
}

// completionOptions threads the configured generation knobs into a chat
// completion call. Unset knobs fall through to the adapter defaults.
func (e *Engine) completionOptions() []llm.Option {
	opts := make([]llm.Option, 0, 2)
	if t := e.cfg.LLM.OpenAI.Temperature; t > 0 {
		opts = append(opts, llm.WithTemperature(t))
	}
	if m := e.cfg.LLM.OpenAI.MaxTokens; m > 0 {
		opts = append(opts, llm.WithMaxTokens(m))
	}
	return opts
}

// transcript flattens a memory's messages into a plain-text conversation log.
func transcript(mem *memory.ChatMemory) string {
	var b strings.Builder
	for _, msg := range mem.Messages {
		text := msg.Text()
		if text == "" {
			continue
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

// GetSetting proxies to the store.
func (e *Engine) GetSetting(ctx context.Context, key string) (string, error) {
	return e.store.GetSetting(ctx, key)
}

// SetSetting proxies to the store.
func (e *Engine) SetSetting(ctx context.Context, key, value string) error {
	return e.store.SetSetting(ctx, key, value)
}
