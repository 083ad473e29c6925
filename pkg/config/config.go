package config

import "time"

// Config represents the top-level configuration for the chatmem engine.
type Config struct {
	// Store configures the persistent memory store
	Store StoreConfig `yaml:"store"`

	// LLM configures the external chat completion / embedding capability
	LLM LLMConfig `yaml:"llm"`

	// Embedding configures the bounded embedding cache
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Similarity configures the semantic matching engine
	Similarity SimilarityConfig `yaml:"similarity"`

	// Cache configures the general-purpose two-tier cache
	Cache CacheConfig `yaml:"cache"`

	// KeyTerms configures key term extraction
	KeyTerms KeyTermsConfig `yaml:"key_terms"`

	// Logging configures the logging behavior
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the persistent memory store.
type StoreConfig struct {
	// Driver is the SQL driver ("sqlite3", "postgres")
	Driver string `yaml:"driver"`

	// DSN is the data source name (file path for sqlite, connection
	// string for postgres)
	DSN string `yaml:"dsn"`
}

// LLMConfig configures the external LLM capability.
type LLMConfig struct {
	// Provider is the LLM provider ("openai", "mock")
	Provider string `yaml:"provider"`

	// OpenAI configures OpenAI integration
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures OpenAI integration.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// Model is the model to use for chat completion
	Model string `yaml:"model"`

	// EmbeddingModel is the model to use for generating embeddings
	EmbeddingModel string `yaml:"embedding_model"`

	// BaseURL overrides the API endpoint (for testing)
	BaseURL string `yaml:"base_url"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls randomness in generation (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
}

// EmbeddingConfig configures the bounded embedding cache.
type EmbeddingConfig struct {
	// CacheSize is the maximum number of cached embeddings; the
	// oldest-inserted entry is evicted once the limit is exceeded
	CacheSize int `yaml:"cache_size"`
}

// SimilarityConfig configures the semantic matching engine.
type SimilarityConfig struct {
	// EmbeddingThreshold is the minimum cosine similarity for a match.
	// Cosine scores on dense embeddings concentrate near 0.6-0.9 for
	// topically related text.
	EmbeddingThreshold float64 `yaml:"embedding_threshold"`

	// KeywordThreshold is the minimum Jaccard score for the keyword
	// fallback. Jaccard over small term sets is naturally lower than
	// cosine, so the two thresholds are calibrated separately.
	KeywordThreshold float64 `yaml:"keyword_threshold"`

	// MaxResults caps the number of matches returned
	MaxResults int `yaml:"max_results"`

	// MaxQueryTerms caps the key terms extracted from the query for the
	// keyword fallback
	MaxQueryTerms int `yaml:"max_query_terms"`

	// Index configures the optional in-process vector candidate index
	Index IndexConfig `yaml:"index"`
}

// IndexConfig configures the optional chromem-go candidate index.
type IndexConfig struct {
	// Enabled turns the candidate index on
	Enabled bool `yaml:"enabled"`

	// Collection is the collection name to use
	Collection string `yaml:"collection"`

	// Candidates is the number of candidates the index narrows to before
	// in-process scoring
	Candidates int `yaml:"candidates"`
}

// CacheConfig configures the general-purpose two-tier cache.
type CacheConfig struct {
	// MaxSize is the total serialized size budget in bytes
	MaxSize int64 `yaml:"max_size"`

	// MaxEntries is the entry count the background sweep trims down to
	MaxEntries int `yaml:"max_entries"`

	// DefaultTTL is applied when Set is called without an explicit TTL
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// CleanupInterval is the period of the background sweep
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Path is the bbolt file backing the persistent tier; empty disables
	// the persistent tier
	Path string `yaml:"path"`
}

// KeyTermsConfig configures key term extraction.
type KeyTermsConfig struct {
	// MaxTerms is the default number of terms extracted from a text
	MaxTerms int `yaml:"max_terms"`

	// MaxStoredTerms caps the key terms persisted on a memory record
	MaxStoredTerms int `yaml:"max_stored_terms"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`

	// Format is the output format ("text", "json")
	Format string `yaml:"format"`
}
