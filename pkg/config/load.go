package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvironmentOverrides(&config)

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with all defaults applied, backed by an
// in-memory sqlite store and the mock LLM provider.
func Default() *Config {
	config := &Config{}
	applyEnvironmentOverrides(config)
	if err := validateConfig(config); err != nil {
		// Defaults always validate; reaching here is a programming error.
		panic(err)
	}
	return config
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	// Store DSN override
	if dsn := os.Getenv("CHATMEM_STORE_DSN"); dsn != "" {
		config.Store.DSN = dsn
	}

	// Store driver override
	if driver := os.Getenv("CHATMEM_STORE_DRIVER"); driver != "" {
		config.Store.Driver = driver
	}

	// Persistent cache path override
	if path := os.Getenv("CHATMEM_CACHE_PATH"); path != "" {
		config.Cache.Path = path
	}

	// OpenAI API key override
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.OpenAI.APIKey = apiKey
	}
}

// validateConfig validates the configuration and applies defaults.
func validateConfig(config *Config) error {
	// Validate store configuration
	switch strings.ToLower(config.Store.Driver) {
	case "", "sqlite", "sqlite3":
		config.Store.Driver = "sqlite3"
		if config.Store.DSN == "" {
			config.Store.DSN = ":memory:"
		}
	case "postgres":
		if config.Store.DSN == "" {
			return fmt.Errorf("store DSN is required for postgres driver")
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", config.Store.Driver)
	}

	// Validate LLM configuration
	switch strings.ToLower(config.LLM.Provider) {
	case "openai":
		if config.LLM.OpenAI.Model == "" {
			config.LLM.OpenAI.Model = "gpt-4"
		}
		if config.LLM.OpenAI.EmbeddingModel == "" {
			config.LLM.OpenAI.EmbeddingModel = "text-embedding-3-small"
		}
		if config.LLM.OpenAI.MaxTokens <= 0 {
			config.LLM.OpenAI.MaxTokens = 1024
		}
		if config.LLM.OpenAI.Temperature < 0 || config.LLM.OpenAI.Temperature > 1.0 {
			config.LLM.OpenAI.Temperature = 0.7
		}
	case "mock", "":
		config.LLM.Provider = "mock"
	default:
		return fmt.Errorf("unsupported LLM provider: %s", config.LLM.Provider)
	}

	// Embedding cache defaults
	if config.Embedding.CacheSize <= 0 {
		config.Embedding.CacheSize = 100
	}

	// Similarity defaults
	if config.Similarity.EmbeddingThreshold <= 0 {
		config.Similarity.EmbeddingThreshold = 0.7
	}
	if config.Similarity.KeywordThreshold <= 0 {
		config.Similarity.KeywordThreshold = 0.3
	}
	if config.Similarity.MaxResults <= 0 {
		config.Similarity.MaxResults = 3
	}
	if config.Similarity.MaxQueryTerms <= 0 {
		config.Similarity.MaxQueryTerms = 20
	}
	if config.Similarity.Index.Enabled {
		if config.Similarity.Index.Collection == "" {
			config.Similarity.Index.Collection = "memories"
		}
		if config.Similarity.Index.Candidates <= 0 {
			config.Similarity.Index.Candidates = 20
		}
	}

	// Cache defaults
	if config.Cache.MaxSize <= 0 {
		config.Cache.MaxSize = 50 * 1024 * 1024
	}
	if config.Cache.MaxEntries <= 0 {
		config.Cache.MaxEntries = 1000
	}
	if config.Cache.DefaultTTL <= 0 {
		config.Cache.DefaultTTL = 24 * time.Hour
	}
	if config.Cache.CleanupInterval <= 0 {
		config.Cache.CleanupInterval = time.Hour
	}

	// Key term defaults
	if config.KeyTerms.MaxTerms <= 0 {
		config.KeyTerms.MaxTerms = 10
	}
	if config.KeyTerms.MaxStoredTerms <= 0 {
		config.KeyTerms.MaxStoredTerms = 15
	}

	return nil
}
