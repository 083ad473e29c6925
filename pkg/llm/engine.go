// Package llm defines the boundary to the externally supplied chat
// completion and embedding capabilities. The engine consumes these; it does
// not implement them.
package llm

import (
	"context"
)

// ChatMessage is a single message in a chat completion request.
type ChatMessage struct {
	// Role is "user", "assistant" or "system"
	Role string

	// Content is the message text
	Content string
}

// Completion is the result of a chat completion call.
type Completion struct {
	// Content is the generated text
	Content string

	// Thinking is the optional reasoning trace; nil when the provider
	// returns none
	Thinking *string
}

// Option is a function that configures a completion request.
type Option func(*Options)

// Options holds configuration for a completion request.
type Options struct {
	// Temperature controls randomness in generation (0.0-1.0)
	Temperature float64

	// MaxTokens limits the length of the generated response
	MaxTokens int

	// Model specifies which model variant to use
	Model string
}

// DefaultOptions returns default completion options.
func DefaultOptions() Options {
	return Options{
		Temperature: 0.7,
		MaxTokens:   1024,
		Model:       "", // Empty means use the adapter's default
	}
}

// WithTemperature sets the temperature option.
func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

// WithMaxTokens sets the max tokens option.
func WithMaxTokens(tokens int) Option {
	return func(o *Options) {
		o.MaxTokens = tokens
	}
}

// WithModel sets the model option.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// Engine is the interface to the external LLM capability.
type Engine interface {
	// ChatComplete sends a conversation to the model and returns its reply.
	ChatComplete(ctx context.Context, messages []ChatMessage, opts ...Option) (Completion, error)

	// GenerateEmbeddings creates vector embeddings for the provided texts.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}
