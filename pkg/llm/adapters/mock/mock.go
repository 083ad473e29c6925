package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/llm"
)

// Call represents a recorded method call on the mock engine.
type Call struct {
	// Method is the name of the method that was called.
	Method string

	// Args contains the arguments passed to the method.
	Args []interface{}
}

// MockEngine implements the llm.Engine interface with canned responses.
type MockEngine struct {
	// cannedResponses maps prompt substrings to predetermined responses
	cannedResponses map[string]string

	// defaultResponse is returned when no matching canned response is found
	defaultResponse string

	// cannedEmbeddings maps text substrings to predetermined embeddings
	cannedEmbeddings map[string][]float32

	// defaultEmbedding is returned when no matching canned embedding is found
	defaultEmbedding []float32

	// shouldError indicates if the engine should return errors
	shouldError bool

	// mutex protects the maps from concurrent access
	mutex sync.RWMutex

	// callHistory records all calls to ChatComplete and GenerateEmbeddings
	callHistory []Call
}

// MockOption is a function that configures a MockEngine.
type MockOption func(*MockEngine)

// WithDefaultResponse sets the default response for the mock engine.
func WithDefaultResponse(resp string) MockOption {
	return func(m *MockEngine) {
		m.defaultResponse = resp
	}
}

// WithDefaultEmbedding sets the default embedding for the mock engine.
func WithDefaultEmbedding(embedding []float32) MockOption {
	return func(m *MockEngine) {
		m.defaultEmbedding = embedding
	}
}

// WithShouldError configures whether the mock engine returns errors.
func WithShouldError(shouldErr bool) MockOption {
	return func(m *MockEngine) {
		m.shouldError = shouldErr
	}
}

// NewMockEngine creates a new MockEngine with the given options.
func NewMockEngine(opts ...MockOption) *MockEngine {
	m := &MockEngine{
		cannedResponses:  make(map[string]string),
		defaultResponse:  "This is a mock response",
		cannedEmbeddings: make(map[string][]float32),
		defaultEmbedding: []float32{0.1, 0.2, 0.3},
		callHistory:      make([]Call, 0),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ChatComplete implements the llm.Engine interface.
func (m *MockEngine) ChatComplete(ctx context.Context, messages []llm.ChatMessage, opts ...llm.Option) (llm.Completion, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = append(m.callHistory, Call{
		Method: "ChatComplete",
		Args:   []interface{}{messages, opts},
	})

	if m.shouldError {
		return llm.Completion{}, fmt.Errorf("%w: mock engine error", chatmemerrors.ErrExternalCall)
	}

	// Match against the concatenated message contents, substring style.
	var prompt strings.Builder
	for _, msg := range messages {
		prompt.WriteString(msg.Content)
		prompt.WriteString("\n")
	}
	for key, response := range m.cannedResponses {
		if strings.Contains(prompt.String(), key) {
			return llm.Completion{Content: response}, nil
		}
	}

	return llm.Completion{Content: m.defaultResponse}, nil
}

// GenerateEmbeddings implements the llm.Engine interface.
func (m *MockEngine) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = append(m.callHistory, Call{
		Method: "GenerateEmbeddings",
		Args:   []interface{}{texts},
	})

	if m.shouldError {
		return nil, fmt.Errorf("%w: mock engine error", chatmemerrors.ErrExternalCall)
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = m.defaultEmbedding
		for key, embedding := range m.cannedEmbeddings {
			if strings.Contains(text, key) {
				embeddings[i] = embedding
				break
			}
		}
	}

	return embeddings, nil
}

// AddResponse adds a canned response for a prompt substring.
func (m *MockEngine) AddResponse(prompt, response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cannedResponses[prompt] = response
}

// SetDefaultResponse sets the default response.
func (m *MockEngine) SetDefaultResponse(response string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.defaultResponse = response
}

// AddEmbedding adds a canned embedding for a text substring.
func (m *MockEngine) AddEmbedding(text string, embedding []float32) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.cannedEmbeddings[text] = embedding
}

// SetDefaultEmbedding sets the default embedding.
func (m *MockEngine) SetDefaultEmbedding(embedding []float32) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.defaultEmbedding = embedding
}

// SetShouldError configures whether the engine returns errors.
func (m *MockEngine) SetShouldError(shouldErr bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.shouldError = shouldErr
}

// GetCallHistory returns a copy of the call history.
func (m *MockEngine) GetCallHistory() []Call {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	history := make([]Call, len(m.callHistory))
	copy(history, m.callHistory)

	return history
}

// ClearHistory clears the call history.
func (m *MockEngine) ClearHistory() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.callHistory = make([]Call, 0)
}
