package similarity

import (
	"context"

	"github.com/chatmem/chatmem/pkg/memory"
)

// contextTemplate is the fixed prefix applied to each injected summary.
const contextTemplate = "Previous conversation context: "

// ContextInjection is the payload handed to the (external) prompt builder.
type ContextInjection struct {
	// OriginalMessage is the query text unchanged
	OriginalMessage string `json:"original_message"`

	// InjectedContext is one templated string per relevant memory
	InjectedContext []string `json:"injected_context"`

	// RelevantMemories are the matches the context was built from
	RelevantMemories []SemanticMatch `json:"relevant_memories"`
}

// CreateContextInjection assembles the top matches for the query into
// injectable context strings. Pure composition over FindMatches; when nothing
// relevant is found the injection is empty and the caller simply builds a
// prompt without history. A fatal matching error (dimension mismatch) is
// returned alongside an empty injection.
func (e *Engine) CreateContextInjection(ctx context.Context, query string, memories []memory.ChatMemory) (ContextInjection, error) {
	matches, err := e.FindMatches(ctx, query, memories)
	if err != nil {
		return ContextInjection{OriginalMessage: query}, err
	}

	injected := make([]string, 0, len(matches))
	for _, match := range matches {
		injected = append(injected, contextTemplate+match.Summary)
	}

	return ContextInjection{
		OriginalMessage:  query,
		InjectedContext:  injected,
		RelevantMemories: matches,
	}, nil
}
