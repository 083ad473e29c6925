package memory

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

// Message roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether the role is one of the known variants.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// PartType discriminates the variants of a content part.
type PartType string

// Content part variants
const (
	PartTypeText     PartType = "text"
	PartTypeImageURL PartType = "image_url"
)

// ContentPart is one element of a structured message body. Exactly one of
// Text or ImageURL is set, selected by Type.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartTypeText, Text: text}
}

// ImagePart builds an image content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartTypeImageURL, ImageURL: url}
}

// Message is a single utterance inside a conversation. Messages are owned by
// the ChatMemory they belong to and never exist independently in the store.
type Message struct {
	// ID is a unique identifier for the message
	ID string `json:"id"`

	// ChatID is a back-reference to the owning memory, not ownership
	ChatID string `json:"chat_id"`

	// Role is the author of the message
	Role Role `json:"role"`

	// Content is the structured message body
	Content []ContentPart `json:"content"`

	// Timestamp is when the message was produced
	Timestamp time.Time `json:"timestamp"`

	// Thinking is the optional reasoning trace attached to an assistant
	// message; nil when absent
	Thinking *string `json:"thinking,omitempty"`

	// Model is the optional model identifier that produced the message;
	// nil when absent
	Model *string `json:"model,omitempty"`
}

// Text flattens the text parts of the message body into a single string.
// Image parts are skipped.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Content {
		if part.Type != PartTypeText {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

// ChatMemory is a summarized conversation record. The embedding is computed
// lazily on first similarity search and persisted thereafter.
type ChatMemory struct {
	// ID is a unique identifier for the record
	ID string `json:"id"`

	// Title is the display title of the conversation
	Title string `json:"title"`

	// Messages are ordered by timestamp ascending
	Messages []Message `json:"messages,omitempty"`

	// Tags is a set of free-form labels
	Tags []string `json:"tags,omitempty"`

	// Summary is the condensed description used for semantic matching
	Summary string `json:"summary"`

	// KeyTerms are the extracted domain terms, bounded by the configured
	// maximum (default 15)
	KeyTerms []string `json:"key_terms,omitempty"`

	// Embedding is the persisted vector for the summary; nil until the
	// first similarity search computes it
	Embedding []float32 `json:"embedding,omitempty"`

	// CreatedAt is when this memory was initially stored
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this memory was last modified
	UpdatedAt time.Time `json:"updated_at"`

	// LastMessageAt is the timestamp of the newest message
	LastMessageAt time.Time `json:"last_message_at"`
}

// HasEmbedding reports whether a vector has been persisted for this memory.
func (c ChatMemory) HasEmbedding() bool {
	return len(c.Embedding) > 0
}
