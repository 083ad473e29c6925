package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatmem/chatmem/pkg/log"
)

// Gist links a shared code snippet to the conversation it came from.
type Gist struct {
	ID          string    `db:"id" json:"id"`
	MemoryID    string    `db:"memory_id" json:"memory_id"`
	URL         string    `db:"url" json:"url"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TokenUsage records the token spend of one external model call.
type TokenUsage struct {
	ID               string    `db:"id" json:"id"`
	MemoryID         string    `db:"memory_id" json:"memory_id"`
	Model            string    `db:"model" json:"model"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Branch links a created git branch to the conversation it came from.
type Branch struct {
	ID        string    `db:"id" json:"id"`
	MemoryID  string    `db:"memory_id" json:"memory_id"`
	Repo      string    `db:"repo" json:"repo"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Codespace mirrors the last known state of a remote development
// environment. Codespaces are not tied to a single conversation.
type Codespace struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Repo      string    `db:"repo" json:"repo"`
	State     string    `db:"state" json:"state"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AddGist records a gist against a memory.
func (s *Store) AddGist(ctx context.Context, g *Gist) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO gists (id, memory_id, url, description, created_at) VALUES (?, ?, ?, ?, ?)`),
		g.ID, g.MemoryID, g.URL, g.Description, g.CreatedAt)
	if err != nil {
		return ioErr("add gist", err)
	}
	return nil
}

// ListGists returns the gists attached to a memory, oldest first.
func (s *Store) ListGists(ctx context.Context, memoryID string) ([]Gist, error) {
	var gists []Gist
	err := s.db.SelectContext(ctx, &gists, s.rebind(
		`SELECT * FROM gists WHERE memory_id = ? ORDER BY created_at ASC`), memoryID)
	if err != nil {
		return nil, ioErr("list gists", err)
	}
	return gists, nil
}

// RecordTokenUsage appends one usage row.
func (s *Store) RecordTokenUsage(ctx context.Context, u *TokenUsage) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO token_usage (id, memory_id, model, prompt_tokens, completion_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, u.MemoryID, u.Model, u.PromptTokens, u.CompletionTokens, u.CreatedAt)
	if err != nil {
		return ioErr("record token usage", err)
	}
	return nil
}

// TokenUsageTotals sums prompt and completion tokens per model across all
// conversations.
func (s *Store) TokenUsageTotals(ctx context.Context) (map[string]TokenUsage, error) {
	var rows []TokenUsage
	err := s.db.SelectContext(ctx, &rows,
		`SELECT '' AS id, '' AS memory_id, model,
			SUM(prompt_tokens) AS prompt_tokens,
			SUM(completion_tokens) AS completion_tokens,
			MAX(created_at) AS created_at
		 FROM token_usage GROUP BY model`)
	if err != nil {
		return nil, ioErr("token usage totals", err)
	}

	totals := make(map[string]TokenUsage, len(rows))
	for _, r := range rows {
		totals[r.Model] = r
	}
	return totals, nil
}

// AddBranch records a branch against a memory.
func (s *Store) AddBranch(ctx context.Context, b *Branch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO branches (id, memory_id, repo, name, created_at) VALUES (?, ?, ?, ?, ?)`),
		b.ID, b.MemoryID, b.Repo, b.Name, b.CreatedAt)
	if err != nil {
		return ioErr("add branch", err)
	}
	return nil
}

// ListBranches returns the branches attached to a memory, oldest first.
func (s *Store) ListBranches(ctx context.Context, memoryID string) ([]Branch, error) {
	var branches []Branch
	err := s.db.SelectContext(ctx, &branches, s.rebind(
		`SELECT * FROM branches WHERE memory_id = ? ORDER BY created_at ASC`), memoryID)
	if err != nil {
		return nil, ioErr("list branches", err)
	}
	return branches, nil
}

// UpsertCodespace stores the latest observed state of a codespace.
func (s *Store) UpsertCodespace(ctx context.Context, c *Codespace) error {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	var query string
	switch s.driver {
	case "postgres":
		query = `INSERT INTO codespaces (id, name, repo, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, repo = EXCLUDED.repo,
				state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
	default:
		query = `INSERT OR REPLACE INTO codespaces (id, name, repo, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	}
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		c.ID, c.Name, c.Repo, c.State, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return ioErr("upsert codespace", err)
	}
	log.DebugContext(ctx, "Upserted codespace", "codespace_id", c.ID, "state", c.State)
	return nil
}

// ListCodespaces returns all known codespaces, most recently updated first.
func (s *Store) ListCodespaces(ctx context.Context) ([]Codespace, error) {
	var spaces []Codespace
	err := s.db.SelectContext(ctx, &spaces,
		`SELECT * FROM codespaces ORDER BY updated_at DESC`)
	if err != nil {
		return nil, ioErr("list codespaces", err)
	}
	return spaces, nil
}
