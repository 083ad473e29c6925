package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open("sqlite3", ":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleMemory() *memory.ChatMemory {
	return &memory.ChatMemory{
		Title:    "Debugging the payment service",
		Tags:     []string{"work", "golang"},
		Summary:  "Traced a nil pointer panic in the payment service retry path.",
		KeyTerms: []string{"payment", "panic", "retry"},
		Messages: []memory.Message{
			{
				Role:      memory.RoleUser,
				Content:   []memory.ContentPart{memory.TextPart("the payment service is panicking")},
				Timestamp: time.Now().UTC().Add(-2 * time.Minute),
			},
			{
				Role:      memory.RoleAssistant,
				Content:   []memory.ContentPart{memory.TextPart("the retry path dereferences a nil response")},
				Timestamp: time.Now().UTC().Add(-1 * time.Minute),
			},
		},
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	version, err := s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, version)

	// A second run must be a no-op, not a failure.
	require.NoError(t, s.Migrate(ctx))

	applied, err := s.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 4)
	for i, m := range applied {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Description)
		assert.False(t, m.AppliedAt.IsZero())
	}
}

func TestRollbackRevertsToTarget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Rollback(ctx, 1))

	version, err := s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	// Memories survive a rollback to version 1, settings do not.
	require.NoError(t, s.CreateMemory(ctx, sampleMemory()))
	err = s.SetSetting(ctx, "theme", "dark")
	assert.Error(t, err)

	// Migrating forward again restores the dropped tables.
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.SetSetting(ctx, "theme", "dark"))
}

func TestRollbackWithoutDownLeavesGap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Version 4 has no down procedure: the tracking row is removed and the
	// codespaces table is left in place.
	require.NoError(t, s.Rollback(ctx, 3))

	version, err := s.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	require.NoError(t, s.UpsertCodespace(ctx, &Codespace{Name: "dev", Repo: "acme/api", State: "Available"}))
}

func TestCreateGetMemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem := sampleMemory()
	require.NoError(t, s.CreateMemory(ctx, mem))
	require.NotEmpty(t, mem.ID)

	got, err := s.GetMemory(ctx, mem.ID)
	require.NoError(t, err)

	assert.Equal(t, mem.Title, got.Title)
	assert.Equal(t, mem.Tags, got.Tags)
	assert.Equal(t, mem.Summary, got.Summary)
	assert.Equal(t, mem.KeyTerms, got.KeyTerms)
	assert.False(t, got.HasEmbedding())

	require.Len(t, got.Messages, 2)
	assert.Equal(t, memory.RoleUser, got.Messages[0].Role)
	assert.Equal(t, memory.RoleAssistant, got.Messages[1].Role)
	assert.True(t, got.Messages[0].Timestamp.Before(got.Messages[1].Timestamp),
		"messages come back in timestamp order")
	assert.Equal(t, "the payment service is panicking", got.Messages[0].Text())
}

func TestGetMemoryNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetMemory(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, chatmemerrors.ErrNotFound)
}

func TestKeyTermsAreBounded(t *testing.T) {
	s, err := Open("sqlite3", ":memory:", Options{MaxKeyTerms: 2})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	mem := sampleMemory()
	mem.KeyTerms = []string{"one", "two", "three", "four"}
	require.NoError(t, s.CreateMemory(ctx, mem))

	got, err := s.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, got.KeyTerms)
}

func TestUpdateMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem := sampleMemory()
	require.NoError(t, s.CreateMemory(ctx, mem))

	mem.Title = "Payment service postmortem"
	mem.Tags = append(mem.Tags, "postmortem")
	require.NoError(t, s.UpdateMemory(ctx, mem))

	got, err := s.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Payment service postmortem", got.Title)
	assert.Contains(t, got.Tags, "postmortem")

	missing := sampleMemory()
	missing.ID = "no-such-id"
	assert.ErrorIs(t, s.UpdateMemory(ctx, missing), chatmemerrors.ErrNotFound)
}

func TestUpdateEmbeddingPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem := sampleMemory()
	require.NoError(t, s.CreateMemory(ctx, mem))

	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, s.UpdateEmbedding(ctx, mem.ID, vec))

	got, err := s.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, vec, got.Embedding)
}

func TestDeleteMemoryCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem := sampleMemory()
	require.NoError(t, s.CreateMemory(ctx, mem))
	require.NoError(t, s.AddGist(ctx, &Gist{MemoryID: mem.ID, URL: "https://gist.example/abc"}))

	require.NoError(t, s.DeleteMemory(ctx, mem.ID))

	_, err := s.GetMemory(ctx, mem.ID)
	assert.ErrorIs(t, err, chatmemerrors.ErrNotFound)

	var msgCount int
	require.NoError(t, s.db.Get(&msgCount,
		s.rebind(`SELECT COUNT(*) FROM messages WHERE memory_id = ?`), mem.ID))
	assert.Equal(t, 0, msgCount, "messages are removed by cascade")

	gists, err := s.ListGists(ctx, mem.ID)
	require.NoError(t, err)
	assert.Empty(t, gists, "gists are removed by cascade")

	assert.ErrorIs(t, s.DeleteMemory(ctx, mem.ID), chatmemerrors.ErrNotFound)
}

func TestAppendMessageAdvancesWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem := sampleMemory()
	require.NoError(t, s.CreateMemory(ctx, mem))

	later := time.Now().UTC().Add(time.Hour)
	msg := &memory.Message{
		Role:      memory.RoleUser,
		Content:   []memory.ContentPart{memory.TextPart("one more thing")},
		Timestamp: later,
	}
	require.NoError(t, s.AppendMessage(ctx, mem.ID, msg))

	got, err := s.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.WithinDuration(t, later, got.LastMessageAt, time.Second)

	assert.ErrorIs(t,
		s.AppendMessage(ctx, "no-such-id", &memory.Message{Role: memory.RoleUser}),
		chatmemerrors.ErrNotFound)
}

func TestSearchMemoriesByTerms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pay := sampleMemory()
	require.NoError(t, s.CreateMemory(ctx, pay))

	other := &memory.ChatMemory{
		Title:    "Sourdough starter",
		Summary:  "Feeding schedule for a rye sourdough starter.",
		KeyTerms: []string{"sourdough", "rye", "feeding"},
	}
	require.NoError(t, s.CreateMemory(ctx, other))

	found, err := s.SearchMemoriesByTerms(ctx, []string{"payment", "kubernetes"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, pay.ID, found[0].ID)

	found, err = s.SearchMemoriesByTerms(ctx, []string{"RYE"})
	require.NoError(t, err)
	require.Len(t, found, 1, "term matching is case-insensitive")
	assert.Equal(t, other.ID, found[0].ID)

	found, err = s.SearchMemoriesByTerms(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSearchTermsMatchLikeWildcardsLiterally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem := &memory.ChatMemory{
		Title:    "Bakery notes",
		Summary:  "Hydration ratios for the weekend bake.",
		KeyTerms: []string{"cake", "hydration"},
	}
	require.NoError(t, s.CreateMemory(ctx, mem))

	// "_" and "%" are LIKE wildcards; a search term containing them must
	// match literally, not as patterns.
	found, err := s.SearchMemoriesByTerms(ctx, []string{"ca_e"})
	require.NoError(t, err)
	assert.Empty(t, found, `"ca_e" must not pattern-match "cake"`)

	found, err = s.SearchMemoriesByTerms(ctx, []string{"hydration%"})
	require.NoError(t, err)
	assert.Empty(t, found, `"hydration%" must not pattern-match "hydration"`)

	found, err = s.SearchMemoriesByTerms(ctx, []string{"cake"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, mem.ID, found[0].ID)
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSetting(ctx, "theme")
	assert.ErrorIs(t, err, chatmemerrors.ErrNotFound)

	require.NoError(t, s.SetSetting(ctx, "theme", "dark"))
	require.NoError(t, s.SetSetting(ctx, "theme", "light"))

	value, err := s.GetSetting(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", value)

	require.NoError(t, s.DeleteSetting(ctx, "theme"))
	_, err = s.GetSetting(ctx, "theme")
	assert.ErrorIs(t, err, chatmemerrors.ErrNotFound)
}

func TestBioSingleton(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bio, err := s.GetBio(ctx)
	require.NoError(t, err)
	assert.Empty(t, bio)

	require.NoError(t, s.SetBio(ctx, "Backend engineer, mostly Go."))
	require.NoError(t, s.SetBio(ctx, "Backend engineer, Go and SQL."))

	bio, err = s.GetBio(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Backend engineer, Go and SQL.", bio)
}

func TestTokenUsageTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem := sampleMemory()
	require.NoError(t, s.CreateMemory(ctx, mem))

	require.NoError(t, s.RecordTokenUsage(ctx, &TokenUsage{
		MemoryID: mem.ID, Model: "gpt-4", PromptTokens: 100, CompletionTokens: 20}))
	require.NoError(t, s.RecordTokenUsage(ctx, &TokenUsage{
		MemoryID: mem.ID, Model: "gpt-4", PromptTokens: 50, CompletionTokens: 10}))

	totals, err := s.TokenUsageTotals(ctx)
	require.NoError(t, err)
	require.Contains(t, totals, "gpt-4")
	assert.Equal(t, 150, totals["gpt-4"].PromptTokens)
	assert.Equal(t, 30, totals["gpt-4"].CompletionTokens)
}

func TestCodespaceUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cs := &Codespace{Name: "dev", Repo: "acme/api", State: "Starting"}
	require.NoError(t, s.UpsertCodespace(ctx, cs))

	cs.State = "Available"
	require.NoError(t, s.UpsertCodespace(ctx, cs))

	spaces, err := s.ListCodespaces(ctx)
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	assert.Equal(t, "Available", spaces[0].State)
}
