package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/log"
	"github.com/chatmem/chatmem/pkg/memory"
)

// memoryRow is the database shape of a ChatMemory. Slice-valued fields are
// stored as JSON text so the same schema works on sqlite and postgres.
type memoryRow struct {
	ID            string    `db:"id"`
	Title         string    `db:"title"`
	Tags          string    `db:"tags"`
	Summary       string    `db:"summary"`
	KeyTerms      string    `db:"key_terms"`
	Embedding     *string   `db:"embedding"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	LastMessageAt time.Time `db:"last_message_at"`
}

type messageRow struct {
	ID        string    `db:"id"`
	MemoryID  string    `db:"memory_id"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	Thinking  *string   `db:"thinking"`
	Model     *string   `db:"model"`
	Timestamp time.Time `db:"timestamp"`
}

func encodeJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %w", chatmemerrors.ErrSerialization, err)
	}
	return string(data), nil
}

func decodeJSON(data string, v interface{}) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("%w: %w", chatmemerrors.ErrSerialization, err)
	}
	return nil
}

func (s *Store) toMemoryRow(mem *memory.ChatMemory) (*memoryRow, error) {
	tags, err := encodeJSON(emptyIfNil(mem.Tags))
	if err != nil {
		return nil, err
	}
	terms := mem.KeyTerms
	if len(terms) > s.maxKeyTerms {
		terms = terms[:s.maxKeyTerms]
	}
	keyTerms, err := encodeJSON(emptyIfNil(terms))
	if err != nil {
		return nil, err
	}

	row := &memoryRow{
		ID:            mem.ID,
		Title:         mem.Title,
		Tags:          tags,
		Summary:       mem.Summary,
		KeyTerms:      keyTerms,
		CreatedAt:     mem.CreatedAt,
		UpdatedAt:     mem.UpdatedAt,
		LastMessageAt: mem.LastMessageAt,
	}
	if mem.HasEmbedding() {
		enc, err := encodeJSON(mem.Embedding)
		if err != nil {
			return nil, err
		}
		row.Embedding = &enc
	}
	return row, nil
}

func (r *memoryRow) toMemory() (*memory.ChatMemory, error) {
	mem := &memory.ChatMemory{
		ID:            r.ID,
		Title:         r.Title,
		Summary:       r.Summary,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		LastMessageAt: r.LastMessageAt,
	}
	if err := decodeJSON(r.Tags, &mem.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.KeyTerms, &mem.KeyTerms); err != nil {
		return nil, err
	}
	if r.Embedding != nil {
		if err := decodeJSON(*r.Embedding, &mem.Embedding); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

func (r *messageRow) toMessage() (memory.Message, error) {
	msg := memory.Message{
		ID:        r.ID,
		ChatID:    r.MemoryID,
		Role:      memory.Role(r.Role),
		Thinking:  r.Thinking,
		Model:     r.Model,
		Timestamp: r.Timestamp,
	}
	if err := decodeJSON(r.Content, &msg.Content); err != nil {
		return memory.Message{}, err
	}
	return msg, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CreateMemory persists a new conversation record together with its messages.
// A missing ID is assigned; zero timestamps are set to now.
func (s *Store) CreateMemory(ctx context.Context, mem *memory.ChatMemory) error {
	now := time.Now().UTC()
	if mem.ID == "" {
		mem.ID = uuid.New().String()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	if mem.UpdatedAt.IsZero() {
		mem.UpdatedAt = now
	}
	if mem.LastMessageAt.IsZero() {
		mem.LastMessageAt = latestMessageTime(mem.Messages, now)
	}

	row, err := s.toMemoryRow(mem)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ioErr("create memory", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO memories (id, title, tags, summary, key_terms, embedding, created_at, updated_at, last_message_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		row.ID, row.Title, row.Tags, row.Summary, row.KeyTerms, row.Embedding,
		row.CreatedAt, row.UpdatedAt, row.LastMessageAt,
	)
	if err != nil {
		return ioErr("create memory", err)
	}

	for i := range mem.Messages {
		if err := insertMessage(ctx, tx, s.rebind, mem.ID, &mem.Messages[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return ioErr("create memory", err)
	}

	log.DebugContext(ctx, "Created memory", "memory_id", mem.ID, "messages", len(mem.Messages))
	return nil
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, rebind func(string) string, memoryID string, msg *memory.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.ChatID = memoryID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	content, err := encodeJSON(msg.Content)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, rebind(
		`INSERT INTO messages (id, memory_id, role, content, thinking, model, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, memoryID, string(msg.Role), content, msg.Thinking, msg.Model, msg.Timestamp,
	)
	if err != nil {
		return ioErr("insert message", err)
	}
	return nil
}

func latestMessageTime(msgs []memory.Message, fallback time.Time) time.Time {
	latest := fallback
	for _, m := range msgs {
		if m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
	}
	return latest
}

// GetMemory loads a single record with its messages ordered by timestamp
// ascending. Returns ErrNotFound when the ID is unknown.
func (s *Store) GetMemory(ctx context.Context, id string) (*memory.ChatMemory, error) {
	var row memoryRow
	err := s.db.GetContext(ctx, &row,
		s.rebind(`SELECT * FROM memories WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s: %w", id, chatmemerrors.ErrNotFound)
	}
	if err != nil {
		return nil, ioErr("get memory", err)
	}

	mem, err := row.toMemory()
	if err != nil {
		return nil, err
	}

	var msgRows []messageRow
	err = s.db.SelectContext(ctx, &msgRows, s.rebind(
		`SELECT * FROM messages WHERE memory_id = ? ORDER BY timestamp ASC`), id)
	if err != nil {
		return nil, ioErr("get memory messages", err)
	}
	for i := range msgRows {
		msg, err := msgRows[i].toMessage()
		if err != nil {
			return nil, err
		}
		mem.Messages = append(mem.Messages, msg)
	}
	return mem, nil
}

// ListMemories returns all records without their messages, newest
// conversation first.
func (s *Store) ListMemories(ctx context.Context) ([]memory.ChatMemory, error) {
	var rows []memoryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM memories ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, ioErr("list memories", err)
	}

	memories := make([]memory.ChatMemory, 0, len(rows))
	for i := range rows {
		mem, err := rows[i].toMemory()
		if err != nil {
			return nil, err
		}
		memories = append(memories, *mem)
	}
	return memories, nil
}

// UpdateMemory rewrites the record's mutable fields. Messages are not
// touched; use AppendMessage. Returns ErrNotFound for an unknown ID.
func (s *Store) UpdateMemory(ctx context.Context, mem *memory.ChatMemory) error {
	mem.UpdatedAt = time.Now().UTC()
	row, err := s.toMemoryRow(mem)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE memories
		 SET title = ?, tags = ?, summary = ?, key_terms = ?, embedding = ?, updated_at = ?, last_message_at = ?
		 WHERE id = ?`),
		row.Title, row.Tags, row.Summary, row.KeyTerms, row.Embedding,
		row.UpdatedAt, row.LastMessageAt, row.ID,
	)
	if err != nil {
		return ioErr("update memory", err)
	}
	return requireAffected(res, mem.ID)
}

// UpdateEmbedding persists a lazily computed summary vector. It exists so the
// similarity engine can write back embeddings without loading the full record.
func (s *Store) UpdateEmbedding(ctx context.Context, memoryID string, embedding []float32) error {
	enc, err := encodeJSON(embedding)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE memories SET embedding = ?, updated_at = ? WHERE id = ?`),
		enc, time.Now().UTC(), memoryID)
	if err != nil {
		return ioErr("update embedding", err)
	}
	return requireAffected(res, memoryID)
}

// DeleteMemory removes the record; messages and collaborator rows follow via
// cascade. Returns ErrNotFound for an unknown ID.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM memories WHERE id = ?`), id)
	if err != nil {
		return ioErr("delete memory", err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	log.DebugContext(ctx, "Deleted memory", "memory_id", id)
	return nil
}

// AppendMessage adds one message to an existing memory and advances its
// last_message_at watermark.
func (s *Store) AppendMessage(ctx context.Context, memoryID string, msg *memory.Message) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ioErr("append message", err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, s.rebind, memoryID, msg); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE memories SET updated_at = ?, last_message_at = ? WHERE id = ?`),
		time.Now().UTC(), msg.Timestamp, memoryID)
	if err != nil {
		return ioErr("append message", err)
	}
	if err := requireAffected(res, memoryID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ioErr("append message", err)
	}
	return nil
}

// likeEscaper neutralizes LIKE wildcards inside a search term so the term
// matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMemoriesByTerms returns memories whose stored key terms contain any
// of the given terms, as a cheap database-side pre-filter before scoring.
// Terms are matched case-insensitively against the JSON-encoded key_terms
// column.
func (s *Store) SearchMemoriesByTerms(ctx context.Context, terms []string) ([]memory.ChatMemory, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(terms))
	args := make([]interface{}, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		clauses = append(clauses, `key_terms LIKE ? ESCAPE '\'`)
		args = append(args, `%"`+likeEscaper.Replace(term)+`"%`)
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := `SELECT * FROM memories WHERE ` + strings.Join(clauses, " OR ") +
		` ORDER BY last_message_at DESC`

	var rows []memoryRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...)
	if err != nil {
		return nil, ioErr("search memories", err)
	}

	memories := make([]memory.ChatMemory, 0, len(rows))
	for i := range rows {
		mem, err := rows[i].toMemory()
		if err != nil {
			return nil, err
		}
		memories = append(memories, *mem)
	}
	return memories, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ioErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("memory %s: %w", id, chatmemerrors.ErrNotFound)
	}
	return nil
}
