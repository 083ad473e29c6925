package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
)

// GetSetting returns the value stored under key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		s.rebind(`SELECT value FROM settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, chatmemerrors.ErrNotFound)
	}
	if err != nil {
		return "", ioErr("get setting", err)
	}
	return value, nil
}

// SetSetting upserts a key/value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	var query string
	switch s.driver {
	case "postgres":
		query = `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	default:
		query = `INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`
	}
	_, err := s.db.ExecContext(ctx, s.rebind(query), key, value, time.Now().UTC())
	if err != nil {
		return ioErr("set setting", err)
	}
	return nil
}

// DeleteSetting removes a key. Deleting an absent key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM settings WHERE key = ?`), key)
	if err != nil {
		return ioErr("delete setting", err)
	}
	return nil
}

// GetBio returns the singleton user biography, empty when never set.
func (s *Store) GetBio(ctx context.Context) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM bio WHERE id = 1`).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", ioErr("get bio", err)
	}
	return content, nil
}

// SetBio replaces the singleton user biography.
func (s *Store) SetBio(ctx context.Context, content string) error {
	var query string
	switch s.driver {
	case "postgres":
		query = `INSERT INTO bio (id, content, updated_at) VALUES (1, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`
	default:
		query = `INSERT OR REPLACE INTO bio (id, content, updated_at) VALUES (1, ?, ?)`
	}
	_, err := s.db.ExecContext(ctx, s.rebind(query), content, time.Now().UTC())
	if err != nil {
		return ioErr("set bio", err)
	}
	return nil
}
