package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/log"
)

// Migration is a single versioned schema change. Up is required; a nil Down
// marks the migration as forward-only.
type Migration struct {
	// Version orders migrations; strictly increasing across the list
	Version int

	// Description is recorded in the tracking table
	Description string

	// Up applies the change
	Up func(ctx context.Context, tx *sqlx.Tx) error

	// Down reverts the change; nil for forward-only migrations
	Down func(ctx context.Context, tx *sqlx.Tx) error
}

// AppliedMigration is one row of the schema_migrations tracking table.
type AppliedMigration struct {
	Version     int       `db:"version"`
	Description string    `db:"description"`
	AppliedAt   time.Time `db:"applied_at"`
}

// migrations is the fixed, ordered schema history of the store.
var migrations = []Migration{
	{
		Version:     1,
		Description: "create memories and messages",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			return execAll(ctx, tx,
				`CREATE TABLE memories (
					id TEXT PRIMARY KEY,
					title TEXT NOT NULL DEFAULT '',
					tags TEXT NOT NULL DEFAULT '[]',
					summary TEXT NOT NULL DEFAULT '',
					key_terms TEXT NOT NULL DEFAULT '[]',
					embedding TEXT,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					last_message_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE messages (
					id TEXT PRIMARY KEY,
					memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
					role TEXT NOT NULL,
					content TEXT NOT NULL DEFAULT '[]',
					thinking TEXT,
					model TEXT,
					timestamp TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX idx_messages_memory_id ON messages(memory_id)`,
				`CREATE INDEX idx_memories_last_message_at ON memories(last_message_at)`,
			)
		},
		Down: func(ctx context.Context, tx *sqlx.Tx) error {
			return execAll(ctx, tx,
				`DROP TABLE messages`,
				`DROP TABLE memories`,
			)
		},
	},
	{
		Version:     2,
		Description: "create settings and bio",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			return execAll(ctx, tx,
				`CREATE TABLE settings (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE bio (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					content TEXT NOT NULL DEFAULT '',
					updated_at TIMESTAMP NOT NULL
				)`,
			)
		},
		Down: func(ctx context.Context, tx *sqlx.Tx) error {
			return execAll(ctx, tx,
				`DROP TABLE bio`,
				`DROP TABLE settings`,
			)
		},
	},
	{
		Version:     3,
		Description: "create collaborator tables",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			return execAll(ctx, tx,
				`CREATE TABLE gists (
					id TEXT PRIMARY KEY,
					memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
					url TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE token_usage (
					id TEXT PRIMARY KEY,
					memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
					model TEXT NOT NULL,
					prompt_tokens INTEGER NOT NULL DEFAULT 0,
					completion_tokens INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE branches (
					id TEXT PRIMARY KEY,
					memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
					repo TEXT NOT NULL,
					name TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX idx_gists_memory_id ON gists(memory_id)`,
				`CREATE INDEX idx_token_usage_memory_id ON token_usage(memory_id)`,
				`CREATE INDEX idx_branches_memory_id ON branches(memory_id)`,
			)
		},
		Down: func(ctx context.Context, tx *sqlx.Tx) error {
			return execAll(ctx, tx,
				`DROP TABLE branches`,
				`DROP TABLE token_usage`,
				`DROP TABLE gists`,
			)
		},
	},
	{
		Version:     4,
		Description: "create codespaces",
		// Forward-only: codespace rows mirror remote state and are safe
		// to leave behind on rollback.
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			return execAll(ctx, tx,
				`CREATE TABLE codespaces (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					repo TEXT NOT NULL,
					state TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				)`,
			)
		},
	},
}

// execAll runs each statement in order, stopping at the first failure.
func execAll(ctx context.Context, tx *sqlx.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return chatmemerrors.Wrap(err, "exec migration statement")
		}
	}
	return nil
}

// Migrate applies every pending migration in ascending version order,
// recording each application in schema_migrations. Calling it again is a
// no-op for already-applied versions. A failure halts immediately: the
// process must not proceed against a partially migrated schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationTable(ctx); err != nil {
		return err
	}

	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	applied := 0
	for _, m := range ordered {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		applied++
	}

	if applied > 0 {
		log.InfoContext(ctx, "Schema migrated",
			"applied", applied,
			"version", ordered[len(ordered)-1].Version)
	}
	return nil
}

// applyMigration runs a single Up procedure and its tracking insert in one
// transaction.
func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return chatmemerrors.Wrap(chatmemerrors.ErrMigration, "begin migration %d", m.Version)
	}
	defer tx.Rollback()

	if err := m.Up(ctx, tx); err != nil {
		return wrapMigrationErr(m.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`),
		m.Version, m.Description, time.Now().UTC(),
	)
	if err != nil {
		return wrapMigrationErr(m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return wrapMigrationErr(m.Version, err)
	}

	log.DebugContext(ctx, "Applied migration", "version", m.Version, "description", m.Description)
	return nil
}

// Rollback reverts applied migrations in descending version order until the
// schema is at targetVersion. A migration without a Down procedure logs a
// warning and only drops its tracking row, leaving a rollback gap; the
// original system accepts this for forward-only migrations and the behavior
// is preserved.
func (s *Store) Rollback(ctx context.Context, targetVersion int) error {
	if err := s.ensureMigrationTable(ctx); err != nil {
		return err
	}

	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version > ordered[j].Version })

	for _, m := range ordered {
		if m.Version <= targetVersion || m.Version > current {
			continue
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return chatmemerrors.Wrap(chatmemerrors.ErrMigration, "begin rollback %d", m.Version)
		}

		if m.Down != nil {
			if err := m.Down(ctx, tx); err != nil {
				tx.Rollback()
				return wrapMigrationErr(m.Version, err)
			}
		} else {
			log.WarnContext(ctx, "Migration has no down procedure, leaving rollback gap",
				"version", m.Version, "description", m.Description)
		}

		_, err = tx.ExecContext(ctx,
			s.rebind(`DELETE FROM schema_migrations WHERE version = ?`), m.Version)
		if err != nil {
			tx.Rollback()
			return wrapMigrationErr(m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return wrapMigrationErr(m.Version, err)
		}

		log.DebugContext(ctx, "Rolled back migration", "version", m.Version)
	}

	return nil
}

// CurrentVersion returns the highest applied migration version, 0 when none.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, chatmemerrors.Wrap(chatmemerrors.ErrMigration, "read schema version: %v", err)
	}
	return int(version.Int64), nil
}

// AppliedMigrations returns the tracking rows in ascending version order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	var rows []AppliedMigration
	err := s.db.SelectContext(ctx, &rows,
		`SELECT version, description, applied_at FROM schema_migrations ORDER BY version ASC`)
	if err != nil {
		return nil, chatmemerrors.Wrap(chatmemerrors.ErrMigration, "list applied migrations")
	}
	return rows, nil
}

func (s *Store) ensureMigrationTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return chatmemerrors.Wrap(chatmemerrors.ErrMigration, "ensure tracking table")
	}
	return nil
}

func wrapMigrationErr(version int, err error) error {
	return chatmemerrors.Wrap(chatmemerrors.ErrMigration, "migration %d: %v", version, err)
}
