// Package store persists conversation records, messages, settings and
// derived collaborator data atop the schema maintained by the migration
// runner.
package store

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	chatmemerrors "github.com/chatmem/chatmem/pkg/errors"
	"github.com/chatmem/chatmem/pkg/log"
)

// DefaultMaxKeyTerms bounds the key terms persisted on a memory record.
const DefaultMaxKeyTerms = 15

// Options tunes store behavior.
type Options struct {
	// MaxKeyTerms caps key terms per memory record; <= 0 selects
	// DefaultMaxKeyTerms
	MaxKeyTerms int
}

// Store is the persistent memory store. It is an explicitly constructed
// service handle, created once at process start and passed to dependents.
type Store struct {
	db          *sqlx.DB
	driver      string
	maxKeyTerms int
}

// Open connects to the database behind the given driver ("sqlite3" or
// "postgres") and DSN. The schema is not touched; call Migrate before using
// the store.
func Open(driver, dsn string, opts Options) (*Store, error) {
	if driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s store: %w", driver, err)
	}

	if driver == "sqlite3" && strings.Contains(dsn, ":memory:") {
		// Each pool connection of an in-memory sqlite DB would see its
		// own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{
		db:          db,
		driver:      driver,
		maxKeyTerms: opts.MaxKeyTerms,
	}
	if store.maxKeyTerms <= 0 {
		store.maxKeyTerms = DefaultMaxKeyTerms
	}

	log.Debug("Opened memory store", "driver", driver)
	return store, nil
}

// sqliteDSN ensures cascade deletes work by enabling foreign key
// enforcement on every connection.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind adapts "?" placeholders to the connected driver's style.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// ioErr tags a primary-store failure with the storage sentinel. Unlike cache
// tiers, primary-store errors propagate to the caller: data loss here is not
// recoverable by a fallback.
func ioErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, chatmemerrors.ErrStorageIO, err)
}
