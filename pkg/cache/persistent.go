package cache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// entriesBucket holds all persisted cache entries, JSON-encoded by key.
var entriesBucket = []byte("cache_entries")

// boltTier is the persistent second tier of the cache.
type boltTier struct {
	db *bolt.DB
}

// openBoltTier opens (or creates) the bbolt file and ensures the bucket
// exists.
func openBoltTier(path string) (*boltTier, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open persistent cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize persistent cache: %w", err)
	}

	return &boltTier{db: db}, nil
}

func (t *boltTier) close() error {
	return t.db.Close()
}

func (t *boltTier) put(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte(entry.Key), data)
	})
}

// get returns the stored entry, or nil when absent. A corrupt entry is
// deleted and reported as absent.
func (t *boltTier) get(key string) (*Entry, error) {
	var raw []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(entriesBucket).Get([]byte(key)); data != nil {
			raw = make([]byte, len(data))
			copy(raw, data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = t.delete(key)
		return nil, nil
	}
	return &entry, nil
}

func (t *boltTier) delete(key string) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete([]byte(key))
	})
}

func (t *boltTier) clear() error {
	return t.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(entriesBucket)
		return err
	})
}

// sweep removes all entries expired at the given instant.
func (t *boltTier) sweep(now time.Time) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)
		cursor := bucket.Cursor()

		var stale [][]byte
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil || entry.expired(now) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}

		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
