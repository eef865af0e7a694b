package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Collection names one of the independently keyed record sets.
type Collection string

const (
	Polls       Collection = "polls"
	Attachments Collection = "attachments"
	Queue       Collection = "queue"
	Metadata    Collection = "metadata"
)

// SchemaVersion is bumped whenever a collection is added.
const SchemaVersion = 2

const schemaKey = "schema_version"

var collections = []Collection{Polls, Attachments, Queue, Metadata}

var (
	ErrNotFound    = errors.New("record not found")
	ErrUnavailable = errors.New("store unavailable")
)

type Store struct {
	db *bolt.DB
}

func NewStore(dbPath string) (*Store, error) {
	return Open(dbPath, 1*time.Second)
}

func Open(dbPath string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, unavailable("opening database", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the collections when the stored schema version is behind.
// Reopening an up-to-date store touches nothing.
func (s *Store) migrate() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(Metadata))
		if err != nil {
			return err
		}

		version := 0
		if raw := meta.Get([]byte(schemaKey)); raw != nil {
			if err := json.Unmarshal(raw, &version); err != nil {
				return fmt.Errorf("decoding schema version: %w", err)
			}
		}
		if version >= SchemaVersion {
			return nil
		}

		for _, c := range collections {
			if _, createErr := tx.CreateBucketIfNotExists([]byte(c)); createErr != nil {
				return createErr
			}
		}

		data, err := json.Marshal(SchemaVersion)
		if err != nil {
			return err
		}
		return meta.Put([]byte(schemaKey), data)
	})
	if err != nil {
		return unavailable("creating collections", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Version returns the schema version recorded in the metadata collection.
func (s *Store) Version() (int, error) {
	var version int
	if err := s.Get(Metadata, schemaKey, &version); err != nil {
		return 0, err
	}
	return version, nil
}

// Tx scopes reads and writes to one collection inside a single bolt
// transaction. Writes are only allowed in transactions opened by Update.
type Tx struct {
	b *bolt.Bucket
}

func (t *Tx) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return t.b.Put([]byte(key), data)
}

func (t *Tx) Get(key string, v any) error {
	data := t.b.Get([]byte(key))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func (t *Tx) Delete(key string) error {
	return t.b.Delete([]byte(key))
}

// ForEach visits every record. raw is only valid for the duration of fn and
// the collection must not be modified from inside fn.
func (t *Tx) ForEach(fn func(key string, raw []byte) error) error {
	return t.b.ForEach(func(k, v []byte) error {
		return fn(string(k), v)
	})
}

// Update runs fn in a read-write transaction that commits atomically.
func (s *Store) Update(c Collection, fn func(tx *Tx) error) error {
	var fnErr error
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c))
		if b == nil {
			return fmt.Errorf("collection %s missing", c)
		}
		fnErr = fn(&Tx{b: b})
		return fnErr
	})
	return classify(err, fnErr, "updating "+string(c))
}

func (s *Store) View(c Collection, fn func(tx *Tx) error) error {
	var fnErr error
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c))
		if b == nil {
			return fmt.Errorf("collection %s missing", c)
		}
		fnErr = fn(&Tx{b: b})
		return fnErr
	})
	return classify(err, fnErr, "reading "+string(c))
}

func (s *Store) Put(c Collection, key string, v any) error {
	return s.Update(c, func(tx *Tx) error {
		return tx.Put(key, v)
	})
}

func (s *Store) Get(c Collection, key string, v any) error {
	return s.View(c, func(tx *Tx) error {
		return tx.Get(key, v)
	})
}

func (s *Store) Delete(c Collection, key string) error {
	return s.Update(c, func(tx *Tx) error {
		return tx.Delete(key)
	})
}

func (s *Store) SetMeta(key string, v any) error {
	return s.Put(Metadata, key, v)
}

func (s *Store) GetMeta(key string, v any) error {
	return s.Get(Metadata, key, v)
}

func (s *Store) DeleteMeta(key string) error {
	return s.Delete(Metadata, key)
}

func (s *Store) ForEach(c Collection, fn func(key string, raw []byte) error) error {
	return s.View(c, func(tx *Tx) error {
		return tx.ForEach(fn)
	})
}

// Errors returned by the caller's callback pass through untouched so that
// ErrNotFound and decode failures stay distinguishable from storage faults.
func classify(err, fnErr error, op string) error {
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return unavailable(op, err)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
