package storage

import (
	"errors"
	"strings"
	"sync"
)

// SessionFlags is a small key/flag store scoped to one agent session. A
// session survives in-process reloads but not a process restart.
type SessionFlags interface {
	Flag(key string) (bool, error)
	SetFlag(key string, value bool) error
}

const sessionPrefix = "session:"

// MetaSession keeps session flags in the metadata collection under a
// per-process session id.
type MetaSession struct {
	store *Store
	id    string
}

func NewMetaSession(store *Store, id string) *MetaSession {
	return &MetaSession{store: store, id: id}
}

func (s *MetaSession) key(name string) string {
	return sessionPrefix + s.id + ":" + name
}

func (s *MetaSession) Flag(key string) (bool, error) {
	var v bool
	err := s.store.Get(Metadata, s.key(key), &v)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return v, err
}

func (s *MetaSession) SetFlag(key string, value bool) error {
	if !value {
		return s.store.Delete(Metadata, s.key(key))
	}
	return s.store.Put(Metadata, s.key(key), true)
}

// PurgeStale drops flags left behind by earlier sessions.
func (s *MetaSession) PurgeStale() (int, error) {
	own := sessionPrefix + s.id + ":"
	removed := 0
	err := s.store.Update(Metadata, func(tx *Tx) error {
		var stale []string
		if err := tx.ForEach(func(key string, _ []byte) error {
			if strings.HasPrefix(key, sessionPrefix) && !strings.HasPrefix(key, own) {
				stale = append(stale, key)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, key := range stale {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

type MemorySession struct {
	mu    sync.Mutex
	flags map[string]bool
}

func NewMemorySession() *MemorySession {
	return &MemorySession{flags: make(map[string]bool)}
}

func (s *MemorySession) Flag(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key], nil
}

func (s *MemorySession) SetFlag(key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value {
		s.flags[key] = true
	} else {
		delete(s.flags, key)
	}
	return nil
}
