package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/xid"

	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/storage"
)

// Queue is the durable holding area for submissions not yet confirmed by
// the remote API. Items are only deleted after a confirmed delivery.
type Queue struct {
	store *storage.Store
	now   func() time.Time
}

func New(store *storage.Store) *Queue {
	return &Queue{store: store, now: time.Now}
}

// WithClock replaces the clock used for createdAt.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func newID() string {
	return "q_" + xid.New().String()
}

// Enqueue persists a new pending item.
func (q *Queue) Enqueue(typ string, payload json.RawMessage) (*storage.QueueItem, error) {
	item := &storage.QueueItem{
		ID:        newID(),
		Type:      typ,
		Payload:   payload,
		CreatedAt: storage.Millis(q.now()),
		Status:    storage.StatusPending,
	}
	if err := q.store.Put(storage.Queue, item.ID, item); err != nil {
		return nil, fmt.Errorf("enqueueing %s: %w", typ, err)
	}
	return item, nil
}

func (q *Queue) scan(keep func(*storage.QueueItem) bool) ([]*storage.QueueItem, error) {
	var items []*storage.QueueItem
	err := q.store.ForEach(storage.Queue, func(key string, raw []byte) error {
		var item storage.QueueItem
		if err := json.Unmarshal(raw, &item); err != nil {
			debuglog.Warnf("queue: skipping undecodable item %s: %v", key, err)
			return nil
		}
		if keep(&item) {
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// Pending returns up to limit eligible items, oldest first. A limit of 0 or
// less returns every eligible item.
func (q *Queue) Pending(limit int) ([]*storage.QueueItem, error) {
	items, err := q.scan(func(item *storage.QueueItem) bool {
		return item.Status.Eligible()
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// All returns every item regardless of status, oldest first.
func (q *Queue) All() ([]*storage.QueueItem, error) {
	return q.scan(func(*storage.QueueItem) bool { return true })
}

func (q *Queue) Get(id string) (*storage.QueueItem, error) {
	var item storage.QueueItem
	if err := q.store.Get(storage.Queue, id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *Queue) Remove(id string) error {
	return q.store.Delete(storage.Queue, id)
}

// Update overwrites the whole stored item.
func (q *Queue) Update(item *storage.QueueItem) error {
	return q.store.Put(storage.Queue, item.ID, item)
}

// Count returns the number of eligible items.
func (q *Queue) Count() (int, error) {
	n := 0
	err := q.store.ForEach(storage.Queue, func(_ string, raw []byte) error {
		var item struct {
			Status storage.Status `json:"status"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil
		}
		if item.Status.Eligible() {
			n++
		}
		return nil
	})
	return n, err
}

// Recover puts items a crashed drain left in processing back to pending.
// Without it they would never be eligible again.
func (q *Queue) Recover() (int, error) {
	recovered := 0
	err := q.store.Update(storage.Queue, func(tx *storage.Tx) error {
		var stuck []*storage.QueueItem
		if err := tx.ForEach(func(_ string, raw []byte) error {
			var item storage.QueueItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil
			}
			if item.Status == storage.StatusProcessing {
				stuck = append(stuck, &item)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, item := range stuck {
			item.Status = storage.StatusPending
			if err := tx.Put(item.ID, item); err != nil {
				return err
			}
		}
		recovered = len(stuck)
		return nil
	})
	return recovered, err
}
