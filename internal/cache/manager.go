package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/storage"
	"github.com/pders01/pollsync/internal/validation"
)

var ErrMissingID = errors.New("poll has neither pollId nor id")

// ThumbnailFetcher downloads an image. *api.Client implements it.
type ThumbnailFetcher interface {
	FetchThumbnail(ctx context.Context, url string) ([]byte, string, error)
}

// Listener hears about polls entering and leaving the cache.
type Listener interface {
	PollsSaved(polls []*storage.PollRecord)
	PollsRemoved(ids []int64)
}

// CachedPoll is a cached record annotated with its staleness at read time.
type CachedPoll struct {
	storage.PollRecord
	Stale bool `json:"stale"`
}

type Options struct {
	Fetcher   ThumbnailFetcher
	Validator *validation.URLValidator
	// NegativeTTL is how long a failed thumbnail URL is skipped.
	NegativeTTL time.Duration
	Listener    Listener
	Now         func() time.Time
}

// Manager is the read-through poll cache. Poll data read from here is what
// the agent can show while offline.
type Manager struct {
	store     *storage.Store
	fetcher   ThumbnailFetcher
	validator *validation.URLValidator
	negative  *gocache.Cache
	listener  Listener
	now       func() time.Time
	log       *logrus.Entry
}

func NewManager(store *storage.Store, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Validator == nil {
		opts.Validator = validation.NewURLValidator()
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 10 * time.Minute
	}
	return &Manager{
		store:     store,
		fetcher:   opts.Fetcher,
		validator: opts.Validator,
		negative:  gocache.New(opts.NegativeTTL, 2*opts.NegativeTTL),
		listener:  opts.Listener,
		now:       opts.Now,
		log:       debuglog.Module("cache"),
	}
}

// SetListener replaces the listener. Call before the manager is shared.
func (m *Manager) SetListener(l Listener) {
	m.listener = l
}

// normalize fills PollID from the generic id field.
func normalize(poll *storage.PollRecord) error {
	if poll.PollID == 0 {
		poll.PollID = poll.ID
	}
	if poll.PollID == 0 {
		return ErrMissingID
	}
	return nil
}

func (m *Manager) SavePoll(poll *storage.PollRecord) error {
	return m.SavePolls([]*storage.PollRecord{poll})
}

// SavePolls upserts polls in one transaction, stamping fetchedAt. A locally
// cached thumbnail reference survives the overwrite.
func (m *Manager) SavePolls(polls []*storage.PollRecord) error {
	if len(polls) == 0 {
		return nil
	}
	for _, poll := range polls {
		if err := normalize(poll); err != nil {
			return err
		}
	}

	fetchedAt := storage.Millis(m.now())
	err := m.store.Update(storage.Polls, func(tx *storage.Tx) error {
		for _, poll := range polls {
			if poll.ThumbnailRef == "" {
				var existing storage.PollRecord
				if err := tx.Get(poll.Key(), &existing); err == nil {
					poll.ThumbnailRef = existing.ThumbnailRef
				}
			}
			poll.FetchedAt = fetchedAt
			if err := tx.Put(poll.Key(), poll); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving %d polls: %w", len(polls), err)
	}

	if m.listener != nil {
		m.listener.PollsSaved(polls)
	}
	return nil
}

func (m *Manager) annotate(poll storage.PollRecord, maxAge time.Duration) *CachedPoll {
	age := storage.Millis(m.now()) - poll.FetchedAt
	return &CachedPoll{PollRecord: poll, Stale: age > maxAge.Milliseconds()}
}

// GetPoll returns the cached poll, or false on a miss. Store failures read
// as a miss.
func (m *Manager) GetPoll(id int64, maxAge time.Duration) (*CachedPoll, bool) {
	var poll storage.PollRecord
	if err := m.store.Get(storage.Polls, storage.PollKey(id), &poll); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.WithError(err).WithField("poll", id).Warn("Reading cached poll failed")
		}
		return nil, false
	}
	return m.annotate(poll, maxAge), true
}

// GetPolls returns every cached poll, most recently fetched first.
func (m *Manager) GetPolls(maxAge time.Duration) []*CachedPoll {
	var polls []*CachedPoll
	err := m.store.ForEach(storage.Polls, func(key string, raw []byte) error {
		var poll storage.PollRecord
		if err := json.Unmarshal(raw, &poll); err != nil {
			m.log.WithError(err).WithField("key", key).Warn("Skipping undecodable poll")
			return nil
		}
		polls = append(polls, m.annotate(poll, maxAge))
		return nil
	})
	if err != nil {
		m.log.WithError(err).Warn("Listing cached polls failed")
		return nil
	}

	sort.SliceStable(polls, func(i, j int) bool {
		if polls[i].FetchedAt != polls[j].FetchedAt {
			return polls[i].FetchedAt > polls[j].FetchedAt
		}
		return polls[i].PollID < polls[j].PollID
	})
	return polls
}

// Count returns the number of cached polls, 0 when the store is unavailable.
func (m *Manager) Count() int {
	n := 0
	_ = m.store.ForEach(storage.Polls, func(string, []byte) error {
		n++
		return nil
	})
	return n
}

// CacheThumbnail fetches url and stores it as the poll's thumbnail. Every
// failure is logged and swallowed; thumbnails never block poll display.
func (m *Manager) CacheThumbnail(ctx context.Context, pollID int64, url string) {
	log := m.log.WithField("poll", pollID)
	if m.fetcher == nil {
		return
	}

	normalized, err := m.validator.Resource(url)
	if err != nil {
		log.WithError(err).Debug("Ignoring invalid thumbnail URL")
		return
	}
	if _, failed := m.negative.Get(normalized); failed {
		log.WithField("url", normalized).Debug("Skipping recently failed thumbnail")
		return
	}

	blob, mime, err := m.fetcher.FetchThumbnail(ctx, normalized)
	if err == nil && len(blob) == 0 {
		err = errors.New("empty body")
	}
	if err != nil {
		m.negative.Set(normalized, struct{}{}, gocache.DefaultExpiration)
		log.WithError(err).WithField("url", normalized).Info("Thumbnail fetch failed")
		return
	}

	attachment := &storage.Attachment{
		ID:        storage.ThumbnailKey(pollID),
		Blob:      blob,
		MimeType:  mime,
		CreatedAt: storage.Millis(m.now()),
	}
	if err := m.store.Put(storage.Attachments, attachment.ID, attachment); err != nil {
		log.WithError(err).Warn("Storing thumbnail failed")
		return
	}

	err = m.store.Update(storage.Polls, func(tx *storage.Tx) error {
		var poll storage.PollRecord
		if err := tx.Get(storage.PollKey(pollID), &poll); err != nil {
			return err
		}
		poll.ThumbnailRef = attachment.ID
		return tx.Put(poll.Key(), &poll)
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.WithError(err).Warn("Linking thumbnail failed")
	}
}

func (m *Manager) GetThumbnail(pollID int64) (*storage.Attachment, bool) {
	var attachment storage.Attachment
	if err := m.store.Get(storage.Attachments, storage.ThumbnailKey(pollID), &attachment); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.log.WithError(err).WithField("poll", pollID).Warn("Reading thumbnail failed")
		}
		return nil, false
	}
	return &attachment, true
}

func (m *Manager) GetThumbnailBlob(pollID int64) ([]byte, bool) {
	attachment, ok := m.GetThumbnail(pollID)
	if !ok || len(attachment.Blob) == 0 {
		return nil, false
	}
	return attachment.Blob, true
}

// ClearOldPolls deletes polls fetched before now minus keepDays in one
// transaction and returns how many were removed. Their thumbnails stay.
func (m *Manager) ClearOldPolls(keepDays int) (int, error) {
	cutoff := storage.Millis(m.now().Add(-time.Duration(keepDays) * 24 * time.Hour))

	var removed []int64
	err := m.store.Update(storage.Polls, func(tx *storage.Tx) error {
		var keys []string
		err := tx.ForEach(func(key string, raw []byte) error {
			var poll storage.PollRecord
			if err := json.Unmarshal(raw, &poll); err != nil {
				return nil
			}
			if poll.FetchedAt < cutoff {
				keys = append(keys, key)
				removed = append(removed, poll.PollID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clearing old polls: %w", err)
	}

	if len(removed) > 0 {
		m.log.WithField("removed", len(removed)).WithField("keep_days", keepDays).Info("Swept old polls")
		if m.listener != nil {
			m.listener.PollsRemoved(removed)
		}
	}
	return len(removed), nil
}
