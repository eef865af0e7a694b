// Package catalog serves polls read-through the local cache and accepts
// submissions, queueing them whenever they cannot be delivered right away.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"

	"github.com/pders01/pollsync/internal/cache"
	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/monitor"
	"github.com/pders01/pollsync/internal/queue"
	"github.com/pders01/pollsync/internal/storage"
)

var ErrPollNotFound = errors.New("poll not found")

// Source is the remote poll listing. *api.Client implements it.
type Source interface {
	ListPolls(ctx context.Context) ([]*storage.PollRecord, error)
	GetPoll(ctx context.Context, id int64) (*storage.PollRecord, error)
}

// Router validates and delivers submissions. *dispatch.Registry implements it.
type Router interface {
	Encode(typ string, payload any) (json.RawMessage, error)
	Send(ctx context.Context, typ string, payload json.RawMessage) error
}

type Options struct {
	Source Source
	Cache  *cache.Manager
	Queue  *queue.Queue
	Router Router
	// Online reports connectivity; nil means always online.
	Online func() bool
	// Workers bounds concurrent thumbnail downloads.
	Workers      int
	PollMaxAge   time.Duration
	DetailMaxAge time.Duration
	Report       *monitor.Report
}

// SubmitResult tells the caller what happened to a submission.
type SubmitResult struct {
	Delivered bool   `json:"delivered"`
	Queued    bool   `json:"queued"`
	ItemID    string `json:"itemId,omitempty"`
}

type Catalog struct {
	opts    Options
	refresh sync.Mutex
	log     *logrus.Entry

	// guards thumbs against Submit after StopWait
	mu     sync.Mutex
	closed bool
	thumbs *workerpool.WorkerPool
}

func New(opts Options) *Catalog {
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.PollMaxAge <= 0 {
		opts.PollMaxAge = 24 * time.Hour
	}
	if opts.DetailMaxAge <= 0 {
		opts.DetailMaxAge = 7 * 24 * time.Hour
	}
	return &Catalog{
		opts:   opts,
		thumbs: workerpool.New(opts.Workers),
		log:    debuglog.Module("catalog"),
	}
}

// Close waits for scheduled thumbnail downloads and stops the workers.
// Requests still holding the catalog keep working but schedule no downloads.
func (c *Catalog) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.thumbs.StopWait()
}

// Refresh fetches the poll list, caches it and schedules thumbnail
// downloads. It returns the number of polls saved.
func (c *Catalog) Refresh(ctx context.Context) (int, error) {
	c.refresh.Lock()
	defer c.refresh.Unlock()

	polls, err := c.opts.Source.ListPolls(ctx)
	if err != nil {
		c.countRefresh(false)
		return 0, fmt.Errorf("refreshing catalog: %w", err)
	}

	// skip records the cache cannot key
	valid := polls[:0]
	for _, poll := range polls {
		if poll == nil || (poll.PollID == 0 && poll.ID == 0) {
			continue
		}
		valid = append(valid, poll)
	}

	if err := c.opts.Cache.SavePolls(valid); err != nil {
		c.countRefresh(false)
		return 0, err
	}
	c.countRefresh(true)

	for _, poll := range valid {
		c.scheduleThumbnail(ctx, poll)
	}

	c.log.WithField("polls", len(valid)).Info("Catalog refreshed")
	return len(valid), nil
}

func (c *Catalog) countRefresh(ok bool) {
	r := c.opts.Report
	if r == nil {
		return
	}
	if ok {
		r.Cache.CatalogRefreshes.Inc()
	} else {
		r.Cache.RefreshFailures.Inc()
	}
	r.Cache.PollsCached.Store(int64(c.opts.Cache.Count()))
}

// scheduleThumbnail queues a download for polls that have a remote
// thumbnail but no local copy yet.
func (c *Catalog) scheduleThumbnail(ctx context.Context, poll *storage.PollRecord) {
	if poll.ThumbnailURL == "" || poll.ThumbnailRef != "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.log.WithField("poll", poll.PollID).Debug("Catalog closed, skipping thumbnail")
		return
	}
	id, url := poll.PollID, poll.ThumbnailURL
	c.thumbs.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		c.opts.Cache.CacheThumbnail(ctx, id, url)
	})
}

// List returns cached polls, refreshing first when online. A failed
// refresh falls back to whatever the cache holds.
func (c *Catalog) List(ctx context.Context) []*cache.CachedPoll {
	if c.opts.Online() {
		if _, err := c.Refresh(ctx); err != nil {
			c.log.WithError(err).Info("Serving polls from cache")
		}
	}
	return c.opts.Cache.GetPolls(c.opts.PollMaxAge)
}

// Cached returns cached polls without touching the network.
func (c *Catalog) Cached() []*cache.CachedPoll {
	return c.opts.Cache.GetPolls(c.opts.PollMaxAge)
}

// Get returns one poll. A fresh cached copy is served as is; a stale or
// missing one is fetched when online, with the stale copy as fallback.
func (c *Catalog) Get(ctx context.Context, id int64) (*cache.CachedPoll, error) {
	cached, ok := c.opts.Cache.GetPoll(id, c.opts.DetailMaxAge)
	if ok && !cached.Stale {
		return cached, nil
	}

	if c.opts.Online() {
		poll, err := c.opts.Source.GetPoll(ctx, id)
		if err == nil {
			if poll.PollID == 0 && poll.ID == 0 {
				poll.PollID = id
			}
			if err := c.opts.Cache.SavePoll(poll); err != nil {
				c.log.WithError(err).WithField("poll", id).Warn("Caching poll failed")
				return &cache.CachedPoll{PollRecord: *poll}, nil
			}
			c.scheduleThumbnail(ctx, poll)
			if fresh, ok := c.opts.Cache.GetPoll(id, c.opts.DetailMaxAge); ok {
				return fresh, nil
			}
			return &cache.CachedPoll{PollRecord: *poll}, nil
		}
		c.log.WithError(err).WithField("poll", id).Info("Fetching poll failed")
	}

	if ok {
		return cached, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrPollNotFound, id)
}

// Submit validates a submission and delivers it directly when online. When
// offline, or when delivery fails, it is queued for a later drain.
func (c *Catalog) Submit(ctx context.Context, typ string, payload any) (*SubmitResult, error) {
	raw, err := c.opts.Router.Encode(typ, payload)
	if err != nil {
		return nil, err
	}

	log := c.log.WithField("type", typ)
	if c.opts.Online() {
		err := c.opts.Router.Send(ctx, typ, raw)
		if err == nil {
			log.Debug("Submission delivered")
			return &SubmitResult{Delivered: true}, nil
		}
		log.WithError(err).Info("Direct delivery failed, queueing")
	}

	item, err := c.opts.Queue.Enqueue(typ, raw)
	if err != nil {
		return nil, err
	}
	if r := c.opts.Report; r != nil {
		r.Queue.Enqueued.Inc()
		if n, err := c.opts.Queue.Count(); err == nil {
			r.Queue.Pending.Store(int64(n))
		}
	}
	log.WithField("item", item.ID).Info("Submission queued")
	return &SubmitResult{Queued: true, ItemID: item.ID}, nil
}

// Prune drops polls older than keepDays.
func (c *Catalog) Prune(keepDays int) (int, error) {
	removed, err := c.opts.Cache.ClearOldPolls(keepDays)
	if err != nil {
		return 0, err
	}
	if r := c.opts.Report; r != nil {
		r.Cache.PollsSwept.Add(uint64(removed))
		r.Cache.PollsCached.Store(int64(c.opts.Cache.Count()))
	}
	return removed, nil
}
