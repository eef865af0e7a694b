package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/pders01/pollsync/internal/api"
	"github.com/pders01/pollsync/internal/auth"
	"github.com/pders01/pollsync/internal/cache"
	"github.com/pders01/pollsync/internal/catalog"
	"github.com/pders01/pollsync/internal/config"
	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/dispatch"
	"github.com/pders01/pollsync/internal/dispatch/responses"
	"github.com/pders01/pollsync/internal/monitor"
	"github.com/pders01/pollsync/internal/netstate"
	"github.com/pders01/pollsync/internal/notify"
	"github.com/pders01/pollsync/internal/orchestrator"
	"github.com/pders01/pollsync/internal/queue"
	"github.com/pders01/pollsync/internal/search"
	"github.com/pders01/pollsync/internal/server"
	"github.com/pders01/pollsync/internal/storage"
	"github.com/pders01/pollsync/internal/validation"
)

// runtime holds what outlives a session: the store and everything built
// directly on it.
type runtime struct {
	conf      *config.Config
	store     *storage.Store
	queue     *queue.Queue
	processor *queue.Processor
	cache     *cache.Manager
	searcher  search.Searcher
	monitor   *monitor.Monitor
	auth      *auth.Session
	// client probes connectivity and downloads thumbnails
	client *api.Client
	log    *logrus.Entry
}

func openRuntime(cfg *config.Config) (*runtime, error) {
	validator := validation.ForConfig(cfg.API.AllowLocal)
	baseURL, err := validator.BaseURL(cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api.base_url: %w", err)
	}
	cfg.API.BaseURL = baseURL

	store, err := storage.Open(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("%w (is another pollsync process running? try the local API at %s)", err, cfg.Sync.Listen)
		}
		return nil, err
	}

	rt := &runtime{
		conf:    cfg,
		store:   store,
		queue:   queue.New(store),
		monitor: monitor.New(),
		log:     debuglog.Module("runtime"),
	}
	report := rt.monitor.GetReport()
	report.Run.StartedAt.Store(time.Now().UnixMilli())

	rt.auth, rt.client = newAPI(cfg, store)

	rt.processor = queue.NewProcessor(rt.queue, queue.ProcessorOptions{
		BatchSize:   cfg.Queue.BatchSize,
		MaxRetries:  cfg.Queue.MaxRetries,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffMax:  cfg.Queue.BackoffMax,
		Report:      report,
	})

	rt.cache = cache.NewManager(store, cache.Options{
		Fetcher:     rt.client,
		Validator:   validator,
		NegativeTTL: cfg.Cache.NegativeTTL,
	})
	rt.searcher = search.Open(rt.cache, cfg.Database.SearchIndex)
	if l, ok := rt.searcher.(cache.Listener); ok {
		rt.cache.SetListener(l)
	}

	// the store lock makes this the only process draining, so anything
	// still processing was cut off by an earlier one
	if n, err := rt.queue.Recover(); err != nil {
		rt.log.WithError(err).Warn("Recovering interrupted items failed")
	} else if n > 0 {
		rt.log.WithField("items", n).Info("Recovered interrupted items")
	}
	if n, err := rt.queue.Count(); err == nil {
		report.Queue.Pending.Store(int64(n))
	}
	report.Cache.PollsCached.Store(int64(rt.cache.Count()))
	return rt, nil
}

// newAPI builds an API client whose token comes from the stored login. The
// login refreshes through that client only when the API has a refresh path.
func newAPI(cfg *config.Config, store *storage.Store) (*auth.Session, *api.Client) {
	session := auth.NewSession(store, nil)
	client := api.NewClient(api.Options{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.API.Timeout,
		UserAgent:   cfg.API.UserAgent,
		SendRate:    cfg.API.SendRate,
		Tokens:      session,
		RefreshPath: cfg.API.RefreshPath,
	})
	if cfg.API.RefreshPath != "" {
		session.SetRefresher(client)
	}
	return session, client
}

func (rt *runtime) Close() {
	if c, ok := rt.searcher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			rt.log.WithError(err).Warn("Closing search index failed")
		}
	}
	if err := rt.store.Close(); err != nil {
		rt.log.WithError(err).Warn("Closing store failed")
	}
}

func (rt *runtime) report() *monitor.Report {
	return rt.monitor.GetReport()
}

// connectivity returns a monitor primed with one probe. Callers that want
// transitions run it.
func (rt *runtime) connectivity(ctx context.Context) *netstate.Monitor {
	m := netstate.New(rt.client, netstate.Options{
		Interval:    rt.conf.Sync.ProbeInterval,
		MaxInterval: rt.conf.Sync.ProbeMaxInterval,
		Report:      rt.report(),
	})
	m.Prime(ctx)
	return m
}

// session is the part rebuilt on every reload.
type session struct {
	client       *api.Client
	auth         *auth.Session
	catalog      *catalog.Catalog
	orchestrator *orchestrator.Orchestrator
}

func (rt *runtime) newSession(conn orchestrator.Connectivity, flags storage.SessionFlags, notifier notify.Notifier) (*session, error) {
	login, client := newAPI(rt.conf, rt.store)

	registry := dispatch.NewRegistry(client)
	responses.Register(registry)

	cat := catalog.New(catalog.Options{
		Source:       client,
		Cache:        rt.cache,
		Queue:        rt.queue,
		Router:       registry,
		Online:       conn.Online,
		Workers:      rt.conf.Cache.ThumbnailWorkers,
		PollMaxAge:   rt.conf.Cache.PollMaxAge,
		DetailMaxAge: rt.conf.Cache.DetailMaxAge,
		Report:       rt.report(),
	})

	var refresh orchestrator.RefreshFunc
	if login.CanRefresh() {
		refresh = login.Refresh
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Queue:        rt.queue,
		Processor:    rt.processor,
		Connectivity: conn,
		Session:      flags,
		Notifier:     notifier,
		Send:         registry.Send,
		Refresh:      refresh,
		Concurrency:  rt.conf.Queue.Concurrency,
		Report:       rt.report(),
	})
	if err != nil {
		cat.Close()
		return nil, err
	}

	rt.report().Run.Sessions.Inc()
	return &session{client: client, auth: login, catalog: cat, orchestrator: orch}, nil
}

func (s *session) server() *server.Session {
	return &server.Session{Catalog: s.catalog, Orchestrator: s.orchestrator}
}

// Close waits for scheduled thumbnail downloads.
func (s *session) Close() {
	s.catalog.Close()
}

// oneShot opens the runtime and a session for a single command. Flags live
// in memory since nothing reloads.
func oneShot(ctx context.Context, notifier notify.Notifier) (*runtime, *session, error) {
	rt, err := openRuntime(conf)
	if err != nil {
		return nil, nil, err
	}
	s, err := rt.newSession(rt.connectivity(ctx), storage.NewMemorySession(), notifier)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return rt, s, nil
}
