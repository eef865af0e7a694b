package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron"
	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"

	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/notify"
	"github.com/pders01/pollsync/internal/orchestrator"
	"github.com/pders01/pollsync/internal/server"
	"github.com/pders01/pollsync/internal/storage"
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().StringVar(&listenAddr, "listen", "", "local API address (overrides sync.listen)")
}

var listenAddr string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the sync agent: drain the queue on reconnect and serve the local API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenAddr != "" {
			conf.Sync.Listen = listenAddr
		}
		rt, err := openRuntime(conf)
		if err != nil {
			return err
		}
		defer rt.Close()

		return newSupervisor(rt, notify.NewPrinter(os.Stderr)).Run(cmd.Context())
	},
}

// supervisor owns the long-lived pieces of the agent and rebuilds the
// session whenever the orchestrator asks for a reload.
type supervisor struct {
	rt       *runtime
	notifier notify.Notifier
	flags    *storage.MetaSession
	triggers chan struct{}
	current  atomic.Pointer[session]
}

func newSupervisor(rt *runtime, notifier notify.Notifier) *supervisor {
	return &supervisor{
		rt:       rt,
		notifier: notifier,
		flags:    storage.NewMetaSession(rt.store, xid.New().String()),
		triggers: make(chan struct{}, 1),
	}
}

// trigger asks for a re-check without blocking; one pending request is enough.
func (s *supervisor) trigger() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

func (s *supervisor) Run(ctx context.Context) error {
	log := debuglog.Module("sync")

	if n, err := s.flags.PurgeStale(); err != nil {
		log.WithError(err).Warn("Purging stale session flags failed")
	} else if n > 0 {
		log.WithField("flags", n).Debug("Purged stale session flags")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := s.rt.connectivity(ctx)
	go conn.Run(ctx)

	srv := server.New(server.Options{
		Listen:     s.rt.conf.Sync.Listen,
		Queue:      s.rt.queue,
		Cache:      s.rt.cache,
		Monitor:    s.rt.monitor,
		Searcher:   s.rt.searcher,
		Resume:     s.triggers,
		PollMaxAge: s.rt.conf.Cache.PollMaxAge,
	})
	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start(ctx) }()

	scheduler, err := s.schedule()
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	// SIGHUP is the resume signal
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				log.Debug("Resume signal")
				s.trigger()
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		sess, err := s.rt.newSession(conn, s.flags, s.notifier)
		if err != nil {
			return err
		}
		s.current.Store(sess)
		srv.Attach(sess.server())

		runErr := make(chan error, 1)
		go func() { runErr <- sess.orchestrator.Run(ctx, s.triggers) }()

		select {
		case err = <-runErr:
		case err = <-serverErr:
			cancel()
			<-runErr
			if err == nil {
				err = errors.New("local API stopped")
			}
			err = fmt.Errorf("local API: %w", err)
		}

		srv.Attach(nil)
		s.current.Store(nil)
		sess.Close()

		if errors.Is(err, orchestrator.ErrReloadRequested) {
			log.Info("Reloading session")
			continue
		}
		if err == nil {
			// the server shuts down on ctx
			<-serverErr
		}
		return err
	}
}

func (s *supervisor) schedule() (*cron.Cron, error) {
	log := debuglog.Module("sync")
	c := cron.New()

	if spec := s.rt.conf.Sync.RecheckSchedule; spec != "" {
		if err := c.AddFunc(spec, s.trigger); err != nil {
			return nil, fmt.Errorf("sync.recheck_schedule: %w", err)
		}
	}
	if spec := s.rt.conf.Sync.SweepSchedule; spec != "" {
		err := c.AddFunc(spec, func() {
			sess := s.current.Load()
			if sess == nil {
				return
			}
			if n, err := sess.catalog.Prune(s.rt.conf.Cache.KeepDays); err != nil {
				log.WithError(err).Warn("Retention sweep failed")
			} else if n > 0 {
				log.WithField("polls", n).Info("Swept old polls")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("sync.sweep_schedule: %w", err)
		}
	}
	return c, nil
}
