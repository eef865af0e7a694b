// Package netstate turns a reachability probe into an online/offline signal.
package netstate

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/monitor"
)

// Prober checks whether the remote API can be reached. *api.Client
// implements it.
type Prober interface {
	Ping(ctx context.Context) error
}

type Options struct {
	// Interval between probes while online, and the first delay while offline.
	Interval time.Duration
	// MaxInterval caps the offline backoff.
	MaxInterval time.Duration
	Report      *monitor.Report
}

// Monitor tracks connectivity. Only transitions are emitted on Events.
type Monitor struct {
	prober Prober
	opts   Options
	online atomic.Bool
	events chan bool
	log    *logrus.Entry
}

func New(prober Prober, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.MaxInterval < opts.Interval {
		opts.MaxInterval = opts.Interval
	}
	return &Monitor{
		prober: prober,
		opts:   opts,
		events: make(chan bool, 1),
		log:    debuglog.Module("netstate"),
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Events delivers the new state after every transition. When the consumer
// lags, only the latest state is kept.
func (m *Monitor) Events() <-chan bool {
	return m.events
}

// Prime probes once and records the result without emitting a transition.
func (m *Monitor) Prime(ctx context.Context) bool {
	online := m.probe(ctx)
	m.online.Store(online)
	if r := m.opts.Report; r != nil {
		r.Sync.Online.Store(online)
	}
	m.log.WithField("online", online).Debug("Initial connectivity")
	return online
}

// SetOnline records a state and emits an event if it changed.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	if r := m.opts.Report; r != nil {
		r.Sync.Online.Store(online)
		r.Sync.Transitions.Inc()
	}
	if online {
		m.log.Info("Back online")
	} else {
		m.log.Info("Gone offline")
	}
	m.emit(online)
}

// Check probes once and applies the result.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.probe(ctx)
	if ctx.Err() != nil {
		return m.Online()
	}
	m.SetOnline(online)
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	if err := m.prober.Ping(ctx); err != nil {
		m.log.WithError(err).Debug("Probe failed")
		return false
	}
	return true
}

func (m *Monitor) emit(online bool) {
	for {
		select {
		case m.events <- online:
			return
		default:
		}
		// drop the unread state, the new one supersedes it
		select {
		case <-m.events:
		default:
		}
	}
}

// Run probes until ctx is done: every Interval while online, with
// exponential backoff up to MaxInterval while offline.
func (m *Monitor) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.Interval
	b.MaxInterval = m.opts.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	timer := time.NewTimer(m.next(b))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if m.Check(ctx) {
			b.Reset()
		}
		timer.Reset(m.next(b))
	}
}

func (m *Monitor) next(b *backoff.ExponentialBackOff) time.Duration {
	if m.Online() {
		return m.opts.Interval
	}
	d := b.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return m.opts.MaxInterval
	}
	return d
}
