// Package orchestrator decides when the submission queue is drained.
//
// On the way back online with pending submissions the orchestrator first asks
// its supervisor for a fresh session (ErrReloadRequested) and drains only
// after that reload, once per session. The decision survives the reload
// through session flags.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pders01/pollsync/internal/api"
	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/monitor"
	"github.com/pders01/pollsync/internal/notify"
	"github.com/pders01/pollsync/internal/queue"
	"github.com/pders01/pollsync/internal/storage"
)

// ErrReloadRequested asks the supervisor to rebuild the session and start
// the orchestrator again.
var ErrReloadRequested = errors.New("session reload requested")

// Session flag keys.
const (
	FlagReloadPending = "reload_pending"
	FlagReloaded      = "reloaded"
)

// Connectivity is the online/offline signal.
type Connectivity interface {
	Online() bool
	Events() <-chan bool
}

type PendingCounter interface {
	Count() (int, error)
}

type Drainer interface {
	Process(ctx context.Context, send queue.SendFunc, concurrency int) queue.Summary
}

// RefreshFunc renews the auth token.
type RefreshFunc func(ctx context.Context) error

type Options struct {
	Queue        PendingCounter
	Processor    Drainer
	Connectivity Connectivity
	Session      storage.SessionFlags
	Notifier     notify.Notifier
	Send         queue.SendFunc
	// Refresh is optional; nil means the auth collaborator cannot refresh.
	Refresh     RefreshFunc
	Concurrency int
	Report      *monitor.Report
}

type Orchestrator struct {
	opts    Options
	refresh RefreshFunc
	log     *logrus.Entry
}

func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Queue == nil:
		return nil, errors.New("orchestrator: queue is required")
	case opts.Processor == nil:
		return nil, errors.New("orchestrator: processor is required")
	case opts.Connectivity == nil:
		return nil, errors.New("orchestrator: connectivity is required")
	case opts.Session == nil:
		return nil, errors.New("orchestrator: session flags are required")
	case opts.Send == nil:
		return nil, errors.New("orchestrator: sender is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 2
	}
	return &Orchestrator{
		opts:    opts,
		refresh: opts.Refresh,
		log:     debuglog.Module("orchestrator"),
	}, nil
}

// Startup runs the launch check: a drain left over from a reload goes first,
// otherwise an online launch counts as one online transition.
func (o *Orchestrator) Startup(ctx context.Context) error {
	if o.flag(FlagReloadPending) {
		o.postReload(ctx)
		return nil
	}
	if o.opts.Connectivity.Online() {
		o.log.Debug("Online at startup")
		return o.HandleOnline(ctx)
	}
	o.log.Debug("Offline at startup, waiting for connectivity")
	return nil
}

// HandleOnline reacts to the device coming online. It returns
// ErrReloadRequested when pending submissions should be sent from a fresh
// session; any other failure is logged and swallowed.
func (o *Orchestrator) HandleOnline(ctx context.Context) error {
	if o.flag(FlagReloadPending) {
		o.postReload(ctx)
		return nil
	}

	pending, err := o.opts.Queue.Count()
	if err != nil {
		o.log.WithError(err).Warn("Counting pending items failed")
		pending = 0
	}

	if pending > 0 && !o.flag(FlagReloaded) {
		o.setFlag(FlagReloadPending, true)
		o.setFlag(FlagReloaded, true)
		o.notify(notify.Info, fmt.Sprintf("Back online: reloading to send %s", plural(pending, "pending response")))
		if r := o.opts.Report; r != nil {
			r.Sync.ReloadsRequested.Inc()
		}
		o.log.WithField("pending", pending).Info("Requesting session reload before draining")
		return ErrReloadRequested
	}

	o.drain(ctx)
	return nil
}

// postReload drains if online and clears the reload flag whatever the
// outcome. Offline, the flag stays for the next online transition.
func (o *Orchestrator) postReload(ctx context.Context) {
	if !o.opts.Connectivity.Online() {
		o.log.Info("Reload pending but offline, deferring drain")
		return
	}
	defer o.setFlag(FlagReloadPending, false)
	o.drain(ctx)
}

// Run performs the startup check and then follows connectivity transitions
// and re-check triggers until ctx is done or a reload is requested.
func (o *Orchestrator) Run(ctx context.Context, triggers <-chan struct{}) error {
	if err := o.Startup(ctx); err != nil {
		return err
	}

	events := o.opts.Connectivity.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case online, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !online {
				o.log.Debug("Offline, submissions stay queued")
				continue
			}
			if err := o.HandleOnline(ctx); err != nil {
				return err
			}
		case <-triggers:
			if !o.opts.Connectivity.Online() {
				continue
			}
			o.log.Debug("Re-check triggered")
			if err := o.HandleOnline(ctx); err != nil {
				return err
			}
		}
	}
}

// ProcessNow drains on request and reports the outcome as a notice.
func (o *Orchestrator) ProcessNow(ctx context.Context) queue.Summary {
	summary := o.drain(ctx)
	switch {
	case summary.Busy:
		o.notify(notify.Info, "A sync is already running")
	case summary.Failed > 0:
		o.notify(notify.Error, fmt.Sprintf("Sent %d, %s could not be delivered", summary.Sent, plural(summary.Failed, "response")))
	case summary.Retried > 0:
		o.notify(notify.Warn, fmt.Sprintf("Sent %d, %d will be retried", summary.Sent, summary.Retried))
	case summary.Sent > 0:
		o.notify(notify.Success, fmt.Sprintf("Sent %s", plural(summary.Sent, "response")))
	default:
		o.notify(notify.Info, "Nothing to send")
	}
	return summary
}

// drain never panics past the orchestrator; a crashed pass counts as empty.
func (o *Orchestrator) drain(ctx context.Context) (summary queue.Summary) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WithField("panic", r).Error("Drain crashed")
			summary = queue.Summary{}
		}
	}()
	return o.opts.Processor.Process(ctx, o.send, o.opts.Concurrency)
}

// send delivers one item. An authentication failure gets one token refresh
// and one more delivery before the processor sees the error.
func (o *Orchestrator) send(ctx context.Context, typ string, payload json.RawMessage) error {
	err := o.opts.Send(ctx, typ, payload)
	if err == nil || !errors.Is(err, api.ErrUnauthorized) || o.refresh == nil {
		return err
	}

	if rerr := o.refresh(ctx); rerr != nil {
		o.log.WithError(rerr).Warn("Token refresh failed")
		return err
	}
	if r := o.opts.Report; r != nil {
		r.Sync.TokenRefreshes.Inc()
	}
	o.log.Debug("Token refreshed, re-sending")
	return o.opts.Send(ctx, typ, payload)
}

// flag reads a session flag; an unreadable flag counts as unset.
func (o *Orchestrator) flag(key string) bool {
	v, err := o.opts.Session.Flag(key)
	if err != nil {
		o.log.WithError(err).WithField("flag", key).Warn("Reading session flag failed")
		return false
	}
	return v
}

func (o *Orchestrator) setFlag(key string, v bool) {
	if err := o.opts.Session.SetFlag(key, v); err != nil {
		o.log.WithError(err).WithField("flag", key).Warn("Writing session flag failed")
	}
}

func (o *Orchestrator) notify(kind notify.Kind, msg string) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WithField("panic", r).Warn("Notifier panicked")
		}
	}()
	o.opts.Notifier.Notify(kind, msg)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
