package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/atomic"

	"github.com/pders01/pollsync/internal/debuglog"
	"github.com/pders01/pollsync/internal/monitor"
	"github.com/pders01/pollsync/internal/storage"
)

// SendFunc delivers one submission. The payload is handed over verbatim.
type SendFunc func(ctx context.Context, typ string, payload json.RawMessage) error

// Summary reports what one drain did. Failures never surface as errors; they
// live in the persisted item state.
type Summary struct {
	Sent int `json:"sent"`
	// Retried counts items left pending for a later drain.
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	// Busy is set when another drain was already running and nothing was done.
	Busy bool `json:"busy"`
}

func (s Summary) Attempted() int {
	return s.Sent + s.Retried + s.Failed
}

type ProcessorOptions struct {
	BatchSize   int
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Sleep waits between a failure and the immediate re-send. Tests replace
	// it to avoid real delays.
	Sleep  func(ctx context.Context, d time.Duration) error
	Report *monitor.Report
}

func DefaultProcessorOptions() ProcessorOptions {
	return ProcessorOptions{
		BatchSize:   100,
		MaxRetries:  5,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
	}
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetry
	outcomeFailed
)

// Processor drains the queue against a sender.
type Processor struct {
	queue   *Queue
	opts    ProcessorOptions
	running atomic.Bool
	log     *logrus.Entry
}

func NewProcessor(q *Queue, opts ProcessorOptions) *Processor {
	defaults := DefaultProcessorOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Processor{
		queue: q,
		opts:  opts,
		log:   debuglog.Module("queue"),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff is min(2^attempts * base, max).
func (p *Processor) Backoff(attempts int) time.Duration {
	base, ceiling := p.opts.BackoffBase, p.opts.BackoffMax
	if base <= 0 {
		return 0
	}
	if attempts >= 32 {
		return ceiling
	}
	d := base * time.Duration(uint64(1)<<uint(attempts))
	if d <= 0 || (ceiling > 0 && d > ceiling) {
		return ceiling
	}
	return d
}

// Running reports whether a drain is in progress.
func (p *Processor) Running() bool {
	return p.running.Load()
}

// Process drains one batch of eligible items. Items are sent in chunks of
// concurrency; a chunk starts only after the previous one has settled. Only
// one drain runs at a time, a concurrent call returns a Busy summary.
func (p *Processor) Process(ctx context.Context, send SendFunc, concurrency int) Summary {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Debug("Drain already running")
		if r := p.opts.Report; r != nil {
			r.Queue.DrainsSkipped.Inc()
		}
		return Summary{Busy: true}
	}
	defer p.running.Store(false)

	if concurrency < 1 {
		concurrency = 1
	}

	items, err := p.queue.Pending(p.opts.BatchSize)
	if err != nil {
		p.log.WithError(err).Warn("Reading pending items failed, treating queue as empty")
		return Summary{}
	}
	if len(items) == 0 {
		return Summary{}
	}

	p.log.WithField("items", len(items)).WithField("concurrency", concurrency).Info("Draining queue")

	outcomes := make([]outcome, len(items))
	done := 0
	for start := 0; start < len(items); start += concurrency {
		if ctx.Err() != nil {
			break
		}
		end := start + concurrency
		if end > len(items) {
			end = len(items)
		}

		chunk := pool.New().WithMaxGoroutines(end - start)
		for i := start; i < end; i++ {
			chunk.Go(func() {
				outcomes[i] = p.processItem(ctx, send, items[i])
			})
		}
		chunk.Wait()
		done = end
	}

	var summary Summary
	for _, o := range outcomes[:done] {
		switch o {
		case outcomeSent:
			summary.Sent++
		case outcomeRetry:
			summary.Retried++
		case outcomeFailed:
			summary.Failed++
		}
	}
	p.record(summary)

	p.log.WithField("sent", summary.Sent).
		WithField("retried", summary.Retried).
		WithField("failed", summary.Failed).
		Info("Drain finished")
	return summary
}

func (p *Processor) record(summary Summary) {
	r := p.opts.Report
	if r == nil {
		return
	}
	r.Queue.Drains.Inc()
	r.Queue.Sent.Add(uint64(summary.Sent))
	r.Queue.Retried.Add(uint64(summary.Retried))
	r.Queue.Failed.Add(uint64(summary.Failed))
	r.Queue.LastDrainAt.Store(time.Now().Unix())
	if n, err := p.queue.Count(); err == nil {
		r.Queue.Pending.Store(int64(n))
	}
}

// processItem runs one item through send, backoff and a single re-send.
func (p *Processor) processItem(ctx context.Context, send SendFunc, item *storage.QueueItem) outcome {
	log := p.log.WithField("item", item.ID).WithField("type", item.Type)

	item.Status = storage.StatusProcessing
	p.persist(log, item)

	err := safeSend(ctx, send, item)
	if err == nil {
		return p.delivered(log, item)
	}

	p.recordFailure(item, err)
	if item.Attempts > p.opts.MaxRetries {
		return p.fail(log, item)
	}

	delay := p.Backoff(item.Attempts)
	log.WithError(err).WithField("attempts", item.Attempts).WithField("backoff", delay).Info("Send failed, retrying")
	if waitErr := p.opts.Sleep(ctx, delay); waitErr != nil {
		item.Status = storage.StatusPending
		p.persist(log, item)
		return outcomeRetry
	}

	item.Status = storage.StatusPending
	p.persist(log, item)

	err = safeSend(ctx, send, item)
	if err == nil {
		return p.delivered(log, item)
	}

	p.recordFailure(item, err)
	if item.Attempts > p.opts.MaxRetries {
		return p.fail(log, item)
	}
	log.WithError(err).WithField("attempts", item.Attempts).Info("Re-send failed, leaving pending")
	p.persist(log, item)
	return outcomeRetry
}

func (p *Processor) recordFailure(item *storage.QueueItem, err error) {
	item.Attempts++
	item.LastError = err.Error()
}

func (p *Processor) delivered(log *logrus.Entry, item *storage.QueueItem) outcome {
	if err := p.queue.Remove(item.ID); err != nil {
		// Recover resets the processing status at the next start; the item
		// will be delivered again.
		log.WithError(err).Warn("Removing delivered item failed")
	}
	log.Debug("Item sent")
	return outcomeSent
}

func (p *Processor) fail(log *logrus.Entry, item *storage.QueueItem) outcome {
	item.Status = storage.StatusFailed
	p.persist(log, item)
	log.WithField("attempts", item.Attempts).WithField("error", item.LastError).Warn("Item failed")
	return outcomeFailed
}

func (p *Processor) persist(log *logrus.Entry, item *storage.QueueItem) {
	if err := p.queue.Update(item); err != nil {
		log.WithError(err).Warn("Persisting item failed")
	}
}

// safeSend turns a panicking sender into an ordinary failure.
func safeSend(ctx context.Context, send SendFunc, item *storage.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()
	return send(ctx, item.Type, item.Payload)
}
