// Package dispatch connects the event store to projections: an async
// at-least-once fan-out with per-projection FIFO inboxes, processed-set
// dedup, checkpoints, bounded retries with a dead-letter queue, and a
// catch-up poller that replays anything the live path dropped.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clinicore/internal/event"
	"clinicore/internal/eventstore"
	"clinicore/pkg/domain"
)

// Projection consumes events. Apply must be idempotent per event — the
// dispatcher deduplicates by event ID, but a crash between Apply and the
// processed-set update redelivers.
type Projection interface {
	Name() string
	// Filter lists the event types this projection consumes; empty means
	// every event.
	Filter() []string
	Apply(ctx context.Context, e event.Envelope) error
}

// Mode controls how a projection is fed.
type Mode string

const (
	// Live projections get an inbox goroutine plus catch-up polling.
	ModeLive Mode = "live"
	// OnDemand projections get no inbox; they are fed only by catch-up
	// passes (explicit CatchUp calls and the periodic poller's passes).
	ModeOnDemand Mode = "on_demand"
)

// DeadLetter records an event a projection permanently failed to process.
type DeadLetter struct {
	EventID    domain.EventID
	Projection string
	Reason     string
	Attempts   int
	FirstFail  time.Time
	LastFail   time.Time
}

// Options tune the dispatcher.
type Options struct {
	InboxSize       int           // per-projection buffer; default 256
	MaxAttempts     int           // per-event handler retries; default 3
	RetryBackoff    time.Duration // base backoff between retries; default 25ms
	CatchUpInterval time.Duration // poller period; default 2s
	CatchUpBatch    int           // events per poll per projection; default 200
}

func (o *Options) defaults() {
	if o.InboxSize <= 0 {
		o.InboxSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 25 * time.Millisecond
	}
	if o.CatchUpInterval <= 0 {
		o.CatchUpInterval = 2 * time.Second
	}
	if o.CatchUpBatch <= 0 {
		o.CatchUpBatch = 200
	}
}

type subscription struct {
	projection Projection
	mode       Mode
	filter     eventstore.Filter
	inbox      chan event.Envelope

	mu         sync.Mutex
	processed  map[domain.EventID]struct{}
	checkpoint uint64
	dead       []DeadLetter
}

// Dispatcher fans events out to registered projections.
type Dispatcher struct {
	store  eventstore.Store
	logger *slog.Logger
	opts   Options

	mu   sync.RWMutex
	subs map[string]*subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(store eventstore.Store, logger *slog.Logger, opts Options) *Dispatcher {
	opts.defaults()
	return &Dispatcher{
		store:  store,
		logger: logger,
		opts:   opts,
		subs:   make(map[string]*subscription),
	}
}

// Register adds a projection. Call before Start.
func (d *Dispatcher) Register(p Projection, mode Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[p.Name()] = &subscription{
		projection: p,
		mode:       mode,
		filter:     eventstore.Filter{EventTypes: p.Filter()},
		inbox:      make(chan event.Envelope, d.opts.InboxSize),
		processed:  make(map[domain.EventID]struct{}),
	}
}

// Start launches one inbox worker per live projection and the catch-up
// poller. Returns immediately; Stop waits for drain.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subs {
		if sub.mode != ModeLive {
			continue
		}
		d.wg.Add(1)
		go d.drain(ctx, sub)
	}

	d.wg.Add(1)
	go d.poll(ctx)
}

// Stop cancels workers and waits for them to finish their current event.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Dispatch enqueues freshly appended events on the live path. It never
// blocks the committing writer: a full inbox is dropped here and recovered
// by the catch-up poller, which is why durability never depends on this
// call succeeding.
func (d *Dispatcher) Dispatch(events []event.Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range events {
		for _, sub := range d.subs {
			if sub.mode != ModeLive || !sub.filter.Matches(e) {
				continue
			}
			select {
			case sub.inbox <- e:
			default:
				inboxDropped.WithLabelValues(sub.projection.Name()).Inc()
			}
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, sub *subscription) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-sub.inbox:
			d.deliver(ctx, sub, e)
		}
	}
}

// deliver applies one event with dedup, retries, and dead-lettering.
func (d *Dispatcher) deliver(ctx context.Context, sub *subscription, e event.Envelope) {
	sub.mu.Lock()
	_, seen := sub.processed[e.EventID]
	sub.mu.Unlock()

	if !seen {
		var err error
		attempts := 0
		for attempts < d.opts.MaxAttempts {
			attempts++
			if err = sub.projection.Apply(ctx, e); err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.opts.RetryBackoff * time.Duration(1<<(attempts-1))):
			}
		}
		if err != nil {
			now := time.Now()
			sub.mu.Lock()
			sub.dead = append(sub.dead, DeadLetter{
				EventID:    e.EventID,
				Projection: sub.projection.Name(),
				Reason:     err.Error(),
				Attempts:   attempts,
				FirstFail:  now,
				LastFail:   now,
			})
			// Mark processed so the poller moves on; the dead letter
			// holds the event for operator replay.
			sub.processed[e.EventID] = struct{}{}
			sub.mu.Unlock()

			deadLettered.WithLabelValues(sub.projection.Name()).Inc()
			d.logger.Error("projection dead-lettered event",
				"projection", sub.projection.Name(),
				"event_id", e.EventID.String(),
				"attempts", attempts,
				"error", err,
			)
			return
		}
	}

	sub.mu.Lock()
	sub.processed[e.EventID] = struct{}{}
	sub.mu.Unlock()
	if !seen {
		delivered.WithLabelValues(sub.projection.Name()).Inc()
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.CatchUpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.CatchUp(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("catch-up pass failed", "error", err)
			}
		}
	}
}

// CatchUp runs one synchronous catch-up pass for every projection,
// delivering events past each checkpoint in insertion order. Projections
// catch up in parallel; delivery within one projection stays ordered.
func (d *Dispatcher) CatchUp(ctx context.Context) error {
	d.mu.RLock()
	subs := make([]*subscription, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			for {
				sub.mu.Lock()
				cursor := sub.checkpoint
				sub.mu.Unlock()

				events, next, err := d.store.ReadAfter(ctx, sub.filter, cursor, d.opts.CatchUpBatch)
				if err != nil {
					return err
				}
				if len(events) == 0 {
					sub.mu.Lock()
					if next > sub.checkpoint {
						sub.checkpoint = next
					}
					sub.mu.Unlock()
					return nil
				}
				// next covers every scanned position, matched or not.
				for _, e := range events {
					d.deliver(ctx, sub, e)
				}
				sub.mu.Lock()
				if next > sub.checkpoint {
					sub.checkpoint = next
				}
				sub.mu.Unlock()
			}
		})
	}
	return g.Wait()
}

// DeadLetters returns a copy of a projection's dead-letter queue.
func (d *Dispatcher) DeadLetters(projection string) []DeadLetter {
	d.mu.RLock()
	sub, ok := d.subs[projection]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return append([]DeadLetter{}, sub.dead...)
}

// Checkpoint returns a projection's current catch-up position.
func (d *Dispatcher) Checkpoint(projection string) uint64 {
	d.mu.RLock()
	sub, ok := d.subs[projection]
	d.mu.RUnlock()
	if !ok {
		return 0
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.checkpoint
}
