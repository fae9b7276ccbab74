package sync

import (
	stdsync "sync"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// Outbox is the device-side queue of locally persisted but unsynced
// events, ordered by local sequence number. Removal is idempotent, so a
// replayed upload ack is harmless.
type Outbox struct {
	mu      stdsync.Mutex
	entries []event.Envelope
	queued  map[domain.EventID]struct{}
}

func NewOutbox() *Outbox {
	return &Outbox{queued: make(map[domain.EventID]struct{})}
}

// Record enqueues freshly committed events. It satisfies the command
// handler's Dispatcher contract so the outbox fills transactionally with
// the post-commit hand-off.
func (o *Outbox) Record(events []event.Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range events {
		if _, ok := o.queued[e.EventID]; ok {
			continue
		}
		o.queued[e.EventID] = struct{}{}
		o.entries = append(o.entries, e)
	}
}

// Dispatch aliases Record so an Outbox can stand directly in a
// handler.MultiDispatcher fan-out.
func (o *Outbox) Dispatch(events []event.Envelope) { o.Record(events) }

// Pending returns unsynced events in LSN order.
func (o *Outbox) Pending() []event.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]event.Envelope{}, o.entries...)
}

// Len reports the number of queued events.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Remove drops entries by event ID. Unknown IDs are ignored.
func (o *Outbox) Remove(ids []domain.EventID) {
	drop := make(map[domain.EventID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.entries[:0]
	for _, e := range o.entries {
		if _, ok := drop[e.EventID]; ok {
			delete(o.queued, e.EventID)
			continue
		}
		kept = append(kept, e)
	}
	o.entries = kept
}
