package handler

import "clinicore/internal/event"

// MultiDispatcher fans the post-commit hand-off to several consumers, e.g.
// the projection dispatcher plus the device sync outbox.
type MultiDispatcher []Dispatcher

func (m MultiDispatcher) Dispatch(events []event.Envelope) {
	for _, d := range m {
		d.Dispatch(events)
	}
}
