package eventstore

import (
	"context"
	"sync"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// InMemoryStore is the reference Store implementation. It is the
// authoritative fixture for unit tests and serves as the device-local store
// in sync simulations. Safe for concurrent use.
type InMemoryStore struct {
	mu      sync.RWMutex
	clock   event.Clock
	streams map[StreamKey][]event.Envelope
	byID    map[domain.EventID]positioned
	log     []event.Envelope // insertion order; position = index + 1
}

type positioned struct {
	env      event.Envelope
	position uint64
}

// NewInMemoryStore builds an empty store stamping recorded_at from clock.
func NewInMemoryStore(clock event.Clock) *InMemoryStore {
	if clock == nil {
		clock = event.SystemClock{}
	}
	return &InMemoryStore{
		clock:   clock,
		streams: make(map[StreamKey][]event.Envelope),
		byID:    make(map[domain.EventID]positioned),
	}
}

func (s *InMemoryStore) Append(_ context.Context, e event.Envelope) (AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[e.EventID]; ok {
		return AppendResult{Duplicate: true, Position: existing.position}, nil
	}

	key := StreamKey{AggregateType: e.AggregateType, AggregateID: e.AggregateID}
	expected := uint64(len(s.streams[key])) + 1
	if e.AggregateVersion != expected {
		return AppendResult{}, &VersionConflictError{
			Key:      key,
			Expected: expected,
			Actual:   e.AggregateVersion,
		}
	}

	persisted := e
	if persisted.RecordedAt.IsZero() {
		persisted = e.WithRecordedAt(s.clock.Now())
	}

	s.streams[key] = append(s.streams[key], persisted)
	s.log = append(s.log, persisted)
	pos := uint64(len(s.log))
	s.byID[persisted.EventID] = positioned{env: persisted, position: pos}

	return AppendResult{Position: pos}, nil
}

func (s *InMemoryStore) ReadStream(_ context.Context, key StreamKey) ([]event.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]event.Envelope{}, s.streams[key]...), nil
}

func (s *InMemoryStore) ReadStreamFrom(_ context.Context, key StreamKey, from uint64) ([]event.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Envelope
	for _, e := range s.streams[key] {
		if e.AggregateVersion >= from {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ReadAfter(_ context.Context, f Filter, cursor uint64, limit int) ([]event.Envelope, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := cursor
	var out []event.Envelope
	for i := int(cursor); i < len(s.log); i++ {
		next = uint64(i) + 1
		if f.Matches(s.log[i]) {
			out = append(out, s.log[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, next, nil
}

func (s *InMemoryStore) Exists(_ context.Context, id domain.EventID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok, nil
}

func (s *InMemoryStore) StreamVersion(_ context.Context, key StreamKey) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.streams[key])), nil
}

func (s *InMemoryStore) CurrentPosition(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.log)), nil
}
