// Package eventstore defines the append-only event persistence port and its
// implementations. Stores are interface-driven to keep the domain logic
// testable and to allow swapping in-memory and Postgres persistence without
// rewiring business code.
//
// Implementations must satisfy:
//   - Append-only: events are never modified or deleted.
//   - Sequential per stream: aggregate_version is contiguous per stream.
//   - Idempotent: appending an existing event_id is a successful no-op.
//   - No projection logic: the store persists and retrieves, nothing more.
package eventstore

import (
	"context"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// StreamKey addresses one physical stream.
type StreamKey struct {
	AggregateType domain.AggregateType
	AggregateID   domain.AggregateID
}

// Filter narrows ReadAfter queries. Zero values mean "any". Ordering of the
// result follows insertion order on the serving node, not semantic order;
// consumers apply the causal orderer when semantic order matters.
type Filter struct {
	EventTypes     []string
	AggregateTypes []domain.AggregateType
	OrganizationID domain.OrganizationID
	PatientID      domain.PatientID
	// Visibility holds the reader's granted audience tags. Empty means the
	// reader is unrestricted (internal consumers).
	Visibility []domain.Audience
}

// Matches applies the filter to one envelope. Shared by the in-memory store
// and the dispatcher's live-path routing so both agree on semantics.
func (f Filter) Matches(e event.Envelope) bool {
	if len(f.EventTypes) > 0 && !containsString(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.AggregateTypes) > 0 && !containsAggregate(f.AggregateTypes, e.AggregateType) {
		return false
	}
	if !f.OrganizationID.IsNil() && e.OrganizationID != f.OrganizationID {
		return false
	}
	if !f.PatientID.IsNil() {
		pid, _ := e.Payload["patient_id"].(string)
		if pid != f.PatientID.String() {
			return false
		}
	}
	if len(f.Visibility) > 0 && !domain.VisibilityAllows(e.Visibility, f.Visibility) {
		return false
	}
	return true
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsAggregate(set []domain.AggregateType, v domain.AggregateType) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// AppendResult reports what an append did.
type AppendResult struct {
	// Duplicate is true when the event_id was already persisted; the store
	// changed nothing and Position refers to the original insertion.
	Duplicate bool
	// Position is the store-local insertion position (1-based, monotonic).
	Position uint64
}

// Store is the event persistence port.
type Store interface {
	// Append persists one envelope at the tail of its stream. The envelope's
	// aggregate_version must equal the current stream length + 1, otherwise
	// a *VersionConflictError is returned. Appending an already-known
	// event_id succeeds without writing. recorded_at is set here, once.
	Append(ctx context.Context, e event.Envelope) (AppendResult, error)

	// ReadStream returns a stream's envelopes ascending by aggregate_version.
	ReadStream(ctx context.Context, key StreamKey) ([]event.Envelope, error)

	// ReadStreamFrom returns a stream's envelopes with version >= from.
	ReadStreamFrom(ctx context.Context, key StreamKey, from uint64) ([]event.Envelope, error)

	// ReadAfter returns up to limit envelopes with insertion position >
	// cursor matching the filter, plus the position of the last envelope
	// scanned (the next cursor). Insertion order, not semantic order.
	ReadAfter(ctx context.Context, f Filter, cursor uint64, limit int) ([]event.Envelope, uint64, error)

	// Exists reports whether an event_id has been persisted.
	Exists(ctx context.Context, id domain.EventID) (bool, error)

	// StreamVersion returns the highest aggregate_version in a stream, or 0
	// when the stream does not exist.
	StreamVersion(ctx context.Context, key StreamKey) (uint64, error)

	// CurrentPosition returns the position of the most recent insertion, or
	// 0 for an empty store. The sync handshake reports it to devices.
	CurrentPosition(ctx context.Context) (uint64, error)
}
