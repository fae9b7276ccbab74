// Package event defines the immutable envelope every clinical fact travels
// in, plus the envelope-level validation rules. The payload is an opaque
// map because event schemas are defined per event type and versioned via
// schema_version; the store and the sync protocol never interpret it.
package event

import (
	"time"

	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// MaxClockSkew bounds how far into the future occurred_at may lie at
// creation time. Device clocks drift; anything beyond this is a data error.
const MaxClockSkew = 5 * time.Minute

// Envelope is the immutable record of one clinical event. Treat persisted
// envelopes as read-only; components that need variations build new values.
type Envelope struct {
	// Identity.
	EventID       domain.EventID
	EventType     string
	SchemaVersion uint32

	// Aggregate coordinates.
	AggregateID      domain.AggregateID
	AggregateType    domain.AggregateType
	AggregateVersion uint64

	// Temporal. OccurredAt is clinician-asserted; RecordedAt is set by the
	// event store at persist time.
	OccurredAt time.Time
	RecordedAt time.Time

	// Actor.
	PerformedBy   domain.PerformerID
	PerformerRole domain.PerformerRole

	// Organizational context.
	OrganizationID domain.OrganizationID
	FacilityID     domain.FacilityID

	// Device & sync.
	DeviceID            string
	ConnectionStatus    domain.ConnectionStatus
	DeviceClockDriftMs  int64
	LocalSequenceNumber uint64
	SyncBatchID         domain.SyncBatchID // nil when the event has not synced

	// Traceability.
	CorrelationID domain.CorrelationID
	CausationID   domain.EventID // nil for root events

	// Access control.
	Visibility []domain.Audience

	// Domain-specific fields, schema'd per EventType.
	Payload map[string]any
}

// AdjustedOccurredAt compensates for the producing device's estimated clock
// drift. The causal orderer compares events across devices on this value.
func (e Envelope) AdjustedOccurredAt() time.Time {
	return e.OccurredAt.Add(-time.Duration(e.DeviceClockDriftMs) * time.Millisecond)
}

// WithRecordedAt returns a copy with recorded_at set. Only the event store
// calls this, exactly once per event.
func (e Envelope) WithRecordedAt(t time.Time) Envelope {
	e.RecordedAt = t
	return e
}

// WithVersion returns a copy renumbered to the given aggregate version.
// Used by the command handler when stamping and by sync conflict resolution
// when replaying contested events onto a diverged stream.
func (e Envelope) WithVersion(v uint64) Envelope {
	e.AggregateVersion = v
	return e
}

// Validate checks the envelope-level invariants that hold for every event
// regardless of type. now is the receiving node's clock reading.
func (e Envelope) Validate(now time.Time) error {
	switch {
	case e.EventID.IsNil():
		return dErrors.New(dErrors.CodeValidation, "event_id is required")
	case e.EventType == "":
		return dErrors.New(dErrors.CodeValidation, "event_type is required")
	case e.SchemaVersion == 0:
		return dErrors.New(dErrors.CodeValidation, "schema_version must be >= 1")
	case e.AggregateID.IsNil():
		return dErrors.New(dErrors.CodeValidation, "aggregate_id is required")
	case !e.AggregateType.IsValid():
		return dErrors.Newf(dErrors.CodeValidation, "invalid aggregate_type: %q", e.AggregateType)
	case e.OccurredAt.IsZero():
		return dErrors.New(dErrors.CodeValidation, "occurred_at is required")
	case e.PerformedBy.IsNil():
		return dErrors.New(dErrors.CodeValidation, "performed_by is required")
	case !e.PerformerRole.IsValid():
		return dErrors.Newf(dErrors.CodeValidation, "invalid performer_role: %q", e.PerformerRole)
	case e.OrganizationID.IsNil():
		return dErrors.New(dErrors.CodeValidation, "organization_id is required")
	case e.FacilityID.IsNil():
		return dErrors.New(dErrors.CodeValidation, "facility_id is required")
	case e.DeviceID == "":
		return dErrors.New(dErrors.CodeValidation, "device_id is required")
	case !e.ConnectionStatus.IsValid():
		return dErrors.Newf(dErrors.CodeValidation, "invalid connection_status: %q", e.ConnectionStatus)
	case e.CorrelationID.IsNil():
		return dErrors.New(dErrors.CodeValidation, "correlation_id is required")
	}
	if e.AggregateVersion < 1 {
		return dErrors.Invariant(dErrors.CodeValidation, string(domain.InvVersionContiguous),
			"aggregate_version must be >= 1")
	}
	if e.LocalSequenceNumber < 1 {
		return dErrors.Invariant(dErrors.CodeValidation, string(domain.InvLSNMonotonic),
			"local_sequence_number must be >= 1")
	}
	if e.OccurredAt.After(now.Add(MaxClockSkew)) {
		return dErrors.Invariant(dErrors.CodeValidation, string(domain.InvObservationClockSkew),
			"occurred_at is more than 5 minutes in the future")
	}
	return nil
}

// Draft is the aggregate's contribution to a new event: its type and
// payload. The command handler stamps the remaining metadata (event ID,
// version, device sequence, timestamps) before persistence.
type Draft struct {
	EventType string
	Payload   map[string]any
}
