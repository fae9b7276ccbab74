package domain

import (
	"github.com/google/uuid"

	dErrors "clinicore/pkg/domain-errors"
)

// Typed ID wrappers keep the many 128-bit identifiers in the clinical core
// from being confused with one another. Construct via the Parse functions at
// trust boundaries; direct casting bypasses validation.

// EventID identifies a single persisted event. Event IDs are UUIDv7 so they
// sort by creation time, which the causal orderer relies on as its final
// deterministic tiebreak.
type EventID uuid.UUID

// AggregateID identifies an aggregate instance (one event stream).
type AggregateID uuid.UUID

// PatientID identifies a patient across aggregates; carried in payloads.
type PatientID uuid.UUID

// PerformerID identifies the clinician or staff member acting.
type PerformerID uuid.UUID

// OrganizationID identifies the owning practice.
type OrganizationID uuid.UUID

// FacilityID identifies the physical site within an organization.
type FacilityID uuid.UUID

// CorrelationID groups events born from one external interaction.
type CorrelationID uuid.UUID

// SyncBatchID identifies one upload batch during sync.
type SyncBatchID uuid.UUID

// NewEventID mints a time-sortable event ID. UUIDv7 generation only fails
// when the system entropy source is broken, which is unrecoverable.
func NewEventID() EventID {
	id, err := uuid.NewV7()
	if err != nil {
		panic("uuid v7 generation failed: " + err.Error())
	}
	return EventID(id)
}

// NewAggregateID mints a random aggregate ID.
func NewAggregateID() AggregateID { return AggregateID(uuid.New()) }

// NewCorrelationID mints a random correlation ID.
func NewCorrelationID() CorrelationID { return CorrelationID(uuid.New()) }

// NewSyncBatchID mints a random sync batch ID.
func NewSyncBatchID() SyncBatchID { return SyncBatchID(uuid.New()) }

func parseUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s cannot be empty", field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s is not a valid UUID", field)
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s cannot be the nil UUID", field)
	}
	return id, nil
}

// ParseEventID validates and converts an external event ID string.
func ParseEventID(s string) (EventID, error) {
	id, err := parseUUID("event_id", s)
	return EventID(id), err
}

// ParseAggregateID validates and converts an external aggregate ID string.
func ParseAggregateID(s string) (AggregateID, error) {
	id, err := parseUUID("aggregate_id", s)
	return AggregateID(id), err
}

// ParsePatientID validates and converts an external patient ID string.
func ParsePatientID(s string) (PatientID, error) {
	id, err := parseUUID("patient_id", s)
	return PatientID(id), err
}

// ParsePerformerID validates and converts an external performer ID string.
func ParsePerformerID(s string) (PerformerID, error) {
	id, err := parseUUID("performed_by", s)
	return PerformerID(id), err
}

// ParseOrganizationID validates and converts an external organization ID string.
func ParseOrganizationID(s string) (OrganizationID, error) {
	id, err := parseUUID("organization_id", s)
	return OrganizationID(id), err
}

// ParseFacilityID validates and converts an external facility ID string.
func ParseFacilityID(s string) (FacilityID, error) {
	id, err := parseUUID("facility_id", s)
	return FacilityID(id), err
}

// ParseCorrelationID validates and converts an external correlation ID string.
func ParseCorrelationID(s string) (CorrelationID, error) {
	id, err := parseUUID("correlation_id", s)
	return CorrelationID(id), err
}

func (id EventID) String() string        { return uuid.UUID(id).String() }
func (id AggregateID) String() string    { return uuid.UUID(id).String() }
func (id PatientID) String() string      { return uuid.UUID(id).String() }
func (id PerformerID) String() string    { return uuid.UUID(id).String() }
func (id OrganizationID) String() string { return uuid.UUID(id).String() }
func (id FacilityID) String() string     { return uuid.UUID(id).String() }
func (id CorrelationID) String() string  { return uuid.UUID(id).String() }
func (id SyncBatchID) String() string    { return uuid.UUID(id).String() }

func (id EventID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id AggregateID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PatientID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id PerformerID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id OrganizationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id FacilityID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id CorrelationID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id SyncBatchID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
