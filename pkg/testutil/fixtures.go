package testutil

import (
	"time"

	"github.com/google/uuid"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// EnvelopeFactory builds valid envelopes with stable org/actor/device
// context so tests only spell out the fields they care about. Local
// sequence numbers auto-increment the way a real device counter would.
type EnvelopeFactory struct {
	Org       domain.OrganizationID
	Facility  domain.FacilityID
	Performer domain.PerformerID
	Role      domain.PerformerRole
	DeviceID  string
	DriftMs   int64
	Base      time.Time

	nextLSN uint64
}

// NewEnvelopeFactory seeds a factory for one device. Base time is fixed so
// assertions on ordering are reproducible.
func NewEnvelopeFactory(deviceID string) *EnvelopeFactory {
	return &EnvelopeFactory{
		Org:       domain.OrganizationID(uuid.New()),
		Facility:  domain.FacilityID(uuid.New()),
		Performer: domain.PerformerID(uuid.New()),
		Role:      domain.RolePhysician,
		DeviceID:  deviceID,
		Base:      time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
	}
}

// Build mints the next envelope for this device. occurred_at advances one
// second per event so causal ordering by time matches build order unless a
// test overrides it.
func (f *EnvelopeFactory) Build(
	aggType domain.AggregateType,
	aggID domain.AggregateID,
	version uint64,
	eventType string,
	payload map[string]any,
) event.Envelope {
	f.nextLSN++
	if payload == nil {
		payload = map[string]any{}
	}
	return event.Envelope{
		EventID:             domain.NewEventID(),
		EventType:           eventType,
		SchemaVersion:       1,
		AggregateID:         aggID,
		AggregateType:       aggType,
		AggregateVersion:    version,
		OccurredAt:          f.Base.Add(time.Duration(f.nextLSN) * time.Second),
		PerformedBy:         f.Performer,
		PerformerRole:       f.Role,
		OrganizationID:      f.Org,
		FacilityID:          f.Facility,
		DeviceID:            f.DeviceID,
		ConnectionStatus:    domain.ConnectionOffline,
		DeviceClockDriftMs:  f.DriftMs,
		LocalSequenceNumber: f.nextLSN,
		CorrelationID:       domain.NewCorrelationID(),
		Visibility:          domain.DefaultVisibility(),
		Payload:             payload,
	}
}

// At overrides the next envelope's occurred_at by building and adjusting.
func (f *EnvelopeFactory) At(
	aggType domain.AggregateType,
	aggID domain.AggregateID,
	version uint64,
	eventType string,
	payload map[string]any,
	occurredAt time.Time,
) event.Envelope {
	env := f.Build(aggType, aggID, version, eventType, payload)
	env.OccurredAt = occurredAt
	return env
}
