package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// wireEnvelope is the stable serialized shape of an envelope. Field names
// never change; unknown fields are tolerated on read so newer nodes can
// talk to older ones. Instants are RFC 3339 with offset; IDs canonical
// dashed hex; enums lowercase snake_case.
type wireEnvelope struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	SchemaVersion uint32 `json:"schema_version"`

	AggregateID      string `json:"aggregate_id"`
	AggregateType    string `json:"aggregate_type"`
	AggregateVersion uint64 `json:"aggregate_version"`

	OccurredAt string `json:"occurred_at"`
	RecordedAt string `json:"recorded_at,omitempty"`

	PerformedBy   string `json:"performed_by"`
	PerformerRole string `json:"performer_role"`

	OrganizationID string `json:"organization_id"`
	FacilityID     string `json:"facility_id"`

	DeviceID            string `json:"device_id"`
	ConnectionStatus    string `json:"connection_status"`
	DeviceClockDriftMs  int64  `json:"device_clock_drift_ms"`
	LocalSequenceNumber uint64 `json:"local_sequence_number"`
	SyncBatchID         string `json:"sync_batch_id,omitempty"`

	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id,omitempty"`

	Visibility []string `json:"visibility"`

	Payload map[string]any `json:"payload"`
}

// MarshalJSON renders the envelope in its stable wire shape.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		EventID:             e.EventID.String(),
		EventType:           e.EventType,
		SchemaVersion:       e.SchemaVersion,
		AggregateID:         e.AggregateID.String(),
		AggregateType:       string(e.AggregateType),
		AggregateVersion:    e.AggregateVersion,
		OccurredAt:          e.OccurredAt.Format(time.RFC3339Nano),
		PerformedBy:         e.PerformedBy.String(),
		PerformerRole:       string(e.PerformerRole),
		OrganizationID:      e.OrganizationID.String(),
		FacilityID:          e.FacilityID.String(),
		DeviceID:            e.DeviceID,
		ConnectionStatus:    string(e.ConnectionStatus),
		DeviceClockDriftMs:  e.DeviceClockDriftMs,
		LocalSequenceNumber: e.LocalSequenceNumber,
		CorrelationID:       e.CorrelationID.String(),
		Payload:             e.Payload,
	}
	if !e.RecordedAt.IsZero() {
		w.RecordedAt = e.RecordedAt.Format(time.RFC3339Nano)
	}
	if !e.SyncBatchID.IsNil() {
		w.SyncBatchID = e.SyncBatchID.String()
	}
	if !e.CausationID.IsNil() {
		w.CausationID = e.CausationID.String()
	}
	w.Visibility = make([]string, 0, len(e.Visibility))
	for _, v := range e.Visibility {
		w.Visibility = append(w.Visibility, string(v))
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the stable wire shape, tolerating unknown fields.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return dErrors.Wrap(dErrors.CodeValidation, "malformed envelope", err)
	}
	parsed, err := w.toEnvelope()
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func (w wireEnvelope) toEnvelope() (Envelope, error) {
	var e Envelope
	var err error

	if e.EventID, err = domain.ParseEventID(w.EventID); err != nil {
		return e, err
	}
	e.EventType = w.EventType
	e.SchemaVersion = w.SchemaVersion

	if e.AggregateID, err = domain.ParseAggregateID(w.AggregateID); err != nil {
		return e, err
	}
	if e.AggregateType, err = domain.ParseAggregateType(w.AggregateType); err != nil {
		return e, err
	}
	e.AggregateVersion = w.AggregateVersion

	if e.OccurredAt, err = parseInstant("occurred_at", w.OccurredAt); err != nil {
		return e, err
	}
	if w.RecordedAt != "" {
		if e.RecordedAt, err = parseInstant("recorded_at", w.RecordedAt); err != nil {
			return e, err
		}
	}

	if e.PerformedBy, err = domain.ParsePerformerID(w.PerformedBy); err != nil {
		return e, err
	}
	if e.PerformerRole, err = domain.ParsePerformerRole(w.PerformerRole); err != nil {
		return e, err
	}
	if e.OrganizationID, err = domain.ParseOrganizationID(w.OrganizationID); err != nil {
		return e, err
	}
	if e.FacilityID, err = domain.ParseFacilityID(w.FacilityID); err != nil {
		return e, err
	}

	e.DeviceID = w.DeviceID
	if e.ConnectionStatus, err = domain.ParseConnectionStatus(w.ConnectionStatus); err != nil {
		return e, err
	}
	e.DeviceClockDriftMs = w.DeviceClockDriftMs
	e.LocalSequenceNumber = w.LocalSequenceNumber
	if w.SyncBatchID != "" {
		raw, perr := uuid.Parse(w.SyncBatchID)
		if perr != nil {
			return e, dErrors.New(dErrors.CodeValidation, "sync_batch_id is not a valid UUID")
		}
		e.SyncBatchID = domain.SyncBatchID(raw)
	}

	if e.CorrelationID, err = domain.ParseCorrelationID(w.CorrelationID); err != nil {
		return e, err
	}
	if w.CausationID != "" {
		if e.CausationID, err = domain.ParseEventID(w.CausationID); err != nil {
			return e, err
		}
	}

	e.Visibility = make([]domain.Audience, 0, len(w.Visibility))
	for _, v := range w.Visibility {
		a, aerr := domain.ParseAudience(v)
		if aerr != nil {
			return e, aerr
		}
		e.Visibility = append(e.Visibility, a)
	}

	e.Payload = w.Payload
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e, nil
}

func parseInstant(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, dErrors.Newf(dErrors.CodeValidation, "%s is not a valid RFC 3339 instant", field)
	}
	return t, nil
}
