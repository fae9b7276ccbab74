// Package compensation detects eventual-consistency violations when offline
// work reaches the hub. Per-stream invariants were already enforced by the
// store; this engine runs the cross-aggregate rules the device could not
// check while partitioned. It never modifies or rejects the triggering
// event — clinical data is preserved and a review item is recorded, plus an
// automatic corrective event in the one unambiguous case.
package compensation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"clinicore/internal/aggregate"
	"clinicore/internal/device"
	"clinicore/internal/event"
	"clinicore/internal/eventstore"
	"clinicore/internal/readmodel"
	"clinicore/pkg/domain"
)

// Engine inspects accepted uploads against the hub read models.
//
// Violation table:
//
//	appointment requested/confirmed for terminal patient → auto-cancel + review
//	observation after encounter closed                  → review only
//	diagnosis after encounter closed                    → review only
//	diagnosis for terminal patient                      → review only
//	treatment plan referencing resolved diagnosis       → review only
//	concurrent active encounters (patient+practitioner) → review only
type Engine struct {
	store      eventstore.Store
	readModels readmodel.Store
	hub        *device.Device // stamps hub-emitted events
	clock      event.Clock
	logger     *slog.Logger
}

func NewEngine(
	store eventstore.Store,
	readModels readmodel.Store,
	hub *device.Device,
	clock event.Clock,
	logger *slog.Logger,
) *Engine {
	if clock == nil {
		clock = event.SystemClock{}
	}
	return &Engine{store: store, readModels: readModels, hub: hub, clock: clock, logger: logger}
}

// systemActor is the deterministic identity hub-emitted events carry as
// performed_by.
var systemActor = domain.PerformerID(uuid.NewSHA1(uuid.NameSpaceOID, []byte("clinicore/system")))

// Inspect runs the table against one accepted envelope and returns every
// event the engine emitted (review items and auto-compensations), already
// appended to the store. Idempotent per violation: the review stream for an
// original event is keyed by its event ID and the invariant code, so
// re-inspection after a retried upload appends nothing new.
func (e *Engine) Inspect(ctx context.Context, env event.Envelope) ([]event.Envelope, error) {
	str := func(k string) string { v, _ := env.Payload[k].(string); return v }

	var emitted []event.Envelope
	emit := func(events []event.Envelope, err error) error {
		if err != nil {
			return err
		}
		emitted = append(emitted, events...)
		return nil
	}

	switch env.EventType {
	case event.TypeAppointmentRequested, event.TypeAppointmentConfirmed, event.TypeAppointmentRescheduled:
		status, err := e.patient(ctx, str("patient_id"))
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			if err := emit(e.autoCancelAppointment(ctx, env, status)); err != nil {
				return nil, err
			}
			if err := emit(e.review(ctx, env, domain.InvPatientNotTerminal, map[string]any{
				"patient_stage": status.Stage,
			})); err != nil {
				return nil, err
			}
		}

	case event.TypeVitalSignsRecorded, event.TypeSymptomReported,
		event.TypeExaminationFindingRecorded, event.TypeLabResultRecorded,
		event.TypeProcedurePerformed, event.TypeReferralIssued:
		closed, stage, err := e.encounterClosed(ctx, str("encounter_id"))
		if err != nil {
			return nil, err
		}
		if closed {
			if err := emit(e.review(ctx, env, domain.InvObservationEncounterActive, map[string]any{
				"encounter_stage": stage,
			})); err != nil {
				return nil, err
			}
		}

	case event.TypeDiagnosisMade:
		closed, stage, err := e.encounterClosed(ctx, str("encounter_id"))
		if err != nil {
			return nil, err
		}
		if closed {
			if err := emit(e.review(ctx, env, domain.InvDiagnosisEncounterActive, map[string]any{
				"encounter_stage": stage,
			})); err != nil {
				return nil, err
			}
		}
		status, err := e.patient(ctx, str("patient_id"))
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			if err := emit(e.review(ctx, env, domain.InvDiagnosisPatientAlive, map[string]any{
				"patient_stage": status.Stage,
			})); err != nil {
				return nil, err
			}
		}

	case event.TypeTreatmentPlanPrescribed:
		diag, err := e.readModels.DiagnosisStatus(ctx, str("diagnosis_id"))
		if err != nil && err != readmodel.ErrNotFound {
			return nil, err
		}
		if err == nil && diag.Stage == "resolved" {
			if err := emit(e.review(ctx, env, domain.InvTreatmentDiagnosisOpen, map[string]any{
				"diagnosis_stage": diag.Stage,
			})); err != nil {
				return nil, err
			}
		}

	case event.TypeEncounterBegan, event.TypeEncounterReopened:
		if err := e.inspectConcurrentEncounters(ctx, env, emit); err != nil {
			return nil, err
		}
	}

	return emitted, nil
}

func (e *Engine) inspectConcurrentEncounters(
	ctx context.Context,
	env event.Envelope,
	emit func([]event.Envelope, error) error,
) error {
	state, err := e.readModels.EncounterState(ctx, env.AggregateID.String())
	if err == readmodel.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	active, err := e.readModels.ActiveEncounters(ctx, state.PatientID, state.PractitionerID)
	if err != nil {
		return err
	}
	var others []string
	for _, enc := range active {
		if enc.EncounterID != env.AggregateID.String() {
			others = append(others, enc.EncounterID)
		}
	}
	if len(others) == 0 {
		return nil
	}
	return emit(e.review(ctx, env, domain.InvEncounterSingleActive, map[string]any{
		"concurrent_encounters": others,
	}))
}

func (e *Engine) patient(ctx context.Context, patientID string) (readmodel.PatientStatus, error) {
	if patientID == "" {
		return readmodel.PatientStatus{}, nil
	}
	status, err := e.readModels.PatientStatus(ctx, patientID)
	if err == readmodel.ErrNotFound {
		return readmodel.PatientStatus{}, nil
	}
	return status, err
}

func (e *Engine) encounterClosed(ctx context.Context, encounterID string) (bool, string, error) {
	if encounterID == "" {
		return false, "", nil
	}
	state, err := e.readModels.EncounterState(ctx, encounterID)
	if err == readmodel.ErrNotFound {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	closed := state.Stage == "completed" || state.Stage == "discharged"
	return closed, state.Stage, nil
}

// review appends a CompensationRequired event for one violation. The review
// stream is derived from the original event ID and the invariant code, so a
// replayed upload maps to the same stream and the version-1 append dedupes.
func (e *Engine) review(
	ctx context.Context,
	original event.Envelope,
	code domain.InvariantCode,
	currentSnapshot map[string]any,
) ([]event.Envelope, error) {
	return e.reviewWithPayload(ctx, original, code, map[string]any{
		"original_event_id": original.EventID.String(),
		"invariant_code":    string(code),
		"stale_snapshot":    original.Payload,
		"current_snapshot":  currentSnapshot,
	})
}

func (e *Engine) reviewWithPayload(
	ctx context.Context,
	original event.Envelope,
	code domain.InvariantCode,
	payload map[string]any,
) ([]event.Envelope, error) {
	reviewEnv := event.Envelope{
		EventID:             domain.NewEventID(),
		EventType:           event.TypeCompensationRequired,
		SchemaVersion:       1,
		AggregateID:         domain.AggregateID(uuid.NewSHA1(uuid.UUID(original.EventID), []byte(code))), // one review stream per original event and invariant
		AggregateType:       domain.AggregateCompensation,
		AggregateVersion:    1,
		OccurredAt:          e.clock.Now(),
		PerformedBy:         systemActor,
		PerformerRole:       domain.RoleSystem,
		OrganizationID:      original.OrganizationID,
		FacilityID:          original.FacilityID,
		DeviceID:            e.hub.ID,
		ConnectionStatus:    domain.ConnectionOnline,
		DeviceClockDriftMs:  0,
		LocalSequenceNumber: e.hub.NextLSN(),
		CorrelationID:       original.CorrelationID,
		CausationID:         original.EventID,
		Visibility:          domain.DefaultVisibility(),
		Payload:             payload,
	}

	res, err := e.store.Append(ctx, reviewEnv)
	if err != nil {
		if eventstore.IsVersionConflict(err) {
			// Review already recorded for this original event and invariant.
			return nil, nil
		}
		return nil, err
	}
	if res.Duplicate {
		return nil, nil
	}
	compensationsEmitted.WithLabelValues(string(code)).Inc()
	e.logger.Warn("compensation required",
		"invariant", string(code),
		"original_event_id", original.EventID.String(),
	)
	return []event.Envelope{reviewEnv}, nil
}

// autoCancelAppointment is the single unambiguous auto-compensation: an
// appointment opened for a terminal patient is cancelled by the practice.
func (e *Engine) autoCancelAppointment(
	ctx context.Context,
	original event.Envelope,
	status readmodel.PatientStatus,
) ([]event.Envelope, error) {
	key := eventstore.StreamKey{AggregateType: domain.AggregateAppointment, AggregateID: original.AggregateID}
	stream, err := e.store.ReadStream(ctx, key)
	if err != nil {
		return nil, err
	}

	// Rehydrate rather than trust the read models: re-inspection after a
	// replayed upload must see the cancellation this engine already
	// appended.
	state, version := aggregate.Rehydrate(aggregate.Appointment{}, stream)
	if state.(aggregate.AppointmentState).Stage.Terminal() {
		return nil, nil
	}

	cancel := event.Envelope{
		EventID:             domain.NewEventID(),
		EventType:           event.TypeAppointmentCancelledByPractice,
		SchemaVersion:       1,
		AggregateID:         original.AggregateID,
		AggregateType:       domain.AggregateAppointment,
		AggregateVersion:    version + 1,
		OccurredAt:          e.clock.Now(),
		PerformedBy:         systemActor,
		PerformerRole:       domain.RoleSystem,
		OrganizationID:      original.OrganizationID,
		FacilityID:          original.FacilityID,
		DeviceID:            e.hub.ID,
		ConnectionStatus:    domain.ConnectionOnline,
		LocalSequenceNumber: e.hub.NextLSN(),
		CorrelationID:       original.CorrelationID,
		CausationID:         original.EventID,
		Visibility:          domain.DefaultVisibility(),
		Payload: map[string]any{
			"appointment_id": original.AggregateID.String(),
			"patient_id":     statusPatientID(status, original),
			"reason":         "patient record is terminal (" + status.Stage + ")",
		},
	}

	res, err := e.store.Append(ctx, cancel)
	if err != nil {
		if eventstore.IsVersionConflict(err) {
			return nil, nil
		}
		return nil, err
	}
	if res.Duplicate {
		return nil, nil
	}
	autoCompensations.WithLabelValues(string(domain.InvPatientNotTerminal)).Inc()
	return []event.Envelope{cancel}, nil
}

func statusPatientID(status readmodel.PatientStatus, original event.Envelope) string {
	if status.PatientID != "" {
		return status.PatientID
	}
	v, _ := original.Payload["patient_id"].(string)
	return v
}
