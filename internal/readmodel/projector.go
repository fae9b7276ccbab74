package readmodel

import (
	"context"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// Projector folds envelopes into the read models. It is registered with
// the event dispatcher as a live projection and is also invoked directly
// during full rebuilds. Order within each stream is aggregate-version
// order; each event overwrites its model entry with the state it implies,
// so applying the same event twice in a row is harmless. There is no
// version guard: an older event applied after a newer one sets the entry
// back to the older state.
type Projector struct {
	store Store
}

func NewProjector(store Store) *Projector {
	return &Projector{store: store}
}

// Name identifies the projection for checkpoints and dead-letter queues.
func (p *Projector) Name() string { return "internal-read-models" }

// Filter declares which events the dispatcher should deliver.
func (p *Projector) Filter() []string {
	return []string{
		event.TypePatientRegistered,
		event.TypePatientDeceasedRecorded,
		event.TypePatientTransferredOut,
		event.TypePatientCheckedIn,
		event.TypePatientTriaged,
		event.TypeEncounterBegan,
		event.TypeEncounterReopened,
		event.TypeEncounterCompleted,
		event.TypePatientDischarged,
		event.TypeDiagnosisMade,
		event.TypeDiagnosisRevised,
		event.TypeDiagnosisResolved,
		event.TypeAppointmentRequested,
		event.TypeAppointmentConfirmed,
		event.TypeAppointmentRescheduled,
		event.TypeAppointmentCancelledByPatient,
		event.TypeAppointmentCancelledByPractice,
		event.TypeAppointmentNoShowed,
	}
}

// Apply folds one envelope. Unknown types are ignored so the filter can
// widen without breaking older nodes.
func (p *Projector) Apply(ctx context.Context, e event.Envelope) error {
	if err := p.recordPerformer(ctx, e); err != nil {
		return err
	}

	str := func(k string) string { v, _ := e.Payload[k].(string); return v }

	switch e.EventType {
	case event.TypePatientRegistered:
		return p.store.PutPatientStatus(ctx, PatientStatus{PatientID: str("patient_id"), Stage: "active"})
	case event.TypePatientDeceasedRecorded:
		return p.store.PutPatientStatus(ctx, PatientStatus{PatientID: str("patient_id"), Stage: "deceased"})
	case event.TypePatientTransferredOut:
		return p.store.PutPatientStatus(ctx, PatientStatus{PatientID: str("patient_id"), Stage: "transferred_out"})

	case event.TypePatientCheckedIn, event.TypePatientTriaged, event.TypeEncounterBegan,
		event.TypeEncounterReopened, event.TypeEncounterCompleted, event.TypePatientDischarged:
		return p.applyEncounter(ctx, e)

	case event.TypeDiagnosisMade:
		return p.store.PutDiagnosisStatus(ctx, DiagnosisStatus{
			DiagnosisID: str("diagnosis_id"), PatientID: str("patient_id"), Stage: "made",
		})
	case event.TypeDiagnosisRevised:
		// Revision does not change the stage; refresh the entry anyway so a
		// rebuild starting mid-stream still lands on "made".
		current, err := p.store.DiagnosisStatus(ctx, str("diagnosis_id"))
		if err == ErrNotFound {
			current = DiagnosisStatus{DiagnosisID: str("diagnosis_id"), PatientID: str("patient_id"), Stage: "made"}
		} else if err != nil {
			return err
		}
		return p.store.PutDiagnosisStatus(ctx, current)
	case event.TypeDiagnosisResolved:
		return p.store.PutDiagnosisStatus(ctx, DiagnosisStatus{
			DiagnosisID: str("diagnosis_id"), PatientID: str("patient_id"), Stage: "resolved",
		})

	case event.TypeAppointmentRequested:
		return p.putAppointment(ctx, e, "requested")
	case event.TypeAppointmentConfirmed, event.TypeAppointmentRescheduled:
		return p.putAppointment(ctx, e, "confirmed")
	case event.TypeAppointmentCancelledByPatient:
		return p.putAppointment(ctx, e, "cancelled_by_patient")
	case event.TypeAppointmentCancelledByPractice:
		return p.putAppointment(ctx, e, "cancelled_by_practice")
	case event.TypeAppointmentNoShowed:
		return p.putAppointment(ctx, e, "no_showed")
	}
	return nil
}

func (p *Projector) applyEncounter(ctx context.Context, e event.Envelope) error {
	str := func(k string) string { v, _ := e.Payload[k].(string); return v }
	id := str("encounter_id")
	if id == "" {
		id = e.AggregateID.String()
	}

	current, err := p.store.EncounterState(ctx, id)
	if err == ErrNotFound {
		current = EncounterState{EncounterID: id}
	} else if err != nil {
		return err
	}
	if pid := str("patient_id"); pid != "" {
		current.PatientID = pid
	}
	if prac := str("practitioner_id"); prac != "" {
		current.PractitionerID = prac
	}

	switch e.EventType {
	case event.TypePatientCheckedIn:
		current.Stage = "checked_in"
	case event.TypePatientTriaged:
		current.Stage = "triaged"
	case event.TypeEncounterBegan, event.TypeEncounterReopened:
		current.Stage = "began"
	case event.TypeEncounterCompleted:
		current.Stage = "completed"
	case event.TypePatientDischarged:
		current.Stage = "discharged"
	}
	return p.store.PutEncounterState(ctx, current)
}

func (p *Projector) putAppointment(ctx context.Context, e event.Envelope, stage string) error {
	str := func(k string) string { v, _ := e.Payload[k].(string); return v }
	id := str("appointment_id")
	if id == "" {
		id = e.AggregateID.String()
	}
	pid := str("patient_id")
	if pid == "" {
		if current, err := p.store.AppointmentStatus(ctx, id); err == nil {
			pid = current.PatientID
		}
	}
	return p.store.PutAppointmentStatus(ctx, AppointmentStatus{
		AppointmentID: id, PatientID: pid, Stage: stage,
	})
}

func (p *Projector) recordPerformer(ctx context.Context, e event.Envelope) error {
	if e.PerformedBy.IsNil() {
		return nil
	}
	return p.store.PutPerformerRole(ctx, PerformerRole{
		PerformerID: e.PerformedBy.String(),
		Role:        string(e.PerformerRole),
		LastSeenAt:  e.RecordedAt,
	})
}

// Rebuild resets the store and refolds the given envelopes. Callers order
// the input per stream (version order) before calling; the fold is
// insensitive to interleaving across streams.
func (p *Projector) Rebuild(ctx context.Context, events []event.Envelope) error {
	if err := p.store.Reset(ctx); err != nil {
		return err
	}
	for _, e := range events {
		if err := p.Apply(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// AggregateKinds the projector observes; used when subscribing by
// aggregate type instead of event type.
func (p *Projector) AggregateKinds() []domain.AggregateType {
	return []domain.AggregateType{
		domain.AggregatePatientRegistration,
		domain.AggregateEncounter,
		domain.AggregateDiagnosis,
		domain.AggregateAppointment,
	}
}
