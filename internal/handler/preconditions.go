package handler

import (
	"context"

	"clinicore/internal/aggregate"
	"clinicore/internal/readmodel"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// checkPreconditions runs the cross-aggregate checks for one command
// against the read models. Each check is listed explicitly per command.
//
// Staleness policy: a violation the local models can see always fails the
// command. A reference the local models cannot resolve fails only under
// StrictPreconditions (hub); on a lax (offline device) handler it passes,
// and the hub's compensation engine catches real violations at sync time.
func (h *Handler) checkPreconditions(ctx context.Context, cmd aggregate.Command) error {
	switch c := cmd.(type) {
	// Patient lifecycle: registration itself has no references.
	case aggregate.RegisterPatient:
		return nil

	// Encounters.
	case aggregate.CheckInPatient:
		return h.requireLivePatient(ctx, c.PatientID.String(), domain.InvEncounterPatientActive)
	case aggregate.BeginEncounter:
		if err := h.requireNoOtherActiveEncounter(ctx, c.Ctx); err != nil {
			return err
		}
		return nil

	// Clinical judgment.
	case aggregate.MakeDiagnosis:
		if err := h.requireLivePatient(ctx, c.PatientID.String(), domain.InvDiagnosisPatientAlive); err != nil {
			return err
		}
		return h.requireActiveEncounter(ctx, c.EncounterID.String(), domain.InvDiagnosisEncounterActive)

	// Scheduling.
	case aggregate.RequestAppointment:
		return h.requireLivePatient(ctx, c.PatientID.String(), domain.InvAppointmentPatientActive)
	case aggregate.ConfirmAppointment:
		return h.requireAppointmentPatientLive(ctx, c.Ctx)

	// Observations and care facts: the encounter must be active.
	case aggregate.RecordVitalSigns:
		return h.requireActiveEncounter(ctx, c.EncounterID.String(), domain.InvObservationEncounterActive)
	case aggregate.ReportSymptom:
		return h.requireActiveEncounter(ctx, c.EncounterID.String(), domain.InvObservationEncounterActive)
	case aggregate.RecordExaminationFinding:
		return h.requireActiveEncounter(ctx, c.EncounterID.String(), domain.InvObservationEncounterActive)
	case aggregate.RecordLabResult:
		return h.requireActiveEncounter(ctx, c.EncounterID.String(), domain.InvObservationEncounterActive)
	case aggregate.RecordProcedure:
		return h.requireActiveEncounter(ctx, c.EncounterID.String(), domain.InvObservationEncounterActive)
	case aggregate.IssueReferral:
		return h.requireActiveEncounter(ctx, c.EncounterID.String(), domain.InvObservationEncounterActive)

	// Treatment plans additionally reference an open diagnosis.
	case aggregate.PrescribeTreatmentPlan:
		if err := h.requireActiveEncounter(ctx, c.EncounterID.String(), domain.InvObservationEncounterActive); err != nil {
			return err
		}
		return h.requireOpenDiagnosis(ctx, c.DiagnosisID.String())
	}
	return nil
}

func (h *Handler) requireLivePatient(ctx context.Context, patientID string, code domain.InvariantCode) error {
	status, err := h.readModels.PatientStatus(ctx, patientID)
	if err == readmodel.ErrNotFound {
		if h.opts.StrictPreconditions {
			return dErrors.Invariant(dErrors.CodePrecondition, string(domain.InvPatientExists),
				"patient is not registered")
		}
		return nil
	}
	if err != nil {
		return err
	}
	if status.Terminal() {
		return dErrors.Invariant(dErrors.CodePrecondition, string(code),
			"patient record is terminal ("+status.Stage+")")
	}
	return nil
}

func (h *Handler) requireActiveEncounter(ctx context.Context, encounterID string, code domain.InvariantCode) error {
	state, err := h.readModels.EncounterState(ctx, encounterID)
	if err == readmodel.ErrNotFound {
		if h.opts.StrictPreconditions {
			return dErrors.Invariant(dErrors.CodePrecondition, string(code),
				"encounter is unknown")
		}
		return nil
	}
	if err != nil {
		return err
	}
	if !state.Active() {
		return dErrors.Invariant(dErrors.CodePrecondition, string(code),
			"encounter is not active (stage: "+state.Stage+")")
	}
	return nil
}

func (h *Handler) requireNoOtherActiveEncounter(ctx context.Context, cc aggregate.Context) error {
	// The patient for this encounter is in the read model from check-in.
	state, err := h.readModels.EncounterState(ctx, cc.AggregateID.String())
	if err == readmodel.ErrNotFound {
		return nil // stream not projected yet; the aggregate enforces stage order
	}
	if err != nil {
		return err
	}
	active, err := h.readModels.ActiveEncounters(ctx, state.PatientID, cc.PerformedBy.String())
	if err != nil {
		return err
	}
	for _, enc := range active {
		if enc.EncounterID != cc.AggregateID.String() {
			return dErrors.Invariant(dErrors.CodePrecondition, string(domain.InvEncounterSingleActive),
				"practitioner already has an active encounter with this patient")
		}
	}
	return nil
}

func (h *Handler) requireAppointmentPatientLive(ctx context.Context, cc aggregate.Context) error {
	appt, err := h.readModels.AppointmentStatus(ctx, cc.AggregateID.String())
	if err == readmodel.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if appt.PatientID == "" {
		return nil
	}
	return h.requireLivePatient(ctx, appt.PatientID, domain.InvAppointmentPatientActive)
}

func (h *Handler) requireOpenDiagnosis(ctx context.Context, diagnosisID string) error {
	status, err := h.readModels.DiagnosisStatus(ctx, diagnosisID)
	if err == readmodel.ErrNotFound {
		if h.opts.StrictPreconditions {
			return dErrors.Invariant(dErrors.CodePrecondition, string(domain.InvTreatmentDiagnosisOpen),
				"diagnosis is unknown")
		}
		return nil
	}
	if err != nil {
		return err
	}
	if status.Stage == "resolved" {
		return dErrors.Invariant(dErrors.CodePrecondition, string(domain.InvTreatmentDiagnosisOpen),
			"treatment plan references a resolved diagnosis")
	}
	return nil
}
