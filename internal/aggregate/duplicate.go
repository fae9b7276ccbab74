package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// DuplicateStage: None → Suspected → {Merged | Dismissed} (terminal).
type DuplicateStage string

const (
	DuplicateNone      DuplicateStage = "none"
	DuplicateSuspected DuplicateStage = "suspected"
	DuplicateMerged    DuplicateStage = "merged"
	DuplicateDismissed DuplicateStage = "dismissed"
)

// DuplicateState is the rehydrated DuplicateResolution aggregate. It tracks
// a suspicion that two patient records describe one person.
type DuplicateState struct {
	Stage              DuplicateStage
	SurvivingPatientID string
	RetiredPatientID   string
}

// Commands.

type SuspectDuplicatePatient struct {
	Ctx                Context
	SurvivingPatientID domain.PatientID
	RetiredPatientID   domain.PatientID
	Evidence           string
}

func (c SuspectDuplicatePatient) Context() Context    { return c.Ctx }
func (c SuspectDuplicatePatient) CommandType() string { return "SuspectDuplicatePatient" }
func (c SuspectDuplicatePatient) AggregateType() domain.AggregateType {
	return domain.AggregateDuplicateResolution
}

type MergeDuplicatePatients struct {
	Ctx Context
}

func (c MergeDuplicatePatients) Context() Context    { return c.Ctx }
func (c MergeDuplicatePatients) CommandType() string { return "MergeDuplicatePatients" }
func (c MergeDuplicatePatients) AggregateType() domain.AggregateType {
	return domain.AggregateDuplicateResolution
}

type DismissDuplicateSuspicion struct {
	Ctx    Context
	Reason string
}

func (c DismissDuplicateSuspicion) Context() Context    { return c.Ctx }
func (c DismissDuplicateSuspicion) CommandType() string { return "DismissDuplicateSuspicion" }
func (c DismissDuplicateSuspicion) AggregateType() domain.AggregateType {
	return domain.AggregateDuplicateResolution
}

// DuplicateResolution is the identity-reconciliation lifecycle aggregate.
type DuplicateResolution struct{}

func (DuplicateResolution) Type() domain.AggregateType { return domain.AggregateDuplicateResolution }

func (DuplicateResolution) NewState() State { return DuplicateState{Stage: DuplicateNone} }

func (DuplicateResolution) Decide(s State, cmd Command, clock event.Clock) ([]event.Draft, error) {
	state := s.(DuplicateState)
	if err := checkClock(cmd.Context(), clock.Now()); err != nil {
		return nil, err
	}

	switch c := cmd.(type) {
	case SuspectDuplicatePatient:
		if state.Stage != DuplicateNone {
			return nil, dErrors.New(dErrors.CodeDomain, "duplicate suspicion already recorded")
		}
		if c.SurvivingPatientID == c.RetiredPatientID {
			return nil, dErrors.New(dErrors.CodeDomain, "a patient record cannot duplicate itself")
		}
		return []event.Draft{{
			EventType: event.TypeDuplicatePatientSuspected,
			Payload: map[string]any{
				"resolution_id":        c.Ctx.AggregateID.String(),
				"surviving_patient_id": c.SurvivingPatientID.String(),
				"retired_patient_id":   c.RetiredPatientID.String(),
				"evidence":             c.Evidence,
			},
		}}, nil

	case MergeDuplicatePatients:
		if state.Stage != DuplicateSuspected {
			return nil, dErrors.New(dErrors.CodeDomain, "only a suspected duplicate can be merged")
		}
		return []event.Draft{{
			EventType: event.TypeDuplicatePatientsMerged,
			Payload: map[string]any{
				"resolution_id":        c.Ctx.AggregateID.String(),
				"surviving_patient_id": state.SurvivingPatientID,
				"retired_patient_id":   state.RetiredPatientID,
			},
		}}, nil

	case DismissDuplicateSuspicion:
		if state.Stage != DuplicateSuspected {
			return nil, dErrors.New(dErrors.CodeDomain, "only a suspected duplicate can be dismissed")
		}
		return []event.Draft{{
			EventType: event.TypeDuplicateSuspicionDismissed,
			Payload: map[string]any{
				"resolution_id": c.Ctx.AggregateID.String(),
				"reason":        c.Reason,
			},
		}}, nil
	}
	return nil, rejectUnknown(cmd)
}

func (DuplicateResolution) Apply(s State, e event.Envelope) State {
	state := s.(DuplicateState)
	p := e.Payload
	str := func(k string) string { v, _ := p[k].(string); return v }

	switch e.EventType {
	case event.TypeDuplicatePatientSuspected:
		state.Stage = DuplicateSuspected
		state.SurvivingPatientID = str("surviving_patient_id")
		state.RetiredPatientID = str("retired_patient_id")
	case event.TypeDuplicatePatientsMerged:
		state.Stage = DuplicateMerged
	case event.TypeDuplicateSuspicionDismissed:
		state.Stage = DuplicateDismissed
	}
	return state
}
