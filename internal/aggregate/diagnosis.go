package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// DiagnosisStage is the clinical judgment lifecycle stage.
type DiagnosisStage string

const (
	DiagnosisNone     DiagnosisStage = "none"
	DiagnosisMade     DiagnosisStage = "made"
	DiagnosisResolved DiagnosisStage = "resolved"
)

// DiagnosisState is the rehydrated Diagnosis aggregate.
type DiagnosisState struct {
	Stage       DiagnosisStage
	PatientID   string
	EncounterID string
	Condition   string
	ICDCode     string
	Revisions   int
}

// Commands.

type MakeDiagnosis struct {
	Ctx         Context
	PatientID   domain.PatientID
	EncounterID domain.AggregateID
	Condition   string
	ICDCode     string
}

func (c MakeDiagnosis) Context() Context                    { return c.Ctx }
func (c MakeDiagnosis) CommandType() string                 { return "MakeDiagnosis" }
func (c MakeDiagnosis) AggregateType() domain.AggregateType { return domain.AggregateDiagnosis }

type ReviseDiagnosis struct {
	Ctx       Context
	Condition string
	ICDCode   string
	Reason    string
}

func (c ReviseDiagnosis) Context() Context                    { return c.Ctx }
func (c ReviseDiagnosis) CommandType() string                 { return "ReviseDiagnosis" }
func (c ReviseDiagnosis) AggregateType() domain.AggregateType { return domain.AggregateDiagnosis }

type ResolveDiagnosis struct {
	Ctx        Context
	Resolution string
}

func (c ResolveDiagnosis) Context() Context                    { return c.Ctx }
func (c ResolveDiagnosis) CommandType() string                 { return "ResolveDiagnosis" }
func (c ResolveDiagnosis) AggregateType() domain.AggregateType { return domain.AggregateDiagnosis }

// Diagnosis is the lifecycle aggregate:
// None → Made → Made(revised*) → Resolved (terminal). Revision is
// idempotent over content: revising to the current condition and code
// produces no event.
type Diagnosis struct{}

func (Diagnosis) Type() domain.AggregateType { return domain.AggregateDiagnosis }

func (Diagnosis) NewState() State { return DiagnosisState{Stage: DiagnosisNone} }

func (Diagnosis) Decide(s State, cmd Command, clock event.Clock) ([]event.Draft, error) {
	state := s.(DiagnosisState)
	if err := checkClock(cmd.Context(), clock.Now()); err != nil {
		return nil, err
	}

	switch c := cmd.(type) {
	case MakeDiagnosis:
		if state.Stage != DiagnosisNone {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvDiagnosisMustExist),
				"diagnosis has already been made")
		}
		return []event.Draft{{
			EventType: event.TypeDiagnosisMade,
			Payload: map[string]any{
				"diagnosis_id": c.Ctx.AggregateID.String(),
				"patient_id":   c.PatientID.String(),
				"encounter_id": c.EncounterID.String(),
				"condition":    c.Condition,
				"icd_code":     c.ICDCode,
			},
		}}, nil

	case ReviseDiagnosis:
		if state.Stage == DiagnosisResolved {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvDiagnosisResolvedFinal),
				"a resolved diagnosis cannot be revised")
		}
		if state.Stage != DiagnosisMade {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvDiagnosisMustExist),
				"diagnosis has not been made")
		}
		if state.Condition == c.Condition && state.ICDCode == c.ICDCode {
			// Idempotent over content: nothing to record.
			return nil, nil
		}
		return []event.Draft{{
			EventType: event.TypeDiagnosisRevised,
			Payload: map[string]any{
				"diagnosis_id": c.Ctx.AggregateID.String(),
				"patient_id":   state.PatientID,
				"condition":    c.Condition,
				"icd_code":     c.ICDCode,
				"reason":       c.Reason,
			},
		}}, nil

	case ResolveDiagnosis:
		if state.Stage == DiagnosisResolved {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvDiagnosisResolvedFinal),
				"diagnosis is already resolved")
		}
		if state.Stage != DiagnosisMade {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvDiagnosisMustExist),
				"diagnosis has not been made")
		}
		return []event.Draft{{
			EventType: event.TypeDiagnosisResolved,
			Payload: map[string]any{
				"diagnosis_id": c.Ctx.AggregateID.String(),
				"patient_id":   state.PatientID,
				"resolution":   c.Resolution,
			},
		}}, nil
	}
	return nil, rejectUnknown(cmd)
}

func (Diagnosis) Apply(s State, e event.Envelope) State {
	state := s.(DiagnosisState)
	p := e.Payload
	str := func(k string) string { v, _ := p[k].(string); return v }

	switch e.EventType {
	case event.TypeDiagnosisMade:
		state.Stage = DiagnosisMade
		state.PatientID = str("patient_id")
		state.EncounterID = str("encounter_id")
		state.Condition = str("condition")
		state.ICDCode = str("icd_code")
	case event.TypeDiagnosisRevised:
		state.Condition = str("condition")
		state.ICDCode = str("icd_code")
		state.Revisions++
	case event.TypeDiagnosisResolved:
		state.Stage = DiagnosisResolved
	}
	return state
}
