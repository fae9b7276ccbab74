package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// AllergyStage: None → Identified → Refuted (terminal).
type AllergyStage string

const (
	AllergyNone       AllergyStage = "none"
	AllergyIdentified AllergyStage = "identified"
	AllergyRefuted    AllergyStage = "refuted"
)

// AllergyState is the rehydrated AllergyRecord aggregate.
type AllergyState struct {
	Stage     AllergyStage
	PatientID string
	Substance string
	Severity  string
}

// Commands.

type IdentifyAllergy struct {
	Ctx       Context
	PatientID domain.PatientID
	Substance string
	Reaction  string
	Severity  string
}

func (c IdentifyAllergy) Context() Context                    { return c.Ctx }
func (c IdentifyAllergy) CommandType() string                 { return "IdentifyAllergy" }
func (c IdentifyAllergy) AggregateType() domain.AggregateType { return domain.AggregateAllergyRecord }

type RefuteAllergy struct {
	Ctx    Context
	Reason string
}

func (c RefuteAllergy) Context() Context                    { return c.Ctx }
func (c RefuteAllergy) CommandType() string                 { return "RefuteAllergy" }
func (c RefuteAllergy) AggregateType() domain.AggregateType { return domain.AggregateAllergyRecord }

// AllergyRecord is the allergy lifecycle aggregate.
type AllergyRecord struct{}

func (AllergyRecord) Type() domain.AggregateType { return domain.AggregateAllergyRecord }

func (AllergyRecord) NewState() State { return AllergyState{Stage: AllergyNone} }

func (AllergyRecord) Decide(s State, cmd Command, clock event.Clock) ([]event.Draft, error) {
	state := s.(AllergyState)
	if err := checkClock(cmd.Context(), clock.Now()); err != nil {
		return nil, err
	}

	switch c := cmd.(type) {
	case IdentifyAllergy:
		if state.Stage != AllergyNone {
			return nil, dErrors.New(dErrors.CodeDomain, "allergy has already been identified")
		}
		return []event.Draft{{
			EventType: event.TypeAllergyIdentified,
			Payload: map[string]any{
				"allergy_id": c.Ctx.AggregateID.String(),
				"patient_id": c.PatientID.String(),
				"substance":  c.Substance,
				"reaction":   c.Reaction,
				"severity":   c.Severity,
			},
		}}, nil

	case RefuteAllergy:
		if state.Stage != AllergyIdentified {
			return nil, dErrors.New(dErrors.CodeDomain, "only an identified allergy can be refuted")
		}
		return []event.Draft{{
			EventType: event.TypeAllergyRefuted,
			Payload: map[string]any{
				"allergy_id": c.Ctx.AggregateID.String(),
				"patient_id": state.PatientID,
				"reason":     c.Reason,
			},
		}}, nil
	}
	return nil, rejectUnknown(cmd)
}

func (AllergyRecord) Apply(s State, e event.Envelope) State {
	state := s.(AllergyState)
	p := e.Payload
	str := func(k string) string { v, _ := p[k].(string); return v }

	switch e.EventType {
	case event.TypeAllergyIdentified:
		state.Stage = AllergyIdentified
		state.PatientID = str("patient_id")
		state.Substance = str("substance")
		state.Severity = str("severity")
	case event.TypeAllergyRefuted:
		state.Stage = AllergyRefuted
	}
	return state
}
