package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// NoteState is the rehydrated ClinicalNote aggregate.
// Lifecycle: None → Authored → Authored(+Addendum)* (+Cosigned at most once).
type NoteState struct {
	Authored  bool
	AuthorID  string
	Cosigned  bool
	Addenda   int
	PatientID string
}

// Commands.

type AuthorClinicalNote struct {
	Ctx         Context
	PatientID   domain.PatientID
	EncounterID domain.AggregateID
	Body        string
}

func (c AuthorClinicalNote) Context() Context                    { return c.Ctx }
func (c AuthorClinicalNote) CommandType() string                 { return "AuthorClinicalNote" }
func (c AuthorClinicalNote) AggregateType() domain.AggregateType { return domain.AggregateClinicalNote }

type AddNoteAddendum struct {
	Ctx  Context
	Body string
}

func (c AddNoteAddendum) Context() Context                    { return c.Ctx }
func (c AddNoteAddendum) CommandType() string                 { return "AddNoteAddendum" }
func (c AddNoteAddendum) AggregateType() domain.AggregateType { return domain.AggregateClinicalNote }

type CosignClinicalNote struct {
	Ctx Context
}

func (c CosignClinicalNote) Context() Context                    { return c.Ctx }
func (c CosignClinicalNote) CommandType() string                 { return "CosignClinicalNote" }
func (c CosignClinicalNote) AggregateType() domain.AggregateType { return domain.AggregateClinicalNote }

// ClinicalNote is the documentation lifecycle aggregate.
type ClinicalNote struct{}

func (ClinicalNote) Type() domain.AggregateType { return domain.AggregateClinicalNote }

func (ClinicalNote) NewState() State { return NoteState{} }

func (ClinicalNote) Decide(s State, cmd Command, clock event.Clock) ([]event.Draft, error) {
	state := s.(NoteState)
	if err := checkClock(cmd.Context(), clock.Now()); err != nil {
		return nil, err
	}

	switch c := cmd.(type) {
	case AuthorClinicalNote:
		if state.Authored {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvNoteAuthoredOnce),
				"note has already been authored")
		}
		return []event.Draft{{
			EventType: event.TypeClinicalNoteAuthored,
			Payload: map[string]any{
				"note_id":      c.Ctx.AggregateID.String(),
				"patient_id":   c.PatientID.String(),
				"encounter_id": c.EncounterID.String(),
				"author_id":    c.Ctx.PerformedBy.String(),
				"body":         c.Body,
			},
		}}, nil

	case AddNoteAddendum:
		if !state.Authored {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvNoteMustExist),
				"note has not been authored")
		}
		return []event.Draft{{
			EventType: event.TypeNoteAddendumAdded,
			Payload: map[string]any{
				"note_id":    c.Ctx.AggregateID.String(),
				"patient_id": state.PatientID,
				"author_id":  c.Ctx.PerformedBy.String(),
				"body":       c.Body,
			},
		}}, nil

	case CosignClinicalNote:
		if !state.Authored {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvNoteMustExist),
				"note has not been authored")
		}
		if state.Cosigned {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvNoteMustExist),
				"note has already been cosigned")
		}
		if c.Ctx.PerformedBy.String() == state.AuthorID {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvNoteCosignerOther),
				"a note cannot be cosigned by its author")
		}
		return []event.Draft{{
			EventType: event.TypeClinicalNoteCosigned,
			Payload: map[string]any{
				"note_id":     c.Ctx.AggregateID.String(),
				"patient_id":  state.PatientID,
				"cosigner_id": c.Ctx.PerformedBy.String(),
			},
		}}, nil
	}
	return nil, rejectUnknown(cmd)
}

func (ClinicalNote) Apply(s State, e event.Envelope) State {
	state := s.(NoteState)
	p := e.Payload
	str := func(k string) string { v, _ := p[k].(string); return v }

	switch e.EventType {
	case event.TypeClinicalNoteAuthored:
		state.Authored = true
		state.AuthorID = str("author_id")
		state.PatientID = str("patient_id")
	case event.TypeNoteAddendumAdded:
		state.Addenda++
	case event.TypeClinicalNoteCosigned:
		state.Cosigned = true
	}
	return state
}
