package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// EncounterStage is the episode-of-care lifecycle stage.
type EncounterStage string

const (
	EncounterNone       EncounterStage = "none"
	EncounterCheckedIn  EncounterStage = "checked_in"
	EncounterTriaged    EncounterStage = "triaged"
	EncounterBegan      EncounterStage = "began"
	EncounterCompleted  EncounterStage = "completed"
	EncounterDischarged EncounterStage = "discharged"
)

// Active reports whether clinical work may attach to the encounter.
func (s EncounterStage) Active() bool { return s == EncounterBegan }

// EncounterState is the rehydrated Encounter aggregate.
type EncounterState struct {
	Stage         EncounterStage
	PatientID     string
	PractitionerID string
	Reopened      bool
}

// Commands.

type CheckInPatient struct {
	Ctx       Context
	PatientID domain.PatientID
	Reason    string
}

func (c CheckInPatient) Context() Context                  { return c.Ctx }
func (c CheckInPatient) CommandType() string               { return "CheckInPatient" }
func (c CheckInPatient) AggregateType() domain.AggregateType { return domain.AggregateEncounter }

type TriagePatient struct {
	Ctx          Context
	PatientID    domain.PatientID
	AcuityLevel  string
	TriageNotes  string
}

func (c TriagePatient) Context() Context                  { return c.Ctx }
func (c TriagePatient) CommandType() string               { return "TriagePatient" }
func (c TriagePatient) AggregateType() domain.AggregateType { return domain.AggregateEncounter }

type BeginEncounter struct {
	Ctx       Context
	PatientID domain.PatientID
}

func (c BeginEncounter) Context() Context                  { return c.Ctx }
func (c BeginEncounter) CommandType() string               { return "BeginEncounter" }
func (c BeginEncounter) AggregateType() domain.AggregateType { return domain.AggregateEncounter }

type ReopenEncounter struct {
	Ctx    Context
	Reason string
}

func (c ReopenEncounter) Context() Context                  { return c.Ctx }
func (c ReopenEncounter) CommandType() string               { return "ReopenEncounter" }
func (c ReopenEncounter) AggregateType() domain.AggregateType { return domain.AggregateEncounter }

type CompleteEncounter struct {
	Ctx     Context
	Summary string
}

func (c CompleteEncounter) Context() Context                  { return c.Ctx }
func (c CompleteEncounter) CommandType() string               { return "CompleteEncounter" }
func (c CompleteEncounter) AggregateType() domain.AggregateType { return domain.AggregateEncounter }

type DischargePatient struct {
	Ctx         Context
	Disposition string
}

func (c DischargePatient) Context() Context                  { return c.Ctx }
func (c DischargePatient) CommandType() string               { return "DischargePatient" }
func (c DischargePatient) AggregateType() domain.AggregateType { return domain.AggregateEncounter }

// Encounter is the lifecycle aggregate:
// None → CheckedIn → (Triaged) → Began ↔ Reopened(Began) → Completed →
// Discharged. Triage is optional; reopening returns a completed encounter
// to the active stage.
type Encounter struct{}

func (Encounter) Type() domain.AggregateType { return domain.AggregateEncounter }

func (Encounter) NewState() State { return EncounterState{Stage: EncounterNone} }

func (Encounter) Decide(s State, cmd Command, clock event.Clock) ([]event.Draft, error) {
	state := s.(EncounterState)
	if err := checkClock(cmd.Context(), clock.Now()); err != nil {
		return nil, err
	}

	invalid := func(verb string) error {
		return dErrors.Invariant(dErrors.CodeDomain, string(domain.InvEncounterTransition),
			verb+" is not permitted from stage "+string(state.Stage))
	}

	switch c := cmd.(type) {
	case CheckInPatient:
		if state.Stage != EncounterNone {
			return nil, invalid("check-in")
		}
		return []event.Draft{{
			EventType: event.TypePatientCheckedIn,
			Payload: map[string]any{
				"encounter_id":    c.Ctx.AggregateID.String(),
				"patient_id":      c.PatientID.String(),
				"practitioner_id": c.Ctx.PerformedBy.String(),
				"reason":          c.Reason,
			},
		}}, nil

	case TriagePatient:
		if state.Stage != EncounterCheckedIn {
			return nil, invalid("triage")
		}
		return []event.Draft{{
			EventType: event.TypePatientTriaged,
			Payload: map[string]any{
				"encounter_id": c.Ctx.AggregateID.String(),
				"patient_id":   state.PatientID,
				"acuity_level": c.AcuityLevel,
				"triage_notes": c.TriageNotes,
			},
		}}, nil

	case BeginEncounter:
		if state.Stage != EncounterCheckedIn && state.Stage != EncounterTriaged {
			return nil, invalid("begin")
		}
		return []event.Draft{{
			EventType: event.TypeEncounterBegan,
			Payload: map[string]any{
				"encounter_id":    c.Ctx.AggregateID.String(),
				"patient_id":      state.PatientID,
				"practitioner_id": c.Ctx.PerformedBy.String(),
			},
		}}, nil

	case ReopenEncounter:
		if state.Stage != EncounterCompleted {
			return nil, invalid("reopen")
		}
		return []event.Draft{{
			EventType: event.TypeEncounterReopened,
			Payload: map[string]any{
				"encounter_id": c.Ctx.AggregateID.String(),
				"patient_id":   state.PatientID,
				"reason":       c.Reason,
			},
		}}, nil

	case CompleteEncounter:
		if state.Stage != EncounterBegan {
			return nil, invalid("complete")
		}
		return []event.Draft{{
			EventType: event.TypeEncounterCompleted,
			Payload: map[string]any{
				"encounter_id": c.Ctx.AggregateID.String(),
				"patient_id":   state.PatientID,
				"summary":      c.Summary,
			},
		}}, nil

	case DischargePatient:
		if state.Stage != EncounterCompleted {
			return nil, invalid("discharge")
		}
		return []event.Draft{{
			EventType: event.TypePatientDischarged,
			Payload: map[string]any{
				"encounter_id": c.Ctx.AggregateID.String(),
				"patient_id":   state.PatientID,
				"disposition":  c.Disposition,
			},
		}}, nil
	}
	return nil, rejectUnknown(cmd)
}

func (Encounter) Apply(s State, e event.Envelope) State {
	state := s.(EncounterState)
	p := e.Payload
	str := func(k string) string { v, _ := p[k].(string); return v }

	switch e.EventType {
	case event.TypePatientCheckedIn:
		state.Stage = EncounterCheckedIn
		state.PatientID = str("patient_id")
		state.PractitionerID = str("practitioner_id")
	case event.TypePatientTriaged:
		state.Stage = EncounterTriaged
	case event.TypeEncounterBegan:
		state.Stage = EncounterBegan
		if id := str("practitioner_id"); id != "" {
			state.PractitionerID = id
		}
	case event.TypeEncounterReopened:
		state.Stage = EncounterBegan
		state.Reopened = true
	case event.TypeEncounterCompleted:
		state.Stage = EncounterCompleted
	case event.TypePatientDischarged:
		state.Stage = EncounterDischarged
	}
	return state
}
