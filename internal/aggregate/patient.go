package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// PatientStage is the patient registration lifecycle stage.
type PatientStage string

const (
	PatientNone        PatientStage = "none"
	PatientActive      PatientStage = "active"
	PatientDeceased    PatientStage = "deceased"
	PatientTransferred PatientStage = "transferred_out"
)

// Terminal reports whether no further transitions are permitted.
func (s PatientStage) Terminal() bool {
	return s == PatientDeceased || s == PatientTransferred
}

// PatientState is the rehydrated PatientRegistration aggregate.
type PatientState struct {
	Stage       PatientStage
	GivenName   string
	FamilyName  string
	DateOfBirth string
	Phone       string
	Email       string
}

// Commands.

type RegisterPatient struct {
	Ctx         Context
	GivenName   string
	FamilyName  string
	DateOfBirth string
	Sex         string
}

func (c RegisterPatient) Context() Context     { return c.Ctx }
func (c RegisterPatient) CommandType() string  { return "RegisterPatient" }
func (c RegisterPatient) AggregateType() domain.AggregateType {
	return domain.AggregatePatientRegistration
}

type CorrectPatientIdentity struct {
	Ctx         Context
	GivenName   string
	FamilyName  string
	DateOfBirth string
	Reason      string
}

func (c CorrectPatientIdentity) Context() Context    { return c.Ctx }
func (c CorrectPatientIdentity) CommandType() string { return "CorrectPatientIdentity" }
func (c CorrectPatientIdentity) AggregateType() domain.AggregateType {
	return domain.AggregatePatientRegistration
}

type DeclareContactInfo struct {
	Ctx   Context
	Phone string
	Email string
}

func (c DeclareContactInfo) Context() Context    { return c.Ctx }
func (c DeclareContactInfo) CommandType() string { return "DeclareContactInfo" }
func (c DeclareContactInfo) AggregateType() domain.AggregateType {
	return domain.AggregatePatientRegistration
}

type RecordPatientDeceased struct {
	Ctx         Context
	DateOfDeath string
	Cause       string
}

func (c RecordPatientDeceased) Context() Context    { return c.Ctx }
func (c RecordPatientDeceased) CommandType() string { return "RecordPatientDeceased" }
func (c RecordPatientDeceased) AggregateType() domain.AggregateType {
	return domain.AggregatePatientRegistration
}

type TransferPatientOut struct {
	Ctx                 Context
	ReceivingPractice   string
	TransferReason      string
}

func (c TransferPatientOut) Context() Context    { return c.Ctx }
func (c TransferPatientOut) CommandType() string { return "TransferPatientOut" }
func (c TransferPatientOut) AggregateType() domain.AggregateType {
	return domain.AggregatePatientRegistration
}

// PatientRegistration is the lifecycle aggregate:
// None → Active → {Deceased | TransferredOut} (terminal). While Active,
// identity corrections and contact declarations are accepted without
// transitioning.
type PatientRegistration struct{}

func (PatientRegistration) Type() domain.AggregateType { return domain.AggregatePatientRegistration }

func (PatientRegistration) NewState() State { return PatientState{Stage: PatientNone} }

func (PatientRegistration) Decide(s State, cmd Command, clock event.Clock) ([]event.Draft, error) {
	state := s.(PatientState)
	if err := checkClock(cmd.Context(), clock.Now()); err != nil {
		return nil, err
	}

	switch c := cmd.(type) {
	case RegisterPatient:
		if state.Stage != PatientNone {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvPatientSingleRecord),
				"patient is already registered")
		}
		return []event.Draft{{
			EventType: event.TypePatientRegistered,
			Payload: map[string]any{
				"patient_id":    c.Ctx.AggregateID.String(),
				"given_name":    c.GivenName,
				"family_name":   c.FamilyName,
				"date_of_birth": c.DateOfBirth,
				"sex":           c.Sex,
			},
		}}, nil

	case CorrectPatientIdentity:
		if err := requireActivePatient(state); err != nil {
			return nil, err
		}
		return []event.Draft{{
			EventType: event.TypePatientIdentityCorrected,
			Payload: map[string]any{
				"patient_id":    c.Ctx.AggregateID.String(),
				"given_name":    c.GivenName,
				"family_name":   c.FamilyName,
				"date_of_birth": c.DateOfBirth,
				"reason":        c.Reason,
			},
		}}, nil

	case DeclareContactInfo:
		if err := requireActivePatient(state); err != nil {
			return nil, err
		}
		return []event.Draft{{
			EventType: event.TypeContactInfoDeclared,
			Payload: map[string]any{
				"patient_id": c.Ctx.AggregateID.String(),
				"phone":      c.Phone,
				"email":      c.Email,
			},
		}}, nil

	case RecordPatientDeceased:
		if err := requireActivePatient(state); err != nil {
			return nil, err
		}
		return []event.Draft{{
			EventType: event.TypePatientDeceasedRecorded,
			Payload: map[string]any{
				"patient_id":    c.Ctx.AggregateID.String(),
				"date_of_death": c.DateOfDeath,
				"cause":         c.Cause,
			},
		}}, nil

	case TransferPatientOut:
		if err := requireActivePatient(state); err != nil {
			return nil, err
		}
		return []event.Draft{{
			EventType: event.TypePatientTransferredOut,
			Payload: map[string]any{
				"patient_id":         c.Ctx.AggregateID.String(),
				"receiving_practice": c.ReceivingPractice,
				"transfer_reason":    c.TransferReason,
			},
		}}, nil
	}
	return nil, rejectUnknown(cmd)
}

func requireActivePatient(state PatientState) error {
	switch state.Stage {
	case PatientNone:
		return dErrors.Invariant(dErrors.CodeDomain, string(domain.InvPatientExists),
			"patient is not registered")
	case PatientDeceased, PatientTransferred:
		return dErrors.Invariant(dErrors.CodeDomain, string(domain.InvPatientTerminalFinal),
			"patient record is terminal")
	}
	return nil
}

func (PatientRegistration) Apply(s State, e event.Envelope) State {
	state := s.(PatientState)
	p := e.Payload
	str := func(k string) string { v, _ := p[k].(string); return v }

	switch e.EventType {
	case event.TypePatientRegistered:
		state.Stage = PatientActive
		state.GivenName = str("given_name")
		state.FamilyName = str("family_name")
		state.DateOfBirth = str("date_of_birth")
	case event.TypePatientIdentityCorrected:
		state.GivenName = str("given_name")
		state.FamilyName = str("family_name")
		state.DateOfBirth = str("date_of_birth")
	case event.TypeContactInfoDeclared:
		state.Phone = str("phone")
		state.Email = str("email")
	case event.TypePatientDeceasedRecorded:
		state.Stage = PatientDeceased
	case event.TypePatientTransferredOut:
		state.Stage = PatientTransferred
	}
	return state
}
