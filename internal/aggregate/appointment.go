package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// AppointmentStage is the scheduling lifecycle stage.
type AppointmentStage string

const (
	AppointmentNone               AppointmentStage = "none"
	AppointmentRequested          AppointmentStage = "requested"
	AppointmentConfirmed          AppointmentStage = "confirmed"
	AppointmentCancelledByPatient AppointmentStage = "cancelled_by_patient"
	AppointmentCancelledByPractice AppointmentStage = "cancelled_by_practice"
	AppointmentNoShowed           AppointmentStage = "no_showed"
)

// Terminal reports whether the appointment accepts no further transitions.
func (s AppointmentStage) Terminal() bool {
	switch s {
	case AppointmentCancelledByPatient, AppointmentCancelledByPractice, AppointmentNoShowed:
		return true
	}
	return false
}

// AppointmentState is the rehydrated Appointment aggregate.
type AppointmentState struct {
	Stage       AppointmentStage
	PatientID   string
	ScheduledAt string
	Reschedules int
}

// Commands.

type RequestAppointment struct {
	Ctx         Context
	PatientID   domain.PatientID
	ScheduledAt string
	Reason      string
}

func (c RequestAppointment) Context() Context                    { return c.Ctx }
func (c RequestAppointment) CommandType() string                 { return "RequestAppointment" }
func (c RequestAppointment) AggregateType() domain.AggregateType { return domain.AggregateAppointment }

type ConfirmAppointment struct {
	Ctx Context
}

func (c ConfirmAppointment) Context() Context                    { return c.Ctx }
func (c ConfirmAppointment) CommandType() string                 { return "ConfirmAppointment" }
func (c ConfirmAppointment) AggregateType() domain.AggregateType { return domain.AggregateAppointment }

type RescheduleAppointment struct {
	Ctx            Context
	NewScheduledAt string
	Reason         string
}

func (c RescheduleAppointment) Context() Context                    { return c.Ctx }
func (c RescheduleAppointment) CommandType() string                 { return "RescheduleAppointment" }
func (c RescheduleAppointment) AggregateType() domain.AggregateType { return domain.AggregateAppointment }

type CancelAppointmentByPatient struct {
	Ctx    Context
	Reason string
}

func (c CancelAppointmentByPatient) Context() Context    { return c.Ctx }
func (c CancelAppointmentByPatient) CommandType() string { return "CancelAppointmentByPatient" }
func (c CancelAppointmentByPatient) AggregateType() domain.AggregateType {
	return domain.AggregateAppointment
}

type CancelAppointmentByPractice struct {
	Ctx    Context
	Reason string
}

func (c CancelAppointmentByPractice) Context() Context    { return c.Ctx }
func (c CancelAppointmentByPractice) CommandType() string { return "CancelAppointmentByPractice" }
func (c CancelAppointmentByPractice) AggregateType() domain.AggregateType {
	return domain.AggregateAppointment
}

type RecordAppointmentNoShow struct {
	Ctx Context
}

func (c RecordAppointmentNoShow) Context() Context    { return c.Ctx }
func (c RecordAppointmentNoShow) CommandType() string { return "RecordAppointmentNoShow" }
func (c RecordAppointmentNoShow) AggregateType() domain.AggregateType {
	return domain.AggregateAppointment
}

// Appointment is the scheduling lifecycle aggregate:
// None → Requested → Confirmed → {Rescheduled→Confirmed |
// CancelledByPatient | CancelledByPractice | NoShowed}. Cancellations and
// no-shows are terminal.
type Appointment struct{}

func (Appointment) Type() domain.AggregateType { return domain.AggregateAppointment }

func (Appointment) NewState() State { return AppointmentState{Stage: AppointmentNone} }

func (Appointment) Decide(s State, cmd Command, clock event.Clock) ([]event.Draft, error) {
	state := s.(AppointmentState)
	if err := checkClock(cmd.Context(), clock.Now()); err != nil {
		return nil, err
	}

	if state.Stage.Terminal() {
		return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvAppointmentTransition),
			"appointment is in terminal stage "+string(state.Stage))
	}

	switch c := cmd.(type) {
	case RequestAppointment:
		if state.Stage != AppointmentNone {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvAppointmentTransition),
				"appointment has already been requested")
		}
		return []event.Draft{{
			EventType: event.TypeAppointmentRequested,
			Payload: map[string]any{
				"appointment_id": c.Ctx.AggregateID.String(),
				"patient_id":     c.PatientID.String(),
				"scheduled_at":   c.ScheduledAt,
				"reason":         c.Reason,
			},
		}}, nil

	case ConfirmAppointment:
		if state.Stage != AppointmentRequested {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvAppointmentConfirmRequested),
				"only a requested appointment can be confirmed")
		}
		return []event.Draft{{
			EventType: event.TypeAppointmentConfirmed,
			Payload: map[string]any{
				"appointment_id": c.Ctx.AggregateID.String(),
				"patient_id":     state.PatientID,
				"scheduled_at":   state.ScheduledAt,
			},
		}}, nil

	case RescheduleAppointment:
		if state.Stage != AppointmentConfirmed {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvAppointmentRescheduleConfirmed),
				"only a confirmed appointment can be rescheduled")
		}
		return []event.Draft{{
			EventType: event.TypeAppointmentRescheduled,
			Payload: map[string]any{
				"appointment_id": c.Ctx.AggregateID.String(),
				"patient_id":     state.PatientID,
				"scheduled_at":   c.NewScheduledAt,
				"reason":         c.Reason,
			},
		}}, nil

	case CancelAppointmentByPatient:
		if state.Stage != AppointmentRequested && state.Stage != AppointmentConfirmed {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvAppointmentTransition),
				"only an open appointment can be cancelled")
		}
		return []event.Draft{{
			EventType: event.TypeAppointmentCancelledByPatient,
			Payload: map[string]any{
				"appointment_id": c.Ctx.AggregateID.String(),
				"patient_id":     state.PatientID,
				"reason":         c.Reason,
			},
		}}, nil

	case CancelAppointmentByPractice:
		if state.Stage != AppointmentRequested && state.Stage != AppointmentConfirmed {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvAppointmentTransition),
				"only an open appointment can be cancelled")
		}
		return []event.Draft{{
			EventType: event.TypeAppointmentCancelledByPractice,
			Payload: map[string]any{
				"appointment_id": c.Ctx.AggregateID.String(),
				"patient_id":     state.PatientID,
				"reason":         c.Reason,
			},
		}}, nil

	case RecordAppointmentNoShow:
		if state.Stage != AppointmentConfirmed {
			return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvAppointmentTransition),
				"only a confirmed appointment can be marked a no-show")
		}
		return []event.Draft{{
			EventType: event.TypeAppointmentNoShowed,
			Payload: map[string]any{
				"appointment_id": c.Ctx.AggregateID.String(),
				"patient_id":     state.PatientID,
			},
		}}, nil
	}
	return nil, rejectUnknown(cmd)
}

func (Appointment) Apply(s State, e event.Envelope) State {
	state := s.(AppointmentState)
	p := e.Payload
	str := func(k string) string { v, _ := p[k].(string); return v }

	switch e.EventType {
	case event.TypeAppointmentRequested:
		state.Stage = AppointmentRequested
		state.PatientID = str("patient_id")
		state.ScheduledAt = str("scheduled_at")
	case event.TypeAppointmentConfirmed:
		state.Stage = AppointmentConfirmed
	case event.TypeAppointmentRescheduled:
		// A reschedule returns the slot to Confirmed with the new time.
		state.Stage = AppointmentConfirmed
		state.ScheduledAt = str("scheduled_at")
		state.Reschedules++
	case event.TypeAppointmentCancelledByPatient:
		state.Stage = AppointmentCancelledByPatient
	case event.TypeAppointmentCancelledByPractice:
		state.Stage = AppointmentCancelledByPractice
	case event.TypeAppointmentNoShowed:
		state.Stage = AppointmentNoShowed
	}
	return state
}
