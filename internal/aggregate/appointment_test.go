package aggregate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicore/internal/aggregate"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

func requestedAppointment(t *testing.T, appt aggregate.Appointment, aggID domain.AggregateID) aggregate.State {
	t.Helper()
	s, _, err := decideAndApply(appt, appt.NewState(), aggregate.RequestAppointment{
		Ctx: testCtx(aggID), PatientID: domain.PatientID(domain.NewAggregateID()),
		ScheduledAt: "2025-06-10T14:00:00+02:00", Reason: "follow-up",
	})
	require.NoError(t, err)
	return s
}

func TestAppointment_RequestConfirmRescheduleCycle(t *testing.T) {
	appt := aggregate.Appointment{}
	aggID := domain.NewAggregateID()
	s := requestedAppointment(t, appt, aggID)

	s, _, err := decideAndApply(appt, s, aggregate.ConfirmAppointment{Ctx: testCtx(aggID)})
	require.NoError(t, err)
	assert.Equal(t, aggregate.AppointmentConfirmed, s.(aggregate.AppointmentState).Stage)

	s, _, err = decideAndApply(appt, s, aggregate.RescheduleAppointment{
		Ctx: testCtx(aggID), NewScheduledAt: "2025-06-12T10:00:00+02:00", Reason: "clinician away",
	})
	require.NoError(t, err)
	state := s.(aggregate.AppointmentState)
	assert.Equal(t, aggregate.AppointmentConfirmed, state.Stage)
	assert.Equal(t, "2025-06-12T10:00:00+02:00", state.ScheduledAt)

	// Rescheduled slot can be rescheduled again or cancelled.
	_, _, err = decideAndApply(appt, s, aggregate.CancelAppointmentByPatient{Ctx: testCtx(aggID), Reason: "feeling better"})
	require.NoError(t, err)
}

func TestAppointment_ConfirmRequiresRequested(t *testing.T) {
	appt := aggregate.Appointment{}
	aggID := domain.NewAggregateID()

	_, err := appt.Decide(appt.NewState(), aggregate.ConfirmAppointment{Ctx: testCtx(aggID)}, testClock)
	require.Error(t, err)
	assert.Equal(t, string(domain.InvAppointmentConfirmRequested), dErrors.InvariantOf(err))
}

func TestAppointment_RescheduleRequiresConfirmed(t *testing.T) {
	appt := aggregate.Appointment{}
	aggID := domain.NewAggregateID()
	s := requestedAppointment(t, appt, aggID)

	_, err := appt.Decide(s, aggregate.RescheduleAppointment{Ctx: testCtx(aggID), NewScheduledAt: "2025-07-01T09:00:00+02:00"}, testClock)
	require.Error(t, err)
	assert.Equal(t, string(domain.InvAppointmentRescheduleConfirmed), dErrors.InvariantOf(err))
}

func TestAppointment_TerminalStagesRejectEverything(t *testing.T) {
	appt := aggregate.Appointment{}
	aggID := domain.NewAggregateID()

	terminalVia := map[string]aggregate.Command{
		"cancelled_by_patient":  aggregate.CancelAppointmentByPatient{Ctx: testCtx(aggID)},
		"cancelled_by_practice": aggregate.CancelAppointmentByPractice{Ctx: testCtx(aggID)},
		"no_showed":             aggregate.RecordAppointmentNoShow{Ctx: testCtx(aggID)},
	}

	for name, terminal := range terminalVia {
		t.Run(name, func(t *testing.T) {
			s := requestedAppointment(t, appt, aggID)
			s, _, err := decideAndApply(appt, s, aggregate.ConfirmAppointment{Ctx: testCtx(aggID)})
			require.NoError(t, err)
			s, _, err = decideAndApply(appt, s, terminal)
			require.NoError(t, err)

			for _, cmd := range []aggregate.Command{
				aggregate.ConfirmAppointment{Ctx: testCtx(aggID)},
				aggregate.RescheduleAppointment{Ctx: testCtx(aggID), NewScheduledAt: "2025-08-01T09:00:00+02:00"},
				aggregate.CancelAppointmentByPatient{Ctx: testCtx(aggID)},
				aggregate.CancelAppointmentByPractice{Ctx: testCtx(aggID)},
				aggregate.RecordAppointmentNoShow{Ctx: testCtx(aggID)},
			} {
				_, err := appt.Decide(s, cmd, testClock)
				require.Errorf(t, err, "terminal stage should reject %s", cmd.CommandType())
				assert.Equal(t, string(domain.InvAppointmentTransition), dErrors.InvariantOf(err))
			}
		})
	}
}

func TestAppointment_NoShowRequiresConfirmed(t *testing.T) {
	appt := aggregate.Appointment{}
	aggID := domain.NewAggregateID()
	s := requestedAppointment(t, appt, aggID)

	_, err := appt.Decide(s, aggregate.RecordAppointmentNoShow{Ctx: testCtx(aggID)}, testClock)
	require.Error(t, err)
}
