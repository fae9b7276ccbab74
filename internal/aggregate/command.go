package aggregate

import (
	"time"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// Context carries the coordinates every command shares: the target stream,
// the asserted clinical time, the actor, and the producing device. Commands
// never carry event-level metadata (no event ID, no aggregate version) —
// the handler stamps those.
type Context struct {
	AggregateID      domain.AggregateID
	OccurredAt       time.Time
	PerformedBy      domain.PerformerID
	PerformerRole    domain.PerformerRole
	OrganizationID   domain.OrganizationID
	FacilityID       domain.FacilityID
	DeviceID         string
	ConnectionStatus domain.ConnectionStatus
	CorrelationID    domain.CorrelationID
	CausationID      domain.EventID
	Visibility       []domain.Audience
}

// Command is a frozen, typed intent aimed at exactly one aggregate kind.
type Command interface {
	Context() Context
	CommandType() string
	AggregateType() domain.AggregateType
}

// rejectUnknown is the shared fallthrough for decide type switches. A
// command reaching the wrong aggregate is a routing bug, not a user error,
// but it still surfaces as a value.
func rejectUnknown(cmd Command) error {
	return dErrors.Newf(dErrors.CodeDomain, "command %s is not valid for this aggregate", cmd.CommandType())
}

// checkClock enforces the five-minute future bound on clinician-asserted
// occurred_at (INV-CO-2). Shared by every decide.
func checkClock(ctx Context, now time.Time) error {
	if ctx.OccurredAt.After(now.Add(event.MaxClockSkew)) {
		return dErrors.Invariant(dErrors.CodeDomain, string(domain.InvObservationClockSkew),
			"occurred_at is more than 5 minutes in the future")
	}
	return nil
}
