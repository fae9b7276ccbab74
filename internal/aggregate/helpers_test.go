package aggregate_test

import (
	"time"

	"github.com/google/uuid"

	"clinicore/internal/aggregate"
	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

var testClock = event.FixedClock{Instant: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}

// testCtx builds a command context targeting the given stream with a fresh
// actor. Tests that care about the actor override PerformedBy.
func testCtx(aggID domain.AggregateID) aggregate.Context {
	return aggregate.Context{
		AggregateID:      aggID,
		OccurredAt:       testClock.Instant,
		PerformedBy:      domain.PerformerID(uuid.New()),
		PerformerRole:    domain.RolePhysician,
		OrganizationID:   domain.OrganizationID(uuid.New()),
		FacilityID:       domain.FacilityID(uuid.New()),
		DeviceID:         "tablet-01",
		ConnectionStatus: domain.ConnectionOffline,
		CorrelationID:    domain.NewCorrelationID(),
	}
}

// drive folds drafts into state via Apply so multi-step tests read like the
// event history they build. Envelope metadata beyond type/payload is
// irrelevant to Apply.
func drive(a aggregate.Aggregate, s aggregate.State, drafts []event.Draft) aggregate.State {
	for _, d := range drafts {
		s = a.Apply(s, event.Envelope{EventType: d.EventType, Payload: d.Payload})
	}
	return s
}

// decideAndApply runs one accepted command through decide and apply.
func decideAndApply(a aggregate.Aggregate, s aggregate.State, cmd aggregate.Command) (aggregate.State, []event.Draft, error) {
	drafts, err := a.Decide(s, cmd, testClock)
	if err != nil {
		return s, nil, err
	}
	return drive(a, s, drafts), drafts, nil
}
