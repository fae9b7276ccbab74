//go:build integration

package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"clinicore/internal/event"
	"clinicore/internal/eventstore"
	"clinicore/pkg/domain"
	"clinicore/pkg/testutil"
	"clinicore/pkg/testutil/containers"
)

// PostgresStoreSuite runs the same invariants the in-memory suite covers
// against the durable implementation.
type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *eventstore.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = eventstore.NewPostgresStore(s.postgres.DB, event.SystemClock{})
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "events"))
}

func (s *PostgresStoreSuite) TestAppendReadStreamRoundTrip() {
	ctx := context.Background()
	f := testutil.NewEnvelopeFactory("tablet-01")
	aggID := domain.NewAggregateID()
	key := eventstore.StreamKey{AggregateType: domain.AggregateEncounter, AggregateID: aggID}

	first := f.Build(domain.AggregateEncounter, aggID, 1, event.TypePatientCheckedIn, map[string]any{
		"patient_id": domain.NewAggregateID().String(),
	})
	second := f.Build(domain.AggregateEncounter, aggID, 2, event.TypeEncounterBegan, nil)

	res, err := s.store.Append(ctx, first)
	s.Require().NoError(err)
	s.False(res.Duplicate)

	_, err = s.store.Append(ctx, second)
	s.Require().NoError(err)

	stream, err := s.store.ReadStream(ctx, key)
	s.Require().NoError(err)
	s.Require().Len(stream, 2)
	s.Equal(first.EventID, stream[0].EventID)
	s.Equal(uint64(2), stream[1].AggregateVersion)
	s.False(stream[0].RecordedAt.IsZero())
}

func (s *PostgresStoreSuite) TestAppendIdempotentOnEventID() {
	ctx := context.Background()
	f := testutil.NewEnvelopeFactory("tablet-01")
	env := f.Build(domain.AggregateVitalSigns, domain.NewAggregateID(), 1, event.TypeVitalSignsRecorded, nil)

	first, err := s.store.Append(ctx, env)
	s.Require().NoError(err)
	second, err := s.store.Append(ctx, env)
	s.Require().NoError(err)
	s.True(second.Duplicate)
	s.Equal(first.Position, second.Position)
}

func (s *PostgresStoreSuite) TestVersionConflictSurfaced() {
	ctx := context.Background()
	f := testutil.NewEnvelopeFactory("tablet-01")
	aggID := domain.NewAggregateID()

	_, err := s.store.Append(ctx, f.Build(domain.AggregateDiagnosis, aggID, 1, event.TypeDiagnosisMade, nil))
	s.Require().NoError(err)

	_, err = s.store.Append(ctx, f.Build(domain.AggregateDiagnosis, aggID, 3, event.TypeDiagnosisRevised, nil))
	vc, ok := eventstore.AsVersionConflict(err)
	s.Require().True(ok)
	s.Equal(uint64(2), vc.Expected)
}

func (s *PostgresStoreSuite) TestReadAfterFiltersAndCursor() {
	ctx := context.Background()
	f := testutil.NewEnvelopeFactory("tablet-01")

	restricted := f.Build(domain.AggregateLabResult, domain.NewAggregateID(), 1, event.TypeLabResultRecorded, nil)
	restricted.Visibility = []domain.Audience{domain.AudiencePart2}
	open := f.Build(domain.AggregateLabResult, domain.NewAggregateID(), 1, event.TypeLabResultRecorded, nil)

	_, err := s.store.Append(ctx, restricted)
	s.Require().NoError(err)
	_, err = s.store.Append(ctx, open)
	s.Require().NoError(err)

	events, next, err := s.store.ReadAfter(ctx, eventstore.Filter{
		Visibility: []domain.Audience{domain.AudienceClinicalStaff},
	}, 0, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(open.EventID, events[0].EventID)

	more, _, err := s.store.ReadAfter(ctx, eventstore.Filter{}, next, 10)
	s.Require().NoError(err)
	s.Empty(more)
}
