package dispatch_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicore/internal/dispatch"
	"clinicore/internal/event"
	"clinicore/internal/eventstore"
	"clinicore/pkg/domain"
	"clinicore/pkg/testutil"
)

var testClock = event.FixedClock{Instant: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}

type recordingProjection struct {
	name   string
	filter []string

	mu      sync.Mutex
	applied []event.Envelope
	failFor map[domain.EventID]int // remaining failures per event
}

func newRecordingProjection(name string, filter ...string) *recordingProjection {
	return &recordingProjection{name: name, filter: filter, failFor: map[domain.EventID]int{}}
}

func (p *recordingProjection) Name() string     { return p.name }
func (p *recordingProjection) Filter() []string { return p.filter }

func (p *recordingProjection) Apply(_ context.Context, e event.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.failFor[e.EventID]; n > 0 {
		p.failFor[e.EventID] = n - 1
		return errors.New("handler blew up")
	}
	p.applied = append(p.applied, e)
	return nil
}

func (p *recordingProjection) appliedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.applied))
	for _, e := range p.applied {
		out = append(out, e.EventID.String())
	}
	return out
}

func fastOptions() dispatch.Options {
	return dispatch.Options{
		MaxAttempts:     3,
		RetryBackoff:    time.Millisecond,
		CatchUpInterval: 10 * time.Millisecond,
		CatchUpBatch:    50,
	}
}

func appendAll(t *testing.T, store *eventstore.InMemoryStore, events ...event.Envelope) {
	t.Helper()
	for _, e := range events {
		_, err := store.Append(context.Background(), e)
		require.NoError(t, err)
	}
}

func TestDispatcher_CatchUpDeliversPastCheckpoint(t *testing.T) {
	store := eventstore.NewInMemoryStore(testClock)
	f := testutil.NewEnvelopeFactory("tablet-01")
	proj := newRecordingProjection("vitals", event.TypeVitalSignsRecorded)

	d := dispatch.New(store, slog.Default(), fastOptions())
	d.Register(proj, dispatch.ModeLive)

	matching := f.Build(domain.AggregateVitalSigns, domain.NewAggregateID(), 1, event.TypeVitalSignsRecorded, nil)
	other := f.Build(domain.AggregateSymptom, domain.NewAggregateID(), 1, event.TypeSymptomReported, nil)
	appendAll(t, store, matching, other)

	require.NoError(t, d.CatchUp(context.Background()))

	assert.Equal(t, []string{matching.EventID.String()}, proj.appliedIDs())
	// Checkpoint covers every scanned position, including the filtered-out
	// event.
	assert.Equal(t, uint64(2), d.Checkpoint("vitals"))

	// A second pass delivers nothing new.
	require.NoError(t, d.CatchUp(context.Background()))
	assert.Len(t, proj.appliedIDs(), 1)
}

func TestDispatcher_LivePathAndDedup(t *testing.T) {
	store := eventstore.NewInMemoryStore(testClock)
	f := testutil.NewEnvelopeFactory("tablet-01")
	proj := newRecordingProjection("all")

	d := dispatch.New(store, slog.Default(), fastOptions())
	d.Register(proj, dispatch.ModeLive)
	d.Start(context.Background())
	defer d.Stop()

	env := f.Build(domain.AggregateSymptom, domain.NewAggregateID(), 1, event.TypeSymptomReported, nil)
	appendAll(t, store, env)
	d.Dispatch([]event.Envelope{env})

	// The live inbox and the poller may both deliver; dedup keeps one.
	require.Eventually(t, func() bool { return len(proj.appliedIDs()) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, proj.appliedIDs(), 1)
}

func TestDispatcher_RetryThenDeadLetter(t *testing.T) {
	store := eventstore.NewInMemoryStore(testClock)
	f := testutil.NewEnvelopeFactory("tablet-01")
	proj := newRecordingProjection("flaky")

	poison := f.Build(domain.AggregateSymptom, domain.NewAggregateID(), 1, event.TypeSymptomReported, nil)
	follow := f.Build(domain.AggregateSymptom, domain.NewAggregateID(), 1, event.TypeSymptomReported, nil)
	proj.failFor[poison.EventID] = 99 // beyond MaxAttempts

	d := dispatch.New(store, slog.Default(), fastOptions())
	d.Register(proj, dispatch.ModeLive)
	appendAll(t, store, poison, follow)

	require.NoError(t, d.CatchUp(context.Background()))

	dead := d.DeadLetters("flaky")
	require.Len(t, dead, 1)
	assert.Equal(t, poison.EventID, dead[0].EventID)
	assert.Equal(t, 3, dead[0].Attempts)

	// The next event still got through.
	assert.Equal(t, []string{follow.EventID.String()}, proj.appliedIDs())
}

func TestDispatcher_TransientFailureRecoversWithinRetries(t *testing.T) {
	store := eventstore.NewInMemoryStore(testClock)
	f := testutil.NewEnvelopeFactory("tablet-01")
	proj := newRecordingProjection("flaky")

	env := f.Build(domain.AggregateSymptom, domain.NewAggregateID(), 1, event.TypeSymptomReported, nil)
	proj.failFor[env.EventID] = 2 // fails twice, succeeds on third

	d := dispatch.New(store, slog.Default(), fastOptions())
	d.Register(proj, dispatch.ModeLive)
	appendAll(t, store, env)

	require.NoError(t, d.CatchUp(context.Background()))
	assert.Len(t, proj.appliedIDs(), 1)
	assert.Empty(t, d.DeadLetters("flaky"))
}

func TestDispatcher_ProjectionsAreIsolated(t *testing.T) {
	store := eventstore.NewInMemoryStore(testClock)
	f := testutil.NewEnvelopeFactory("tablet-01")
	broken := newRecordingProjection("broken")
	healthy := newRecordingProjection("healthy")

	env := f.Build(domain.AggregateSymptom, domain.NewAggregateID(), 1, event.TypeSymptomReported, nil)
	broken.failFor[env.EventID] = 99

	d := dispatch.New(store, slog.Default(), fastOptions())
	d.Register(broken, dispatch.ModeLive)
	d.Register(healthy, dispatch.ModeLive)
	appendAll(t, store, env)

	require.NoError(t, d.CatchUp(context.Background()))

	assert.Len(t, healthy.appliedIDs(), 1)
	assert.Len(t, d.DeadLetters("broken"), 1)
}

func TestDispatcher_OrderPreservedWithinProjection(t *testing.T) {
	store := eventstore.NewInMemoryStore(testClock)
	f := testutil.NewEnvelopeFactory("tablet-01")
	proj := newRecordingProjection("ordered")

	aggID := domain.NewAggregateID()
	var want []string
	for v := uint64(1); v <= 5; v++ {
		env := f.Build(domain.AggregateEncounter, aggID, v, event.TypeEncounterBegan, nil)
		appendAll(t, store, env)
		want = append(want, env.EventID.String())
	}

	d := dispatch.New(store, slog.Default(), fastOptions())
	d.Register(proj, dispatch.ModeLive)
	require.NoError(t, d.CatchUp(context.Background()))

	assert.Equal(t, want, proj.appliedIDs())
}
