package readmodel_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicore/internal/event"
	"clinicore/internal/readmodel"
	"clinicore/pkg/domain"
	"clinicore/pkg/testutil"
)

func TestProjector_PatientAndEncounterModels(t *testing.T) {
	ctx := context.Background()
	store := readmodel.NewInMemoryStore()
	proj := readmodel.NewProjector(store)
	f := testutil.NewEnvelopeFactory("tablet-01")

	patientID := domain.NewAggregateID()
	encID := domain.NewAggregateID()
	practitioner := f.Performer.String()

	events := []event.Envelope{
		f.Build(domain.AggregatePatientRegistration, patientID, 1, event.TypePatientRegistered,
			map[string]any{"patient_id": patientID.String()}),
		f.Build(domain.AggregateEncounter, encID, 1, event.TypePatientCheckedIn,
			map[string]any{"encounter_id": encID.String(), "patient_id": patientID.String(), "practitioner_id": practitioner}),
		f.Build(domain.AggregateEncounter, encID, 2, event.TypeEncounterBegan,
			map[string]any{"encounter_id": encID.String(), "patient_id": patientID.String(), "practitioner_id": practitioner}),
	}
	for _, e := range events {
		require.NoError(t, proj.Apply(ctx, e))
	}

	ps, err := store.PatientStatus(ctx, patientID.String())
	require.NoError(t, err)
	assert.Equal(t, "active", ps.Stage)
	assert.False(t, ps.Terminal())

	es, err := store.EncounterState(ctx, encID.String())
	require.NoError(t, err)
	assert.True(t, es.Active())

	active, err := store.ActiveEncounters(ctx, patientID.String(), practitioner)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// Completion empties the active index.
	require.NoError(t, proj.Apply(ctx, f.Build(domain.AggregateEncounter, encID, 3, event.TypeEncounterCompleted,
		map[string]any{"encounter_id": encID.String()})))
	active, err = store.ActiveEncounters(ctx, patientID.String(), practitioner)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Performer role mirrored from envelope metadata.
	role, err := store.PerformerRole(ctx, practitioner)
	require.NoError(t, err)
	assert.Equal(t, string(domain.RolePhysician), role.Role)
}

func TestProjector_DiagnosisAndAppointmentModels(t *testing.T) {
	ctx := context.Background()
	store := readmodel.NewInMemoryStore()
	proj := readmodel.NewProjector(store)
	f := testutil.NewEnvelopeFactory("tablet-01")

	diagID := domain.NewAggregateID()
	apptID := domain.NewAggregateID()
	patient := domain.NewAggregateID().String()

	require.NoError(t, proj.Apply(ctx, f.Build(domain.AggregateDiagnosis, diagID, 1, event.TypeDiagnosisMade,
		map[string]any{"diagnosis_id": diagID.String(), "patient_id": patient})))
	require.NoError(t, proj.Apply(ctx, f.Build(domain.AggregateDiagnosis, diagID, 2, event.TypeDiagnosisResolved,
		map[string]any{"diagnosis_id": diagID.String(), "patient_id": patient})))

	ds, err := store.DiagnosisStatus(ctx, diagID.String())
	require.NoError(t, err)
	assert.Equal(t, "resolved", ds.Stage)

	require.NoError(t, proj.Apply(ctx, f.Build(domain.AggregateAppointment, apptID, 1, event.TypeAppointmentRequested,
		map[string]any{"appointment_id": apptID.String(), "patient_id": patient})))
	require.NoError(t, proj.Apply(ctx, f.Build(domain.AggregateAppointment, apptID, 2, event.TypeAppointmentConfirmed,
		map[string]any{"appointment_id": apptID.String()})))

	as, err := store.AppointmentStatus(ctx, apptID.String())
	require.NoError(t, err)
	assert.Equal(t, "confirmed", as.Stage)
	assert.Equal(t, patient, as.PatientID)
}

// TestProjector_RebuildShuffleInsensitive: rebuilding from a cross-stream
// shuffle that preserves per-stream version order converges to the same
// models.
func TestProjector_RebuildShuffleInsensitive(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewEnvelopeFactory("tablet-01")

	patientID := domain.NewAggregateID()
	encID := domain.NewAggregateID()
	diagID := domain.NewAggregateID()

	events := []event.Envelope{
		f.Build(domain.AggregatePatientRegistration, patientID, 1, event.TypePatientRegistered,
			map[string]any{"patient_id": patientID.String()}),
		f.Build(domain.AggregateEncounter, encID, 1, event.TypePatientCheckedIn,
			map[string]any{"encounter_id": encID.String(), "patient_id": patientID.String()}),
		f.Build(domain.AggregateEncounter, encID, 2, event.TypeEncounterBegan,
			map[string]any{"encounter_id": encID.String()}),
		f.Build(domain.AggregateDiagnosis, diagID, 1, event.TypeDiagnosisMade,
			map[string]any{"diagnosis_id": diagID.String(), "patient_id": patientID.String()}),
		f.Build(domain.AggregateEncounter, encID, 3, event.TypeEncounterCompleted,
			map[string]any{"encounter_id": encID.String()}),
	}

	buildFrom := func(ordered []event.Envelope) *readmodel.InMemoryStore {
		store := readmodel.NewInMemoryStore()
		proj := readmodel.NewProjector(store)
		require.NoError(t, proj.Rebuild(ctx, ordered))
		return store
	}

	baseline := buildFrom(events)

	// Shuffle across streams, keeping each stream's internal order.
	shuffled := shufflePreservingStreams(events, 7)
	store := buildFrom(shuffled)

	for _, id := range []string{encID.String()} {
		want, err := baseline.EncounterState(ctx, id)
		require.NoError(t, err)
		got, err := store.EncounterState(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	wantDiag, _ := baseline.DiagnosisStatus(ctx, diagID.String())
	gotDiag, _ := store.DiagnosisStatus(ctx, diagID.String())
	assert.Equal(t, wantDiag, gotDiag)
}

// shufflePreservingStreams permutes events across streams while keeping
// each stream's version order intact.
func shufflePreservingStreams(events []event.Envelope, seed int64) []event.Envelope {
	byStream := map[string][]event.Envelope{}
	var order []string
	for _, e := range events {
		k := string(e.AggregateType) + "/" + e.AggregateID.String()
		if _, ok := byStream[k]; !ok {
			order = append(order, k)
		}
		byStream[k] = append(byStream[k], e)
	}
	rng := rand.New(rand.NewSource(seed))
	var out []event.Envelope
	remaining := len(events)
	for remaining > 0 {
		k := order[rng.Intn(len(order))]
		if len(byStream[k]) == 0 {
			continue
		}
		out = append(out, byStream[k][0])
		byStream[k] = byStream[k][1:]
		remaining--
	}
	return out
}
