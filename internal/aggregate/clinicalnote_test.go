package aggregate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicore/internal/aggregate"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

func TestClinicalNote_AuthorAddendumCosign(t *testing.T) {
	note := aggregate.ClinicalNote{}
	aggID := domain.NewAggregateID()

	authorCtx := testCtx(aggID)
	s, _, err := decideAndApply(note, note.NewState(), aggregate.AuthorClinicalNote{
		Ctx: authorCtx, PatientID: domain.PatientID(domain.NewAggregateID()),
		EncounterID: domain.NewAggregateID(), Body: "presented with fever",
	})
	require.NoError(t, err)

	s, _, err = decideAndApply(note, s, aggregate.AddNoteAddendum{Ctx: authorCtx, Body: "fever resolved overnight"})
	require.NoError(t, err)

	cosignCtx := testCtx(aggID) // fresh actor
	s, _, err = decideAndApply(note, s, aggregate.CosignClinicalNote{Ctx: cosignCtx})
	require.NoError(t, err)

	state := s.(aggregate.NoteState)
	assert.True(t, state.Cosigned)
	assert.Equal(t, 1, state.Addenda)

	// Addenda remain possible after cosign; a second cosign does not.
	_, _, err = decideAndApply(note, s, aggregate.AddNoteAddendum{Ctx: authorCtx, Body: "follow-up"})
	require.NoError(t, err)

	_, err = note.Decide(s, aggregate.CosignClinicalNote{Ctx: testCtx(aggID)}, testClock)
	require.Error(t, err)
}

func TestClinicalNote_SelfCosignForbidden(t *testing.T) {
	note := aggregate.ClinicalNote{}
	aggID := domain.NewAggregateID()

	authorCtx := testCtx(aggID)
	s, _, err := decideAndApply(note, note.NewState(), aggregate.AuthorClinicalNote{
		Ctx: authorCtx, PatientID: domain.PatientID(domain.NewAggregateID()),
		EncounterID: domain.NewAggregateID(), Body: "exam unremarkable",
	})
	require.NoError(t, err)

	_, err = note.Decide(s, aggregate.CosignClinicalNote{Ctx: authorCtx}, testClock)
	require.Error(t, err)
	assert.Equal(t, string(domain.InvNoteCosignerOther), dErrors.InvariantOf(err))
}

func TestClinicalNote_RequiresAuthoring(t *testing.T) {
	note := aggregate.ClinicalNote{}
	aggID := domain.NewAggregateID()

	_, err := note.Decide(note.NewState(), aggregate.AddNoteAddendum{Ctx: testCtx(aggID), Body: "x"}, testClock)
	require.Error(t, err)
	assert.Equal(t, string(domain.InvNoteMustExist), dErrors.InvariantOf(err))

	_, err = note.Decide(note.NewState(), aggregate.CosignClinicalNote{Ctx: testCtx(aggID)}, testClock)
	require.Error(t, err)
	assert.Equal(t, string(domain.InvNoteMustExist), dErrors.InvariantOf(err))
}

func TestClinicalNote_AuthoredOnce(t *testing.T) {
	note := aggregate.ClinicalNote{}
	aggID := domain.NewAggregateID()

	s, _, err := decideAndApply(note, note.NewState(), aggregate.AuthorClinicalNote{
		Ctx: testCtx(aggID), PatientID: domain.PatientID(domain.NewAggregateID()),
		EncounterID: domain.NewAggregateID(), Body: "original",
	})
	require.NoError(t, err)

	_, err = note.Decide(s, aggregate.AuthorClinicalNote{
		Ctx: testCtx(aggID), PatientID: domain.PatientID(domain.NewAggregateID()),
		EncounterID: domain.NewAggregateID(), Body: "rewrite",
	}, testClock)
	require.Error(t, err)
	assert.Equal(t, string(domain.InvNoteAuthoredOnce), dErrors.InvariantOf(err))
}
