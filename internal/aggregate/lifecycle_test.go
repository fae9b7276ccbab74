package aggregate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicore/internal/aggregate"
	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
	"clinicore/pkg/testutil"
)

func TestPatientRegistration_Lifecycle(t *testing.T) {
	pr := aggregate.PatientRegistration{}
	aggID := domain.NewAggregateID()

	s, _, err := decideAndApply(pr, pr.NewState(), aggregate.RegisterPatient{
		Ctx: testCtx(aggID), GivenName: "Maren", FamilyName: "Holt", DateOfBirth: "1958-03-12",
	})
	require.NoError(t, err)
	assert.Equal(t, aggregate.PatientActive, s.(aggregate.PatientState).Stage)

	t.Run("double registration rejected", func(t *testing.T) {
		_, err := pr.Decide(s, aggregate.RegisterPatient{Ctx: testCtx(aggID), GivenName: "Maren"}, testClock)
		require.Error(t, err)
		assert.Equal(t, string(domain.InvPatientSingleRecord), dErrors.InvariantOf(err))
	})

	t.Run("corrections accepted while active and do not transition", func(t *testing.T) {
		s2, drafts, err := decideAndApply(pr, s, aggregate.CorrectPatientIdentity{
			Ctx: testCtx(aggID), GivenName: "Maren", FamilyName: "Holt-Berg", DateOfBirth: "1958-03-12", Reason: "marriage",
		})
		require.NoError(t, err)
		assert.Equal(t, event.TypePatientIdentityCorrected, drafts[0].EventType)
		state := s2.(aggregate.PatientState)
		assert.Equal(t, aggregate.PatientActive, state.Stage)
		assert.Equal(t, "Holt-Berg", state.FamilyName)

		_, _, err = decideAndApply(pr, s2, aggregate.DeclareContactInfo{Ctx: testCtx(aggID), Phone: "+47 900 00 000"})
		require.NoError(t, err)
	})

	t.Run("deceased is terminal", func(t *testing.T) {
		s2, _, err := decideAndApply(pr, s, aggregate.RecordPatientDeceased{Ctx: testCtx(aggID), DateOfDeath: "2025-05-30"})
		require.NoError(t, err)
		assert.True(t, s2.(aggregate.PatientState).Stage.Terminal())

		for _, cmd := range []aggregate.Command{
			aggregate.CorrectPatientIdentity{Ctx: testCtx(aggID)},
			aggregate.DeclareContactInfo{Ctx: testCtx(aggID)},
			aggregate.RecordPatientDeceased{Ctx: testCtx(aggID)},
			aggregate.TransferPatientOut{Ctx: testCtx(aggID)},
		} {
			_, err := pr.Decide(s2, cmd, testClock)
			require.Error(t, err)
			assert.Equal(t, string(domain.InvPatientTerminalFinal), dErrors.InvariantOf(err))
		}
	})

	t.Run("transfer out is terminal", func(t *testing.T) {
		s2, _, err := decideAndApply(pr, s, aggregate.TransferPatientOut{Ctx: testCtx(aggID), ReceivingPractice: "Nordbyen legekontor"})
		require.NoError(t, err)
		assert.True(t, s2.(aggregate.PatientState).Stage.Terminal())
	})

	t.Run("activity before registration rejected", func(t *testing.T) {
		_, err := pr.Decide(pr.NewState(), aggregate.DeclareContactInfo{Ctx: testCtx(aggID)}, testClock)
		require.Error(t, err)
		assert.Equal(t, string(domain.InvPatientExists), dErrors.InvariantOf(err))
	})
}

func TestAllergyRecord_Lifecycle(t *testing.T) {
	ar := aggregate.AllergyRecord{}
	aggID := domain.NewAggregateID()

	s, _, err := decideAndApply(ar, ar.NewState(), aggregate.IdentifyAllergy{
		Ctx: testCtx(aggID), PatientID: domain.PatientID(domain.NewAggregateID()),
		Substance: "penicillin", Reaction: "hives", Severity: "moderate",
	})
	require.NoError(t, err)

	s, _, err = decideAndApply(ar, s, aggregate.RefuteAllergy{Ctx: testCtx(aggID), Reason: "tolerated course without reaction"})
	require.NoError(t, err)
	assert.Equal(t, aggregate.AllergyRefuted, s.(aggregate.AllergyState).Stage)

	// Refuted is terminal.
	_, err = ar.Decide(s, aggregate.RefuteAllergy{Ctx: testCtx(aggID)}, testClock)
	require.Error(t, err)
	_, err = ar.Decide(s, aggregate.IdentifyAllergy{Ctx: testCtx(aggID)}, testClock)
	require.Error(t, err)
}

func TestDuplicateResolution_Lifecycle(t *testing.T) {
	dr := aggregate.DuplicateResolution{}
	aggID := domain.NewAggregateID()
	surviving := domain.PatientID(domain.NewAggregateID())
	retired := domain.PatientID(domain.NewAggregateID())

	t.Run("self duplicate rejected", func(t *testing.T) {
		_, err := dr.Decide(dr.NewState(), aggregate.SuspectDuplicatePatient{
			Ctx: testCtx(aggID), SurvivingPatientID: surviving, RetiredPatientID: surviving,
		}, testClock)
		require.Error(t, err)
	})

	s, _, err := decideAndApply(dr, dr.NewState(), aggregate.SuspectDuplicatePatient{
		Ctx: testCtx(aggID), SurvivingPatientID: surviving, RetiredPatientID: retired, Evidence: "same NIN",
	})
	require.NoError(t, err)

	t.Run("merge closes the case", func(t *testing.T) {
		s2, _, err := decideAndApply(dr, s, aggregate.MergeDuplicatePatients{Ctx: testCtx(aggID)})
		require.NoError(t, err)
		assert.Equal(t, aggregate.DuplicateMerged, s2.(aggregate.DuplicateState).Stage)
		_, err = dr.Decide(s2, aggregate.DismissDuplicateSuspicion{Ctx: testCtx(aggID)}, testClock)
		require.Error(t, err)
	})

	t.Run("dismiss closes the case", func(t *testing.T) {
		s2, _, err := decideAndApply(dr, s, aggregate.DismissDuplicateSuspicion{Ctx: testCtx(aggID), Reason: "twins"})
		require.NoError(t, err)
		assert.Equal(t, aggregate.DuplicateDismissed, s2.(aggregate.DuplicateState).Stage)
	})
}

func TestFactAggregates_FrozenAfterCreation(t *testing.T) {
	aggID := domain.NewAggregateID()
	patient := domain.PatientID(domain.NewAggregateID())
	encounter := domain.NewAggregateID()

	fact, ok := aggregate.For(domain.AggregateVitalSigns)
	require.True(t, ok)

	cmd := aggregate.RecordVitalSigns{
		Ctx: testCtx(aggID), PatientID: patient, EncounterID: encounter,
		Measurements: map[string]any{"pulse_bpm": 72, "bp_systolic": 120},
	}
	s, drafts, err := decideAndApply(fact, fact.NewState(), cmd)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, event.TypeVitalSignsRecorded, drafts[0].EventType)
	assert.Equal(t, patient.String(), drafts[0].Payload["patient_id"])

	_, err = fact.Decide(s, cmd, testClock)
	require.Error(t, err)
	assert.Equal(t, string(domain.InvObservationFrozen), dErrors.InvariantOf(err))
}

func TestFactCommands_ProduceOneCreationDraftEach(t *testing.T) {
	patient := domain.PatientID(domain.NewAggregateID())
	encounter := domain.NewAggregateID()

	cases := []struct {
		cmd       aggregate.Command
		eventType string
	}{
		{aggregate.ReportSymptom{Ctx: testCtx(domain.NewAggregateID()), PatientID: patient, EncounterID: encounter, Description: "headache", Severity: "mild"}, event.TypeSymptomReported},
		{aggregate.RecordExaminationFinding{Ctx: testCtx(domain.NewAggregateID()), PatientID: patient, EncounterID: encounter, BodySite: "throat", Finding: "erythema"}, event.TypeExaminationFindingRecorded},
		{aggregate.RecordLabResult{Ctx: testCtx(domain.NewAggregateID()), PatientID: patient, EncounterID: encounter, TestCode: "CRP", Value: "12", Unit: "mg/L"}, event.TypeLabResultRecorded},
		{aggregate.RecordProcedure{Ctx: testCtx(domain.NewAggregateID()), PatientID: patient, EncounterID: encounter, ProcedureCode: "ABL01", Description: "ear lavage"}, event.TypeProcedurePerformed},
		{aggregate.IssueReferral{Ctx: testCtx(domain.NewAggregateID()), PatientID: patient, EncounterID: encounter, Specialty: "ENT", Urgency: "routine"}, event.TypeReferralIssued},
		{aggregate.PrescribeTreatmentPlan{Ctx: testCtx(domain.NewAggregateID()), PatientID: patient, EncounterID: encounter, DiagnosisID: domain.NewAggregateID(), Plan: "amoxicillin 500mg"}, event.TypeTreatmentPlanPrescribed},
	}

	for _, tc := range cases {
		fact, ok := aggregate.For(tc.cmd.AggregateType())
		require.True(t, ok)
		drafts, err := fact.Decide(fact.NewState(), tc.cmd, testClock)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, tc.eventType, drafts[0].EventType)
	}
}

// TestRehydrate_FoldEquivalence asserts that replaying a stream through
// Rehydrate matches the state reached by applying events one at a time.
func TestRehydrate_FoldEquivalence(t *testing.T) {
	enc := aggregate.Encounter{}
	f := testutil.NewEnvelopeFactory("tablet-01")
	aggID := domain.NewAggregateID()

	stream := []event.Envelope{
		f.Build(domain.AggregateEncounter, aggID, 1, event.TypePatientCheckedIn, map[string]any{"patient_id": "p1"}),
		f.Build(domain.AggregateEncounter, aggID, 2, event.TypePatientTriaged, nil),
		f.Build(domain.AggregateEncounter, aggID, 3, event.TypeEncounterBegan, nil),
	}

	incremental := enc.NewState()
	for i, e := range stream {
		incremental = enc.Apply(incremental, e)

		replayed, version := aggregate.Rehydrate(enc, stream[:i+1])
		assert.Equal(t, incremental, replayed)
		assert.Equal(t, uint64(i+1), version)
	}

	final, _ := aggregate.Rehydrate(enc, stream)
	assert.Equal(t, aggregate.EncounterBegan, final.(aggregate.EncounterState).Stage)
}

func TestRegistry_CoversAllFourteenAggregates(t *testing.T) {
	all := aggregate.All()
	assert.Len(t, all, 14)
	for kind, agg := range all {
		assert.Equal(t, kind, agg.Type())
	}
}
