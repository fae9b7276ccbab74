package projection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicore/internal/event"
	"clinicore/internal/projection"
	"clinicore/pkg/domain"
	"clinicore/pkg/testutil"
)

func TestPatientSummary_FoldAndQuery(t *testing.T) {
	ctx := context.Background()
	p := projection.NewPatientSummary()
	f := testutil.NewEnvelopeFactory("tablet-01")

	patient := domain.NewAggregateID().String()
	diagID := domain.NewAggregateID()
	allergyID := domain.NewAggregateID()
	planID := domain.NewAggregateID()

	events := []event.Envelope{
		f.Build(domain.AggregateDiagnosis, diagID, 1, event.TypeDiagnosisMade, map[string]any{
			"diagnosis_id": diagID.String(), "patient_id": patient,
			"condition": "acute sinusitis", "icd_code": "J01.90",
		}),
		f.Build(domain.AggregateAllergyRecord, allergyID, 1, event.TypeAllergyIdentified, map[string]any{
			"allergy_id": allergyID.String(), "patient_id": patient,
			"substance": "penicillin", "severity": "moderate",
		}),
		f.Build(domain.AggregateTreatmentPlan, planID, 1, event.TypeTreatmentPlanPrescribed, map[string]any{
			"patient_id": patient, "diagnosis_id": diagID.String(), "plan": "amoxicillin 500mg",
		}),
	}
	for _, e := range events {
		require.NoError(t, p.Apply(ctx, e))
	}

	data, err := projection.QueryMapper(p.State(), map[string]any{"patient_id": patient})
	require.NoError(t, err)

	conditions := data["active_conditions"].(map[string]any)
	require.Len(t, conditions, 1)
	assert.Equal(t, "acute sinusitis", conditions[diagID.String()].(map[string]any)["condition"])
	assert.Len(t, data["allergies"].(map[string]any), 1)
	assert.Len(t, data["treatment_plans"].(map[string]any), 1)

	t.Run("resolution clears the condition", func(t *testing.T) {
		require.NoError(t, p.Apply(ctx, f.Build(domain.AggregateDiagnosis, diagID, 2, event.TypeDiagnosisResolved, map[string]any{
			"diagnosis_id": diagID.String(), "patient_id": patient,
		})))
		data, err := projection.QueryMapper(p.State(), map[string]any{"patient_id": patient})
		require.NoError(t, err)
		assert.Empty(t, data["active_conditions"].(map[string]any))
	})

	t.Run("unknown patient yields empty sections", func(t *testing.T) {
		data, err := projection.QueryMapper(p.State(), map[string]any{"patient_id": domain.NewAggregateID().String()})
		require.NoError(t, err)
		assert.Empty(t, data["active_conditions"].(map[string]any))
	})

	t.Run("missing patient_id param rejected", func(t *testing.T) {
		_, err := projection.QueryMapper(p.State(), map[string]any{})
		require.Error(t, err)
	})
}

func TestPatientSummary_RebuildMatchesIncremental(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewEnvelopeFactory("tablet-01")
	patient := domain.NewAggregateID().String()
	diagID := domain.NewAggregateID()

	events := []event.Envelope{
		f.Build(domain.AggregateDiagnosis, diagID, 1, event.TypeDiagnosisMade, map[string]any{
			"diagnosis_id": diagID.String(), "patient_id": patient, "condition": "otitis", "icd_code": "H66.90",
		}),
		f.Build(domain.AggregateDiagnosis, diagID, 2, event.TypeDiagnosisRevised, map[string]any{
			"diagnosis_id": diagID.String(), "patient_id": patient, "condition": "otitis media", "icd_code": "H66.9",
		}),
	}

	incremental := projection.NewPatientSummary()
	for _, e := range events {
		require.NoError(t, incremental.Apply(ctx, e))
	}

	rebuilt := projection.NewPatientSummary()
	require.NoError(t, rebuilt.Rebuild(ctx, events))

	assert.Equal(t, incremental.State(), rebuilt.State())
}
