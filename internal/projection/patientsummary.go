// Package projection holds read-side views served through the query
// gateway. Projections are derived and disposable: they fold envelopes
// into plain map state and can be rebuilt from history at any time.
package projection

import (
	"context"
	"sync"

	"clinicore/internal/event"
	dErrors "clinicore/pkg/domain-errors"
)

// PatientSummary tracks, per patient, the active conditions, prescribed
// treatment plans, and known allergies. Registered on the dispatcher as a
// live projection and queried via the query gateway.
//
// State shape (all keys are patient IDs):
//
//	active_conditions: patient → diagnosis_id → {condition, icd_code}
//	treatment_plans:   patient → plan_id → {plan, diagnosis_id}
//	allergies:         patient → allergy_id → {substance, severity}
type PatientSummary struct {
	mu    sync.RWMutex
	state map[string]any
}

func NewPatientSummary() *PatientSummary {
	return &PatientSummary{state: emptySummaryState()}
}

func emptySummaryState() map[string]any {
	return map[string]any{
		"active_conditions": map[string]any{},
		"treatment_plans":   map[string]any{},
		"allergies":         map[string]any{},
	}
}

func (p *PatientSummary) Name() string { return "patient-summary" }

func (p *PatientSummary) Filter() []string {
	return []string{
		event.TypeDiagnosisMade,
		event.TypeDiagnosisRevised,
		event.TypeDiagnosisResolved,
		event.TypeTreatmentPlanPrescribed,
		event.TypeAllergyIdentified,
		event.TypeAllergyRefuted,
	}
}

// State returns a snapshot for the query gateway.
func (p *PatientSummary) State() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return deepCopy(p.state)
}

// Apply folds one envelope. The fold is order-insensitive across patients
// and across the three sections; within a diagnosis stream the dispatcher
// delivers version order.
func (p *PatientSummary) Apply(_ context.Context, e event.Envelope) error {
	str := func(k string) string { v, _ := e.Payload[k].(string); return v }
	patient := str("patient_id")
	if patient == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.EventType {
	case event.TypeDiagnosisMade, event.TypeDiagnosisRevised:
		section(p.state, "active_conditions", patient)[str("diagnosis_id")] = map[string]any{
			"condition": str("condition"),
			"icd_code":  str("icd_code"),
		}
	case event.TypeDiagnosisResolved:
		delete(section(p.state, "active_conditions", patient), str("diagnosis_id"))
	case event.TypeTreatmentPlanPrescribed:
		section(p.state, "treatment_plans", patient)[e.AggregateID.String()] = map[string]any{
			"plan":         str("plan"),
			"diagnosis_id": str("diagnosis_id"),
		}
	case event.TypeAllergyIdentified:
		section(p.state, "allergies", patient)[str("allergy_id")] = map[string]any{
			"substance": str("substance"),
			"severity":  str("severity"),
		}
	case event.TypeAllergyRefuted:
		delete(section(p.state, "allergies", patient), str("allergy_id"))
	}
	return nil
}

// Rebuild refolds from scratch.
func (p *PatientSummary) Rebuild(ctx context.Context, events []event.Envelope) error {
	p.mu.Lock()
	p.state = emptySummaryState()
	p.mu.Unlock()
	for _, e := range events {
		if err := p.Apply(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// QueryMapper shapes one patient's summary for the query gateway.
func QueryMapper(state, params map[string]any) (map[string]any, error) {
	patientID, _ := params["patient_id"].(string)
	if patientID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "params.patient_id is required")
	}
	out := map[string]any{"patient_id": patientID}
	for _, key := range []string{"active_conditions", "treatment_plans", "allergies"} {
		sectionState, _ := state[key].(map[string]any)
		entry, _ := sectionState[patientID].(map[string]any)
		if entry == nil {
			entry = map[string]any{}
		}
		out[key] = entry
	}
	return out, nil
}

func section(state map[string]any, key, patient string) map[string]any {
	sec := state[key].(map[string]any)
	entry, ok := sec[patient].(map[string]any)
	if !ok {
		entry = map[string]any{}
		sec[patient] = entry
	}
	return entry
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}
