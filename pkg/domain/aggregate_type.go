package domain

import dErrors "clinicore/pkg/domain-errors"

// AggregateType names one of the aggregate kinds in the clinical core.
// Invariant: the value must be one of the supported kinds.
//
// Usage: construct via ParseAggregateType at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type AggregateType string

// Lifecycle aggregates carry a finite state machine across many events.
const (
	AggregatePatientRegistration AggregateType = "patient_registration"
	AggregateEncounter           AggregateType = "encounter"
	AggregateDiagnosis           AggregateType = "diagnosis"
	AggregateClinicalNote        AggregateType = "clinical_note"
	AggregateAppointment         AggregateType = "appointment"
	AggregateAllergyRecord       AggregateType = "allergy_record"
	AggregateDuplicateResolution AggregateType = "duplicate_resolution"
)

// Fact aggregates freeze after a single creation event.
const (
	AggregateVitalSigns         AggregateType = "vital_signs"
	AggregateSymptom            AggregateType = "symptom"
	AggregateExaminationFinding AggregateType = "examination_finding"
	AggregateLabResult          AggregateType = "lab_result"
	AggregateProcedure          AggregateType = "procedure"
	AggregateReferral           AggregateType = "referral"
	AggregateTreatmentPlan      AggregateType = "treatment_plan"
)

// AggregateCompensation is the system stream kind that holds
// CompensationRequired review items. It is not a clinical aggregate; review
// items are appended by the hub, never by command handlers.
const AggregateCompensation AggregateType = "compensation"

var lifecycleAggregates = map[AggregateType]bool{
	AggregatePatientRegistration: true,
	AggregateEncounter:           true,
	AggregateDiagnosis:           true,
	AggregateClinicalNote:        true,
	AggregateAppointment:         true,
	AggregateAllergyRecord:       true,
	AggregateDuplicateResolution: true,
}

var factAggregates = map[AggregateType]bool{
	AggregateVitalSigns:         true,
	AggregateSymptom:            true,
	AggregateExaminationFinding: true,
	AggregateLabResult:          true,
	AggregateProcedure:          true,
	AggregateReferral:           true,
	AggregateTreatmentPlan:      true,
}

// ParseAggregateType constructs an AggregateType from external input.
func ParseAggregateType(s string) (AggregateType, error) {
	t := AggregateType(s)
	if !t.IsValid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown aggregate type: %q", s)
	}
	return t, nil
}

// IsValid checks membership in the supported aggregate kinds.
func (t AggregateType) IsValid() bool {
	return lifecycleAggregates[t] || factAggregates[t] || t == AggregateCompensation
}

// IsLifecycle reports whether this kind carries a multi-event state machine.
func (t AggregateType) IsLifecycle() bool { return lifecycleAggregates[t] }

// IsFact reports whether this kind freezes after its creation event.
func (t AggregateType) IsFact() bool { return factAggregates[t] }

func (t AggregateType) String() string { return string(t) }
