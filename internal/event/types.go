package event

import "clinicore/pkg/domain"

// Event type identifiers, namespaced by clinical area. The event store and
// sync protocol treat these as opaque strings; aggregates and projections
// switch on them exhaustively.
const (
	// clinical.patient — patient lifecycle.
	TypePatientRegistered        = "clinical.patient.PatientRegistered"
	TypePatientIdentityCorrected = "clinical.patient.PatientIdentityCorrected"
	TypeContactInfoDeclared      = "clinical.patient.ContactInfoDeclared"
	TypePatientDeceasedRecorded  = "clinical.patient.PatientDeceasedRecorded"
	TypePatientTransferredOut    = "clinical.patient.PatientTransferredOut"

	// clinical.encounter — episode of care.
	TypePatientCheckedIn  = "clinical.encounter.PatientCheckedIn"
	TypePatientTriaged    = "clinical.encounter.PatientTriaged"
	TypeEncounterBegan    = "clinical.encounter.EncounterBegan"
	TypeEncounterReopened = "clinical.encounter.EncounterReopened"
	TypeEncounterCompleted = "clinical.encounter.EncounterCompleted"
	TypePatientDischarged = "clinical.encounter.PatientDischarged"

	// clinical.judgment — diagnoses.
	TypeDiagnosisMade     = "clinical.judgment.DiagnosisMade"
	TypeDiagnosisRevised  = "clinical.judgment.DiagnosisRevised"
	TypeDiagnosisResolved = "clinical.judgment.DiagnosisResolved"

	// clinical.documentation — notes.
	TypeClinicalNoteAuthored = "clinical.documentation.ClinicalNoteAuthored"
	TypeNoteAddendumAdded    = "clinical.documentation.NoteAddendumAdded"
	TypeClinicalNoteCosigned = "clinical.documentation.ClinicalNoteCosigned"

	// clinical.scheduling — appointments.
	TypeAppointmentRequested          = "clinical.scheduling.AppointmentRequested"
	TypeAppointmentConfirmed          = "clinical.scheduling.AppointmentConfirmed"
	TypeAppointmentRescheduled        = "clinical.scheduling.AppointmentRescheduled"
	TypeAppointmentCancelledByPatient = "clinical.scheduling.AppointmentCancelledByPatient"
	TypeAppointmentCancelledByPractice = "clinical.scheduling.AppointmentCancelledByPractice"
	TypeAppointmentNoShowed           = "clinical.scheduling.AppointmentNoShowed"

	// clinical.allergy.
	TypeAllergyIdentified = "clinical.allergy.AllergyIdentified"
	TypeAllergyRefuted    = "clinical.allergy.AllergyRefuted"

	// clinical.identity — duplicate patient resolution.
	TypeDuplicatePatientSuspected  = "clinical.identity.DuplicatePatientSuspected"
	TypeDuplicatePatientsMerged    = "clinical.identity.DuplicatePatientsMerged"
	TypeDuplicateSuspicionDismissed = "clinical.identity.DuplicateSuspicionDismissed"

	// clinical.observation — single-event facts.
	TypeVitalSignsRecorded         = "clinical.observation.VitalSignsRecorded"
	TypeSymptomReported            = "clinical.observation.SymptomReported"
	TypeExaminationFindingRecorded = "clinical.observation.ExaminationFindingRecorded"
	TypeLabResultRecorded          = "clinical.observation.LabResultRecorded"

	// clinical.care — performed and planned care.
	TypeProcedurePerformed      = "clinical.care.ProcedurePerformed"
	TypeReferralIssued          = "clinical.care.ReferralIssued"
	TypeTreatmentPlanPrescribed = "clinical.care.TreatmentPlanPrescribed"

	// sync.compensation — hub-emitted review items.
	TypeCompensationRequired = "sync.compensation.CompensationRequired"
)

// typeToAggregate maps every event type to the aggregate kind whose streams
// carry it. Used by filters and by upload-side sanity checks.
var typeToAggregate = map[string]domain.AggregateType{
	TypePatientRegistered:        domain.AggregatePatientRegistration,
	TypePatientIdentityCorrected: domain.AggregatePatientRegistration,
	TypeContactInfoDeclared:      domain.AggregatePatientRegistration,
	TypePatientDeceasedRecorded:  domain.AggregatePatientRegistration,
	TypePatientTransferredOut:    domain.AggregatePatientRegistration,

	TypePatientCheckedIn:   domain.AggregateEncounter,
	TypePatientTriaged:     domain.AggregateEncounter,
	TypeEncounterBegan:     domain.AggregateEncounter,
	TypeEncounterReopened:  domain.AggregateEncounter,
	TypeEncounterCompleted: domain.AggregateEncounter,
	TypePatientDischarged:  domain.AggregateEncounter,

	TypeDiagnosisMade:     domain.AggregateDiagnosis,
	TypeDiagnosisRevised:  domain.AggregateDiagnosis,
	TypeDiagnosisResolved: domain.AggregateDiagnosis,

	TypeClinicalNoteAuthored: domain.AggregateClinicalNote,
	TypeNoteAddendumAdded:    domain.AggregateClinicalNote,
	TypeClinicalNoteCosigned: domain.AggregateClinicalNote,

	TypeAppointmentRequested:           domain.AggregateAppointment,
	TypeAppointmentConfirmed:           domain.AggregateAppointment,
	TypeAppointmentRescheduled:         domain.AggregateAppointment,
	TypeAppointmentCancelledByPatient:  domain.AggregateAppointment,
	TypeAppointmentCancelledByPractice: domain.AggregateAppointment,
	TypeAppointmentNoShowed:            domain.AggregateAppointment,

	TypeAllergyIdentified: domain.AggregateAllergyRecord,
	TypeAllergyRefuted:    domain.AggregateAllergyRecord,

	TypeDuplicatePatientSuspected:   domain.AggregateDuplicateResolution,
	TypeDuplicatePatientsMerged:     domain.AggregateDuplicateResolution,
	TypeDuplicateSuspicionDismissed: domain.AggregateDuplicateResolution,

	TypeVitalSignsRecorded:         domain.AggregateVitalSigns,
	TypeSymptomReported:            domain.AggregateSymptom,
	TypeExaminationFindingRecorded: domain.AggregateExaminationFinding,
	TypeLabResultRecorded:          domain.AggregateLabResult,

	TypeProcedurePerformed:      domain.AggregateProcedure,
	TypeReferralIssued:          domain.AggregateReferral,
	TypeTreatmentPlanPrescribed: domain.AggregateTreatmentPlan,

	TypeCompensationRequired: domain.AggregateCompensation,
}

// AggregateTypeFor returns the aggregate kind for an event type, or false
// for types this core does not know (forward compatibility: unknown types
// are stored and synced, just not decided on).
func AggregateTypeFor(eventType string) (domain.AggregateType, bool) {
	t, ok := typeToAggregate[eventType]
	return t, ok
}
