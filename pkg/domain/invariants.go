package domain

// InvariantCode is the stable identifier carried in rejections and
// compensation review items. Clients use it for localization; the hub's
// review queue groups by it. Codes are never reused or renumbered.
type InvariantCode string

const (
	// Patient lifecycle.
	InvPatientExists        InvariantCode = "INV-PL-1"
	InvPatientNotTerminal   InvariantCode = "INV-PL-2"
	InvPatientTerminalFinal InvariantCode = "INV-PL-3"
	InvPatientActiveOnly    InvariantCode = "INV-PL-4"
	InvPatientSingleRecord  InvariantCode = "INV-PL-5"

	// Encounters (episodes of care).
	InvEncounterTransition InvariantCode = "INV-EP-1"
	InvEncounterSingleActive InvariantCode = "INV-EP-2"
	InvEncounterPatientActive InvariantCode = "INV-EP-3"

	// Clinical observations (fact aggregates).
	InvObservationEncounterActive InvariantCode = "INV-CO-1"
	InvObservationClockSkew       InvariantCode = "INV-CO-2"
	InvObservationFrozen          InvariantCode = "INV-CO-3"

	// Clinical judgment (diagnoses, treatment plans).
	InvDiagnosisEncounterActive InvariantCode = "INV-CJ-1"
	InvDiagnosisPatientAlive    InvariantCode = "INV-CJ-2"
	InvDiagnosisResolvedFinal   InvariantCode = "INV-CJ-3"
	InvDiagnosisMustExist       InvariantCode = "INV-CJ-4"
	InvTreatmentDiagnosisOpen   InvariantCode = "INV-CJ-5"

	// Clinical documentation (notes).
	InvNoteAuthoredOnce  InvariantCode = "INV-CD-1"
	InvNoteMustExist     InvariantCode = "INV-CD-2"
	InvNoteCosignerOther InvariantCode = "INV-CD-3"

	// Appointments (calendar).
	InvAppointmentTransition    InvariantCode = "INV-CA-1"
	InvAppointmentPatientActive InvariantCode = "INV-CA-2"
	InvAppointmentRescheduleConfirmed InvariantCode = "INV-CA-3"
	InvAppointmentConfirmRequested    InvariantCode = "INV-CA-4"

	// Cross-cutting.
	InvEventIDUnique    InvariantCode = "INV-XX-1"
	InvLSNMonotonic     InvariantCode = "INV-XX-2"
	InvVersionContiguous InvariantCode = "INV-XX-3"
)

func (c InvariantCode) String() string { return string(c) }
