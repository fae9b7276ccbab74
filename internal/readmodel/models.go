// Package readmodel holds the small deterministic projections the command
// handlers and the compensation engine consult for cross-aggregate checks.
// These are internal: created and updated by the dispatcher, rebuildable by
// replay, never served to end users.
package readmodel

import "time"

// PatientStatus mirrors the PatientRegistration lifecycle stage.
type PatientStatus struct {
	PatientID string
	Stage     string // active | deceased | transferred_out
}

// Terminal reports whether clinical activity for the patient must stop.
func (p PatientStatus) Terminal() bool {
	return p.Stage == "deceased" || p.Stage == "transferred_out"
}

// EncounterState mirrors the Encounter lifecycle stage plus the identities
// needed for the single-active-encounter check.
type EncounterState struct {
	EncounterID    string
	PatientID      string
	PractitionerID string
	Stage          string // checked_in | triaged | began | completed | discharged
}

// Active reports whether clinical work may attach to the encounter.
func (e EncounterState) Active() bool { return e.Stage == "began" }

// DiagnosisStatus mirrors the Diagnosis lifecycle stage.
type DiagnosisStatus struct {
	DiagnosisID string
	PatientID   string
	Stage       string // made | resolved
}

// AppointmentStatus mirrors the Appointment lifecycle stage.
type AppointmentStatus struct {
	AppointmentID string
	PatientID     string
	Stage         string
}

// PerformerRole records the role an actor last produced events under.
type PerformerRole struct {
	PerformerID string
	Role        string
	LastSeenAt  time.Time
}
