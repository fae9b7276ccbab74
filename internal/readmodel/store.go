package readmodel

import (
	"context"

	dErrors "clinicore/pkg/domain-errors"
)

// ErrNotFound keeps read-model 404s consistent across the in-memory and
// Redis implementations. Callers treat a missing entry as "unknown here
// yet" — under offline operation the local models lag the hub.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "read model entry not found")

// Store is the persistence port for the handler-facing read models. Stores
// are interface-driven so devices run in-memory while the hub can share a
// Redis instance across processes.
type Store interface {
	PutPatientStatus(ctx context.Context, s PatientStatus) error
	PatientStatus(ctx context.Context, patientID string) (PatientStatus, error)

	PutEncounterState(ctx context.Context, s EncounterState) error
	EncounterState(ctx context.Context, encounterID string) (EncounterState, error)
	// ActiveEncounters returns the encounters in the active stage for a
	// patient/practitioner pair. Backs INV-EP-2.
	ActiveEncounters(ctx context.Context, patientID, practitionerID string) ([]EncounterState, error)

	PutDiagnosisStatus(ctx context.Context, s DiagnosisStatus) error
	DiagnosisStatus(ctx context.Context, diagnosisID string) (DiagnosisStatus, error)

	PutAppointmentStatus(ctx context.Context, s AppointmentStatus) error
	AppointmentStatus(ctx context.Context, appointmentID string) (AppointmentStatus, error)

	PutPerformerRole(ctx context.Context, s PerformerRole) error
	PerformerRole(ctx context.Context, performerID string) (PerformerRole, error)

	// Reset clears every model. Used before a full rebuild by replay.
	Reset(ctx context.Context) error
}
