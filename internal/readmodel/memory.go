package readmodel

import (
	"context"
	"sync"
)

// InMemoryStore is the device-local Store implementation.
type InMemoryStore struct {
	mu           sync.RWMutex
	patients     map[string]PatientStatus
	encounters   map[string]EncounterState
	diagnoses    map[string]DiagnosisStatus
	appointments map[string]AppointmentStatus
	performers   map[string]PerformerRole
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	_ = s.Reset(context.Background())
	return s
}

func (s *InMemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients = make(map[string]PatientStatus)
	s.encounters = make(map[string]EncounterState)
	s.diagnoses = make(map[string]DiagnosisStatus)
	s.appointments = make(map[string]AppointmentStatus)
	s.performers = make(map[string]PerformerRole)
	return nil
}

func (s *InMemoryStore) PutPatientStatus(_ context.Context, m PatientStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[m.PatientID] = m
	return nil
}

func (s *InMemoryStore) PatientStatus(_ context.Context, patientID string) (PatientStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.patients[patientID]
	if !ok {
		return PatientStatus{}, ErrNotFound
	}
	return m, nil
}

func (s *InMemoryStore) PutEncounterState(_ context.Context, m EncounterState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encounters[m.EncounterID] = m
	return nil
}

func (s *InMemoryStore) EncounterState(_ context.Context, encounterID string) (EncounterState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.encounters[encounterID]
	if !ok {
		return EncounterState{}, ErrNotFound
	}
	return m, nil
}

func (s *InMemoryStore) ActiveEncounters(_ context.Context, patientID, practitionerID string) ([]EncounterState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []EncounterState
	for _, e := range s.encounters {
		if e.Active() && e.PatientID == patientID && e.PractitionerID == practitionerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PutDiagnosisStatus(_ context.Context, m DiagnosisStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnoses[m.DiagnosisID] = m
	return nil
}

func (s *InMemoryStore) DiagnosisStatus(_ context.Context, diagnosisID string) (DiagnosisStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.diagnoses[diagnosisID]
	if !ok {
		return DiagnosisStatus{}, ErrNotFound
	}
	return m, nil
}

func (s *InMemoryStore) PutAppointmentStatus(_ context.Context, m AppointmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[m.AppointmentID] = m
	return nil
}

func (s *InMemoryStore) AppointmentStatus(_ context.Context, appointmentID string) (AppointmentStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.appointments[appointmentID]
	if !ok {
		return AppointmentStatus{}, ErrNotFound
	}
	return m, nil
}

func (s *InMemoryStore) PutPerformerRole(_ context.Context, m PerformerRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.performers[m.PerformerID] = m
	return nil
}

func (s *InMemoryStore) PerformerRole(_ context.Context, performerID string) (PerformerRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.performers[performerID]
	if !ok {
		return PerformerRole{}, ErrNotFound
	}
	return m, nil
}
