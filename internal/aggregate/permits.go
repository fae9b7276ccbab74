package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// Permits reports whether the state machine admits the given event as the
// next transition from state s. Sync conflict resolution replays events —
// not commands — onto a diverged stream, so it needs an event-level
// admissibility check beside the command-level Decide.
//
// The registry implementations below mirror the stage rules of each
// aggregate's Decide. Of Decide's checks on command input, only the
// cosigner-differs-from-author rule is repeated (an event without a
// cosigner_id passes it); the self-duplicate check is not.
func Permits(a Aggregate, s State, e event.Envelope) bool {
	switch agg := a.(type) {
	case PatientRegistration:
		return permitsPatient(s.(PatientState), e)
	case Encounter:
		return permitsEncounter(s.(EncounterState), e)
	case Diagnosis:
		return permitsDiagnosis(s.(DiagnosisState), e)
	case ClinicalNote:
		return permitsNote(s.(NoteState), e)
	case Appointment:
		return permitsAppointment(s.(AppointmentState), e)
	case AllergyRecord:
		return permitsAllergy(s.(AllergyState), e)
	case DuplicateResolution:
		return permitsDuplicate(s.(DuplicateState), e)
	case Fact:
		state := s.(FactState)
		return !state.Created && e.EventType == agg.EventType
	}
	return false
}

// PermitsFor resolves the aggregate for an envelope's kind and checks
// admissibility against a state. Compensation streams admit only their
// single review event.
func PermitsFor(e event.Envelope, s State) bool {
	if e.AggregateType == domain.AggregateCompensation {
		return e.EventType == event.TypeCompensationRequired
	}
	a, ok := For(e.AggregateType)
	if !ok {
		return false
	}
	return Permits(a, s, e)
}

func permitsPatient(s PatientState, e event.Envelope) bool {
	switch e.EventType {
	case event.TypePatientRegistered:
		return s.Stage == PatientNone
	case event.TypePatientIdentityCorrected, event.TypeContactInfoDeclared,
		event.TypePatientDeceasedRecorded, event.TypePatientTransferredOut:
		return s.Stage == PatientActive
	}
	return false
}

func permitsEncounter(s EncounterState, e event.Envelope) bool {
	switch e.EventType {
	case event.TypePatientCheckedIn:
		return s.Stage == EncounterNone
	case event.TypePatientTriaged:
		return s.Stage == EncounterCheckedIn
	case event.TypeEncounterBegan:
		return s.Stage == EncounterCheckedIn || s.Stage == EncounterTriaged
	case event.TypeEncounterReopened:
		return s.Stage == EncounterCompleted
	case event.TypeEncounterCompleted:
		return s.Stage == EncounterBegan
	case event.TypePatientDischarged:
		return s.Stage == EncounterCompleted
	}
	return false
}

func permitsDiagnosis(s DiagnosisState, e event.Envelope) bool {
	switch e.EventType {
	case event.TypeDiagnosisMade:
		return s.Stage == DiagnosisNone
	case event.TypeDiagnosisRevised, event.TypeDiagnosisResolved:
		return s.Stage == DiagnosisMade
	}
	return false
}

func permitsNote(s NoteState, e event.Envelope) bool {
	switch e.EventType {
	case event.TypeClinicalNoteAuthored:
		return !s.Authored
	case event.TypeNoteAddendumAdded:
		return s.Authored
	case event.TypeClinicalNoteCosigned:
		if !s.Authored || s.Cosigned {
			return false
		}
		cosigner, _ := e.Payload["cosigner_id"].(string)
		return cosigner == "" || cosigner != s.AuthorID
	}
	return false
}

func permitsAppointment(s AppointmentState, e event.Envelope) bool {
	if s.Stage.Terminal() {
		return false
	}
	switch e.EventType {
	case event.TypeAppointmentRequested:
		return s.Stage == AppointmentNone
	case event.TypeAppointmentConfirmed:
		return s.Stage == AppointmentRequested
	case event.TypeAppointmentRescheduled, event.TypeAppointmentNoShowed:
		return s.Stage == AppointmentConfirmed
	case event.TypeAppointmentCancelledByPatient, event.TypeAppointmentCancelledByPractice:
		return s.Stage == AppointmentRequested || s.Stage == AppointmentConfirmed
	}
	return false
}

func permitsAllergy(s AllergyState, e event.Envelope) bool {
	switch e.EventType {
	case event.TypeAllergyIdentified:
		return s.Stage == AllergyNone
	case event.TypeAllergyRefuted:
		return s.Stage == AllergyIdentified
	}
	return false
}

func permitsDuplicate(s DuplicateState, e event.Envelope) bool {
	switch e.EventType {
	case event.TypeDuplicatePatientSuspected:
		return s.Stage == DuplicateNone
	case event.TypeDuplicatePatientsMerged, event.TypeDuplicateSuspicionDismissed:
		return s.Stage == DuplicateSuspected
	}
	return false
}
