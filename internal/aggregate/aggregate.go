// Package aggregate holds the 14 clinical aggregates: their state machines,
// their commands, and the pure decide/apply functions that enforce every
// intra-aggregate invariant. Nothing here touches storage, projections, or
// other aggregates; cross-aggregate checks live with the command handler.
package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// State is an aggregate's rehydrated state. Each aggregate kind owns a
// concrete state struct; handlers treat it opaquely.
type State any

// Aggregate is one aggregate kind. Decide and Apply are pure: they read
// only their arguments and never block.
type Aggregate interface {
	// Type names the aggregate kind.
	Type() domain.AggregateType

	// NewState returns the empty state before any events.
	NewState() State

	// Decide runs domain logic against current state. It returns drafts of
	// the events to append, or a coded domain error when an invariant
	// rejects the command. Fact aggregates return exactly one creation
	// draft or an error; lifecycle aggregates return zero or more.
	// clock exists only to reject far-future occurred_at claims.
	Decide(s State, cmd Command, clock event.Clock) ([]event.Draft, error)

	// Apply folds one event into state. Deterministic and total: every
	// valid event for this kind is applied; unknown types leave state
	// unchanged (forward compatibility).
	Apply(s State, e event.Envelope) State
}

// Rehydrate rebuilds state by folding a stream in version order. The
// returned version equals the stream length, which the handler uses as the
// optimistic-concurrency base.
func Rehydrate(a Aggregate, stream []event.Envelope) (State, uint64) {
	s := a.NewState()
	for _, e := range stream {
		s = a.Apply(s, e)
	}
	return s, uint64(len(stream))
}

// registry is the exhaustive set of aggregate kinds. A command for a kind
// missing here is a programming error surfaced at gateway registration.
var registry = map[domain.AggregateType]Aggregate{
	domain.AggregatePatientRegistration: PatientRegistration{},
	domain.AggregateEncounter:           Encounter{},
	domain.AggregateDiagnosis:           Diagnosis{},
	domain.AggregateClinicalNote:        ClinicalNote{},
	domain.AggregateAppointment:         Appointment{},
	domain.AggregateAllergyRecord:       AllergyRecord{},
	domain.AggregateDuplicateResolution: DuplicateResolution{},

	domain.AggregateVitalSigns:         Fact{Kind: domain.AggregateVitalSigns, EventType: event.TypeVitalSignsRecorded},
	domain.AggregateSymptom:            Fact{Kind: domain.AggregateSymptom, EventType: event.TypeSymptomReported},
	domain.AggregateExaminationFinding: Fact{Kind: domain.AggregateExaminationFinding, EventType: event.TypeExaminationFindingRecorded},
	domain.AggregateLabResult:          Fact{Kind: domain.AggregateLabResult, EventType: event.TypeLabResultRecorded},
	domain.AggregateProcedure:          Fact{Kind: domain.AggregateProcedure, EventType: event.TypeProcedurePerformed},
	domain.AggregateReferral:           Fact{Kind: domain.AggregateReferral, EventType: event.TypeReferralIssued},
	domain.AggregateTreatmentPlan:      Fact{Kind: domain.AggregateTreatmentPlan, EventType: event.TypeTreatmentPlanPrescribed},
}

// For looks up the aggregate implementation for a kind.
func For(t domain.AggregateType) (Aggregate, bool) {
	a, ok := registry[t]
	return a, ok
}

// All returns every registered aggregate kind.
func All() map[domain.AggregateType]Aggregate {
	out := make(map[domain.AggregateType]Aggregate, len(registry))
	for k, v := range registry {
		out[k] = v
	}
	return out
}
