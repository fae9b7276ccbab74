package compensation

import (
	"context"
	"encoding/json"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// ReviewRejected preserves a conflicted event that conflict resolution
// could not append: the full original envelope is embedded verbatim in the
// review payload so clinical content survives for human review.
func (e *Engine) ReviewRejected(ctx context.Context, original event.Envelope, reason string) ([]event.Envelope, error) {
	// Round-trip through the codec so the embedded envelope uses the wire
	// shape, not Go field names.
	raw, err := json.Marshal(original)
	if err != nil {
		return nil, err
	}
	var embedded map[string]any
	if err := json.Unmarshal(raw, &embedded); err != nil {
		return nil, err
	}

	return e.reviewWithPayload(ctx, original, transitionInvariant(original.AggregateType), map[string]any{
		"original_event_id": original.EventID.String(),
		"invariant_code":    string(transitionInvariant(original.AggregateType)),
		"reason":            reason,
		"original_envelope": embedded,
	})
}

// transitionInvariant maps an aggregate kind to its state-machine
// invariant code, carried on StateMachineRejected review items.
func transitionInvariant(t domain.AggregateType) domain.InvariantCode {
	switch t {
	case domain.AggregateEncounter:
		return domain.InvEncounterTransition
	case domain.AggregateAppointment:
		return domain.InvAppointmentTransition
	case domain.AggregatePatientRegistration:
		return domain.InvPatientTerminalFinal
	case domain.AggregateDiagnosis:
		return domain.InvDiagnosisResolvedFinal
	case domain.AggregateClinicalNote:
		return domain.InvNoteMustExist
	default:
		return domain.InvObservationFrozen
	}
}
