package aggregate

import (
	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// FactState is shared by every fact aggregate: a single creation event,
// after which the stream is frozen (INV-CO-3). Zero contention by design —
// two devices can never race on the same fact because each device mints its
// own aggregate ID.
type FactState struct {
	Created bool
	Payload map[string]any
}

// FactCommand is the creation intent for a fact aggregate.
type FactCommand interface {
	Command
	FactPayload() map[string]any
}

// Fact is the generic single-event aggregate implementation, parameterized
// by kind and creation event type.
type Fact struct {
	Kind      domain.AggregateType
	EventType string
}

func (f Fact) Type() domain.AggregateType { return f.Kind }

func (f Fact) NewState() State { return FactState{} }

func (f Fact) Decide(s State, cmd Command, clock event.Clock) ([]event.Draft, error) {
	state := s.(FactState)
	if err := checkClock(cmd.Context(), clock.Now()); err != nil {
		return nil, err
	}
	if state.Created {
		return nil, dErrors.Invariant(dErrors.CodeDomain, string(domain.InvObservationFrozen),
			"a recorded fact cannot be amended; record a new one")
	}
	fc, ok := cmd.(FactCommand)
	if !ok || fc.AggregateType() != f.Kind {
		return nil, rejectUnknown(cmd)
	}
	return []event.Draft{{EventType: f.EventType, Payload: fc.FactPayload()}}, nil
}

func (f Fact) Apply(s State, e event.Envelope) State {
	state := s.(FactState)
	if e.EventType == f.EventType {
		state.Created = true
		state.Payload = e.Payload
	}
	return state
}

// factContext carries the payload keys every observation shares.
func factContext(ctx Context, patient domain.PatientID, encounter domain.AggregateID) map[string]any {
	return map[string]any{
		"patient_id":   patient.String(),
		"encounter_id": encounter.String(),
		"recorded_by":  ctx.PerformedBy.String(),
	}
}

// Commands — one per fact kind.

type RecordVitalSigns struct {
	Ctx          Context
	PatientID    domain.PatientID
	EncounterID  domain.AggregateID
	Measurements map[string]any // e.g. pulse_bpm, bp_systolic, temp_c
}

func (c RecordVitalSigns) Context() Context                    { return c.Ctx }
func (c RecordVitalSigns) CommandType() string                 { return "RecordVitalSigns" }
func (c RecordVitalSigns) AggregateType() domain.AggregateType { return domain.AggregateVitalSigns }
func (c RecordVitalSigns) FactPayload() map[string]any {
	p := factContext(c.Ctx, c.PatientID, c.EncounterID)
	p["measurements"] = c.Measurements
	return p
}

type ReportSymptom struct {
	Ctx         Context
	PatientID   domain.PatientID
	EncounterID domain.AggregateID
	Description string
	Severity    string
	Onset       string
}

func (c ReportSymptom) Context() Context                    { return c.Ctx }
func (c ReportSymptom) CommandType() string                 { return "ReportSymptom" }
func (c ReportSymptom) AggregateType() domain.AggregateType { return domain.AggregateSymptom }
func (c ReportSymptom) FactPayload() map[string]any {
	p := factContext(c.Ctx, c.PatientID, c.EncounterID)
	p["description"] = c.Description
	p["severity"] = c.Severity
	p["onset"] = c.Onset
	return p
}

type RecordExaminationFinding struct {
	Ctx         Context
	PatientID   domain.PatientID
	EncounterID domain.AggregateID
	BodySite    string
	Finding     string
}

func (c RecordExaminationFinding) Context() Context    { return c.Ctx }
func (c RecordExaminationFinding) CommandType() string { return "RecordExaminationFinding" }
func (c RecordExaminationFinding) AggregateType() domain.AggregateType {
	return domain.AggregateExaminationFinding
}
func (c RecordExaminationFinding) FactPayload() map[string]any {
	p := factContext(c.Ctx, c.PatientID, c.EncounterID)
	p["body_site"] = c.BodySite
	p["finding"] = c.Finding
	return p
}

type RecordLabResult struct {
	Ctx            Context
	PatientID      domain.PatientID
	EncounterID    domain.AggregateID
	TestCode       string
	Value          string
	Unit           string
	ReferenceRange string
}

func (c RecordLabResult) Context() Context                    { return c.Ctx }
func (c RecordLabResult) CommandType() string                 { return "RecordLabResult" }
func (c RecordLabResult) AggregateType() domain.AggregateType { return domain.AggregateLabResult }
func (c RecordLabResult) FactPayload() map[string]any {
	p := factContext(c.Ctx, c.PatientID, c.EncounterID)
	p["test_code"] = c.TestCode
	p["value"] = c.Value
	p["unit"] = c.Unit
	p["reference_range"] = c.ReferenceRange
	return p
}

type RecordProcedure struct {
	Ctx           Context
	PatientID     domain.PatientID
	EncounterID   domain.AggregateID
	ProcedureCode string
	Description   string
	Outcome       string
}

func (c RecordProcedure) Context() Context                    { return c.Ctx }
func (c RecordProcedure) CommandType() string                 { return "RecordProcedure" }
func (c RecordProcedure) AggregateType() domain.AggregateType { return domain.AggregateProcedure }
func (c RecordProcedure) FactPayload() map[string]any {
	p := factContext(c.Ctx, c.PatientID, c.EncounterID)
	p["procedure_code"] = c.ProcedureCode
	p["description"] = c.Description
	p["outcome"] = c.Outcome
	return p
}

type IssueReferral struct {
	Ctx         Context
	PatientID   domain.PatientID
	EncounterID domain.AggregateID
	Specialty   string
	Reason      string
	Urgency     string
}

func (c IssueReferral) Context() Context                    { return c.Ctx }
func (c IssueReferral) CommandType() string                 { return "IssueReferral" }
func (c IssueReferral) AggregateType() domain.AggregateType { return domain.AggregateReferral }
func (c IssueReferral) FactPayload() map[string]any {
	p := factContext(c.Ctx, c.PatientID, c.EncounterID)
	p["specialty"] = c.Specialty
	p["reason"] = c.Reason
	p["urgency"] = c.Urgency
	return p
}

type PrescribeTreatmentPlan struct {
	Ctx         Context
	PatientID   domain.PatientID
	EncounterID domain.AggregateID
	DiagnosisID domain.AggregateID
	Plan        string
}

func (c PrescribeTreatmentPlan) Context() Context    { return c.Ctx }
func (c PrescribeTreatmentPlan) CommandType() string { return "PrescribeTreatmentPlan" }
func (c PrescribeTreatmentPlan) AggregateType() domain.AggregateType {
	return domain.AggregateTreatmentPlan
}
func (c PrescribeTreatmentPlan) FactPayload() map[string]any {
	p := factContext(c.Ctx, c.PatientID, c.EncounterID)
	p["diagnosis_id"] = c.DiagnosisID.String()
	p["plan"] = c.Plan
	return p
}
