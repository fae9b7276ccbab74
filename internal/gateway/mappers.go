package gateway

import (
	"time"

	"clinicore/internal/aggregate"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// maxFieldLength bounds free-text fields at the trust boundary. Clinical
// note bodies are the longest legitimate inputs.
const maxFieldLength = 32_768

// payload walks an untrusted map, accumulating the first validation error
// so mappers read declaratively.
type payload struct {
	m   map[string]any
	err error
}

func (p *payload) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *payload) raw(key string) (any, bool) {
	v, ok := p.m[key]
	return v, ok
}

func (p *payload) str(key string) string {
	v, ok := p.raw(key)
	if !ok {
		p.fail(dErrors.Newf(dErrors.CodeValidation, "missing required field: %s", key))
		return ""
	}
	s, ok := v.(string)
	if !ok {
		p.fail(dErrors.Newf(dErrors.CodeValidation, "field %s must be a string", key))
		return ""
	}
	if len(s) > maxFieldLength {
		p.fail(dErrors.Newf(dErrors.CodeValidation, "field %s exceeds maximum length", key))
		return ""
	}
	return s
}

func (p *payload) optStr(key string) string {
	if _, ok := p.raw(key); !ok {
		return ""
	}
	return p.str(key)
}

func (p *payload) instant(key string) time.Time {
	s := p.str(key)
	if p.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		p.fail(dErrors.Newf(dErrors.CodeValidation, "field %s is not a valid RFC 3339 instant", key))
		return time.Time{}
	}
	return t
}

func (p *payload) object(key string) map[string]any {
	v, ok := p.raw(key)
	if !ok {
		return map[string]any{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		p.fail(dErrors.Newf(dErrors.CodeValidation, "field %s must be an object", key))
		return nil
	}
	return m
}

func parseWith[T any](p *payload, key string, parse func(string) (T, error)) T {
	var zero T
	s := p.str(key)
	if p.err != nil {
		return zero
	}
	v, err := parse(s)
	if err != nil {
		p.fail(err)
		return zero
	}
	return v
}

func parseOptWith[T any](p *payload, key string, parse func(string) (T, error)) T {
	var zero T
	if _, ok := p.raw(key); !ok {
		return zero
	}
	return parseWith(p, key, parse)
}

// commandContext parses the fields every command shares. aggIDField names
// the payload key carrying the target aggregate ID.
func commandContext(p *payload, aggIDField string) aggregate.Context {
	ctx := aggregate.Context{
		AggregateID:      parseWith(p, aggIDField, domain.ParseAggregateID),
		OccurredAt:       p.instant("occurred_at"),
		PerformedBy:      parseWith(p, "performed_by", domain.ParsePerformerID),
		PerformerRole:    parseWith(p, "performer_role", domain.ParsePerformerRole),
		OrganizationID:   parseWith(p, "organization_id", domain.ParseOrganizationID),
		FacilityID:       parseWith(p, "facility_id", domain.ParseFacilityID),
		DeviceID:         p.str("device_id"),
		ConnectionStatus: parseWith(p, "connection_status", domain.ParseConnectionStatus),
		CorrelationID:    parseOptWith(p, "correlation_id", domain.ParseCorrelationID),
		CausationID:      parseOptWith(p, "causation_id", domain.ParseEventID),
	}
	if raw, ok := p.raw("visibility"); ok {
		list, ok := raw.([]any)
		if !ok {
			p.fail(dErrors.New(dErrors.CodeValidation, "field visibility must be an array"))
			return ctx
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				p.fail(dErrors.New(dErrors.CodeValidation, "visibility tags must be strings"))
				return ctx
			}
			a, err := domain.ParseAudience(s)
			if err != nil {
				p.fail(err)
				return ctx
			}
			ctx.Visibility = append(ctx.Visibility, a)
		}
	}
	return ctx
}

// registerAll installs the canonical command-type registry. One mapper per
// command type; each maps to exactly one aggregate kind and one event kind.
func registerAll(g *Gateway) {
	reg := func(name string, m Mapper) { g.Register(name, m) }

	// Patient registration.
	reg("RegisterPatient", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RegisterPatient{
			Ctx:         commandContext(p, "patient_id"),
			GivenName:   p.str("given_name"),
			FamilyName:  p.str("family_name"),
			DateOfBirth: p.str("date_of_birth"),
			Sex:         p.optStr("sex"),
		}
		return cmd, p.err
	})
	reg("CorrectPatientIdentity", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.CorrectPatientIdentity{
			Ctx:         commandContext(p, "patient_id"),
			GivenName:   p.str("given_name"),
			FamilyName:  p.str("family_name"),
			DateOfBirth: p.str("date_of_birth"),
			Reason:      p.optStr("reason"),
		}
		return cmd, p.err
	})
	reg("DeclareContactInfo", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.DeclareContactInfo{
			Ctx:   commandContext(p, "patient_id"),
			Phone: p.optStr("phone"),
			Email: p.optStr("email"),
		}
		return cmd, p.err
	})
	reg("RecordPatientDeceased", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RecordPatientDeceased{
			Ctx:         commandContext(p, "patient_id"),
			DateOfDeath: p.str("date_of_death"),
			Cause:       p.optStr("cause"),
		}
		return cmd, p.err
	})
	reg("TransferPatientOut", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.TransferPatientOut{
			Ctx:               commandContext(p, "patient_id"),
			ReceivingPractice: p.str("receiving_practice"),
			TransferReason:    p.optStr("transfer_reason"),
		}
		return cmd, p.err
	})

	// Encounters.
	reg("CheckInPatient", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.CheckInPatient{
			Ctx:       commandContext(p, "encounter_id"),
			PatientID: parseWith(p, "patient_id", domain.ParsePatientID),
			Reason:    p.optStr("reason"),
		}
		return cmd, p.err
	})
	reg("TriagePatient", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.TriagePatient{
			Ctx:         commandContext(p, "encounter_id"),
			AcuityLevel: p.str("acuity_level"),
			TriageNotes: p.optStr("triage_notes"),
		}
		return cmd, p.err
	})
	reg("BeginEncounter", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.BeginEncounter{Ctx: commandContext(p, "encounter_id")}
		return cmd, p.err
	})
	reg("ReopenEncounter", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.ReopenEncounter{
			Ctx:    commandContext(p, "encounter_id"),
			Reason: p.str("reason"),
		}
		return cmd, p.err
	})
	reg("CompleteEncounter", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.CompleteEncounter{
			Ctx:     commandContext(p, "encounter_id"),
			Summary: p.optStr("summary"),
		}
		return cmd, p.err
	})
	reg("DischargePatient", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.DischargePatient{
			Ctx:         commandContext(p, "encounter_id"),
			Disposition: p.optStr("disposition"),
		}
		return cmd, p.err
	})

	// Diagnoses.
	reg("MakeDiagnosis", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.MakeDiagnosis{
			Ctx:         commandContext(p, "diagnosis_id"),
			PatientID:   parseWith(p, "patient_id", domain.ParsePatientID),
			EncounterID: parseWith(p, "encounter_id", domain.ParseAggregateID),
			Condition:   p.str("condition"),
			ICDCode:     p.str("icd_code"),
		}
		return cmd, p.err
	})
	reg("ReviseDiagnosis", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.ReviseDiagnosis{
			Ctx:       commandContext(p, "diagnosis_id"),
			Condition: p.str("condition"),
			ICDCode:   p.str("icd_code"),
			Reason:    p.optStr("reason"),
		}
		return cmd, p.err
	})
	reg("ResolveDiagnosis", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.ResolveDiagnosis{
			Ctx:        commandContext(p, "diagnosis_id"),
			Resolution: p.optStr("resolution"),
		}
		return cmd, p.err
	})

	// Clinical notes.
	reg("AuthorClinicalNote", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.AuthorClinicalNote{
			Ctx:         commandContext(p, "note_id"),
			PatientID:   parseWith(p, "patient_id", domain.ParsePatientID),
			EncounterID: parseWith(p, "encounter_id", domain.ParseAggregateID),
			Body:        p.str("body"),
		}
		return cmd, p.err
	})
	reg("AddNoteAddendum", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.AddNoteAddendum{
			Ctx:  commandContext(p, "note_id"),
			Body: p.str("body"),
		}
		return cmd, p.err
	})
	reg("CosignClinicalNote", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.CosignClinicalNote{Ctx: commandContext(p, "note_id")}
		return cmd, p.err
	})

	// Appointments.
	reg("RequestAppointment", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RequestAppointment{
			Ctx:         commandContext(p, "appointment_id"),
			PatientID:   parseWith(p, "patient_id", domain.ParsePatientID),
			ScheduledAt: p.str("scheduled_at"),
			Reason:      p.optStr("reason"),
		}
		return cmd, p.err
	})
	reg("ConfirmAppointment", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.ConfirmAppointment{Ctx: commandContext(p, "appointment_id")}
		return cmd, p.err
	})
	reg("RescheduleAppointment", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RescheduleAppointment{
			Ctx:            commandContext(p, "appointment_id"),
			NewScheduledAt: p.str("new_scheduled_at"),
			Reason:         p.optStr("reason"),
		}
		return cmd, p.err
	})
	reg("CancelAppointmentByPatient", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.CancelAppointmentByPatient{
			Ctx:    commandContext(p, "appointment_id"),
			Reason: p.optStr("reason"),
		}
		return cmd, p.err
	})
	reg("CancelAppointmentByPractice", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.CancelAppointmentByPractice{
			Ctx:    commandContext(p, "appointment_id"),
			Reason: p.optStr("reason"),
		}
		return cmd, p.err
	})
	reg("RecordAppointmentNoShow", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RecordAppointmentNoShow{Ctx: commandContext(p, "appointment_id")}
		return cmd, p.err
	})

	// Allergies.
	reg("IdentifyAllergy", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.IdentifyAllergy{
			Ctx:       commandContext(p, "allergy_id"),
			PatientID: parseWith(p, "patient_id", domain.ParsePatientID),
			Substance: p.str("substance"),
			Reaction:  p.optStr("reaction"),
			Severity:  p.optStr("severity"),
		}
		return cmd, p.err
	})
	reg("RefuteAllergy", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RefuteAllergy{
			Ctx:    commandContext(p, "allergy_id"),
			Reason: p.str("reason"),
		}
		return cmd, p.err
	})

	// Duplicate resolution.
	reg("SuspectDuplicatePatient", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.SuspectDuplicatePatient{
			Ctx:                commandContext(p, "resolution_id"),
			SurvivingPatientID: parseWith(p, "surviving_patient_id", domain.ParsePatientID),
			RetiredPatientID:   parseWith(p, "retired_patient_id", domain.ParsePatientID),
			Evidence:           p.optStr("evidence"),
		}
		return cmd, p.err
	})
	reg("MergeDuplicatePatients", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.MergeDuplicatePatients{Ctx: commandContext(p, "resolution_id")}
		return cmd, p.err
	})
	reg("DismissDuplicateSuspicion", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.DismissDuplicateSuspicion{
			Ctx:    commandContext(p, "resolution_id"),
			Reason: p.str("reason"),
		}
		return cmd, p.err
	})

	// Observation and care facts.
	reg("RecordVitalSigns", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RecordVitalSigns{
			Ctx:          commandContext(p, "vital_signs_id"),
			PatientID:    parseWith(p, "patient_id", domain.ParsePatientID),
			EncounterID:  parseWith(p, "encounter_id", domain.ParseAggregateID),
			Measurements: p.object("measurements"),
		}
		return cmd, p.err
	})
	reg("ReportSymptom", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.ReportSymptom{
			Ctx:         commandContext(p, "symptom_id"),
			PatientID:   parseWith(p, "patient_id", domain.ParsePatientID),
			EncounterID: parseWith(p, "encounter_id", domain.ParseAggregateID),
			Description: p.str("description"),
			Severity:    p.optStr("severity"),
			Onset:       p.optStr("onset"),
		}
		return cmd, p.err
	})
	reg("RecordExaminationFinding", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RecordExaminationFinding{
			Ctx:         commandContext(p, "finding_id"),
			PatientID:   parseWith(p, "patient_id", domain.ParsePatientID),
			EncounterID: parseWith(p, "encounter_id", domain.ParseAggregateID),
			BodySite:    p.str("body_site"),
			Finding:     p.str("finding"),
		}
		return cmd, p.err
	})
	reg("RecordLabResult", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RecordLabResult{
			Ctx:            commandContext(p, "lab_result_id"),
			PatientID:      parseWith(p, "patient_id", domain.ParsePatientID),
			EncounterID:    parseWith(p, "encounter_id", domain.ParseAggregateID),
			TestCode:       p.str("test_code"),
			Value:          p.str("value"),
			Unit:           p.optStr("unit"),
			ReferenceRange: p.optStr("reference_range"),
		}
		return cmd, p.err
	})
	reg("RecordProcedure", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.RecordProcedure{
			Ctx:           commandContext(p, "procedure_id"),
			PatientID:     parseWith(p, "patient_id", domain.ParsePatientID),
			EncounterID:   parseWith(p, "encounter_id", domain.ParseAggregateID),
			ProcedureCode: p.str("procedure_code"),
			Description:   p.optStr("description"),
			Outcome:       p.optStr("outcome"),
		}
		return cmd, p.err
	})
	reg("IssueReferral", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.IssueReferral{
			Ctx:         commandContext(p, "referral_id"),
			PatientID:   parseWith(p, "patient_id", domain.ParsePatientID),
			EncounterID: parseWith(p, "encounter_id", domain.ParseAggregateID),
			Specialty:   p.str("specialty"),
			Reason:      p.optStr("reason"),
			Urgency:     p.optStr("urgency"),
		}
		return cmd, p.err
	})
	reg("PrescribeTreatmentPlan", func(m map[string]any) (aggregate.Command, error) {
		p := &payload{m: m}
		cmd := aggregate.PrescribeTreatmentPlan{
			Ctx:         commandContext(p, "treatment_plan_id"),
			PatientID:   parseWith(p, "patient_id", domain.ParsePatientID),
			EncounterID: parseWith(p, "encounter_id", domain.ParseAggregateID),
			DiagnosisID: parseWith(p, "diagnosis_id", domain.ParseAggregateID),
			Plan:        p.str("plan"),
		}
		return cmd, p.err
	})
}
