package readmodel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	dErrors "clinicore/pkg/domain-errors"
)

// Key prefixes. Everything this store writes lives under rm: so Reset can
// sweep it without touching other tenants of the instance.
const (
	patientKeyPrefix     = "rm:patient:"
	encounterKeyPrefix   = "rm:encounter:"
	diagnosisKeyPrefix   = "rm:diagnosis:"
	appointmentKeyPrefix = "rm:appointment:"
	performerKeyPrefix   = "rm:performer:"
	activeEncKeyPrefix   = "rm:active_enc:" // set of encounter IDs per patient/practitioner
)

// RedisStore is the hub-side Store implementation, shared across hub
// processes so handlers and the compensation engine read one view.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "marshal read model", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "write read model", err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "read read model", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "decode read model", err)
	}
	return nil
}

func (s *RedisStore) PutPatientStatus(ctx context.Context, m PatientStatus) error {
	return s.putJSON(ctx, patientKeyPrefix+m.PatientID, m)
}

func (s *RedisStore) PatientStatus(ctx context.Context, patientID string) (PatientStatus, error) {
	var m PatientStatus
	err := s.getJSON(ctx, patientKeyPrefix+patientID, &m)
	return m, err
}

func (s *RedisStore) PutEncounterState(ctx context.Context, m EncounterState) error {
	if err := s.putJSON(ctx, encounterKeyPrefix+m.EncounterID, m); err != nil {
		return err
	}
	// Maintain the INV-EP-2 index alongside the entry.
	idx := activeEncSetKey(m.PatientID, m.PractitionerID)
	if m.Active() {
		if err := s.client.SAdd(ctx, idx, m.EncounterID).Err(); err != nil {
			return dErrors.Wrap(dErrors.CodeTransient, "index active encounter", err)
		}
		return nil
	}
	if err := s.client.SRem(ctx, idx, m.EncounterID).Err(); err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "unindex encounter", err)
	}
	return nil
}

func (s *RedisStore) EncounterState(ctx context.Context, encounterID string) (EncounterState, error) {
	var m EncounterState
	err := s.getJSON(ctx, encounterKeyPrefix+encounterID, &m)
	return m, err
}

func (s *RedisStore) ActiveEncounters(ctx context.Context, patientID, practitionerID string) ([]EncounterState, error) {
	ids, err := s.client.SMembers(ctx, activeEncSetKey(patientID, practitionerID)).Result()
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeTransient, "list active encounters", err)
	}
	var out []EncounterState
	for _, id := range ids {
		e, err := s.EncounterState(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if e.Active() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *RedisStore) PutDiagnosisStatus(ctx context.Context, m DiagnosisStatus) error {
	return s.putJSON(ctx, diagnosisKeyPrefix+m.DiagnosisID, m)
}

func (s *RedisStore) DiagnosisStatus(ctx context.Context, diagnosisID string) (DiagnosisStatus, error) {
	var m DiagnosisStatus
	err := s.getJSON(ctx, diagnosisKeyPrefix+diagnosisID, &m)
	return m, err
}

func (s *RedisStore) PutAppointmentStatus(ctx context.Context, m AppointmentStatus) error {
	return s.putJSON(ctx, appointmentKeyPrefix+m.AppointmentID, m)
}

func (s *RedisStore) AppointmentStatus(ctx context.Context, appointmentID string) (AppointmentStatus, error) {
	var m AppointmentStatus
	err := s.getJSON(ctx, appointmentKeyPrefix+appointmentID, &m)
	return m, err
}

func (s *RedisStore) PutPerformerRole(ctx context.Context, m PerformerRole) error {
	return s.putJSON(ctx, performerKeyPrefix+m.PerformerID, m)
}

func (s *RedisStore) PerformerRole(ctx context.Context, performerID string) (PerformerRole, error) {
	var m PerformerRole
	err := s.getJSON(ctx, performerKeyPrefix+performerID, &m)
	return m, err
}

func (s *RedisStore) Reset(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "rm:*", 512).Result()
		if err != nil {
			return dErrors.Wrap(dErrors.CodeTransient, "scan read model keys", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return dErrors.Wrap(dErrors.CodeTransient, "delete read model keys", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func activeEncSetKey(patientID, practitionerID string) string {
	return fmt.Sprintf("%s%s:%s", activeEncKeyPrefix, patientID, practitionerID)
}
