package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// PostgresStore is the hub's durable Store implementation. The envelope is
// stored as JSONB alongside the columns the filter queries need; the
// serialized form is authoritative and round-trips through the envelope
// codec unchanged.
type PostgresStore struct {
	db    *sql.DB
	clock event.Clock
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, clock event.Clock) *PostgresStore {
	if clock == nil {
		clock = event.SystemClock{}
	}
	return &PostgresStore{db: db, clock: clock}
}

// Schema creates the events table. Uniqueness on event_id backs the
// idempotent append; uniqueness on the stream coordinates backs the
// contiguous-version invariant even if two hub processes race.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	position           BIGSERIAL PRIMARY KEY,
	event_id           UUID NOT NULL UNIQUE,
	event_type         TEXT NOT NULL,
	aggregate_type     TEXT NOT NULL,
	aggregate_id       UUID NOT NULL,
	aggregate_version  BIGINT NOT NULL,
	organization_id    UUID NOT NULL,
	patient_id         UUID,
	visibility         TEXT[] NOT NULL DEFAULT '{}',
	occurred_at        TIMESTAMPTZ NOT NULL,
	recorded_at        TIMESTAMPTZ NOT NULL,
	envelope           JSONB NOT NULL,
	UNIQUE (aggregate_type, aggregate_id, aggregate_version)
);
CREATE INDEX IF NOT EXISTS events_stream_idx ON events (aggregate_type, aggregate_id, aggregate_version);
CREATE INDEX IF NOT EXISTS events_type_idx ON events (event_type);
CREATE INDEX IF NOT EXISTS events_org_idx ON events (organization_id);
`

// EnsureSchema applies the schema. Intended for hubd startup and tests;
// production deployments may manage migrations externally.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "apply event store schema", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e event.Envelope) (AppendResult, error) {
	key := StreamKey{AggregateType: e.AggregateType, AggregateID: e.AggregateID}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendResult{}, dErrors.Wrap(dErrors.CodeTransient, "begin append tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var pos uint64
	err = tx.QueryRowContext(ctx,
		`SELECT position FROM events WHERE event_id = $1`, e.EventID.String(),
	).Scan(&pos)
	if err == nil {
		return AppendResult{Duplicate: true, Position: pos}, nil
	}
	if err != sql.ErrNoRows {
		return AppendResult{}, dErrors.Wrap(dErrors.CodeTransient, "probe event_id", err)
	}

	var current uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM events
		 WHERE aggregate_type = $1 AND aggregate_id = $2`,
		string(key.AggregateType), key.AggregateID.String(),
	).Scan(&current)
	if err != nil {
		return AppendResult{}, dErrors.Wrap(dErrors.CodeTransient, "read stream version", err)
	}
	if e.AggregateVersion != current+1 {
		return AppendResult{}, &VersionConflictError{Key: key, Expected: current + 1, Actual: e.AggregateVersion}
	}

	persisted := e
	if persisted.RecordedAt.IsZero() {
		persisted = e.WithRecordedAt(s.clock.Now())
	}
	payload, err := json.Marshal(persisted)
	if err != nil {
		return AppendResult{}, dErrors.Wrap(dErrors.CodeTransient, "marshal envelope", err)
	}

	visibility := make([]string, 0, len(persisted.Visibility))
	for _, v := range persisted.Visibility {
		visibility = append(visibility, string(v))
	}
	var patientID any
	if pid, ok := persisted.Payload["patient_id"].(string); ok && pid != "" {
		patientID = pid
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (
			event_id, event_type, aggregate_type, aggregate_id, aggregate_version,
			organization_id, patient_id, visibility, occurred_at, recorded_at, envelope
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING position`,
		persisted.EventID.String(),
		persisted.EventType,
		string(persisted.AggregateType),
		persisted.AggregateID.String(),
		persisted.AggregateVersion,
		persisted.OrganizationID.String(),
		patientID,
		pq.Array(visibility),
		persisted.OccurredAt,
		persisted.RecordedAt,
		payload,
	).Scan(&pos)
	if err != nil {
		return AppendResult{}, dErrors.Wrap(dErrors.CodeTransient, "insert event", err)
	}

	if err := tx.Commit(); err != nil {
		return AppendResult{}, dErrors.Wrap(dErrors.CodeTransient, "commit append", err)
	}
	return AppendResult{Position: pos}, nil
}

func (s *PostgresStore) ReadStream(ctx context.Context, key StreamKey) ([]event.Envelope, error) {
	return s.ReadStreamFrom(ctx, key, 1)
}

func (s *PostgresStore) ReadStreamFrom(ctx context.Context, key StreamKey, from uint64) ([]event.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT envelope FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2 AND aggregate_version >= $3
		ORDER BY aggregate_version ASC`,
		string(key.AggregateType), key.AggregateID.String(), from)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeTransient, "read stream", err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (s *PostgresStore) ReadAfter(ctx context.Context, f Filter, cursor uint64, limit int) ([]event.Envelope, uint64, error) {
	conds := []string{"position > $1"}
	args := []any{cursor}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.EventTypes) > 0 {
		conds = append(conds, "event_type = ANY("+arg(pq.Array(f.EventTypes))+")")
	}
	if len(f.AggregateTypes) > 0 {
		types := make([]string, 0, len(f.AggregateTypes))
		for _, t := range f.AggregateTypes {
			types = append(types, string(t))
		}
		conds = append(conds, "aggregate_type = ANY("+arg(pq.Array(types))+")")
	}
	if !f.OrganizationID.IsNil() {
		conds = append(conds, "organization_id = "+arg(f.OrganizationID.String()))
	}
	if !f.PatientID.IsNil() {
		conds = append(conds, "patient_id = "+arg(f.PatientID.String()))
	}
	if len(f.Visibility) > 0 {
		granted := make([]string, 0, len(f.Visibility))
		for _, v := range f.Visibility {
			granted = append(granted, string(v))
		}
		conds = append(conds, "(visibility = '{}' OR visibility && "+arg(pq.Array(granted))+")")
	}

	query := `SELECT position, envelope FROM events WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY position ASC`
	if limit > 0 {
		query += " LIMIT " + arg(limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cursor, dErrors.Wrap(dErrors.CodeTransient, "read after cursor", err)
	}
	defer rows.Close()

	next := cursor
	var out []event.Envelope
	for rows.Next() {
		var pos uint64
		var raw []byte
		if err := rows.Scan(&pos, &raw); err != nil {
			return nil, cursor, dErrors.Wrap(dErrors.CodeTransient, "scan event row", err)
		}
		var e event.Envelope
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, cursor, dErrors.Wrap(dErrors.CodeTransient, "decode stored envelope", err)
		}
		out = append(out, e)
		next = pos
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, dErrors.Wrap(dErrors.CodeTransient, "iterate event rows", err)
	}
	return out, next, nil
}

func (s *PostgresStore) Exists(ctx context.Context, id domain.EventID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM events WHERE event_id = $1`, id.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(dErrors.CodeTransient, "probe event_id", err)
	}
	return true, nil
}

func (s *PostgresStore) StreamVersion(ctx context.Context, key StreamKey) (uint64, error) {
	var v uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM events
		 WHERE aggregate_type = $1 AND aggregate_id = $2`,
		string(key.AggregateType), key.AggregateID.String()).Scan(&v)
	if err != nil {
		return 0, dErrors.Wrap(dErrors.CodeTransient, "read stream version", err)
	}
	return v, nil
}

func (s *PostgresStore) CurrentPosition(ctx context.Context) (uint64, error) {
	var pos uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM events`).Scan(&pos)
	if err != nil {
		return 0, dErrors.Wrap(dErrors.CodeTransient, "read current position", err)
	}
	return pos, nil
}

func scanEnvelopes(rows *sql.Rows) ([]event.Envelope, error) {
	var out []event.Envelope
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeTransient, "scan event row", err)
		}
		var e event.Envelope
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeTransient, "decode stored envelope", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeTransient, "iterate event rows", err)
	}
	return out, nil
}
