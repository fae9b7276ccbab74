package sync

import (
	"context"
	"database/sql"
	stdsync "sync"
	"time"

	"github.com/lib/pq"

	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// ErrUnknownDevice is returned for devices the hub has never registered.
var ErrUnknownDevice = dErrors.New(dErrors.CodeNotFound, "device is not registered")

// DeviceRecord is one entry in the hub's device registry.
type DeviceRecord struct {
	DeviceID       string
	OrganizationID domain.OrganizationID
	Revoked        bool
	// Granted audience tags bound the events this device may download.
	Granted []domain.Audience
}

// DeviceRegistry is the hub's registry of known devices.
type DeviceRegistry interface {
	Get(ctx context.Context, deviceID string) (DeviceRecord, error)
	Put(ctx context.Context, rec DeviceRecord) error
	Revoke(ctx context.Context, deviceID string) error
}

// SyncState is the hub's per-device cursor record.
type SyncState struct {
	DeviceID               string
	LastUploadedLSN        uint64
	LastDownloadedPosition uint64
	LastSyncAt             time.Time
}

// StateStore persists per-device sync state on the hub.
type StateStore interface {
	Get(ctx context.Context, deviceID string) (SyncState, error)
	Put(ctx context.Context, s SyncState) error
}

// --- In-memory implementations (devices, tests) ---

type InMemoryRegistry struct {
	mu      stdsync.RWMutex
	devices map[string]DeviceRecord
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{devices: make(map[string]DeviceRecord)}
}

func (r *InMemoryRegistry) Get(_ context.Context, deviceID string) (DeviceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[deviceID]
	if !ok {
		return DeviceRecord{}, ErrUnknownDevice
	}
	return rec, nil
}

func (r *InMemoryRegistry) Put(_ context.Context, rec DeviceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[rec.DeviceID] = rec
	return nil
}

func (r *InMemoryRegistry) Revoke(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[deviceID]
	if !ok {
		return ErrUnknownDevice
	}
	rec.Revoked = true
	r.devices[deviceID] = rec
	return nil
}

type InMemoryStateStore struct {
	mu     stdsync.RWMutex
	states map[string]SyncState
}

func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{states: make(map[string]SyncState)}
}

func (s *InMemoryStateStore) Get(_ context.Context, deviceID string) (SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[deviceID], nil // zero state for first contact
}

func (s *InMemoryStateStore) Put(_ context.Context, state SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.DeviceID] = state
	return nil
}

// --- Postgres implementations (hub) ---

// RegistrySchema creates the hub-side device registry and sync state tables.
const RegistrySchema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id        TEXT PRIMARY KEY,
	organization_id  UUID NOT NULL,
	revoked          BOOLEAN NOT NULL DEFAULT FALSE,
	granted          TEXT[] NOT NULL DEFAULT '{clinical_staff}'
);
CREATE TABLE IF NOT EXISTS sync_states (
	device_id                 TEXT PRIMARY KEY,
	last_uploaded_lsn         BIGINT NOT NULL DEFAULT 0,
	last_downloaded_position  BIGINT NOT NULL DEFAULT 0,
	last_sync_at              TIMESTAMPTZ
);
`

type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry { return &PostgresRegistry{db: db} }

// EnsureSchema applies the registry schema.
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, RegistrySchema); err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "apply registry schema", err)
	}
	return nil
}

func (r *PostgresRegistry) Get(ctx context.Context, deviceID string) (DeviceRecord, error) {
	var rec DeviceRecord
	var org string
	var granted []string
	err := r.db.QueryRowContext(ctx,
		`SELECT device_id, organization_id, revoked, granted FROM devices WHERE device_id = $1`,
		deviceID,
	).Scan(&rec.DeviceID, &org, &rec.Revoked, pq.Array(&granted))
	if err == sql.ErrNoRows {
		return DeviceRecord{}, ErrUnknownDevice
	}
	if err != nil {
		return DeviceRecord{}, dErrors.Wrap(dErrors.CodeTransient, "read device record", err)
	}
	parsedOrg, err := domain.ParseOrganizationID(org)
	if err != nil {
		return DeviceRecord{}, err
	}
	rec.OrganizationID = parsedOrg
	for _, g := range granted {
		if a, err := domain.ParseAudience(g); err == nil {
			rec.Granted = append(rec.Granted, a)
		}
	}
	return rec, nil
}

func (r *PostgresRegistry) Put(ctx context.Context, rec DeviceRecord) error {
	granted := make([]string, 0, len(rec.Granted))
	for _, g := range rec.Granted {
		granted = append(granted, string(g))
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, organization_id, revoked, granted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE
		SET organization_id = EXCLUDED.organization_id,
		    revoked = EXCLUDED.revoked,
		    granted = EXCLUDED.granted`,
		rec.DeviceID, rec.OrganizationID.String(), rec.Revoked, pq.Array(granted))
	if err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "upsert device record", err)
	}
	return nil
}

func (r *PostgresRegistry) Revoke(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET revoked = TRUE WHERE device_id = $1`, deviceID)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "revoke device", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownDevice
	}
	return nil
}

type PostgresStateStore struct {
	db *sql.DB
}

func NewPostgresStateStore(db *sql.DB) *PostgresStateStore { return &PostgresStateStore{db: db} }

func (s *PostgresStateStore) Get(ctx context.Context, deviceID string) (SyncState, error) {
	var state SyncState
	var lastSync sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, last_uploaded_lsn, last_downloaded_position, last_sync_at
		FROM sync_states WHERE device_id = $1`, deviceID,
	).Scan(&state.DeviceID, &state.LastUploadedLSN, &state.LastDownloadedPosition, &lastSync)
	if err == sql.ErrNoRows {
		return SyncState{DeviceID: deviceID}, nil
	}
	if err != nil {
		return SyncState{}, dErrors.Wrap(dErrors.CodeTransient, "read sync state", err)
	}
	if lastSync.Valid {
		state.LastSyncAt = lastSync.Time
	}
	return state, nil
}

func (s *PostgresStateStore) Put(ctx context.Context, state SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_states (device_id, last_uploaded_lsn, last_downloaded_position, last_sync_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE
		SET last_uploaded_lsn = GREATEST(sync_states.last_uploaded_lsn, EXCLUDED.last_uploaded_lsn),
		    last_downloaded_position = GREATEST(sync_states.last_downloaded_position, EXCLUDED.last_downloaded_position),
		    last_sync_at = EXCLUDED.last_sync_at`,
		state.DeviceID, state.LastUploadedLSN, state.LastDownloadedPosition, state.LastSyncAt)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeTransient, "upsert sync state", err)
	}
	return nil
}
