// Package device owns the per-device singletons: the identity a device
// stamps into every envelope, the monotonic local sequence counter, and the
// clock-drift estimate learned from the last hub handshake. One Device is
// created at process initialization; tests inject their own.
package device

import (
	"sync"

	"clinicore/pkg/domain"
)

// Device is the per-device context. Safe for concurrent use: the command
// handler and the sync engine both read it.
type Device struct {
	ID             string
	OrganizationID domain.OrganizationID
	FacilityID     domain.FacilityID
	// Granted audience tags determine which events the hub will stream to
	// this device during download.
	Granted []domain.Audience

	mu      sync.Mutex
	lastLSN uint64
	driftMs int64
	online  bool
}

// New builds a device context with the LSN counter at zero.
func New(id string, org domain.OrganizationID, facility domain.FacilityID) *Device {
	return &Device{
		ID:             id,
		OrganizationID: org,
		FacilityID:     facility,
		Granted:        []domain.Audience{domain.AudienceClinicalStaff},
	}
}

// NextLSN reserves and returns the next local sequence number. Strictly
// monotonic, never reused (INV-XX-2).
func (d *Device) NextLSN() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLSN++
	return d.lastLSN
}

// CurrentLSN returns the last reserved sequence number.
func (d *Device) CurrentLSN() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastLSN
}

// Restore resets the counter from persisted state at startup. It never
// moves the counter backwards.
func (d *Device) Restore(lsn uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lsn > d.lastLSN {
		d.lastLSN = lsn
	}
}

// SetDrift stores the hub-computed clock drift from the last handshake.
func (d *Device) SetDrift(ms int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.driftMs = ms
}

// Drift returns the current drift estimate in milliseconds.
func (d *Device) Drift() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driftMs
}

// SetOnline records connectivity; stamped into envelopes as
// connection_status.
func (d *Device) SetOnline(online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online = online
}

// ConnectionStatus reports the stamped connectivity value.
func (d *Device) ConnectionStatus() domain.ConnectionStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.online {
		return domain.ConnectionOnline
	}
	return domain.ConnectionOffline
}
