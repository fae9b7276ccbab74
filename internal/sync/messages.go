// Package sync implements both halves of the hub-and-spoke synchronization
// protocol: the device engine (outbox, cursors, four-phase session) and the
// hub engine (handshake validation, idempotent upload with conflict
// resolution and compensation, cursor-driven download). Devices never sync
// with each other.
package sync

import (
	"time"

	"clinicore/internal/event"
	"clinicore/pkg/domain"
)

// HandshakeStatus is the hub's verdict on a sync session request.
type HandshakeStatus string

const (
	StatusReady               HandshakeStatus = "ready"
	StatusDeviceRevoked       HandshakeStatus = "device_revoked"
	StatusOrgMismatch         HandshakeStatus = "org_mismatch"
	StatusProtocolUnsupported HandshakeStatus = "protocol_unsupported"
	StatusUnknownDevice       HandshakeStatus = "unknown_device"
)

// Handshake opens a sync session (phase 1, device → hub).
type Handshake struct {
	DeviceID               string                `json:"device_id"`
	OrgID                  domain.OrganizationID `json:"organization_id"`
	ProtocolVersion        uint32                `json:"protocol_version"`
	LastDownloadedPosition uint64                `json:"last_downloaded_position"`
	DeviceLSN              uint64                `json:"device_lsn"`
	PendingCount           uint32                `json:"pending_count"`
	DeviceClock            time.Time             `json:"device_clock"`
}

// HandshakeAck answers a handshake (hub → device).
type HandshakeAck struct {
	Status             HandshakeStatus `json:"status"`
	HubClock           time.Time       `json:"hub_clock,omitempty"`
	ComputedDriftMs    int64           `json:"computed_drift_ms,omitempty"`
	HubCurrentPosition uint64          `json:"hub_current_position,omitempty"`
	EventsAvailable    uint64          `json:"events_available,omitempty"`
}

// Upload carries a batch of locally produced events in LSN order
// (phase 3a, device → hub).
type Upload struct {
	SyncBatchID domain.SyncBatchID `json:"sync_batch_id"`
	Events      []event.Envelope   `json:"events"`
}

// Resolution names the outcome of conflict resolution for one event.
type Resolution string

const (
	// ResolutionAccepted means the event was appended, renumbered to the
	// stream tail; its semantic position follows causal order.
	ResolutionAccepted Resolution = "accepted_renumbered"
	// ResolutionRejected means the state machine refused the event at its
	// causal position; its content is preserved in a CompensationRequired
	// review item.
	ResolutionRejected Resolution = "rejected_state_machine"
	// ResolutionDuplicateTransition means another event already produced
	// the same transition from the same state.
	ResolutionDuplicateTransition Resolution = "duplicate_transition"
)

// ConflictOutcome reports resolution for one conflicted event.
type ConflictOutcome struct {
	EventID    domain.EventID `json:"event_id"`
	Resolution Resolution     `json:"resolution"`
	NewVersion uint64         `json:"new_version,omitempty"`
}

// UploadAck answers an upload batch (hub → device).
type UploadAck struct {
	Accepted      []domain.EventID  `json:"accepted"`
	Duplicate     []domain.EventID  `json:"duplicate"`
	Conflicted    []ConflictOutcome `json:"conflicted"`
	Compensations []event.Envelope  `json:"compensations"`
}

// Download streams events past the device's cursor (phase 3b, hub → device).
// NextPosition is the hub position cursor after this page; the device acks
// it to advance the hub-side cursor.
type Download struct {
	Events             []event.Envelope `json:"events"`
	NextPosition       uint64           `json:"next_position"`
	HubCurrentPosition uint64           `json:"hub_current_position"`
}

// DownloadAck confirms receipt (device → hub). The hub advances its
// per-device cursor only on ack, so a lost response is safely re-served.
type DownloadAck struct {
	ReceivedCount   int    `json:"received_count"`
	LastHubPosition uint64 `json:"last_hub_position"`
}
