package sync

import (
	"context"
	"log/slog"
	stdsync "sync"

	"clinicore/internal/device"
	"clinicore/internal/dispatch"
	"clinicore/internal/event"
	"clinicore/internal/eventstore"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// Transport carries sync messages from a device to its hub. The in-process
// implementation backs tests and embedded deployments; the HTTP client in
// the transport package implements the same contract over the wire.
type Transport interface {
	Handshake(ctx context.Context, req Handshake) (HandshakeAck, error)
	Upload(ctx context.Context, deviceID string, batch Upload) (UploadAck, error)
	Download(ctx context.Context, deviceID string, limit int) (Download, error)
	AckDownload(ctx context.Context, deviceID string, ack DownloadAck) error
}

// Report summarizes one completed sync session.
type Report struct {
	Uploaded      int
	Duplicates    int
	Conflicted    int
	Compensations int
	Downloaded    int
}

// DeviceEngine runs the device half of the protocol: handshake, upload
// from the outbox in LSN order, cursor-driven download, ack.
type DeviceEngine struct {
	dev        *device.Device
	store      eventstore.Store
	outbox     *Outbox
	dispatcher *dispatch.Dispatcher // optional: local projections
	transport  Transport
	clock      event.Clock
	logger     *slog.Logger

	// DownloadPageSize bounds one download request; the engine loops until
	// the hub has nothing further.
	DownloadPageSize int

	mu                     stdsync.Mutex
	lastDownloadedPosition uint64
}

func NewDeviceEngine(
	dev *device.Device,
	store eventstore.Store,
	outbox *Outbox,
	dispatcher *dispatch.Dispatcher,
	transport Transport,
	clock event.Clock,
	logger *slog.Logger,
) *DeviceEngine {
	if clock == nil {
		clock = event.SystemClock{}
	}
	return &DeviceEngine{
		dev:              dev,
		store:            store,
		outbox:           outbox,
		dispatcher:       dispatcher,
		transport:        transport,
		clock:            clock,
		logger:           logger,
		DownloadPageSize: 500,
	}
}

// Cursor returns the device's mirrored download position.
func (d *DeviceEngine) Cursor() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDownloadedPosition
}

// RestoreCursor seeds the mirrored cursor from persisted state at startup.
func (d *DeviceEngine) RestoreCursor(pos uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pos > d.lastDownloadedPosition {
		d.lastDownloadedPosition = pos
	}
}

// Sync runs one full four-phase session. Safe to re-run at any point: every
// phase is idempotent on both sides, so a timeout mid-session leaves a
// resumable state.
func (d *DeviceEngine) Sync(ctx context.Context) (Report, error) {
	var report Report

	// Phase 1 — handshake.
	ack, err := d.transport.Handshake(ctx, Handshake{
		DeviceID:               d.dev.ID,
		OrgID:                  d.dev.OrganizationID,
		ProtocolVersion:        uint32(domain.DefaultProtocolVersion()),
		LastDownloadedPosition: d.Cursor(),
		DeviceLSN:              d.dev.CurrentLSN(),
		PendingCount:           uint32(d.outbox.Len()),
		DeviceClock:            d.clock.Now(),
	})
	if err != nil {
		return report, err
	}
	if ack.Status != StatusReady {
		return report, dErrors.Newf(dErrors.CodePrecondition, "hub refused sync: %s", ack.Status)
	}
	d.dev.SetDrift(ack.ComputedDriftMs)

	// Phase 2 — detection needs no extra round trip: the upload set is the
	// outbox in LSN order; the download set is whatever lies past our
	// cursor on the hub.

	// Phase 3a — upload.
	pending := d.outbox.Pending()
	if len(pending) > 0 {
		uploadAck, err := d.transport.Upload(ctx, d.dev.ID, Upload{
			SyncBatchID: domain.NewSyncBatchID(),
			Events:      pending,
		})
		if err != nil {
			return report, err
		}
		report.Uploaded = len(uploadAck.Accepted)
		report.Duplicates = len(uploadAck.Duplicate)
		report.Conflicted = len(uploadAck.Conflicted)
		report.Compensations = len(uploadAck.Compensations)

		// Prune everything the hub has durably settled: accepted,
		// duplicate, and conflicted (the latter are preserved hub-side
		// either renumbered or as review items).
		settled := append([]domain.EventID{}, uploadAck.Accepted...)
		settled = append(settled, uploadAck.Duplicate...)
		for _, c := range uploadAck.Conflicted {
			settled = append(settled, c.EventID)
		}
		d.outbox.Remove(settled)
	}

	// Phase 3b — download until drained.
	for {
		page, err := d.transport.Download(ctx, d.dev.ID, d.DownloadPageSize)
		if err != nil {
			return report, err
		}
		if len(page.Events) == 0 {
			break
		}
		received, err := d.receive(ctx, page.Events)
		if err != nil {
			return report, err
		}
		report.Downloaded += received
		d.RestoreCursor(page.NextPosition)

		// Phase 4 — ack so the hub advances our cursor.
		if err := d.transport.AckDownload(ctx, d.dev.ID, DownloadAck{
			ReceivedCount:   received,
			LastHubPosition: page.NextPosition,
		}); err != nil {
			return report, err
		}
		if page.NextPosition >= page.HubCurrentPosition {
			break
		}
	}

	return report, nil
}

// receive appends downloaded events locally, deduplicating by event ID.
// A local version conflict means this device's own unsynced or renumbered
// history diverged from the hub's; the hub copy is authoritative, so the
// event is appended at the local tail — never dropped — and consumers
// that need semantic order use the causal orderer.
func (d *DeviceEngine) receive(ctx context.Context, events []event.Envelope) (int, error) {
	received := 0
	var fresh []event.Envelope
	for _, env := range events {
		res, err := d.store.Append(ctx, env)
		if eventstore.IsVersionConflict(err) {
			key := eventstore.StreamKey{AggregateType: env.AggregateType, AggregateID: env.AggregateID}
			version, verr := d.store.StreamVersion(ctx, key)
			if verr != nil {
				return received, verr
			}
			relocated := env.WithVersion(version + 1)
			if res, err = d.store.Append(ctx, relocated); err != nil {
				return received, err
			}
			d.logger.Debug("relocated downloaded event to local tail",
				"event_id", env.EventID.String(), "local_version", relocated.AggregateVersion)
			env = relocated
		} else if err != nil {
			return received, err
		}

		received++
		if !res.Duplicate {
			fresh = append(fresh, env)
		}
	}
	if d.dispatcher != nil && len(fresh) > 0 {
		d.dispatcher.Dispatch(fresh)
	}
	return received, nil
}
