package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"

	"clinicore/internal/aggregate"
	"clinicore/internal/causal"
	"clinicore/internal/compensation"
	"clinicore/internal/dispatch"
	"clinicore/internal/event"
	"clinicore/internal/eventstore"
	"clinicore/internal/readmodel"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
)

// Hub is the reconciliation half of the protocol. One active session per
// device: the per-device lock keeps cursors consistent while separate
// devices sync in parallel.
type Hub struct {
	store       eventstore.Store
	registry    DeviceRegistry
	states      StateStore
	projector   *readmodel.Projector
	compensator *compensation.Engine
	dispatcher  *dispatch.Dispatcher // optional live fan-out
	clock       event.Clock
	logger      *slog.Logger

	mu       stdsync.Mutex
	sessions map[string]*stdsync.Mutex
}

func NewHub(
	store eventstore.Store,
	registry DeviceRegistry,
	states StateStore,
	projector *readmodel.Projector,
	compensator *compensation.Engine,
	dispatcher *dispatch.Dispatcher,
	clock event.Clock,
	logger *slog.Logger,
) *Hub {
	if clock == nil {
		clock = event.SystemClock{}
	}
	return &Hub{
		store:       store,
		registry:    registry,
		states:      states,
		projector:   projector,
		compensator: compensator,
		dispatcher:  dispatcher,
		clock:       clock,
		logger:      logger,
		sessions:    make(map[string]*stdsync.Mutex),
	}
}

func (h *Hub) session(deviceID string) *stdsync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.sessions[deviceID]
	if !ok {
		m = &stdsync.Mutex{}
		h.sessions[deviceID] = m
	}
	return m
}

// Handshake validates the device and computes clock drift (phase 1).
func (h *Hub) Handshake(ctx context.Context, req Handshake) (HandshakeAck, error) {
	rec, err := h.registry.Get(ctx, req.DeviceID)
	if err == ErrUnknownDevice {
		return HandshakeAck{Status: StatusUnknownDevice}, nil
	}
	if err != nil {
		return HandshakeAck{}, err
	}
	if rec.Revoked {
		return HandshakeAck{Status: StatusDeviceRevoked}, nil
	}
	if rec.OrganizationID != req.OrgID {
		return HandshakeAck{Status: StatusOrgMismatch}, nil
	}
	if _, err := domain.ParseProtocolVersion(req.ProtocolVersion); err != nil {
		return HandshakeAck{Status: StatusProtocolUnsupported}, nil
	}

	now := h.clock.Now()
	drift := now.Sub(req.DeviceClock).Milliseconds() * -1 // positive = device fast
	pos, err := h.store.CurrentPosition(ctx)
	if err != nil {
		return HandshakeAck{}, err
	}

	var available uint64
	if pos > req.LastDownloadedPosition {
		available = pos - req.LastDownloadedPosition
	}
	if abs64(drift) > int64(event.MaxClockSkew/time.Millisecond) {
		// Excess drift is accepted but annotated for the documentation
		// audit; the adjusted timestamps keep causal order sane.
		h.logger.Warn("device clock drift exceeds safety threshold",
			"device_id", req.DeviceID, "drift_ms", drift)
	}

	handshakes.WithLabelValues(string(StatusReady)).Inc()
	return HandshakeAck{
		Status:             StatusReady,
		HubClock:           now,
		ComputedDriftMs:    drift,
		HubCurrentPosition: pos,
		EventsAvailable:    available,
	}, nil
}

// Upload processes one batch (phase 3a). Idempotent: re-sending a batch
// yields the same ack with every event reported Duplicate.
func (h *Hub) Upload(ctx context.Context, deviceID string, batch Upload) (UploadAck, error) {
	lock := h.session(deviceID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := h.registry.Get(ctx, deviceID)
	if err != nil {
		return UploadAck{}, err
	}
	if rec.Revoked {
		return UploadAck{}, dErrors.New(dErrors.CodePrecondition, "device is revoked")
	}

	var ack UploadAck
	var maxLSN uint64
	var accepted []event.Envelope

	for _, env := range batch.Events {
		env.SyncBatchID = batch.SyncBatchID
		if env.LocalSequenceNumber > maxLSN {
			maxLSN = env.LocalSequenceNumber
		}

		exists, err := h.store.Exists(ctx, env.EventID)
		if err != nil {
			return UploadAck{}, err
		}
		if exists {
			ack.Duplicate = append(ack.Duplicate, env.EventID)
			continue
		}

		res, err := h.store.Append(ctx, env)
		switch {
		case err == nil && res.Duplicate:
			ack.Duplicate = append(ack.Duplicate, env.EventID)

		case err == nil:
			ack.Accepted = append(ack.Accepted, env.EventID)
			accepted = append(accepted, env)
			if err := h.projector.Apply(ctx, env); err != nil {
				return UploadAck{}, err
			}

		case eventstore.IsVersionConflict(err):
			outcome, emitted, appendedEnv, rerr := h.resolveConflict(ctx, env)
			if rerr != nil {
				return UploadAck{}, rerr
			}
			ack.Conflicted = append(ack.Conflicted, outcome)
			ack.Compensations = append(ack.Compensations, emitted...)
			if appendedEnv != nil {
				accepted = append(accepted, *appendedEnv)
				if err := h.projector.Apply(ctx, *appendedEnv); err != nil {
					return UploadAck{}, err
				}
			}
			conflictsResolved.WithLabelValues(string(outcome.Resolution)).Inc()

		default:
			return UploadAck{}, err
		}
	}

	// Cross-aggregate invariant checks run post-commit, after the whole
	// batch has landed, so an auto-compensation never races a later event
	// of the same batch.
	var emitted []event.Envelope
	for _, env := range accepted {
		comps, err := h.compensator.Inspect(ctx, env)
		if err != nil {
			return UploadAck{}, err
		}
		for _, comp := range comps {
			if err := h.projector.Apply(ctx, comp); err != nil {
				return UploadAck{}, err
			}
		}
		emitted = append(emitted, comps...)
	}
	ack.Compensations = append(ack.Compensations, emitted...)

	// Advance the uploaded-LSN watermark; cursors are monotonic.
	state, err := h.states.Get(ctx, deviceID)
	if err != nil {
		return UploadAck{}, err
	}
	if maxLSN > state.LastUploadedLSN {
		state.LastUploadedLSN = maxLSN
	}
	state.DeviceID = deviceID
	state.LastSyncAt = h.clock.Now()
	if err := h.states.Put(ctx, state); err != nil {
		return UploadAck{}, err
	}

	if h.dispatcher != nil {
		if fanout := append(accepted, emitted...); len(fanout) > 0 {
			h.dispatcher.Dispatch(fanout)
		}
	}
	uploadedEvents.Add(float64(len(ack.Accepted)))
	return ack, nil
}

// resolveConflict handles a version conflict on upload: order the
// contested event against its stream causally, replay the state machine,
// and either append it renumbered, record it as a duplicate transition, or
// preserve it in a review item. The contested event is never silently
// discarded.
func (h *Hub) resolveConflict(
	ctx context.Context,
	contested event.Envelope,
) (ConflictOutcome, []event.Envelope, *event.Envelope, error) {
	key := eventstore.StreamKey{AggregateType: contested.AggregateType, AggregateID: contested.AggregateID}
	stream, err := h.store.ReadStream(ctx, key)
	if err != nil {
		return ConflictOutcome{}, nil, nil, err
	}

	agg, ok := aggregate.For(contested.AggregateType)
	if !ok {
		// Unknown kinds cannot be replayed; preserve for review.
		emitted, err := h.compensator.ReviewRejected(ctx, contested, "unknown aggregate type")
		return ConflictOutcome{EventID: contested.EventID, Resolution: ResolutionRejected}, emitted, nil, err
	}

	all := append(append([]event.Envelope{}, stream...), contested)
	ordered, err := causal.Order(all)
	if err != nil {
		// A causation cycle is a data-integrity violation: flag, don't guess.
		emitted, rerr := h.compensator.ReviewRejected(ctx, contested, err.Error())
		if rerr != nil {
			return ConflictOutcome{}, nil, nil, rerr
		}
		return ConflictOutcome{EventID: contested.EventID, Resolution: ResolutionRejected}, emitted, nil, nil
	}

	persisted := make(map[domain.EventID]struct{}, len(stream))
	for _, e := range stream {
		persisted[e.EventID] = struct{}{}
	}

	// Replay in causal order. Persisted events always apply — the stream
	// is immutable — but once the contested event wins its causal slot,
	// any later persisted event the state machine no longer admits is
	// flagged for review (it stays in the stream; nothing is discarded).
	state := agg.NewState()
	appliedTypes := make(map[string]struct{})
	var verdict Resolution
	var displaced []event.Envelope
	contestedApplied := false
	for _, e := range ordered {
		if _, isPersisted := persisted[e.EventID]; isPersisted {
			if contestedApplied && verdict == ResolutionAccepted && !aggregate.Permits(agg, state, e) {
				displaced = append(displaced, e)
			}
			state = agg.Apply(state, e)
			appliedTypes[e.EventType] = struct{}{}
			continue
		}
		// The contested event at its causal position.
		switch {
		case aggregate.Permits(agg, state, e):
			verdict = ResolutionAccepted
		default:
			if _, dup := appliedTypes[e.EventType]; dup {
				verdict = ResolutionDuplicateTransition
			} else {
				verdict = ResolutionRejected
			}
		}
		contestedApplied = true
		state = agg.Apply(state, e)
	}

	switch verdict {
	case ResolutionAccepted:
		// Physical position is the stream tail; semantic position is the
		// causal one consumers reconstruct via the orderer.
		renumbered := contested.WithVersion(uint64(len(stream)) + 1)
		if _, err := h.store.Append(ctx, renumbered); err != nil {
			return ConflictOutcome{}, nil, nil, err
		}
		var emitted []event.Envelope
		for _, d := range displaced {
			reviews, rerr := h.compensator.ReviewRejected(ctx, d,
				"transition no longer permitted at its causal position after conflict resolution")
			if rerr != nil {
				return ConflictOutcome{}, nil, nil, rerr
			}
			emitted = append(emitted, reviews...)
		}
		h.logger.Info("conflict resolved by renumbering",
			"event_id", contested.EventID.String(),
			"new_version", renumbered.AggregateVersion,
			"displaced", len(displaced),
		)
		return ConflictOutcome{
			EventID:    contested.EventID,
			Resolution: ResolutionAccepted,
			NewVersion: renumbered.AggregateVersion,
		}, emitted, &renumbered, nil

	case ResolutionDuplicateTransition:
		return ConflictOutcome{EventID: contested.EventID, Resolution: ResolutionDuplicateTransition}, nil, nil, nil

	default:
		emitted, err := h.compensator.ReviewRejected(ctx, contested, "state machine rejected event at its causal position")
		if err != nil {
			return ConflictOutcome{}, nil, nil, err
		}
		return ConflictOutcome{EventID: contested.EventID, Resolution: ResolutionRejected}, emitted, nil, nil
	}
}

// Download serves events past the device's acknowledged cursor (phase 3b),
// filtered by organization and visibility, in hub insertion order.
func (h *Hub) Download(ctx context.Context, deviceID string, limit int) (Download, error) {
	lock := h.session(deviceID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := h.registry.Get(ctx, deviceID)
	if err != nil {
		return Download{}, err
	}
	state, err := h.states.Get(ctx, deviceID)
	if err != nil {
		return Download{}, err
	}

	filter := eventstore.Filter{
		OrganizationID: rec.OrganizationID,
		Visibility:     rec.Granted,
	}
	events, next, err := h.store.ReadAfter(ctx, filter, state.LastDownloadedPosition, limit)
	if err != nil {
		return Download{}, err
	}
	pos, err := h.store.CurrentPosition(ctx)
	if err != nil {
		return Download{}, err
	}
	downloadedEvents.Add(float64(len(events)))
	return Download{Events: events, NextPosition: next, HubCurrentPosition: pos}, nil
}

// AckDownload advances the device's download cursor (monotonic).
func (h *Hub) AckDownload(ctx context.Context, deviceID string, ack DownloadAck) error {
	lock := h.session(deviceID)
	lock.Lock()
	defer lock.Unlock()

	state, err := h.states.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if ack.LastHubPosition > state.LastDownloadedPosition {
		state.LastDownloadedPosition = ack.LastHubPosition
	}
	state.DeviceID = deviceID
	state.LastSyncAt = h.clock.Now()
	return h.states.Put(ctx, state)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
