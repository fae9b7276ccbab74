// Package handler orchestrates the write path: load stream → rehydrate →
// cross-aggregate preconditions → decide → stamp metadata → append with
// optimistic-concurrency retry → hand off to the dispatcher. The handler
// contains no domain logic of its own.
package handler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"clinicore/internal/aggregate"
	"clinicore/internal/device"
	"clinicore/internal/event"
	"clinicore/internal/eventstore"
	"clinicore/internal/readmodel"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
	"clinicore/pkg/requestcontext"
)

// Dispatcher is the post-commit hand-off. Implementations must not block
// the caller; a failed enqueue is recovered by catch-up polling.
type Dispatcher interface {
	Dispatch(events []event.Envelope)
}

// DefaultMaxRetries bounds the optimistic-concurrency retry loop.
const DefaultMaxRetries = 5

// Options tune a Handler.
type Options struct {
	// MaxRetries overrides DefaultMaxRetries when > 0.
	MaxRetries int
	// StrictPreconditions makes a missing read-model entry fail reference
	// checks. The hub runs strict; devices run lax so offline operation
	// never surfaces cross-aggregate errors for state the device has not
	// yet synced (violations are compensated at sync time instead).
	StrictPreconditions bool
}

// Handler executes typed commands against aggregate streams.
type Handler struct {
	store      eventstore.Store
	readModels readmodel.Store
	device     *device.Device
	clock      event.Clock
	dispatcher Dispatcher
	logger     *slog.Logger
	opts       Options
}

func New(
	store eventstore.Store,
	readModels readmodel.Store,
	dev *device.Device,
	clock event.Clock,
	dispatcher Dispatcher,
	logger *slog.Logger,
	opts Options,
) *Handler {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if clock == nil {
		clock = event.SystemClock{}
	}
	return &Handler{
		store:      store,
		readModels: readModels,
		device:     dev,
		clock:      clock,
		dispatcher: dispatcher,
		logger:     logger,
		opts:       opts,
	}
}

// Handle runs one command to completion. All failures are coded errors:
// CodeValidation (no aggregate registered for the command), CodePrecondition,
// CodeDomain, CodeConcurrency, or CodeTransient.
func (h *Handler) Handle(ctx context.Context, cmd aggregate.Command) ([]event.Envelope, error) {
	agg, ok := aggregate.For(cmd.AggregateType())
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeValidation, "no aggregate registered for %s", cmd.AggregateType())
	}

	key := eventstore.StreamKey{
		AggregateType: cmd.AggregateType(),
		AggregateID:   cmd.Context().AggregateID,
	}

	for attempt := 0; attempt <= h.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := h.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		persisted, err := h.attempt(ctx, agg, key, cmd)
		if err == nil {
			commandsTotal.WithLabelValues(cmd.CommandType(), "success").Inc()
			if h.dispatcher != nil && len(persisted) > 0 {
				h.dispatcher.Dispatch(persisted)
			}
			return persisted, nil
		}
		if eventstore.IsVersionConflict(err) {
			conflictRetries.WithLabelValues(cmd.CommandType()).Inc()
			h.logger.Debug("append conflict, retrying with fresh state",
				"command", cmd.CommandType(),
				"aggregate_id", key.AggregateID.String(),
				"attempt", attempt+1,
			)
			continue
		}
		commandsTotal.WithLabelValues(cmd.CommandType(), string(dErrors.CodeOf(err))).Inc()
		return nil, err
	}

	commandsTotal.WithLabelValues(cmd.CommandType(), string(dErrors.CodeConcurrency)).Inc()
	return nil, dErrors.Newf(dErrors.CodeConcurrency,
		"command %s exhausted %d retries", cmd.CommandType(), h.opts.MaxRetries)
}

func (h *Handler) attempt(
	ctx context.Context,
	agg aggregate.Aggregate,
	key eventstore.StreamKey,
	cmd aggregate.Command,
) ([]event.Envelope, error) {
	stream, err := h.store.ReadStream(ctx, key)
	if err != nil {
		return nil, err
	}
	state, baseVersion := aggregate.Rehydrate(agg, stream)

	if err := h.checkPreconditions(ctx, cmd); err != nil {
		return nil, err
	}

	drafts, err := agg.Decide(state, cmd, h.clock)
	if err != nil {
		return nil, err
	}

	persisted := make([]event.Envelope, 0, len(drafts))
	for i, draft := range drafts {
		env := h.stamp(ctx, cmd, key, draft, baseVersion+uint64(i)+1)
		if _, err := h.store.Append(ctx, env); err != nil {
			return nil, err
		}
		persisted = append(persisted, env)
	}
	return persisted, nil
}

// stamp fills the envelope metadata the aggregate left open. Event IDs are
// time-sortable; the local sequence number comes from the device counter so
// the outbox preserves production order.
func (h *Handler) stamp(ctx context.Context, cmd aggregate.Command, key eventstore.StreamKey, draft event.Draft, version uint64) event.Envelope {
	cc := cmd.Context()

	correlation := cc.CorrelationID
	if correlation.IsNil() {
		correlation = requestcontext.CorrelationID(ctx)
	}
	if correlation.IsNil() {
		correlation = domain.NewCorrelationID()
	}
	visibility := cc.Visibility
	if len(visibility) == 0 {
		visibility = domain.DefaultVisibility()
	}

	return event.Envelope{
		EventID:             domain.NewEventID(),
		EventType:           draft.EventType,
		SchemaVersion:       1,
		AggregateID:         key.AggregateID,
		AggregateType:       key.AggregateType,
		AggregateVersion:    version,
		OccurredAt:          cc.OccurredAt,
		PerformedBy:         cc.PerformedBy,
		PerformerRole:       cc.PerformerRole,
		OrganizationID:      cc.OrganizationID,
		FacilityID:          cc.FacilityID,
		DeviceID:            h.device.ID,
		ConnectionStatus:    h.device.ConnectionStatus(),
		DeviceClockDriftMs:  h.device.Drift(),
		LocalSequenceNumber: h.device.NextLSN(),
		CorrelationID:       correlation,
		CausationID:         cc.CausationID,
		Visibility:          visibility,
		Payload:             draft.Payload,
	}
}

// backoff sleeps exponentially with jitter between retries, honoring the
// command deadline.
func (h *Handler) backoff(ctx context.Context, attempt int) error {
	base := 10 * time.Millisecond << (attempt - 1)
	delay := base + time.Duration(rand.Int63n(int64(base)))

	if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
		return dErrors.New(dErrors.CodeTransient, "deadline exceeded while retrying")
	}
	select {
	case <-ctx.Done():
		return dErrors.Wrap(dErrors.CodeTransient, "command cancelled", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}
