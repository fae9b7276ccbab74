package sync_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicore/internal/aggregate"
	"clinicore/internal/compensation"
	"clinicore/internal/device"
	"clinicore/internal/event"
	"clinicore/internal/eventstore"
	"clinicore/internal/handler"
	"clinicore/internal/readmodel"
	clinsync "clinicore/internal/sync"
	"clinicore/pkg/domain"
)

var testClock = event.FixedClock{Instant: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}

type hubFixture struct {
	org        domain.OrganizationID
	facility   domain.FacilityID
	store      *eventstore.InMemoryStore
	readModels *readmodel.InMemoryStore
	projector  *readmodel.Projector
	registry   *clinsync.InMemoryRegistry
	states     *clinsync.InMemoryStateStore
	hub        *clinsync.Hub
}

func newHub(t *testing.T) *hubFixture {
	t.Helper()
	org := domain.OrganizationID(uuid.New())
	store := eventstore.NewInMemoryStore(testClock)
	readModels := readmodel.NewInMemoryStore()
	projector := readmodel.NewProjector(readModels)
	hubDev := device.New("hub", org, domain.FacilityID(uuid.New()))
	comp := compensation.NewEngine(store, readModels, hubDev, testClock, slog.Default())
	registry := clinsync.NewInMemoryRegistry()
	states := clinsync.NewInMemoryStateStore()
	hub := clinsync.NewHub(store, registry, states, projector, comp, nil, testClock, slog.Default())
	return &hubFixture{
		org: org, facility: domain.FacilityID(uuid.New()),
		store: store, readModels: readModels, projector: projector,
		registry: registry, states: states, hub: hub,
	}
}

type deviceFixture struct {
	dev     *device.Device
	store   *eventstore.InMemoryStore
	outbox  *clinsync.Outbox
	handler *handler.Handler
	engine  *clinsync.DeviceEngine
}

func newDevice(t *testing.T, h *hubFixture, id string) *deviceFixture {
	t.Helper()
	dev := device.New(id, h.org, h.facility)
	store := eventstore.NewInMemoryStore(testClock)
	outbox := clinsync.NewOutbox()
	readModels := readmodel.NewInMemoryStore()
	cmdHandler := handler.New(store, readModels, dev, testClock, handler.MultiDispatcher{outbox}, slog.Default(), handler.Options{})
	engine := clinsync.NewDeviceEngine(dev, store, outbox, nil, clinsync.LocalTransport{Hub: h.hub}, testClock, slog.Default())

	require.NoError(t, h.registry.Put(context.Background(), clinsync.DeviceRecord{
		DeviceID: id, OrganizationID: h.org, Granted: []domain.Audience{domain.AudienceClinicalStaff},
	}))
	return &deviceFixture{dev: dev, store: store, outbox: outbox, handler: cmdHandler, engine: engine}
}

func commandCtx(h *hubFixture, dev *device.Device, aggID domain.AggregateID, occurredAt time.Time) aggregate.Context {
	return aggregate.Context{
		AggregateID:    aggID,
		OccurredAt:     occurredAt,
		PerformedBy:    domain.PerformerID(uuid.New()),
		PerformerRole:  domain.RolePhysician,
		OrganizationID: h.org,
		FacilityID:     h.facility,
		DeviceID:       dev.ID,
		CorrelationID:  domain.NewCorrelationID(),
	}
}

// seedHubEncounter puts an encounter stream directly on the hub and folds
// it into the hub read models, simulating earlier synced activity.
func seedHubEncounter(t *testing.T, h *hubFixture, encID domain.AggregateID, patient string, stages ...string) {
	t.Helper()
	ctx := context.Background()
	version := uint64(0)
	for _, eventType := range stages {
		version++
		env := event.Envelope{
			EventID:             domain.NewEventID(),
			EventType:           eventType,
			SchemaVersion:       1,
			AggregateID:         encID,
			AggregateType:       domain.AggregateEncounter,
			AggregateVersion:    version,
			OccurredAt:          testClock.Instant.Add(-time.Hour).Add(time.Duration(version) * time.Minute),
			PerformedBy:         domain.PerformerID(uuid.New()),
			PerformerRole:       domain.RolePhysician,
			OrganizationID:      h.org,
			FacilityID:          h.facility,
			DeviceID:            "seed",
			ConnectionStatus:    domain.ConnectionOnline,
			LocalSequenceNumber: version,
			CorrelationID:       domain.NewCorrelationID(),
			Visibility:          domain.DefaultVisibility(),
			Payload:             map[string]any{"encounter_id": encID.String(), "patient_id": patient},
		}
		_, err := h.store.Append(ctx, env)
		require.NoError(t, err)
		require.NoError(t, h.projector.Apply(ctx, env))
	}
}

// Scenario 1 — fact-only offline burst: three fact events sync cleanly as
// new streams with no conflicts and no compensations.
func TestSync_FactOnlyOfflineBurst(t *testing.T) {
	ctx := context.Background()
	h := newHub(t)
	d1 := newDevice(t, h, "d1")

	encID := domain.NewAggregateID()
	patient := domain.PatientID(uuid.New())
	seedHubEncounter(t, h, encID, patient.String(), event.TypePatientCheckedIn, event.TypeEncounterBegan)
	hubPosBefore, _ := h.store.CurrentPosition(ctx)

	for i, cmd := range []aggregate.Command{
		aggregate.RecordVitalSigns{Ctx: commandCtx(h, d1.dev, domain.NewAggregateID(), testClock.Instant), PatientID: patient, EncounterID: encID, Measurements: map[string]any{"pulse_bpm": 72}},
		aggregate.ReportSymptom{Ctx: commandCtx(h, d1.dev, domain.NewAggregateID(), testClock.Instant), PatientID: patient, EncounterID: encID, Description: "dizziness"},
		aggregate.RecordVitalSigns{Ctx: commandCtx(h, d1.dev, domain.NewAggregateID(), testClock.Instant), PatientID: patient, EncounterID: encID, Measurements: map[string]any{"pulse_bpm": 75}},
	} {
		events, err := d1.handler.Handle(ctx, cmd)
		require.NoError(t, err, "command %d", i)
		require.Len(t, events, 1)
		assert.Equal(t, uint64(i+1), events[0].LocalSequenceNumber)
	}
	require.Equal(t, 3, d1.outbox.Len())

	report, err := d1.engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Uploaded)
	assert.Zero(t, report.Conflicted)
	assert.Zero(t, report.Compensations)
	assert.Zero(t, d1.outbox.Len())

	hubPosAfter, _ := h.store.CurrentPosition(ctx)
	assert.Equal(t, hubPosBefore+3, hubPosAfter)
}

// Scenario 2 — concurrent encounter transitions. D1's Triaged lands first;
// D2's earlier-in-causal-order Began then conflicts. Resolution accepts
// Began and flags the displaced Triaged — both events preserved.
func TestSync_ConcurrentEncounterTransitions(t *testing.T) {
	ctx := context.Background()
	h := newHub(t)
	d1 := newDevice(t, h, "d1")
	d2 := newDevice(t, h, "d2")

	encID := domain.NewAggregateID()
	patient := domain.PatientID(uuid.New())
	seedHubEncounter(t, h, encID, patient.String(), event.TypePatientCheckedIn)

	// Both devices start from the hub state (one CheckedIn event).
	for _, d := range []*deviceFixture{d1, d2} {
		_, err := d.engine.Sync(ctx)
		require.NoError(t, err)
		version, err := d.store.StreamVersion(ctx, eventstore.StreamKey{
			AggregateType: domain.AggregateEncounter, AggregateID: encID,
		})
		require.NoError(t, err)
		require.Equal(t, uint64(1), version)
	}

	nine05 := time.Date(2025, 6, 2, 9, 5, 0, 0, time.UTC)
	nine04 := time.Date(2025, 6, 2, 9, 4, 0, 0, time.UTC)

	// Offline, both transition the same encounter.
	triaged, err := d1.handler.Handle(ctx, aggregate.TriagePatient{
		Ctx: commandCtx(h, d1.dev, encID, nine05), AcuityLevel: "2",
	})
	require.NoError(t, err)
	began, err := d2.handler.Handle(ctx, aggregate.BeginEncounter{
		Ctx: commandCtx(h, d2.dev, encID, nine04),
	})
	require.NoError(t, err)

	// D1 first: Triaged accepted as v2.
	r1, err := d1.engine.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, r1.Uploaded)

	// D2 second: version conflict on Began, resolved by causal replay.
	r2, err := d2.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, r2.Conflicted)

	stream, err := h.store.ReadStream(ctx, eventstore.StreamKey{
		AggregateType: domain.AggregateEncounter, AggregateID: encID,
	})
	require.NoError(t, err)
	require.Len(t, stream, 3)
	assert.Equal(t, began[0].EventID, stream[2].EventID)
	assert.Equal(t, uint64(3), stream[2].AggregateVersion)

	// Triaged remains in the stream and is flagged for review.
	assert.Equal(t, triaged[0].EventID, stream[1].EventID)
	reviews, _, err := h.store.ReadAfter(ctx, eventstore.Filter{
		EventTypes: []string{event.TypeCompensationRequired},
	}, 0, 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, triaged[0].EventID.String(), reviews[0].Payload["original_event_id"])
}

// Scenario 3 — appointment confirmed for a patient the hub knows is
// deceased: the append is accepted, the practice cancellation is
// auto-emitted, a review item is recorded, and the device receives all of
// it on download.
func TestSync_AppointmentForDeceasedPatient(t *testing.T) {
	ctx := context.Background()
	h := newHub(t)
	d1 := newDevice(t, h, "d1")

	patient := domain.PatientID(uuid.New())
	require.NoError(t, h.readModels.PutPatientStatus(ctx, readmodel.PatientStatus{
		PatientID: patient.String(), Stage: "deceased",
	}))

	apptID := domain.NewAggregateID()
	_, err := d1.handler.Handle(ctx, aggregate.RequestAppointment{
		Ctx: commandCtx(h, d1.dev, apptID, testClock.Instant), PatientID: patient,
		ScheduledAt: "2025-06-20T10:00:00+02:00",
	})
	require.NoError(t, err)
	_, err = d1.handler.Handle(ctx, aggregate.ConfirmAppointment{
		Ctx: commandCtx(h, d1.dev, apptID, testClock.Instant),
	})
	require.NoError(t, err)

	report, err := d1.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Uploaded)
	assert.NotZero(t, report.Compensations)

	// Hub stream: Requested, Confirmed, then the practice cancellation.
	stream, err := h.store.ReadStream(ctx, eventstore.StreamKey{
		AggregateType: domain.AggregateAppointment, AggregateID: apptID,
	})
	require.NoError(t, err)
	require.Len(t, stream, 3)
	assert.Equal(t, event.TypeAppointmentCancelledByPractice, stream[2].EventType)

	// Review items recorded for the terminal-patient violation.
	reviews, _, err := h.store.ReadAfter(ctx, eventstore.Filter{
		EventTypes: []string{event.TypeCompensationRequired},
	}, 0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, reviews)
	assert.Equal(t, string(domain.InvPatientNotTerminal), reviews[0].Payload["invariant_code"])

	// Device received its own events back plus the cancellation and reviews.
	localStream, err := d1.store.ReadStream(ctx, eventstore.StreamKey{
		AggregateType: domain.AggregateAppointment, AggregateID: apptID,
	})
	require.NoError(t, err)
	assert.Len(t, localStream, 3)
}

// Double sync produces identical device and hub state: phase-level
// idempotency.
func TestSync_RunningTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHub(t)
	d1 := newDevice(t, h, "d1")

	encID := domain.NewAggregateID()
	patient := domain.PatientID(uuid.New())
	seedHubEncounter(t, h, encID, patient.String(), event.TypePatientCheckedIn, event.TypeEncounterBegan)

	vitals, err := d1.handler.Handle(ctx, aggregate.RecordVitalSigns{
		Ctx: commandCtx(h, d1.dev, domain.NewAggregateID(), testClock.Instant),
		PatientID: patient, EncounterID: encID, Measurements: map[string]any{"pulse_bpm": 70},
	})
	require.NoError(t, err)

	first, err := d1.engine.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Uploaded)

	hubPos, _ := h.store.CurrentPosition(ctx)
	devicePos, _ := d1.store.CurrentPosition(ctx)
	cursor := d1.engine.Cursor()

	second, err := d1.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Uploaded)
	assert.Zero(t, second.Downloaded)

	hubPos2, _ := h.store.CurrentPosition(ctx)
	devicePos2, _ := d1.store.CurrentPosition(ctx)
	assert.Equal(t, hubPos, hubPos2)
	assert.Equal(t, devicePos, devicePos2)
	assert.Equal(t, cursor, d1.engine.Cursor())

	// Re-uploading the same batch out of band reports Duplicate.
	pendingBefore := d1.outbox.Len()
	require.Zero(t, pendingBefore)
	reupload, err := h.hub.Upload(ctx, "d1", clinsync.Upload{SyncBatchID: domain.NewSyncBatchID(), Events: vitals})
	require.NoError(t, err)
	assert.Empty(t, reupload.Accepted)
	assert.Equal(t, []domain.EventID{vitals[0].EventID}, reupload.Duplicate)
}

// Two devices converge through the hub: after both sync twice, they hold
// identical event sets.
func TestSync_TwoDevicesConverge(t *testing.T) {
	ctx := context.Background()
	h := newHub(t)
	d1 := newDevice(t, h, "d1")
	d2 := newDevice(t, h, "d2")

	encID := domain.NewAggregateID()
	patient := domain.PatientID(uuid.New())
	seedHubEncounter(t, h, encID, patient.String(), event.TypePatientCheckedIn, event.TypeEncounterBegan)

	_, err := d1.handler.Handle(ctx, aggregate.RecordVitalSigns{
		Ctx: commandCtx(h, d1.dev, domain.NewAggregateID(), testClock.Instant),
		PatientID: patient, EncounterID: encID, Measurements: map[string]any{"pulse_bpm": 64},
	})
	require.NoError(t, err)
	_, err = d2.handler.Handle(ctx, aggregate.ReportSymptom{
		Ctx: commandCtx(h, d2.dev, domain.NewAggregateID(), testClock.Instant),
		PatientID: patient, EncounterID: encID, Description: "fatigue",
	})
	require.NoError(t, err)

	for range 2 {
		_, err = d1.engine.Sync(ctx)
		require.NoError(t, err)
		_, err = d2.engine.Sync(ctx)
		require.NoError(t, err)
	}

	ids := func(store *eventstore.InMemoryStore) map[string]bool {
		events, _, err := store.ReadAfter(ctx, eventstore.Filter{}, 0, 0)
		require.NoError(t, err)
		out := map[string]bool{}
		for _, e := range events {
			out[e.EventID.String()] = true
		}
		return out
	}

	hubIDs := ids(h.store)
	assert.Equal(t, hubIDs, ids(d1.store))
	assert.Equal(t, hubIDs, ids(d2.store))
	assert.Len(t, hubIDs, 4)
}

func TestHandshake_Verdicts(t *testing.T) {
	ctx := context.Background()
	h := newHub(t)
	newDevice(t, h, "d1")

	base := clinsync.Handshake{
		DeviceID: "d1", OrgID: h.org, ProtocolVersion: 1,
		DeviceClock: testClock.Instant.Add(-2 * time.Second),
	}

	t.Run("ready with computed drift", func(t *testing.T) {
		ack, err := h.hub.Handshake(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, clinsync.StatusReady, ack.Status)
		// Device clock reads 2s behind the hub: drift is negative.
		assert.Equal(t, int64(-2000), ack.ComputedDriftMs)
	})

	t.Run("unknown device", func(t *testing.T) {
		req := base
		req.DeviceID = "ghost"
		ack, err := h.hub.Handshake(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, clinsync.StatusUnknownDevice, ack.Status)
	})

	t.Run("org mismatch", func(t *testing.T) {
		req := base
		req.OrgID = domain.OrganizationID(uuid.New())
		ack, err := h.hub.Handshake(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, clinsync.StatusOrgMismatch, ack.Status)
	})

	t.Run("protocol unsupported", func(t *testing.T) {
		req := base
		req.ProtocolVersion = 99
		ack, err := h.hub.Handshake(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, clinsync.StatusProtocolUnsupported, ack.Status)
	})

	t.Run("revoked device", func(t *testing.T) {
		require.NoError(t, h.registry.Revoke(ctx, "d1"))
		ack, err := h.hub.Handshake(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, clinsync.StatusDeviceRevoked, ack.Status)
	})
}

func TestDownload_RespectsVisibilityAndOrg(t *testing.T) {
	ctx := context.Background()
	h := newHub(t)
	newDevice(t, h, "d1")

	// A part2-restricted event the device's grants do not cover.
	restricted := event.Envelope{
		EventID:             domain.NewEventID(),
		EventType:           event.TypeLabResultRecorded,
		SchemaVersion:       1,
		AggregateID:         domain.NewAggregateID(),
		AggregateType:       domain.AggregateLabResult,
		AggregateVersion:    1,
		OccurredAt:          testClock.Instant,
		PerformedBy:         domain.PerformerID(uuid.New()),
		PerformerRole:       domain.RoleLabTechnician,
		OrganizationID:      h.org,
		FacilityID:          h.facility,
		DeviceID:            "seed",
		ConnectionStatus:    domain.ConnectionOnline,
		LocalSequenceNumber: 1,
		CorrelationID:       domain.NewCorrelationID(),
		Visibility:          []domain.Audience{domain.AudiencePart2},
		Payload:             map[string]any{},
	}
	_, err := h.store.Append(ctx, restricted)
	require.NoError(t, err)

	page, err := h.hub.Download(ctx, "d1", 100)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}
