package httptransport_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
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
	"clinicore/internal/gateway"
	"clinicore/internal/handler"
	"clinicore/internal/readmodel"
	clinsync "clinicore/internal/sync"
	httptransport "clinicore/internal/transport/http"
	"clinicore/pkg/domain"
)

var testClock = event.FixedClock{Instant: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)}

// newServer stands up a hub with an in-memory stack behind httptest.
func newServer(t *testing.T) (*httptest.Server, domain.OrganizationID, *clinsync.InMemoryRegistry) {
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

	cmdHandler := handler.New(store, readModels, hubDev, testClock, nil, slog.Default(),
		handler.Options{StrictPreconditions: true})
	commands := gateway.New(cmdHandler, slog.Default())
	queries := gateway.NewQueryGateway()

	h := httptransport.NewHandler(hub, commands, queries, slog.Default())
	srv := httptest.NewServer(httptransport.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, org, registry
}

// TestSyncOverHTTP drives a full device session through the HTTP client
// against the router, mirroring the in-process transport behavior.
func TestSyncOverHTTP(t *testing.T) {
	ctx := context.Background()
	srv, org, registry := newServer(t)

	dev := device.New("tablet-01", org, domain.FacilityID(uuid.New()))
	require.NoError(t, registry.Put(ctx, clinsync.DeviceRecord{
		DeviceID: dev.ID, OrganizationID: org, Granted: []domain.Audience{domain.AudienceClinicalStaff},
	}))

	localStore := eventstore.NewInMemoryStore(testClock)
	outbox := clinsync.NewOutbox()
	localHandler := handler.New(localStore, readmodel.NewInMemoryStore(), dev, testClock, outbox, slog.Default(), handler.Options{})

	patientID := domain.NewAggregateID()
	_, err := localHandler.Handle(ctx, aggregate.RegisterPatient{
		Ctx: aggregate.Context{
			AggregateID:    patientID,
			OccurredAt:     testClock.Instant,
			PerformedBy:    domain.PerformerID(uuid.New()),
			PerformerRole:  domain.RoleFrontDesk,
			OrganizationID: org,
			FacilityID:     dev.FacilityID,
			DeviceID:       dev.ID,
			CorrelationID:  domain.NewCorrelationID(),
		},
		GivenName: "Maren", FamilyName: "Holt", DateOfBirth: "1958-03-12",
	})
	require.NoError(t, err)

	engine := clinsync.NewDeviceEngine(dev, localStore, outbox, nil,
		httptransport.NewClient(srv.URL), testClock, slog.Default())

	report, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Zero(t, outbox.Len())

	// A second session is a no-op.
	report, err = engine.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Uploaded)
	assert.Zero(t, report.Downloaded)
}

func TestCommandEndpoint(t *testing.T) {
	srv, org, _ := newServer(t)
	client := srv.Client()

	post := func(body string) *http.Response {
		resp, err := client.Post(srv.URL+"/commands", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	t.Run("unknown command type", func(t *testing.T) {
		resp := post(`{"command_type":"Frobnicate","payload":{}}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("validation failure", func(t *testing.T) {
		resp := post(`{"command_type":"RegisterPatient","payload":{"patient_id":"nope"}}`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("successful registration", func(t *testing.T) {
		body := `{"command_type":"RegisterPatient","payload":{
			"patient_id":"` + uuid.NewString() + `",
			"occurred_at":"2025-06-02T11:00:00Z",
			"performed_by":"` + uuid.NewString() + `",
			"performer_role":"front_desk",
			"organization_id":"` + org.String() + `",
			"facility_id":"` + uuid.NewString() + `",
			"device_id":"hub-console",
			"connection_status":"online",
			"given_name":"Ada","family_name":"Byron","date_of_birth":"1979-12-10"
		}}`
		resp := post(body)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newServer(t)
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
