// Command hubd runs the reconciliation hub: the authoritative event store,
// the sync API devices talk to, the projection dispatcher, and the command
// and query gateways.
//
// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal packages.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"clinicore/internal/compensation"
	"clinicore/internal/device"
	"clinicore/internal/dispatch"
	"clinicore/internal/event"
	"clinicore/internal/eventstore"
	"clinicore/internal/gateway"
	"clinicore/internal/handler"
	"clinicore/internal/platform/config"
	"clinicore/internal/platform/httpserver"
	"clinicore/internal/platform/logger"
	platformredis "clinicore/internal/platform/redis"
	"clinicore/internal/projection"
	"clinicore/internal/readmodel"
	clinsync "clinicore/internal/sync"
	httptransport "clinicore/internal/transport/http"
	"clinicore/pkg/domain"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()
	clock := event.SystemClock{}

	// Event store: Postgres when configured, in-memory for development.
	var store eventstore.Store = eventstore.NewInMemoryStore(clock)
	var registry clinsync.DeviceRegistry = clinsync.NewInMemoryRegistry()
	var states clinsync.StateStore = clinsync.NewInMemoryStateStore()
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		pgStore := eventstore.NewPostgresStore(db, clock)
		pgRegistry := clinsync.NewPostgresRegistry(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("event store schema", "error", err)
			os.Exit(1)
		}
		if err := pgRegistry.EnsureSchema(ctx); err != nil {
			log.Error("registry schema", "error", err)
			os.Exit(1)
		}
		store = pgStore
		registry = pgRegistry
		states = clinsync.NewPostgresStateStore(db)
	}

	// Read models: Redis when configured, in-memory otherwise.
	var readModels readmodel.Store = readmodel.NewInMemoryStore()
	if cfg.RedisURL != "" {
		client, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			log.Error("connect redis", "error", err)
			os.Exit(1)
		}
		if client != nil {
			readModels = readmodel.NewRedisStore(client.Client)
			defer client.Close()
		}
	}

	projector := readmodel.NewProjector(readModels)
	summary := projection.NewPatientSummary()

	dispatcher := dispatch.New(store, log, dispatch.Options{CatchUpInterval: cfg.CatchUpInterval})
	dispatcher.Register(projector, dispatch.ModeLive)
	dispatcher.Register(summary, dispatch.ModeLive)
	if len(cfg.KafkaSeeds) > 0 {
		sink, err := dispatch.NewKafkaSink(cfg.KafkaSeeds, cfg.KafkaTopic, log)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		dispatcher.Register(sink, dispatch.ModeLive)
	}
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// The hub's own device context stamps system-emitted events.
	org := hubOrganization(log)
	hubDevice := device.New("hub", org, domain.FacilityID(uuid.New()))
	compensator := compensation.NewEngine(store, readModels, hubDevice, clock, log)
	hub := clinsync.NewHub(store, registry, states, projector, compensator, dispatcher, clock, log)

	cmdHandler := handler.New(store, readModels, hubDevice, clock, dispatcher, log, handler.Options{
		MaxRetries:          cfg.CommandRetries,
		StrictPreconditions: true,
	})
	commands := gateway.New(cmdHandler, log)
	queries := gateway.NewQueryGateway()
	queries.RegisterQuery("GetPatientSummary", summary, projection.QueryMapper)

	apiHandler := httptransport.NewHandler(hub, commands, queries, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(apiHandler))

	log.Info("starting clinicore hub", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// hubOrganization resolves the hub's organization from the environment; a
// fresh ID is minted in development so the hub can run standalone.
func hubOrganization(log *slog.Logger) domain.OrganizationID {
	raw := os.Getenv("CLINICORE_ORGANIZATION_ID")
	if raw == "" {
		log.Warn("CLINICORE_ORGANIZATION_ID not set, minting a development organization")
		return domain.OrganizationID(uuid.New())
	}
	org, err := domain.ParseOrganizationID(raw)
	if err != nil {
		log.Warn("invalid CLINICORE_ORGANIZATION_ID, minting a development organization", "error", err)
		return domain.OrganizationID(uuid.New())
	}
	return org
}
