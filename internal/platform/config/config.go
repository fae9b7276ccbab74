// Package config centralizes environment-driven configuration so main
// stays lean. Development defaults are deliberate; production overrides
// every secret-bearing value.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Hub captures hub daemon configuration.
type Hub struct {
	Addr string

	// PostgresURL selects the durable event store; empty runs in-memory
	// (development and tests only).
	PostgresURL string

	// RedisURL selects the shared read-model store; empty runs in-memory.
	RedisURL string

	// KafkaSeeds enables the downstream event export when non-empty.
	KafkaSeeds []string
	KafkaTopic string

	// CommandRetries bounds the optimistic-concurrency retry loop.
	CommandRetries int

	// CatchUpInterval paces the dispatcher's catch-up poller.
	CatchUpInterval time.Duration
}

// FromEnv builds hub configuration from environment variables.
func FromEnv() Hub {
	cfg := Hub{
		Addr:            envOr("CLINICORE_ADDR", ":8080"),
		PostgresURL:     os.Getenv("CLINICORE_POSTGRES_URL"),
		RedisURL:        os.Getenv("CLINICORE_REDIS_URL"),
		KafkaTopic:      envOr("CLINICORE_KAFKA_TOPIC", "clinicore.events"),
		CommandRetries:  envInt("CLINICORE_COMMAND_RETRIES", 5),
		CatchUpInterval: envDuration("CLINICORE_CATCHUP_INTERVAL", 2*time.Second),
	}
	if seeds := os.Getenv("CLINICORE_KAFKA_SEEDS"); seeds != "" {
		cfg.KafkaSeeds = strings.Split(seeds, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
