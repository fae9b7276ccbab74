// Package gateway is the single entry point for untrusted requests. The
// command gateway validates structure, maps request records to typed
// commands, routes to the command handler, and wraps every outcome in a
// result value — it never panics, never throws, and never runs domain
// logic. The query gateway is its read-side counterpart.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"clinicore/internal/aggregate"
	"clinicore/internal/event"
	dErrors "clinicore/pkg/domain-errors"
)

// Request is the transport-agnostic command record.
type Request struct {
	CommandType string         `json:"command_type"`
	Payload     map[string]any `json:"payload"`
}

// ResultError carries the outcome taxonomy to the caller: the coded kind,
// the stable invariant identifier when one applies, and a human-readable
// detail used only for display.
type ResultError struct {
	Kind      dErrors.Code `json:"kind"`
	Invariant string       `json:"invariant,omitempty"`
	Detail    string       `json:"detail"`
}

// Result is returned from every gateway invocation.
type Result struct {
	Success bool             `json:"success"`
	Events  []event.Envelope `json:"events,omitempty"`
	Error   *ResultError     `json:"error,omitempty"`
}

// Mapper turns a structurally valid payload into a typed command.
type Mapper func(payload map[string]any) (aggregate.Command, error)

// CommandHandler is the downstream write path.
type CommandHandler interface {
	Handle(ctx context.Context, cmd aggregate.Command) ([]event.Envelope, error)
}

// Gateway routes command requests.
type Gateway struct {
	handler CommandHandler
	mappers map[string]Mapper
	logger  *slog.Logger
}

// New builds a gateway with the full command-type registry installed.
func New(handler CommandHandler, logger *slog.Logger) *Gateway {
	g := &Gateway{
		handler: handler,
		mappers: make(map[string]Mapper),
		logger:  logger,
	}
	registerAll(g)
	return g
}

// Register installs a mapper for a command type. Later registrations win,
// which tests use to stub single commands.
func (g *Gateway) Register(commandType string, mapper Mapper) {
	g.mappers[commandType] = mapper
}

// Handle processes one request. It never returns an error; every failure
// is encoded in the Result.
func (g *Gateway) Handle(ctx context.Context, req Request) Result {
	if req.CommandType == "" {
		return failure(dErrors.New(dErrors.CodeValidation, "command_type is required"))
	}
	if req.Payload == nil {
		return failure(dErrors.New(dErrors.CodeValidation, "payload is required"))
	}

	mapper, ok := g.mappers[req.CommandType]
	if !ok {
		return failure(dErrors.Newf(dErrors.CodeUnknownCommand, "unknown command type: %s", req.CommandType))
	}

	cmd, err := mapper(req.Payload)
	if err != nil {
		return failure(err)
	}

	events, err := g.handler.Handle(ctx, cmd)
	if err != nil {
		g.logger.Debug("command rejected",
			"command", req.CommandType,
			"kind", string(dErrors.CodeOf(err)),
			"invariant", dErrors.InvariantOf(err),
		)
		return failure(err)
	}
	return Result{Success: true, Events: events}
}

// failure folds any error into the wire taxonomy. Unknown errors surface
// as transient so callers retry instead of misreading infrastructure
// trouble as a domain rejection.
func failure(err error) Result {
	return Result{
		Success: false,
		Error: &ResultError{
			Kind:      dErrors.CodeOf(err),
			Invariant: dErrors.InvariantOf(err),
			Detail:    errDetail(err),
		},
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
