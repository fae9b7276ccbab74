// Package httptransport is the thin HTTP layer over the hub sync engine
// and the gateways. It delegates to domain services without embedding
// business logic so transport concerns remain isolated.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clinicore/internal/gateway"
	clinsync "clinicore/internal/sync"
	"clinicore/pkg/domain"
	dErrors "clinicore/pkg/domain-errors"
	"clinicore/pkg/requestcontext"
)

// Handler wires the hub's public endpoints.
type Handler struct {
	hub      *clinsync.Hub
	commands *gateway.Gateway
	queries  *gateway.QueryGateway
	logger   *slog.Logger
}

func NewHandler(hub *clinsync.Hub, commands *gateway.Gateway, queries *gateway.QueryGateway, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, commands: commands, queries: queries, logger: logger}
}

// correlation injects the caller's X-Correlation-Id (or a fresh one) into
// the request context; the command handler stamps it into envelopes when
// the payload does not carry its own.
func correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := domain.ParseCorrelationID(r.Header.Get("X-Correlation-Id"))
		if err != nil {
			id = domain.NewCorrelationID()
		}
		w.Header().Set("X-Correlation-Id", id.String())
		next.ServeHTTP(w, r.WithContext(requestcontext.WithCorrelationID(r.Context(), id)))
	})
}

// NewRouter builds the hub API router.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(correlation)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/sync", func(r chi.Router) {
		r.Post("/handshake", h.handleHandshake)
		r.Post("/upload", h.handleUpload)
		r.Post("/download", h.handleDownload)
		r.Post("/download/ack", h.handleDownloadAck)
	})

	r.Post("/commands", h.handleCommand)
	r.Post("/queries", h.handleQuery)

	return r
}

func (h *Handler) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req clinsync.Handshake
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.hub.Handshake(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// uploadRequest wraps the batch with the authenticated device identity.
// Auth middleware is an external collaborator; the device_id field stands
// in for its subject claim.
type uploadRequest struct {
	DeviceID string         `json:"device_id"`
	Batch    clinsync.Upload `json:"batch"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !decode(w, r, &req) {
		return
	}
	ack, err := h.hub.Upload(r.Context(), req.DeviceID, req.Batch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

type downloadRequest struct {
	DeviceID string `json:"device_id"`
	Limit    int    `json:"limit"`
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !decode(w, r, &req) {
		return
	}
	page, err := h.hub.Download(r.Context(), req.DeviceID, req.Limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type downloadAckRequest struct {
	DeviceID string               `json:"device_id"`
	Ack      clinsync.DownloadAck `json:"ack"`
}

func (h *Handler) handleDownloadAck(w http.ResponseWriter, r *http.Request) {
	var req downloadAckRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.hub.AckDownload(r.Context(), req.DeviceID, req.Ack); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req gateway.Request
	if !decode(w, r, &req) {
		return
	}
	result := h.commands.Handle(r.Context(), req)
	status := http.StatusOK
	if !result.Success {
		status = statusFor(result.Error.Kind)
	}
	writeJSON(w, status, result)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req gateway.QueryRequest
	if !decode(w, r, &req) {
		return
	}
	result := h.queries.Handle(req)
	status := http.StatusOK
	if !result.Success {
		status = statusFor(result.Error.Kind)
	}
	writeJSON(w, status, result)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	h.logger.Error("request failed", "kind", string(code), "error", err)
	writeJSON(w, statusFor(code), map[string]string{"error": string(code)})
}

// statusFor centralizes domain error translation to HTTP responses.
func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeUnknownCommand, dErrors.CodeUnknownQuery:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodePrecondition, dErrors.CodeDomain:
		return http.StatusConflict
	case dErrors.CodeConcurrency:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
