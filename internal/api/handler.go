package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/reputation"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/stream"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer     *scoring.Scorer
	reputation *reputation.Service
	stream     *stream.Handler
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	version    string
}

// Deps are the components served over HTTP. Scorer is required.
type Deps struct {
	Scorer     *scoring.Scorer
	Reputation *reputation.Service
	Stream     *stream.Handler
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Version    string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		scorer:     deps.Scorer,
		reputation: deps.Reputation,
		stream:     deps.Stream,
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		version:    deps.Version,
	}
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var req scoring.Request
	if !decode(w, r, &req) {
		return
	}

	res, err := h.scorer.Score(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ListTransactions handles GET /transactions?limit=N.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	txs, err := h.scorer.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	tx, err := h.scorer.Transaction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetExplanation retrieves the stored explanation of a transaction.
func (h *Handler) GetExplanation(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	exp, err := h.scorer.Explanation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exp)
}

// BlockRequest is the optional body of POST /transactions/{id}/block.
type BlockRequest struct {
	BlockedBy string `json:"blocked_by"`
}

// BlockTransaction marks a transaction blocked by an operator.
func (h *Handler) BlockTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	var req BlockRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	tx, err := h.scorer.Block(r.Context(), id, req.BlockedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// AdminRequest is the optional body of the admin endpoints.
type AdminRequest struct {
	Token string `json:"token"`
}

// ClearTransactions deletes the whole transaction history.
func (h *Handler) ClearTransactions(w http.ResponseWriter, r *http.Request) {
	token, ok := adminToken(w, r)
	if !ok {
		return
	}

	res, err := h.scorer.ClearHistory(r.Context(), token, r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": scoring.ClearMessage,
		"cleared": res,
	})
}

// RefreshAnalytics rebuilds the analytics snapshot.
func (h *Handler) RefreshAnalytics(w http.ResponseWriter, r *http.Request) {
	token, ok := adminToken(w, r)
	if !ok {
		return
	}

	stats, err := h.scorer.RefreshAnalytics(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetReputation returns the reputation of a tokenized identifier.
func (h *Handler) GetReputation(w http.ResponseWriter, r *http.Request) {
	if h.reputation == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "reputation service not available",
		})
		return
	}

	rep, err := h.reputation.Lookup(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// HeartbeatRequest is the body of POST /heartbeat.
type HeartbeatRequest struct {
	Identifier string `json:"identifier"`
}

// Heartbeat records client activity.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.scorer.Heartbeat(r.Context(), req.Identifier)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"last_seen": p.LastSeen,
	})
}

// GetProfile returns the behavioral profile of an identifier.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.scorer.Profile(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Stream serves the NDJSON event stream.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event stream not available",
		})
		return
	}
	h.stream.ServeNDJSON(w, r)
}

// WebSocket serves the event stream over a WebSocket.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event stream not available",
		})
		return
	}
	h.stream.ServeWebSocket(w, r)
}

// Health returns the health status of the server.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			slog.Warn("health check failed", "component", name, "error", err)
			components[name] = "degraded"
			status = "degraded"
			return
		}
		components[name] = "ok"
	}

	ctx := r.Context()
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func transactionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

// adminToken reads the token from X-Admin-Token, falling back to the body.
func adminToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if token := r.Header.Get(AdminTokenHeader); token != "" {
		return token, true
	}
	var req AdminRequest
	if !decodeOptional(w, r, &req) {
		return "", false
	}
	return req.Token, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": "invalid JSON request body",
	})
	return false
}

// writeError maps pipeline errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scoring.ErrInvalidRequest),
		errors.Is(err, reputation.ErrInvalidToken),
		errors.Is(err, repository.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, scoring.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, scoring.ErrNoExplanation):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrAlreadyBlocked):
		status = http.StatusConflict
	case errors.Is(err, scoring.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
