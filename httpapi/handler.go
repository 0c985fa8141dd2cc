// Package httpapi exposes the sync engine over HTTP for the portal frontend.
// It is a thin JSON layer; all behavior lives in the engine.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/teleregnet/syncbridge"
	"github.com/teleregnet/syncbridge/conflict"
	syncErrors "github.com/teleregnet/syncbridge/errors"
	"github.com/teleregnet/syncbridge/fetch"
	"github.com/teleregnet/syncbridge/logging"
	"github.com/teleregnet/syncbridge/session"
)

// Service is the engine surface the handler serves. The syncbridge Engine
// satisfies it; tests stub it.
type Service interface {
	StartSync(ctx context.Context, agencyID string, cfg fetch.Config) (*syncbridge.SyncResult, error)
	StopSync(ctx context.Context, sessionID string) (bool, error)
	GetActiveSessions(ctx context.Context, agencyID string) ([]session.SyncSession, error)
	GetUnresolvedConflicts(ctx context.Context, agencyID string) ([]conflict.ConflictData, error)
	GetConflictHistory(ctx context.Context, agencyID string) ([]conflict.ConflictData, error)
	GetResolutionStats(ctx context.Context, agencyID string) (conflict.Stats, error)
	ResolveConflict(ctx context.Context, conflictID string, resolvedValue any, strategy conflict.Strategy, resolvedBy string) (bool, error)
	AutoResolveConflicts(ctx context.Context, agencyID string, strategy conflict.Strategy) (conflict.BatchResult, error)
	DeleteRecord(ctx context.Context, recordID string) (bool, error)
}

var _ Service = (*syncbridge.Engine)(nil)

// Handler routes portal requests to the engine.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates a handler over the given service.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.WithComponent(logging.Component("httpapi")).Logger
	}
	return &Handler{svc: svc, logger: logger}
}

// ServeHTTP routes requests to the appropriate handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/sync/start":
		h.handleStartSync(w, r)
	case "/sync/stop":
		h.handleStopSync(w, r)
	case "/sync/sessions":
		h.handleActiveSessions(w, r)
	case "/conflicts":
		h.handleUnresolved(w, r)
	case "/conflicts/history":
		h.handleHistory(w, r)
	case "/conflicts/stats":
		h.handleStats(w, r)
	case "/conflicts/resolve":
		h.handleResolve(w, r)
	case "/conflicts/auto-resolve":
		h.handleAutoResolve(w, r)
	case "/records/delete":
		h.handleDeleteRecord(w, r)
	case "/healthz":
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		http.NotFound(w, r)
	}
}

type startSyncRequest struct {
	AgencyID string            `json:"agency_id"`
	Source   string            `json:"source"`
	Params   map[string]string `json:"params,omitempty"`
	Timeout  string            `json:"timeout,omitempty"`
}

func (h *Handler) handleStartSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req startSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgencyID == "" {
		respondWithError(w, http.StatusBadRequest, "agency_id is required")
		return
	}

	cfg := fetch.Config{Source: req.Source, Params: req.Params}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid timeout: "+err.Error())
			return
		}
		cfg.Timeout = d
	}

	result, err := h.svc.StartSync(r.Context(), req.AgencyID, cfg)
	if err != nil {
		h.logger.Error("start sync failed", "agency_id", req.AgencyID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "sync failed: "+err.Error())
		return
	}

	// Business failures (active session, fetch timeout) travel inside the
	// result; a conflicting session maps to 409 so the portal can surface
	// "already running" distinctly.
	code := http.StatusOK
	if !result.Success && result.Code == syncErrors.ErrCodeSessionActive {
		code = http.StatusConflict
	}
	respondWithJSON(w, code, result)
}

type stopSyncRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) handleStopSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req stopSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		respondWithError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	stopped, err := h.svc.StopSync(r.Context(), req.SessionID)
	if err != nil {
		h.logger.Error("stop sync failed", "session_id", req.SessionID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not stop session")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (h *Handler) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	agencyID, ok := h.requireAgency(w, r)
	if !ok {
		return
	}
	sessions, err := h.svc.GetActiveSessions(r.Context(), agencyID)
	if err != nil {
		h.logger.Error("list active sessions failed", "agency_id", agencyID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	if sessions == nil {
		sessions = []session.SyncSession{}
	}
	respondWithJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleUnresolved(w http.ResponseWriter, r *http.Request) {
	agencyID, ok := h.requireAgency(w, r)
	if !ok {
		return
	}
	conflicts, err := h.svc.GetUnresolvedConflicts(r.Context(), agencyID)
	if err != nil {
		h.logger.Error("list conflicts failed", "agency_id", agencyID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not list conflicts")
		return
	}
	if conflicts == nil {
		conflicts = []conflict.ConflictData{}
	}
	respondWithJSON(w, http.StatusOK, conflicts)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	agencyID, ok := h.requireAgency(w, r)
	if !ok {
		return
	}
	history, err := h.svc.GetConflictHistory(r.Context(), agencyID)
	if err != nil {
		h.logger.Error("conflict history failed", "agency_id", agencyID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	if history == nil {
		history = []conflict.ConflictData{}
	}
	respondWithJSON(w, http.StatusOK, history)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	agencyID, ok := h.requireAgency(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.GetResolutionStats(r.Context(), agencyID)
	if err != nil {
		h.logger.Error("resolution stats failed", "agency_id", agencyID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not compute stats")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

type resolveRequest struct {
	ConflictID    string `json:"conflict_id"`
	ResolvedValue any    `json:"resolved_value"`
	Strategy      string `json:"strategy"`
	ResolvedBy    string `json:"resolved_by,omitempty"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ConflictID == "" {
		respondWithError(w, http.StatusBadRequest, "conflict_id is required")
		return
	}
	strategy := conflict.Strategy(req.Strategy)
	if !strategy.Valid() {
		respondWithError(w, http.StatusBadRequest, "unknown strategy: "+req.Strategy)
		return
	}

	resolved, err := h.svc.ResolveConflict(r.Context(), req.ConflictID, req.ResolvedValue, strategy, req.ResolvedBy)
	if err != nil {
		if errors.Is(err, syncErrors.ErrConflictNotFound) {
			respondWithError(w, http.StatusNotFound, "conflict not found")
			return
		}
		h.logger.Error("resolve conflict failed", "conflict_id", req.ConflictID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not resolve conflict")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"resolved": resolved})
}

type autoResolveRequest struct {
	AgencyID string `json:"agency_id"`
	Strategy string `json:"strategy"`
}

func (h *Handler) handleAutoResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req autoResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgencyID == "" {
		respondWithError(w, http.StatusBadRequest, "agency_id is required")
		return
	}
	strategy := conflict.Strategy(req.Strategy)
	if !strategy.Valid() {
		respondWithError(w, http.StatusBadRequest, "unknown strategy: "+req.Strategy)
		return
	}

	result, err := h.svc.AutoResolveConflicts(r.Context(), req.AgencyID, strategy)
	if err != nil {
		h.logger.Error("auto-resolve failed", "agency_id", req.AgencyID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not auto-resolve conflicts")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

type deleteRecordRequest struct {
	RecordID string `json:"record_id"`
}

func (h *Handler) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req deleteRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RecordID == "" {
		respondWithError(w, http.StatusBadRequest, "record_id is required")
		return
	}

	deleted, err := h.svc.DeleteRecord(r.Context(), req.RecordID)
	if err != nil {
		h.logger.Error("delete record failed", "record_id", req.RecordID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "could not delete record")
		return
	}
	if !deleted {
		respondWithError(w, http.StatusNotFound, "record not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) requireAgency(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}
	agencyID := r.URL.Query().Get("agency")
	if agencyID == "" {
		respondWithError(w, http.StatusBadRequest, "agency query parameter is required")
		return "", false
	}
	return agencyID, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
