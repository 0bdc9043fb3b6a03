// Package admission implements the Control REST layer: POST /call,
// POST /transfer/{session_id}, GET /health, GET /metrics, and the
// call-history read endpoints GET /calls and GET /calls/{id}, sitting in
// front of the Call Controller. Routing follows a method-pattern
// net/http.ServeMux style rather than pulling in a router library.
package admission

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arch7tect/sip-gateway/internal/call"
	"github.com/arch7tect/sip-gateway/internal/logging"
	"github.com/arch7tect/sip-gateway/internal/metrics"
)

// Server wires the Control REST handlers to a *call.Controller. token, if
// non-empty, is compared against the request's Bearer token in constant
// time; an empty token disables auth.
type Server struct {
	controller *call.Controller
	token      string
}

// New builds a Server bound to controller, authenticating with token
// (empty disables auth).
func New(controller *call.Controller, token string) *Server {
	return &Server{controller: controller, token: token}
}

// Mux builds the http.ServeMux for the Control REST surface.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /call", s.instrument("POST /call", s.authenticated(s.handleCall)))
	mux.HandleFunc("POST /transfer/{session_id}", s.instrument("POST /transfer", s.authenticated(s.handleTransfer)))
	mux.HandleFunc("GET /health", s.instrument("GET /health", s.handleHealth))
	mux.HandleFunc("GET /metrics", s.instrument("GET /metrics", s.handleMetrics))
	mux.HandleFunc("GET /calls", s.instrument("GET /calls", s.authenticated(s.handleListCalls)))
	mux.HandleFunc("GET /calls/{id}", s.instrument("GET /calls/{id}", s.authenticated(s.handleGetCall)))
	return mux
}

// instrument wraps a handler with the request-duration histogram/summary
// and status-labeled counter GET /metrics exposes.
func (s *Server) instrument(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		elapsed := time.Since(start).Seconds()
		metrics.AdmissionRequestDuration.Observe(elapsed)
		metrics.AdmissionRequestDurationSummary.WithLabelValues(method).Observe(elapsed)
		metrics.AdmissionRequestsTotal.WithLabelValues(method, http.StatusText(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// authenticated enforces "Authorization: Bearer <token>" when a token is
// configured; a missing or mismatched header is rejected before next runs.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing bearer token"})
			return
		}
		presented := auth[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid bearer token"})
			return
		}
		next(w, r)
	}
}

type callRequest struct {
	ToURI           string         `json:"to_uri"`
	EnvInfo         map[string]any `json:"env_info,omitempty"`
	CommunicationID string         `json:"communication_id,omitempty"`
}

// handleCall implements POST /call.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	if req.ToURI == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "to_uri is required"})
		return
	}
	if !s.controller.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "sip not initialized"})
		return
	}

	_, sessionID, err := s.controller.Dial(r.Context(), req.ToURI, req.EnvInfo, req.CommunicationID)
	if err != nil {
		if errors.Is(err, call.ErrSIPNotReady) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "sip not initialized"})
			return
		}
		logging.Warn("admission call failed", logging.Field("to_uri", req.ToURI), logging.Field("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "failed to start session"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "ok", "session_id": sessionID})
}

type transferRequest struct {
	ToURI         string  `json:"to_uri"`
	TransferDelay float64 `json:"transfer_delay,omitempty"`
}

// handleTransfer implements POST /transfer/{session_id}.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}
	if req.ToURI == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "to_uri is required"})
		return
	}

	delay := time.Duration(req.TransferDelay * float64(time.Second))
	err := s.controller.SetTransferTargetBySession(sessionID, req.ToURI, delay)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, call.ErrCallNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "unknown session"})
	case errors.Is(err, call.ErrCallNotConfirmed):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "call is not in a confirmed state"})
	default:
		logging.Warn("admission transfer failed", logging.Field("session_id", sessionID), logging.Field("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "transfer failed"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics implements GET /metrics: Prometheus text exposition
// rendered from the process-wide registry (internal/metrics.RenderText).
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body, contentType, err := metrics.RenderText()
	if err != nil {
		http.Error(w, "failed to render metrics", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(body)
}

// handleListCalls implements GET /calls?limit=&offset=, backed by
// callhistory.Store.ListCalls. Returns 503 when history persistence is
// disabled.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	history := s.controller.History()
	if history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "call history disabled"})
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	calls, total, err := history.ListCalls(r.Context(), limit, offset)
	if err != nil {
		logging.Warn("admission list calls failed", logging.Field("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "failed to list calls"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls, "total": total})
}

// handleGetCall implements GET /calls/{id}, backed by
// callhistory.Store.GetCall. Returns 503 when history persistence is
// disabled and 404 when the call id is unknown.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	history := s.controller.History()
	if history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "call history disabled"})
		return
	}

	id := r.PathValue("id")
	callRecord, turns, err := history.GetCall(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "unknown call"})
			return
		}
		logging.Warn("admission get call failed", logging.Field("call_id", id), logging.Field("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "failed to get call"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"call": callRecord, "turns": turns})
}

func queryInt(r *http.Request, key string, fallback int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
