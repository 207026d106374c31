package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mmuslimabdulj/ephemeral-chat/internal/domain"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/logger"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/memory"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/middleware"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/ratelimit"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/security"
	"github.com/mmuslimabdulj/ephemeral-chat/internal/usecase"
	"github.com/sirupsen/logrus"
)

// RoomService is the slice of the room manager the JSON API needs
type RoomService interface {
	GetStats() usecase.Stats
	GetDetailedMetrics() usecase.Metrics
	RoomExists(code string) bool
	IssueCsrfToken(sessionID string) (string, error)
	SessionExpiry() time.Duration
	IsRateLimited(sourceAddr string, action ratelimit.Action) bool
}

// StatusReporter exposes the memory monitor state
type StatusReporter interface {
	Status() memory.Status
}

type Handler struct {
	rooms      RoomService
	monitor    StatusReporter
	log        logrus.FieldLogger
	trustProxy bool
}

func NewHandler(rooms RoomService, monitor StatusReporter, log logrus.FieldLogger, trustProxy bool) *Handler {
	return &Handler{
		rooms:      rooms,
		monitor:    monitor,
		log:        logger.OrNop(log),
		trustProxy: trustProxy,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleHealth reports liveness
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStats returns aggregate room counters
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.rooms.GetStats())
}

// HandleMetrics returns per-room figures and the memory monitor state
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := struct {
		usecase.Metrics
		Memory *memory.Status `json:"memory,omitempty"`
	}{Metrics: h.rooms.GetDetailedMetrics()}
	if h.monitor != nil {
		st := h.monitor.Status()
		resp.Memory = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCSRF issues a CSRF token bound to the caller's session cookie,
// creating the session if needed
func (h *Handler) HandleCSRF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessionID := ""
	if c, err := r.Cookie(middleware.SessionCookie); err == nil {
		sessionID = c.Value
	}
	if sessionID == "" {
		id, err := security.NewSessionID()
		if err != nil {
			h.log.WithError(err).Error("session id generation failed")
			writeError(w, http.StatusInternalServerError, domain.PublicMessage(err))
			return
		}
		sessionID = id
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookie,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   int(h.rooms.SessionExpiry().Seconds()),
		})
	}

	token, err := h.rooms.IssueCsrfToken(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, domain.PublicMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

// HandleRoomCheck reports whether a room code is live. Lookups count against
// the join limit so codes cannot be enumerated cheaply.
func (h *Handler) HandleRoomCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.rooms.IsRateLimited(middleware.ClientIP(r, h.trustProxy), ratelimit.ActionJoin) {
		writeError(w, http.StatusTooManyRequests, domain.PublicMessage(domain.ErrRateLimited))
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"exists": h.rooms.RoomExists(req.Code)})
}
