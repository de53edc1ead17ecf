package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"smartpark/internal/models"
	"smartpark/internal/repository"
	"smartpark/internal/service"
)

// SessionReader is the read side of the session store.
type SessionReader interface {
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]models.Session, error)
	ListActiveByLocation(ctx context.Context, locationID int64, limit int) ([]models.Session, error)
}

// SessionsHandler serves the session query and settlement surface.
type SessionsHandler struct {
	svc      *service.ParkingSessionsService
	sessions SessionReader
	logger   *zap.Logger
}

// NewSessionsHandler builds handler set.
func NewSessionsHandler(svc *service.ParkingSessionsService, sessions SessionReader, logger *zap.Logger) *SessionsHandler {
	return &SessionsHandler{
		svc:      svc,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleMySessions handles GET /sessions/me. The gateway authenticates
// the caller and forwards the account id in a header.
func (h *SessionsHandler) HandleMySessions(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(r.Header.Get("X-Account-ID"), 10, 64)
	if err != nil || accountID <= 0 {
		writeError(w, http.StatusBadRequest, "missing or invalid X-Account-ID")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.sessions.ListByAccount(r.Context(), accountID, limit)
	if err != nil {
		h.logger.Error("list sessions by account failed", zap.Int64("account_id", accountID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleActiveSessions handles GET /sessions/active?location_id=N.
func (h *SessionsHandler) HandleActiveSessions(w http.ResponseWriter, r *http.Request) {
	locationID, err := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	if err != nil || locationID <= 0 {
		writeError(w, http.StatusBadRequest, "missing or invalid location_id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.sessions.ListActiveByLocation(r.Context(), locationID, limit)
	if err != nil {
		h.logger.Error("list active sessions failed", zap.Int64("location_id", locationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list active sessions")
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandlePaySession handles POST /sessions/{id}/pay, the out-of-band
// settlement of a Pending fee.
func (h *SessionsHandler) HandlePaySession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	result, err := h.svc.SettlePendingSession(r.Context(), sessionID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, service.ErrSessionStillOpen):
		writeError(w, http.StatusConflict, "session is still open")
		return
	case errors.Is(err, service.ErrNoAccount):
		writeError(w, http.StatusUnprocessableEntity, "session has no account to charge")
		return
	default:
		h.logger.Error("settle session failed", zap.Int64("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to settle session")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, result)
}
