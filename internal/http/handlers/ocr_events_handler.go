package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"smartpark/internal/service"
)

// Deduplicator guards the event entry points against redeliveries.
type Deduplicator interface {
	IsDuplicate(plate string, locationID int64, direction string, at time.Time) bool
}

// OCREventsHandler receives plate detection webhooks from the camera
// gateway. Every raw event passes the dedup window before it reaches
// the orchestrator.
type OCREventsHandler struct {
	svc    *service.ParkingSessionsService
	dedup  Deduplicator
	logger *zap.Logger
}

// NewOCREventsHandler builds handler set.
func NewOCREventsHandler(svc *service.ParkingSessionsService, dedup Deduplicator, logger *zap.Logger) *OCREventsHandler {
	return &OCREventsHandler{
		svc:    svc,
		dedup:  dedup,
		logger: logger,
	}
}

type detectionEvent struct {
	LicencePlate string    `json:"licence_plate"`
	ParkingID    int64     `json:"parking_id"`
	CameraID     int       `json:"camera_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// HandleEntry handles POST /internal/ocr/entry.
func (h *OCREventsHandler) HandleEntry(w http.ResponseWriter, r *http.Request) {
	event, ok := h.decode(w, r)
	if !ok {
		return
	}

	if h.dedup.IsDuplicate(event.LicencePlate, event.ParkingID, "entry", event.Timestamp) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "duplicate_dropped"})
		return
	}

	sessionID, err := h.svc.HandleEntry(r.Context(), service.EntryInput{
		Plate:      event.LicencePlate,
		LocationID: event.ParkingID,
		CameraID:   event.CameraID,
		At:         event.Timestamp,
	})
	if err != nil {
		h.writeEventError(w, "entry", event, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "ok", "session_id": sessionID})
}

// HandleExit handles POST /internal/ocr/exit.
func (h *OCREventsHandler) HandleExit(w http.ResponseWriter, r *http.Request) {
	event, ok := h.decode(w, r)
	if !ok {
		return
	}

	if h.dedup.IsDuplicate(event.LicencePlate, event.ParkingID, "exit", event.Timestamp) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "duplicate_dropped"})
		return
	}

	result, err := h.svc.HandleExit(r.Context(), service.ExitInput{
		Plate:      event.LicencePlate,
		LocationID: event.ParkingID,
		CameraID:   event.CameraID,
		At:         event.Timestamp,
	})
	if err != nil {
		h.writeEventError(w, "exit", event, err)
		return
	}
	// A Pending close is still an accepted exit: the vehicle already
	// left and the fee is carried as outstanding.
	writeJSON(w, http.StatusOK, result)
}

func (h *OCREventsHandler) decode(w http.ResponseWriter, r *http.Request) (detectionEvent, bool) {
	var event detectionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return event, false
	}
	if event.LicencePlate == "" || event.ParkingID == 0 {
		writeError(w, http.StatusBadRequest, "licence_plate and parking_id are required")
		return event, false
	}
	return event, true
}

// writeEventError distinguishes permanent aborts (422, upstream must
// not retry) from transient failures (500, upstream may redeliver).
func (h *OCREventsHandler) writeEventError(w http.ResponseWriter, direction string, event detectionEvent, err error) {
	switch {
	case errors.Is(err, service.ErrVehicleNotFound),
		errors.Is(err, service.ErrNoAccount),
		errors.Is(err, service.ErrNoFreeSpots),
		errors.Is(err, service.ErrExitWithoutEntry),
		errors.Is(err, service.ErrNoPricing):
		h.logger.Warn("detection event rejected",
			zap.String("direction", direction),
			zap.String("plate", event.LicencePlate),
			zap.Int64("location_id", event.ParkingID),
			zap.Error(err),
		)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("detection event processing failed",
			zap.String("direction", direction),
			zap.String("plate", event.LicencePlate),
			zap.Int64("location_id", event.ParkingID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to process event")
	}
}
