package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"smartpark/internal/models"
	"smartpark/internal/repository"
)

// LocationReader resolves parking facilities.
type LocationReader interface {
	FindByID(ctx context.Context, id int64) (*models.Location, error)
}

// OccupancyReader computes spot usage.
type OccupancyReader interface {
	Occupancy(ctx context.Context, locationID int64) (*models.Occupancy, error)
}

// OccupancyHandler serves GET /locations/{id}/occupancy.
type OccupancyHandler struct {
	locations LocationReader
	spots     OccupancyReader
	logger    *zap.Logger
}

// NewOccupancyHandler builds handler.
func NewOccupancyHandler(locations LocationReader, spots OccupancyReader, logger *zap.Logger) *OccupancyHandler {
	return &OccupancyHandler{
		locations: locations,
		spots:     spots,
		logger:    logger,
	}
}

// Handle reports total and free spot counts. Free is computed from open
// sessions, never from a stored flag.
func (h *OccupancyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	locationID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || locationID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid location id")
		return
	}

	if _, err := h.locations.FindByID(r.Context(), locationID); err != nil {
		if errors.Is(err, repository.ErrLocationNotFound) {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		h.logger.Error("location lookup failed", zap.Int64("location_id", locationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load location")
		return
	}

	occupancy, err := h.spots.Occupancy(r.Context(), locationID)
	if err != nil {
		h.logger.Error("occupancy query failed", zap.Int64("location_id", locationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute occupancy")
		return
	}
	writeJSON(w, http.StatusOK, occupancy)
}
