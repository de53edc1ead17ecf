package repository

import (
	"context"
	"database/sql"
	"errors"

	"smartpark/internal/models"
)

// ErrNoFreeSpot indicates the location has no unoccupied, unreserved spot.
var ErrNoFreeSpot = errors.New("no free spot available")

// SpotRepository reads the spot pool of a location. A spot is free iff
// no session on it is open and no live Paid reservation claims it;
// there is no stored occupancy flag to drift out of sync.
type SpotRepository struct {
	db *sql.DB
}

// NewSpotRepository returns repository.
func NewSpotRepository(db *sql.DB) *SpotRepository {
	return &SpotRepository{db: db}
}

// PickFree selects a random free spot at the location.
func (r *SpotRepository) PickFree(ctx context.Context, locationID int64) (int64, error) {
	const query = `
		SELECT ps.spot_id
		FROM parking_spot ps
		WHERE ps.id_parking = $1
		AND NOT EXISTS (
			SELECT 1 FROM reservation_spot rs
			WHERE rs.spot_id = ps.spot_id
			AND rs.status_reservation = 'Paid'
			AND rs.valid_until > NOW()
		)
		AND NOT EXISTS (
			SELECT 1 FROM parking_session psess
			WHERE psess.spot_id = ps.spot_id
			AND psess.exit_time IS NULL
		)
		ORDER BY RANDOM()
		LIMIT 1
	`
	var spotID int64
	if err := r.db.QueryRowContext(ctx, query, locationID).Scan(&spotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoFreeSpot
		}
		return 0, err
	}
	return spotID, nil
}

// Occupancy computes total and free counts for a location.
func (r *SpotRepository) Occupancy(ctx context.Context, locationID int64) (*models.Occupancy, error) {
	const query = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT EXISTS (
		           SELECT 1 FROM parking_session psess
		           WHERE psess.spot_id = ps.spot_id
		           AND psess.exit_time IS NULL
		       ))
		FROM parking_spot ps
		WHERE ps.id_parking = $1
	`
	occ := &models.Occupancy{LocationID: locationID}
	if err := r.db.QueryRowContext(ctx, query, locationID).Scan(&occ.Total, &occ.Free); err != nil {
		return nil, err
	}
	return occ, nil
}
