package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"smartpark/internal/models"
)

// ErrReservationNotFound indicates no matching reservation row.
var ErrReservationNotFound = errors.New("reservation not found")

// earlyEntryGrace lets a vehicle arrive a little before the booked
// window starts and still consume the reservation.
const earlyEntryGrace = 5 * time.Minute

// ReservationRepository handles prepaid spot reservations.
type ReservationRepository struct {
	db *sql.DB
}

// NewReservationRepository returns repository.
func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// FindActive returns the Paid reservation of the account at the
// location whose validity window covers the given instant, if any.
func (r *ReservationRepository) FindActive(ctx context.Context, accountID, locationID int64, at time.Time) (*models.Reservation, error) {
	const query = `
		SELECT reservation_id, ref_account_id, parking_id, spot_id, valid_from, valid_until, status_reservation
		FROM reservation_spot
		WHERE ref_account_id = $1
		AND parking_id = $2
		AND status_reservation = 'Paid'
		AND valid_from - $4::interval <= $3
		AND valid_until >= $3
		ORDER BY valid_until ASC
		LIMIT 1
	`
	var res models.Reservation
	err := r.db.QueryRowContext(ctx, query, accountID, locationID, at, earlyEntryGrace.String()).Scan(
		&res.ID,
		&res.AccountID,
		&res.LocationID,
		&res.SpotID,
		&res.ValidFrom,
		&res.ValidUntil,
		&res.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &res, nil
}

// MarkUsed consumes a Paid reservation. The status guard makes the
// transition single-shot: a second caller sees zero rows.
func (r *ReservationRepository) MarkUsed(ctx context.Context, reservationID int64) error {
	const query = `
		UPDATE reservation_spot
		SET status_reservation = 'Used'
		WHERE reservation_id = $1 AND status_reservation = 'Paid'
	`
	result, err := r.db.ExecContext(ctx, query, reservationID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// ExpireUnused sweeps stale Paid reservations whose window has passed
// and which no session ever consumed.
func (r *ReservationRepository) ExpireUnused(ctx context.Context) (int64, error) {
	const query = `
		UPDATE reservation_spot rs
		SET status_reservation = 'Expired'
		WHERE rs.status_reservation = 'Paid'
		AND rs.valid_until < NOW()
		AND NOT EXISTS (
			SELECT 1 FROM parking_session psess
			WHERE psess.reservation_id = rs.reservation_id
		)
	`
	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
