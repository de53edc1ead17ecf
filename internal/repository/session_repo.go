package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gopkg.in/guregu/null.v4"

	"smartpark/internal/models"
)

// ErrSessionNotFound indicates a missing or already closed session.
var ErrSessionNotFound = errors.New("parking session not found")

const sessionColumns = `session_id, parking_id, spot_id, ref_vehicle_id, ref_account_id,
	reservation_id, entry_time, exit_time, price_total_minor, payment_status, created_at, updated_at`

// SessionRepository handles persistence of parking sessions. Sessions
// are append-and-close only, never deleted.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists a freshly opened session and fills generated fields.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	const query = `
		INSERT INTO parking_session (parking_id, spot_id, ref_vehicle_id, ref_account_id,
			reservation_id, entry_time, exit_time, price_total_minor, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, $7, NOW(), NOW())
		RETURNING session_id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		session.LocationID,
		session.SpotID,
		session.VehicleID,
		session.AccountID,
		session.ReservationID,
		session.EntryTime,
		session.PaymentStatus,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// FindActiveByVehicleAndLocation returns the one open session for the
// pair, if any. Open means exit_time IS NULL.
func (r *SessionRepository) FindActiveByVehicleAndLocation(ctx context.Context, vehicleID, locationID int64) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM parking_session
		WHERE ref_vehicle_id = $1 AND parking_id = $2 AND exit_time IS NULL
		ORDER BY entry_time DESC
		LIMIT 1
	`
	session, err := r.scanOne(r.db.QueryRowContext(ctx, query, vehicleID, locationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// FindByID returns a session regardless of state.
func (r *SessionRepository) FindByID(ctx context.Context, id int64) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM parking_session
		WHERE session_id = $1
	`
	session, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return session, nil
}

// Close finalizes an open session with its exit time, computed fee and
// payment status. The exit_time IS NULL guard makes a racing second
// close observe zero rows instead of overwriting the first.
func (r *SessionRepository) Close(ctx context.Context, sessionID int64, exitTime time.Time, priceTotalMinor int64, status string) error {
	const query = `
		UPDATE parking_session
		SET exit_time = $2,
		    price_total_minor = $3,
		    payment_status = $4,
		    updated_at = NOW()
		WHERE session_id = $1 AND exit_time IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, sessionID, exitTime, priceTotalMinor, status)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpdatePaymentStatus flips the payment status of a closed session,
// used by the out-of-band settlement of Pending fees.
func (r *SessionRepository) UpdatePaymentStatus(ctx context.Context, sessionID int64, status string) error {
	const query = `
		UPDATE parking_session
		SET payment_status = $2, updated_at = NOW()
		WHERE session_id = $1 AND exit_time IS NOT NULL
	`
	result, err := r.db.ExecContext(ctx, query, sessionID, status)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListByAccount returns the most recent sessions for an account.
func (r *SessionRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + sessionColumns + `
		FROM parking_session
		WHERE ref_account_id = $1
		ORDER BY entry_time DESC
		LIMIT $2
	`
	return r.list(ctx, query, accountID, limit)
}

// ListActiveByLocation returns open sessions at a location.
func (r *SessionRepository) ListActiveByLocation(ctx context.Context, locationID int64, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT ` + sessionColumns + `
		FROM parking_session
		WHERE parking_id = $1 AND exit_time IS NULL
		ORDER BY entry_time DESC
		LIMIT $2
	`
	return r.list(ctx, query, locationID, limit)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *SessionRepository) scanOne(row rowScanner) (*models.Session, error) {
	var s models.Session
	var accountID, reservationID null.Int
	var exitTime null.Time
	var price null.Int
	if err := row.Scan(
		&s.ID,
		&s.LocationID,
		&s.SpotID,
		&s.VehicleID,
		&accountID,
		&reservationID,
		&s.EntryTime,
		&exitTime,
		&price,
		&s.PaymentStatus,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.AccountID = accountID
	s.ReservationID = reservationID
	s.ExitTime = exitTime
	s.PriceTotalMinor = price
	return &s, nil
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
