package models

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// Payment status values for a parking session.
const (
	PaymentStatusActive  = "Active"
	PaymentStatusPaid    = "Paid"
	PaymentStatusPending = "Pending"
)

// Session represents one physical parking stay, open from the entry
// detection until the exit detection closes and bills it.
type Session struct {
	ID              int64     `db:"session_id" json:"id"`
	LocationID      int64     `db:"parking_id" json:"location_id"`
	SpotID          int64     `db:"spot_id" json:"spot_id"`
	VehicleID       int64     `db:"ref_vehicle_id" json:"vehicle_id"`
	AccountID       null.Int  `db:"ref_account_id" json:"account_id"`
	ReservationID   null.Int  `db:"reservation_id" json:"reservation_id"`
	EntryTime       time.Time `db:"entry_time" json:"entry_time"`
	ExitTime        null.Time `db:"exit_time" json:"exit_time"`
	PriceTotalMinor null.Int  `db:"price_total_minor" json:"price_total_minor"`
	PaymentStatus   string    `db:"payment_status" json:"payment_status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Open reports whether the stay is still in progress. Spot occupancy is
// always derived from this, never from a stored flag.
func (s *Session) Open() bool {
	return !s.ExitTime.Valid
}
