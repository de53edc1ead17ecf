package models

import "time"

// Reservation status values.
const (
	ReservationStatusPaid    = "Paid"
	ReservationStatusUsed    = "Used"
	ReservationStatusExpired = "Expired"
)

// Reservation holds a prepaid claim on a spot for a validity window.
// Paid reservations are consumed (-> Used) by a matching entry; stale
// ones are swept (-> Expired) by the background expirer.
type Reservation struct {
	ID         int64     `db:"reservation_id" json:"id"`
	AccountID  int64     `db:"ref_account_id" json:"account_id"`
	LocationID int64     `db:"parking_id" json:"location_id"`
	SpotID     int64     `db:"spot_id" json:"spot_id"`
	ValidFrom  time.Time `db:"valid_from" json:"valid_from"`
	ValidUntil time.Time `db:"valid_until" json:"valid_until"`
	Status     string    `db:"status_reservation" json:"status"`
}
