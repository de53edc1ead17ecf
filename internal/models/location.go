package models

import "time"

// Location is a parking facility with one pricing policy and a pool of spots.
type Location struct {
	ID          int64     `db:"parking_id" json:"id"`
	Name        string    `db:"name_parking" json:"name"`
	AddressLine string    `db:"address_line" json:"address_line"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Spot belongs to exactly one location. There is no occupancy column:
// a spot is free iff no session on it has a null exit time.
type Spot struct {
	ID         int64  `db:"spot_id" json:"id"`
	LocationID int64  `db:"id_parking" json:"location_id"`
	Code       string `db:"code" json:"code"`
	Reservable bool   `db:"reservable" json:"reservable"`
}

// Occupancy is the computed spot usage of a location.
type Occupancy struct {
	LocationID int64 `json:"location_id"`
	Total      int64 `json:"total"`
	Free       int64 `json:"free"`
}
