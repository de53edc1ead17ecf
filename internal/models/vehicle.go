package models

import "gopkg.in/guregu/null.v4"

// Vehicle is owned by the external vehicle registry and referenced here
// by id. AccountID is absent for unregistered plates.
type Vehicle struct {
	ID        int64    `json:"vehicle_id"`
	Plate     string   `json:"licence_plate"`
	AccountID null.Int `json:"account_id"`
}
