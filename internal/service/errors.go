package service

import "errors"

// Event-aborting error kinds. They are logged and dropped, never
// retried by this service; retry policy belongs to the upstream
// transport. Charge failures are deliberately absent: they degrade the
// session to Pending instead of aborting the exit.
var (
	ErrVehicleNotFound  = errors.New("vehicle not found for plate")
	ErrNoAccount        = errors.New("vehicle has no associated account")
	ErrNoFreeSpots      = errors.New("no free spots available")
	ErrExitWithoutEntry = errors.New("no active session for vehicle at location")
	ErrNoPricing        = errors.New("no pricing configured for location")
	ErrSessionStillOpen = errors.New("session is still open")
)
