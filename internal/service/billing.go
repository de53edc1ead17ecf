package service

import (
	"time"

	"smartpark/internal/models"
)

// DurationMinutes truncates the stay between entry and exit to whole
// minutes. Billing never rounds time itself; rounding applies to the
// billable remainder only.
func DurationMinutes(entry, exit time.Time) int64 {
	if !exit.After(entry) {
		return 0
	}
	return int64(exit.Sub(entry) / time.Minute)
}

// ComputeFee is the billing calculator: a pure function of the stay
// duration and the location's fee policy.
//
// The free allowance comes off first; the remainder is rounded up to
// the policy's step and priced per minute in minor units.
func ComputeFee(durationMinutes int64, pricing *models.Pricing) int64 {
	billable := durationMinutes - pricing.FreeMinutes
	if billable <= 0 {
		return 0
	}

	step := pricing.RoundingStepMinutes
	if step > 1 {
		billable = (billable + step - 1) / step * step
	}

	return billable * pricing.RatePerMinuteMinor
}
