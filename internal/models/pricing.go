package models

// Pricing is the fee policy of a location. Amounts are minor currency
// units (grosze, cents) per minute.
type Pricing struct {
	ID                  int64  `db:"pricing_id" json:"id"`
	LocationID          int64  `db:"parking_id" json:"location_id"`
	CurrencyCode        string `db:"currency_code" json:"currency_code"`
	RatePerMinuteMinor  int64  `db:"rate_per_min" json:"rate_per_minute_minor"`
	FreeMinutes         int64  `db:"free_minutes" json:"free_minutes"`
	RoundingStepMinutes int64  `db:"rounding_step_min" json:"rounding_step_minutes"`
}
