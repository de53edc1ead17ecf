package repository

import (
	"context"
	"database/sql"
	"errors"

	"smartpark/internal/models"
)

// ErrPricingNotFound indicates the location has no fee policy.
var ErrPricingNotFound = errors.New("pricing not found")

// PricingRepository loads per-location fee policies.
type PricingRepository struct {
	db *sql.DB
}

// NewPricingRepository returns repository.
func NewPricingRepository(db *sql.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

// ForLocation returns the fee policy of a location.
func (r *PricingRepository) ForLocation(ctx context.Context, locationID int64) (*models.Pricing, error) {
	const query = `
		SELECT pricing_id, parking_id, currency_code, rate_per_min, free_minutes, rounding_step_min
		FROM parking_pricing
		WHERE parking_id = $1
	`
	var p models.Pricing
	err := r.db.QueryRowContext(ctx, query, locationID).Scan(
		&p.ID,
		&p.LocationID,
		&p.CurrencyCode,
		&p.RatePerMinuteMinor,
		&p.FreeMinutes,
		&p.RoundingStepMinutes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPricingNotFound
		}
		return nil, err
	}
	return &p, nil
}
