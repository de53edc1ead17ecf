package repository

import (
	"context"
	"database/sql"
	"errors"

	"smartpark/internal/models"
)

// ErrLocationNotFound indicates an unknown parking facility.
var ErrLocationNotFound = errors.New("parking location not found")

// LocationRepository reads the parking directory.
type LocationRepository struct {
	db *sql.DB
}

// NewLocationRepository returns repository.
func NewLocationRepository(db *sql.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// FindByID returns a location.
func (r *LocationRepository) FindByID(ctx context.Context, id int64) (*models.Location, error) {
	const query = `
		SELECT parking_id, name_parking, address_line, created_at
		FROM parking_location
		WHERE parking_id = $1
	`
	var loc models.Location
	err := r.db.QueryRowContext(ctx, query, id).Scan(&loc.ID, &loc.Name, &loc.AddressLine, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return &loc, nil
}
