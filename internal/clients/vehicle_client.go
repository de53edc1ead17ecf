package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"gopkg.in/guregu/null.v4"

	"smartpark/internal/models"
)

// ErrVehicleNotFound indicates the registry knows no vehicle with the plate.
var ErrVehicleNotFound = errors.New("vehicle not found")

// VehicleClient looks up vehicles in customer-service by licence plate.
type VehicleClient struct {
	baseURL       string
	internalToken string
	client        *http.Client
	logger        *zap.Logger
}

// NewVehicleClient returns HTTP client wrapper with bounded timeout.
func NewVehicleClient(baseURL, internalToken string, timeout time.Duration, logger *zap.Logger) *VehicleClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &VehicleClient{
		baseURL:       baseURL,
		internalToken: internalToken,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

type vehicleResponse struct {
	VehicleID    int64    `json:"vehicleId"`
	LicencePlate string   `json:"licencePlate"`
	AccountID    null.Int `json:"accountId"`
}

// FindByPlate resolves a normalized plate to a vehicle and, when the
// vehicle is registered, its owning account.
func (c *VehicleClient) FindByPlate(ctx context.Context, plate string) (*models.Vehicle, error) {
	endpoint := fmt.Sprintf("%s/customer/internal/vehicles/by-plate?licencePlate=%s",
		c.baseURL, url.QueryEscape(plate))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Internal-Token", c.internalToken)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("vehicle lookup request failed", zap.String("plate", plate), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrVehicleNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("vehicle lookup returned status %d", resp.StatusCode)
	}

	var body vehicleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.VehicleID == 0 {
		return nil, ErrVehicleNotFound
	}

	return &models.Vehicle{
		ID:        body.VehicleID,
		Plate:     body.LicencePlate,
		AccountID: body.AccountID,
	}, nil
}
