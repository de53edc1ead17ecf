package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PaymentConfirmation is the payload of the post-payment email.
type PaymentConfirmation struct {
	AccountID       int64     `json:"accountId"`
	SessionID       int64     `json:"sessionId"`
	EntryTime       time.Time `json:"entryTime"`
	ExitTime        time.Time `json:"exitTime"`
	AmountMinor     int64     `json:"amountMinor"`
	DurationMinutes int64     `json:"durationMinutes"`
}

// NotificationClient asks email-service to confirm a completed payment.
// Delivery is fire and forget.
type NotificationClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewNotificationClient returns HTTP client wrapper. An empty base URL
// disables delivery.
func NewNotificationClient(baseURL string, timeout time.Duration, logger *zap.Logger) *NotificationClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NotificationClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// PaymentConfirmed sends the confirmation. Failures are reported to the
// caller only so it can log them; they must never fail the exit.
func (c *NotificationClient) PaymentConfirmed(ctx context.Context, confirmation PaymentConfirmation) error {
	if c.baseURL == "" {
		c.logger.Debug("notification client disabled, skip payment confirmation")
		return nil
	}

	payload, err := json.Marshal(confirmation)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/notifications/parking-payment", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("payment confirmation request failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("payment confirmation returned non-success", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}
	return nil
}
