package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChargeOutcome is the wallet's answer to a charge attempt. A false
// Success with nil transport error means the wallet refused (for
// example insufficient funds).
type ChargeOutcome struct {
	Success   bool
	Reference string
}

// PaymentClient charges parking fees against account wallets in
// payment-service.
type PaymentClient struct {
	baseURL       string
	internalToken string
	client        *http.Client
	logger        *zap.Logger
}

// NewPaymentClient returns HTTP client wrapper with bounded timeout.
func NewPaymentClient(baseURL, internalToken string, timeout time.Duration, logger *zap.Logger) *PaymentClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PaymentClient{
		baseURL:       baseURL,
		internalToken: internalToken,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

type chargeRequest struct {
	AccountID   int64  `json:"accountId"`
	SessionID   int64  `json:"sessionId"`
	AmountMinor int64  `json:"amountMinor"`
	Reference   string `json:"reference"`
}

type chargeResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// Charge debits the account wallet for a closed session. Each attempt
// carries a fresh UUID reference the wallet can use as an idempotency
// key; the caller decides what a refusal or transport failure means.
func (c *PaymentClient) Charge(ctx context.Context, accountID, sessionID, amountMinor int64) (ChargeOutcome, error) {
	reference := uuid.NewString()

	payload, err := json.Marshal(chargeRequest{
		AccountID:   accountID,
		SessionID:   sessionID,
		AmountMinor: amountMinor,
		Reference:   reference,
	})
	if err != nil {
		return ChargeOutcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment/charge", bytes.NewReader(payload))
	if err != nil {
		return ChargeOutcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", c.internalToken)
	req.Header.Set("X-Request-ID", reference)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("charge request failed",
			zap.Int64("account_id", accountID),
			zap.Int64("session_id", sessionID),
			zap.Error(err),
		)
		return ChargeOutcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return ChargeOutcome{}, fmt.Errorf("payment service returned status %d", resp.StatusCode)
	}

	var body chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ChargeOutcome{}, err
	}
	if body.Reference == "" {
		body.Reference = reference
	}

	success := body.Status == "SUCCESS" || body.Status == "Paid"
	return ChargeOutcome{Success: success, Reference: body.Reference}, nil
}
