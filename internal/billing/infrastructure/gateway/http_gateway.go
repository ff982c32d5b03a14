// Package gateway provides settlement gateways: an HTTP client for an
// external ledger, an in-process ledger for local mode, and a circuit
// breaker that wraps either.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

// DefaultHTTPTimeout bounds a single ledger request when the client has no
// timeout of its own. Callers still bound calls through ctx.
const DefaultHTTPTimeout = 15 * time.Second

// HTTPGateway settles through a ledger service's REST API:
// POST {base}/v1/settlements.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPGateway creates a gateway for baseURL. token, when set, is sent as
// a bearer credential.
func NewHTTPGateway(baseURL, token string, client *http.Client) (*HTTPGateway, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ledger url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPGateway{baseURL: baseURL, token: token, client: client}, nil
}

type settlementRequest struct {
	PayerID        string `json:"payer_id"`
	PayeeID        string `json:"payee_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type settlementResponse struct {
	Reference string `json:"reference"`
}

type ledgerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Settle posts the transfer. 402, 409 and 422 are declines; any other
// non-2xx status or transport failure is ErrGatewayUnavailable.
func (g *HTTPGateway) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementReference, error) {
	body, err := json.Marshal(settlementRequest{
		PayerID:        req.PayerID,
		PayeeID:        req.PayeeID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return "", fmt.Errorf("encode settlement: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/settlements", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build settlement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if g.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", domain.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out settlementResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return "", fmt.Errorf("%w: decode response: %w", domain.ErrGatewayUnavailable, err)
		}
		if out.Reference == "" {
			return "", fmt.Errorf("%w: response has no reference", domain.ErrGatewayUnavailable)
		}
		return domain.SettlementReference(out.Reference), nil
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: %s", domain.ErrSettlementDeclined, describe(resp.StatusCode, payload))
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, describe(resp.StatusCode, payload))
	}
}

func describe(status int, payload []byte) string {
	var le ledgerError
	if err := json.Unmarshal(payload, &le); err == nil && le.Message != "" {
		if le.Code != "" {
			return fmt.Sprintf("status %d: %s: %s", status, le.Code, le.Message)
		}
		return fmt.Sprintf("status %d: %s", status, le.Message)
	}
	return fmt.Sprintf("status %d", status)
}

var _ domain.SettlementGateway = (*HTTPGateway)(nil)
