package domain

import "context"

// SettlementReference identifies a completed transfer at the gateway.
type SettlementReference string

// SettlementRequest asks the gateway to move Amount from payer to payee.
type SettlementRequest struct {
	PayerID string
	PayeeID string
	Amount  int64
	// IdempotencyKey lets the gateway collapse retries of one period into one transfer.
	IdempotencyKey string
}

// SettlementGateway moves funds. Implementations return errors wrapping
// ErrSettlementDeclined or ErrGatewayUnavailable.
type SettlementGateway interface {
	Settle(ctx context.Context, req SettlementRequest) (SettlementReference, error)
}
