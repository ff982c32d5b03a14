package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

// LedgerGateway is an in-process ledger of account balances. Unknown
// accounts start with the default balance. A repeated idempotency key
// returns the first reference without moving funds again.
type LedgerGateway struct {
	mu             sync.Mutex
	defaultBalance int64
	balances       map[string]int64
	settled        map[string]domain.SettlementReference
}

// NewLedgerGateway creates a ledger where every account opens with defaultBalance.
func NewLedgerGateway(defaultBalance int64) *LedgerGateway {
	return &LedgerGateway{
		defaultBalance: defaultBalance,
		balances:       make(map[string]int64),
		settled:        make(map[string]domain.SettlementReference),
	}
}

func (l *LedgerGateway) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementReference, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", domain.ErrSettlementDeclined)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ref, ok := l.settled[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return ref, nil
	}

	payer := l.balanceLocked(req.PayerID)
	if payer < req.Amount {
		return "", fmt.Errorf("%w: insufficient funds for %s", domain.ErrSettlementDeclined, req.PayerID)
	}
	l.balances[req.PayerID] = payer - req.Amount
	l.balances[req.PayeeID] = l.balanceLocked(req.PayeeID) + req.Amount

	ref := domain.SettlementReference("ldg_" + uuid.NewString())
	if req.IdempotencyKey != "" {
		l.settled[req.IdempotencyKey] = ref
	}
	return ref, nil
}

func (l *LedgerGateway) balanceLocked(account string) int64 {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return l.defaultBalance
}

// Balance returns an account's current balance.
func (l *LedgerGateway) Balance(account string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(account)
}

// Credit adds amount to an account, creating it if needed.
func (l *LedgerGateway) Credit(account string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = l.balanceLocked(account) + amount
}

var _ domain.SettlementGateway = (*LedgerGateway)(nil)
