package database

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoTransaction is returned by Commit and Rollback when ctx carries no transaction.
var ErrNoTransaction = errors.New("no transaction in context")

// UnitOfWork implements application.UnitOfWork on any Connection.
// Nested Begin calls join the outer transaction; only the owner commits.
type UnitOfWork struct {
	conn Connection
}

// NewUnitOfWork creates a UnitOfWork over conn.
func NewUnitOfWork(conn Connection) *UnitOfWork {
	return &UnitOfWork{conn: conn}
}

// Begin starts a transaction, or joins the one already in ctx.
func (u *UnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	if st, ok := txStateFrom(ctx); ok {
		return WithTx(ctx, st.tx, false), nil
	}

	tx, err := u.conn.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin %s transaction: %w", u.conn.Driver(), err)
	}
	return WithTx(ctx, tx, true), nil
}

// Commit commits the transaction if this unit started it.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	st, ok := txStateFrom(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !st.owned {
		return nil
	}
	return st.tx.Commit(ctx)
}

// Rollback rolls back the transaction if this unit started it.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	st, ok := txStateFrom(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !st.owned {
		return nil
	}
	return st.tx.Rollback(ctx)
}
