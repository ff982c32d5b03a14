package database

import "context"

type txKey struct{}

// txState is the transaction carried in a context. owned is false when a
// nested unit of work joined a transaction started further up the stack.
type txState struct {
	tx    Transaction
	owned bool
}

// WithTx stores a transaction in the context.
func WithTx(ctx context.Context, tx Transaction, owned bool) context.Context {
	return context.WithValue(ctx, txKey{}, txState{tx: tx, owned: owned})
}

func txStateFrom(ctx context.Context) (txState, bool) {
	st, ok := ctx.Value(txKey{}).(txState)
	if !ok || st.tx == nil {
		return txState{}, false
	}
	return st, true
}

// TxFromContext returns the transaction in ctx, or nil.
func TxFromContext(ctx context.Context) Transaction {
	st, _ := txStateFrom(ctx)
	return st.tx
}

// ExecutorFromContext returns the active transaction if there is one,
// otherwise the connection itself.
func ExecutorFromContext(ctx context.Context, conn Connection) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return conn
}
