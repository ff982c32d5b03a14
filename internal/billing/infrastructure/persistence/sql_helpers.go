package persistence

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// params accumulates positional arguments and hands out $N placeholders,
// which both pgx and modernc sqlite accept.
type params struct {
	args []any
}

func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return fmt.Sprintf("$%d", len(p.args))
}

func (p *params) in(values []string) string {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = p.add(v)
	}
	return "(" + strings.Join(ph, ", ") + ")"
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}
