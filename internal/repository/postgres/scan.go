// Package postgres implements the repository interfaces on database/sql.
//
// Queries stay within the dialect shared by PostgreSQL (pgx stdlib driver) and
// SQLite (modernc.org/sqlite): $n placeholders, ON CONFLICT and RETURNING, and
// timestamps stored as unix seconds in BIGINT columns.
package postgres

import (
	"fmt"
	"strings"
	"time"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ph, ",")
}

func columns(cols []string) string {
	return strings.Join(cols, ",")
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
