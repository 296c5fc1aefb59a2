// Package sqlstore implements the ledger ports over database/sql.
//
// Queries are written once with '?' placeholders. A Dialect adapts them to
// the driver (placeholder style, row lock clause) and classifies driver
// errors so they can be translated into the core error taxonomy.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// ErrorKind is the driver-independent class of a database error.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindUnique
	KindForeignKey
	KindCheck
	KindBusy // lock wait timeout, deadlock, serialization failure
)

type Dialect struct {
	Name string
	// Numbered switches '?' placeholders to $1, $2, ...
	Numbered bool
	// LockClause is appended to row-locking selects, e.g. " FOR UPDATE".
	LockClause string
	// Classify maps a driver error to an ErrorKind.
	Classify func(err error) ErrorKind
	// OnBegin runs first inside every transaction opened by InTx.
	OnBegin func(ctx context.Context, tx *sql.Tx) error
}

func (d Dialect) rebind(query string) string {
	if !d.Numbered || !strings.Contains(query, "?") {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) classify(err error) ErrorKind {
	if err == nil || d.Classify == nil {
		return KindOther
	}
	return d.Classify(err)
}
