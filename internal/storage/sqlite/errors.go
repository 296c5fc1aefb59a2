package sqlite

import (
	"errors"
	"strings"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ledger/internal/storage/sqlstore"
)

func classify(err error) sqlstore.ErrorKind {
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return sqlstore.KindUnique
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return sqlstore.KindForeignKey
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return sqlstore.KindCheck
		}
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return sqlstore.KindBusy
		}
	}
	return classifyMessage(err.Error())
}

// classifyMessage covers errors that only carry the primary result code.
func classifyMessage(msg string) sqlstore.ErrorKind {
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return sqlstore.KindUnique
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return sqlstore.KindForeignKey
	case strings.Contains(msg, "CHECK constraint failed"):
		return sqlstore.KindCheck
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return sqlstore.KindBusy
	}
	return sqlstore.KindOther
}
