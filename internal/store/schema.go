package store

import "fmt"

// book_id deliberately carries no foreign key: catalog deletions must not
// block the return of a loan, the return path tolerates a missing book.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id         UUID PRIMARY KEY,
		full_name  TEXT NOT NULL,
		email      TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id               UUID PRIMARY KEY,
		title            VARCHAR(240) NOT NULL,
		isbn             VARCHAR(20),
		total_copies     INTEGER NOT NULL DEFAULT 0 CHECK (total_copies >= 0),
		available_copies INTEGER NOT NULL DEFAULT 0 CHECK (available_copies >= 0 AND available_copies <= total_copies),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS borrow_transactions (
		id          UUID PRIMARY KEY,
		member_id   UUID NOT NULL REFERENCES members(id),
		book_id     UUID NOT NULL,
		borrowed_at TIMESTAMPTZ NOT NULL,
		due_at      TIMESTAMPTZ NOT NULL CHECK (due_at > borrowed_at),
		returned_at TIMESTAMPTZ,
		status      VARCHAR(16) NOT NULL CHECK (status IN ('OPEN', 'OVERDUE', 'RETURNED')),
		CHECK ((status = 'RETURNED') = (returned_at IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_member_status ON borrow_transactions (member_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_status_due ON borrow_transactions (status, due_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_borrow_active_member_book
		ON borrow_transactions (member_id, book_id) WHERE status IN ('OPEN', 'OVERDUE')`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id         TEXT PRIMARY KEY,
		full_name  TEXT NOT NULL,
		email      TEXT UNIQUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id               TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		isbn             TEXT,
		total_copies     INTEGER NOT NULL DEFAULT 0 CHECK (total_copies >= 0),
		available_copies INTEGER NOT NULL DEFAULT 0 CHECK (available_copies >= 0 AND available_copies <= total_copies),
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS borrow_transactions (
		id          TEXT PRIMARY KEY,
		member_id   TEXT NOT NULL REFERENCES members(id),
		book_id     TEXT NOT NULL,
		borrowed_at DATETIME NOT NULL,
		due_at      DATETIME NOT NULL CHECK (due_at > borrowed_at),
		returned_at DATETIME,
		status      TEXT NOT NULL CHECK (status IN ('OPEN', 'OVERDUE', 'RETURNED')),
		CHECK ((status = 'RETURNED') = (returned_at IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_member_status ON borrow_transactions (member_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_borrow_status_due ON borrow_transactions (status, due_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_borrow_active_member_book
		ON borrow_transactions (member_id, book_id) WHERE status IN ('OPEN', 'OVERDUE')`,
}

// Schema returns the DDL statements for the given dialect, in apply order.
func Schema(dialect string) ([]string, error) {
	switch dialect {
	case DialectPostgres:
		return postgresSchema, nil
	case DialectSQLite:
		return sqliteSchema, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}
