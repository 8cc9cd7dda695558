package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/punchamoorthee/loanledger/internal/domain"
)

const (
	pgUniqueViolation    = "23505"
	pgCheckViolation     = "23514"
	pgLockNotAvailable   = "55P03"
	pgDeadlockDetected   = "40P01"
	activeLoanConstraint = "uq_borrow_active_member_book"
)

// translateErr maps driver errors from any of the supported drivers onto the
// domain taxonomy. Errors it does not recognise are returned unchanged.
func translateErr(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return translateCode(err, pgErr.Code, pgErr.ConstraintName)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return translateCode(err, string(pqErr.Code), pqErr.Constraint)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			// sqlite reports the indexed columns, not the index name.
			if strings.Contains(liteErr.Error(), tableTransactions+"."+colBookID) {
				return fmt.Errorf("%w (%s)", domain.ErrDuplicateActiveLoan, activeLoanConstraint)
			}
			return fmt.Errorf("%w: %s", domain.ErrConflict, liteErr.Error())
		case liteErr.ExtendedCode == sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, liteErr.Error())
		case liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %s", ErrLockUnavailable, liteErr.Error())
		}
	}

	return err
}

func translateCode(err error, code, constraint string) error {
	switch code {
	case pgUniqueViolation:
		if constraint == activeLoanConstraint {
			return fmt.Errorf("%w (%s)", domain.ErrDuplicateActiveLoan, constraint)
		}
		return fmt.Errorf("%w: unique constraint %s", domain.ErrConflict, constraint)
	case pgCheckViolation:
		return fmt.Errorf("%w: check constraint %s", domain.ErrInvalidArgument, constraint)
	case pgLockNotAvailable, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrLockUnavailable, err.Error())
	}
	return err
}
