package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by the borrowing core wraps exactly one of these.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)

var (
	ErrMemberNotFound      = fmt.Errorf("member %w", ErrNotFound)
	ErrBookNotFound        = fmt.Errorf("book %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("borrow transaction %w", ErrNotFound)

	ErrDueDateNotInFuture = fmt.Errorf("%w: dueAt must be in the future", ErrInvalidArgument)
	ErrReturnBeforeBorrow = fmt.Errorf("%w: returnedAt must be >= borrowedAt", ErrInvalidArgument)

	ErrNoCopiesAvailable   = fmt.Errorf("%w: no copies available for this book", ErrConflict)
	ErrLoanLimitReached    = fmt.Errorf("%w: member reached max open borrows", ErrConflict)
	ErrDuplicateActiveLoan = fmt.Errorf("%w: member already has an active borrow for this book", ErrConflict)
)
