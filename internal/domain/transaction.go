package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewTransaction opens a loan. dueAt must be strictly after borrowedAt.
func NewTransaction(memberID, bookID uuid.UUID, borrowedAt, dueAt time.Time) (*Transaction, error) {
	if !dueAt.After(borrowedAt) {
		return nil, ErrDueDateNotInFuture
	}
	return &Transaction{
		ID:         uuid.New(),
		MemberID:   memberID,
		BookID:     bookID,
		BorrowedAt: borrowedAt,
		DueAt:      dueAt,
		Status:     StatusOpen,
	}, nil
}

// ResolveDueAt picks the caller's due date or now plus the default loan period,
// and rejects anything not strictly in the future.
func ResolveDueAt(requested *time.Time, now time.Time, defaultLoanDays int) (time.Time, error) {
	dueAt := now.AddDate(0, 0, defaultLoanDays)
	if requested != nil {
		dueAt = requested.UTC()
	}
	if !dueAt.After(now) {
		return time.Time{}, ErrDueDateNotInFuture
	}
	return dueAt, nil
}

// IsActive reports whether the transaction still holds a copy of its book.
func (t *Transaction) IsActive() bool {
	return t.Status == StatusOpen || t.Status == StatusOverdue
}

// Return closes the loan at the given time. A returned transaction is left
// untouched and reports changed=false.
func (t *Transaction) Return(at time.Time) (bool, error) {
	if t.Status == StatusReturned {
		return false, nil
	}
	if at.Before(t.BorrowedAt) {
		return false, ErrReturnBeforeBorrow
	}
	returnedAt := at.UTC()
	t.ReturnedAt = &returnedAt
	t.Status = StatusReturned
	return true, nil
}

// MarkOverdue flips an open loan past its due date to OVERDUE.
func (t *Transaction) MarkOverdue(now time.Time) bool {
	if t.Status != StatusOpen || !now.After(t.DueAt) {
		return false
	}
	t.Status = StatusOverdue
	return true
}

// ClampAvailable returns available+1 without exceeding total.
func ClampAvailable(available, total int32) int32 {
	if total < 0 {
		total = 0
	}
	next := available + 1
	if next > total {
		return total
	}
	return next
}
