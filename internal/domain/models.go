package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a borrow transaction.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusOverdue  Status = "OVERDUE"
	StatusReturned Status = "RETURNED"
)

// ActiveStatuses are the states in which a transaction holds a copy of its book.
var ActiveStatuses = []Status{StatusOpen, StatusOverdue}

// Book is the catalog entry. AvailableCopies is only mutated under a row lock.
type Book struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	ISBN            string    `json:"isbn,omitempty" db:"isbn"`
	TotalCopies     int32     `json:"total_copies" db:"total_copies"`
	AvailableCopies int32     `json:"available_copies" db:"available_copies"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Member is a library patron. The borrowing core never writes it.
type Member struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FullName  string    `json:"full_name" db:"full_name"`
	Email     string    `json:"email,omitempty" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Transaction records one loan of one book to one member.
// Status is RETURNED exactly when ReturnedAt is set.
type Transaction struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	MemberID   uuid.UUID  `json:"member_id" db:"member_id"`
	BookID     uuid.UUID  `json:"book_id" db:"book_id"`
	BorrowedAt time.Time  `json:"borrowed_at" db:"borrowed_at"`
	DueAt      time.Time  `json:"due_at" db:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty" db:"returned_at"`
	Status     Status     `json:"status" db:"status"`
}

// BorrowRequest is the input of a borrow. A nil DueAt means the default loan period.
type BorrowRequest struct {
	MemberID uuid.UUID  `json:"member_id"`
	BookID   uuid.UUID  `json:"book_id"`
	DueAt    *time.Time `json:"due_at,omitempty"`
}

// ReturnRequest is the input of a return. A nil ReturnedAt means now.
type ReturnRequest struct {
	TransactionID uuid.UUID  `json:"transaction_id"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty"`
}

// BorrowResponse is returned to callers after a successful borrow.
type BorrowResponse struct {
	ID uuid.UUID `json:"id"`
}

// Policy carries the lending limits, injected once at service construction.
type Policy struct {
	DefaultLoanDays       int
	MaxOpenLoansPerMember int
	// SerializeMemberBorrows locks the member row during borrow so the
	// per-member checks cannot race between concurrent borrows.
	SerializeMemberBorrows bool
}

const (
	DefaultLoanDays     = 14
	DefaultMaxOpenLoans = 5
)

// DefaultPolicy returns the stock lending limits.
func DefaultPolicy() Policy {
	return Policy{
		DefaultLoanDays:       DefaultLoanDays,
		MaxOpenLoansPerMember: DefaultMaxOpenLoans,
	}
}
