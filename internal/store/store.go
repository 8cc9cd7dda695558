package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/loanledger/internal/domain"
)

// ErrLockUnavailable is returned when a row lock could not be taken within
// the configured lock timeout, or the store aborted the unit of work to break
// a deadlock.
var ErrLockUnavailable = errors.New("row lock unavailable")

// Tx is the set of reads and writes available inside one unit of work.
// Lock* methods hold an exclusive lock on the row until the unit of work ends.
type Tx interface {
	GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error)
	LockMember(ctx context.Context, id uuid.UUID) (*domain.Member, error)
	LockBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	SetAvailableCopies(ctx context.Context, bookID uuid.UUID, available int32) error

	CountOpenLoans(ctx context.Context, memberID uuid.UUID) (int, error)
	HasActiveLoan(ctx context.Context, memberID, bookID uuid.UUID) (bool, error)
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, t *domain.Transaction) error
}

// UnitOfWork runs fn atomically. The unit of work commits when fn returns nil
// and rolls back on error or panic.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader serves single-statement reads outside a unit of work.
type Reader interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	ListOverdueCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Catalog holds the minimal catalog writes needed to seed members and books.
type Catalog interface {
	CreateMember(ctx context.Context, m *domain.Member) error
	CreateBook(ctx context.Context, b *domain.Book) error
	DeleteBook(ctx context.Context, id uuid.UUID) error
}

// Engine is a complete storage backend.
type Engine interface {
	UnitOfWork
	Reader
	Catalog
	Close() error
}
