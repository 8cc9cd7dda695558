package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/loanledger/internal/domain"
	"github.com/punchamoorthee/loanledger/internal/store"
)

const (
	opBorrow      = "borrow"
	opReturn      = "return"
	opMarkOverdue = "mark_overdue"

	outcomeOK       = "ok"
	outcomeNoop     = "noop"
	outcomeNotFound = "not_found"
	outcomeInvalid  = "invalid"
	outcomeConflict = "conflict"
	outcomeLock     = "lock_unavailable"
	outcomeError    = "error"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loanledger_borrowing_operations_total",
		Help: "Borrowing operations by outcome",
	}, []string{"operation", "outcome"})

	operationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loanledger_borrowing_operation_duration_seconds",
		Help:    "Borrowing operation latency, lock waits included",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"})
)

// Store is what the borrowing service needs from a storage engine.
type Store interface {
	store.UnitOfWork
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

type BorrowingService struct {
	store  Store
	policy domain.Policy
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*BorrowingService)

func WithLogger(l *slog.Logger) Option {
	return func(s *BorrowingService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces the wall clock. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(s *BorrowingService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewBorrowingService(st Store, policy domain.Policy, opts ...Option) *BorrowingService {
	s := &BorrowingService{
		store:  st,
		policy: policy,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Borrow lends one copy of a book to a member and returns the new transaction id.
//
// Member is read (or locked, when the policy serializes member borrows) before
// the book row; every path takes locks in that order. Without member
// serialization two concurrent borrows by the same member may both pass the
// loan limit check.
func (s *BorrowingService) Borrow(ctx context.Context, req domain.BorrowRequest) (id uuid.UUID, err error) {
	timer := prometheus.NewTimer(operationLatency.WithLabelValues(opBorrow))
	defer timer.ObserveDuration()
	defer func() { observe(opBorrow, err, false) }()

	now := s.now()
	dueAt, err := domain.ResolveDueAt(req.DueAt, now, s.policy.DefaultLoanDays)
	if err != nil {
		return uuid.Nil, err
	}

	var created *domain.Transaction
	var availableAfter int32
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if s.policy.SerializeMemberBorrows {
			if _, err := tx.LockMember(ctx, req.MemberID); err != nil {
				return err
			}
		} else if _, err := tx.GetMember(ctx, req.MemberID); err != nil {
			return err
		}

		book, err := tx.LockBook(ctx, req.BookID)
		if err != nil {
			return err
		}
		if book.AvailableCopies <= 0 {
			return domain.ErrNoCopiesAvailable
		}

		open, err := tx.CountOpenLoans(ctx, req.MemberID)
		if err != nil {
			return err
		}
		if open >= s.policy.MaxOpenLoansPerMember {
			return domain.ErrLoanLimitReached
		}

		dup, err := tx.HasActiveLoan(ctx, req.MemberID, req.BookID)
		if err != nil {
			return err
		}
		if dup {
			return domain.ErrDuplicateActiveLoan
		}

		availableAfter = book.AvailableCopies - 1
		if err := tx.SetAvailableCopies(ctx, book.ID, availableAfter); err != nil {
			return err
		}

		t, err := domain.NewTransaction(req.MemberID, req.BookID, now, dueAt)
		if err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.InfoContext(ctx, "borrow created",
		slog.String("transaction_id", created.ID.String()),
		slog.String("member_id", created.MemberID.String()),
		slog.String("book_id", created.BookID.String()),
		slog.Time("due_at", created.DueAt),
		slog.Int("available_after", int(availableAfter)),
	)
	return created.ID, nil
}

// ReturnBook closes a loan and gives its copy back to the book. Returning an
// already returned transaction succeeds without changing anything. A book
// deleted from the catalog does not block the return.
func (s *BorrowingService) ReturnBook(ctx context.Context, req domain.ReturnRequest) (err error) {
	timer := prometheus.NewTimer(operationLatency.WithLabelValues(opReturn))
	defer timer.ObserveDuration()

	changed := false
	defer func() { observe(opReturn, err, !changed) }()

	var returned *domain.Transaction
	var bookMissing bool
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.LockTransaction(ctx, req.TransactionID)
		if err != nil {
			return err
		}

		at := s.now()
		if req.ReturnedAt != nil {
			at = req.ReturnedAt.UTC()
		}
		ok, err := t.Return(at)
		if err != nil || !ok {
			return err
		}
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}

		book, err := tx.LockBook(ctx, t.BookID)
		if errors.Is(err, domain.ErrBookNotFound) {
			bookMissing = true
			changed, returned = true, t
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.SetAvailableCopies(ctx, book.ID, domain.ClampAvailable(book.AvailableCopies, book.TotalCopies)); err != nil {
			return err
		}
		changed, returned = true, t
		return nil
	})
	if err != nil {
		changed = false
		return err
	}
	if !changed {
		return nil
	}

	if bookMissing {
		s.logger.WarnContext(ctx, "book missing on return",
			slog.String("transaction_id", returned.ID.String()),
			slog.String("book_id", returned.BookID.String()),
		)
	}
	s.logger.InfoContext(ctx, "borrow returned",
		slog.String("transaction_id", returned.ID.String()),
		slog.String("book_id", returned.BookID.String()),
		slog.Time("returned_at", *returned.ReturnedAt),
	)
	return nil
}

// MarkOverdue moves an open loan past its due date to OVERDUE. Any other
// state is left alone.
func (s *BorrowingService) MarkOverdue(ctx context.Context, id uuid.UUID) (err error) {
	timer := prometheus.NewTimer(operationLatency.WithLabelValues(opMarkOverdue))
	defer timer.ObserveDuration()

	changed := false
	defer func() { observe(opMarkOverdue, err, !changed) }()

	var marked *domain.Transaction
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !t.MarkOverdue(s.now()) {
			return nil
		}
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		changed, marked = true, t
		return nil
	})
	if err != nil {
		changed = false
		return err
	}

	if changed {
		s.logger.WarnContext(ctx, "borrow overdue",
			slog.String("transaction_id", marked.ID.String()),
			slog.String("member_id", marked.MemberID.String()),
			slog.Time("due_at", marked.DueAt),
		)
	}
	return nil
}

func (s *BorrowingService) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get borrow transaction: %w", err)
	}
	return t, nil
}

func observe(op string, err error, noop bool) {
	operationsTotal.WithLabelValues(op, outcomeOf(err, noop)).Inc()
}

func outcomeOf(err error, noop bool) string {
	switch {
	case err == nil && noop:
		return outcomeNoop
	case err == nil:
		return outcomeOK
	case errors.Is(err, domain.ErrNotFound):
		return outcomeNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return outcomeInvalid
	case errors.Is(err, domain.ErrConflict):
		return outcomeConflict
	case errors.Is(err, store.ErrLockUnavailable):
		return outcomeLock
	default:
		return outcomeError
	}
}
