package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/loanledger/internal/domain"
	"github.com/punchamoorthee/loanledger/internal/service"
	"github.com/punchamoorthee/loanledger/internal/store"
	"github.com/punchamoorthee/loanledger/internal/store/memstore"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *memstore.Store
	clock *clock
	svc   *service.BorrowingService
}

func newFixture(t *testing.T, policy domain.Policy) *fixture {
	t.Helper()
	st := memstore.New()
	c := &clock{now: fixedNow}
	return &fixture{
		store: st,
		clock: c,
		svc:   service.NewBorrowingService(st, policy, service.WithClock(c.Now)),
	}
}

func (f *fixture) member(t *testing.T) uuid.UUID {
	t.Helper()
	m := &domain.Member{ID: uuid.New(), FullName: "Ada Lovelace", CreatedAt: fixedNow}
	require.NoError(t, f.store.CreateMember(context.Background(), m))
	return m.ID
}

func (f *fixture) book(t *testing.T, total, available int32) uuid.UUID {
	t.Helper()
	b := &domain.Book{ID: uuid.New(), Title: "The Go Programming Language", TotalCopies: total, AvailableCopies: available, CreatedAt: fixedNow}
	require.NoError(t, f.store.CreateBook(context.Background(), b))
	return b.ID
}

func (f *fixture) available(t *testing.T, bookID uuid.UUID) int32 {
	t.Helper()
	b, err := f.store.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return b.AvailableCopies
}

func (f *fixture) transaction(t *testing.T, id uuid.UUID) *domain.Transaction {
	t.Helper()
	tx, err := f.svc.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func Test_Borrow_When_LastCopyTaken_Then_NextBorrowConflicts(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	book := f.book(t, 1, 1)

	id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: book})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.Equal(t, int32(0), f.available(t, book))

	_, err = f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: book})
	assert.ErrorIs(t, err, domain.ErrNoCopiesAvailable)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int32(0), f.available(t, book))
}

func Test_Borrow_Creates_OpenTransaction_With_DefaultDueDate(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	member, book := f.member(t), f.book(t, 2, 2)

	id, err := f.svc.Borrow(context.Background(), domain.BorrowRequest{MemberID: member, BookID: book})
	require.NoError(t, err)

	tx := f.transaction(t, id)
	assert.Equal(t, member, tx.MemberID)
	assert.Equal(t, book, tx.BookID)
	assert.Equal(t, domain.StatusOpen, tx.Status)
	assert.Equal(t, fixedNow, tx.BorrowedAt)
	assert.Equal(t, fixedNow.AddDate(0, 0, domain.DefaultLoanDays), tx.DueAt)
	assert.Nil(t, tx.ReturnedAt)
	assert.Equal(t, int32(1), f.available(t, book))
}

func Test_Borrow_Uses_RequestedDueDate(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	due := fixedNow.Add(36 * time.Hour)

	id, err := f.svc.Borrow(context.Background(), domain.BorrowRequest{MemberID: f.member(t), BookID: f.book(t, 1, 1), DueAt: &due})
	require.NoError(t, err)
	assert.Equal(t, due, f.transaction(t, id).DueAt)
}

func Test_Borrow_Rejections(t *testing.T) {
	yesterday := fixedNow.AddDate(0, 0, -1)
	now := fixedNow

	tests := []struct {
		name    string
		arrange func(t *testing.T, f *fixture) domain.BorrowRequest
		wantErr error
		kind    error
	}{
		{
			name: "due_date_yesterday",
			arrange: func(t *testing.T, f *fixture) domain.BorrowRequest {
				return domain.BorrowRequest{MemberID: f.member(t), BookID: f.book(t, 1, 1), DueAt: &yesterday}
			},
			wantErr: domain.ErrDueDateNotInFuture,
			kind:    domain.ErrInvalidArgument,
		},
		{
			name: "due_date_exactly_now",
			arrange: func(t *testing.T, f *fixture) domain.BorrowRequest {
				return domain.BorrowRequest{MemberID: f.member(t), BookID: f.book(t, 1, 1), DueAt: &now}
			},
			wantErr: domain.ErrDueDateNotInFuture,
			kind:    domain.ErrInvalidArgument,
		},
		{
			name: "unknown_member",
			arrange: func(t *testing.T, f *fixture) domain.BorrowRequest {
				return domain.BorrowRequest{MemberID: uuid.New(), BookID: f.book(t, 1, 1)}
			},
			wantErr: domain.ErrMemberNotFound,
			kind:    domain.ErrNotFound,
		},
		{
			name: "unknown_book",
			arrange: func(t *testing.T, f *fixture) domain.BorrowRequest {
				return domain.BorrowRequest{MemberID: f.member(t), BookID: uuid.New()}
			},
			wantErr: domain.ErrBookNotFound,
			kind:    domain.ErrNotFound,
		},
		{
			name: "no_copies",
			arrange: func(t *testing.T, f *fixture) domain.BorrowRequest {
				return domain.BorrowRequest{MemberID: f.member(t), BookID: f.book(t, 3, 0)}
			},
			wantErr: domain.ErrNoCopiesAvailable,
			kind:    domain.ErrConflict,
		},
		{
			name: "duplicate_active_loan",
			arrange: func(t *testing.T, f *fixture) domain.BorrowRequest {
				req := domain.BorrowRequest{MemberID: f.member(t), BookID: f.book(t, 3, 3)}
				_, err := f.svc.Borrow(context.Background(), req)
				require.NoError(t, err)
				return req
			},
			wantErr: domain.ErrDuplicateActiveLoan,
			kind:    domain.ErrConflict,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, domain.DefaultPolicy())
			req := tc.arrange(t, f)

			_, err := f.svc.Borrow(context.Background(), req)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, tc.kind)
		})
	}
}

func Test_Borrow_When_LoanLimitReached_Then_Conflict(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	member := f.member(t)

	for i := 0; i < domain.DefaultMaxOpenLoans; i++ {
		_, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: member, BookID: f.book(t, 1, 1)})
		require.NoError(t, err)
	}

	book := f.book(t, 1, 1)
	_, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: member, BookID: book})
	assert.ErrorIs(t, err, domain.ErrLoanLimitReached)
	assert.Equal(t, int32(1), f.available(t, book), "a rejected borrow must not touch the counter")
}

func Test_Borrow_When_LoanOverdue_Then_ItDoesNotCountTowardsLimit(t *testing.T) {
	f := newFixture(t, domain.Policy{DefaultLoanDays: 1, MaxOpenLoansPerMember: 1})
	ctx := context.Background()
	member := f.member(t)

	first, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: member, BookID: f.book(t, 1, 1)})
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	require.NoError(t, f.svc.MarkOverdue(ctx, first))

	_, err = f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: member, BookID: f.book(t, 1, 1)})
	assert.NoError(t, err)
}

func Test_Borrow_When_PreviousLoanReturned_Then_SameBookCanBeBorrowedAgain(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	req := domain.BorrowRequest{MemberID: f.member(t), BookID: f.book(t, 1, 1)}

	id, err := f.svc.Borrow(ctx, req)
	require.NoError(t, err)
	require.NoError(t, f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id}))

	_, err = f.svc.Borrow(ctx, req)
	assert.NoError(t, err)
}

func Test_MarkOverdue(t *testing.T) {
	tests := []struct {
		name       string
		advance    time.Duration
		returned   bool
		wantStatus domain.Status
	}{
		{name: "due_in_future_is_noop", advance: time.Hour, wantStatus: domain.StatusOpen},
		{name: "exactly_due_is_noop", advance: domain.DefaultLoanDays * 24 * time.Hour, wantStatus: domain.StatusOpen},
		{name: "past_due_becomes_overdue", advance: (domain.DefaultLoanDays + 1) * 24 * time.Hour, wantStatus: domain.StatusOverdue},
		{name: "returned_stays_returned", advance: (domain.DefaultLoanDays + 1) * 24 * time.Hour, returned: true, wantStatus: domain.StatusReturned},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, domain.DefaultPolicy())
			ctx := context.Background()

			id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: f.book(t, 1, 1)})
			require.NoError(t, err)
			if tc.returned {
				require.NoError(t, f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id}))
			}

			f.clock.Advance(tc.advance)
			require.NoError(t, f.svc.MarkOverdue(ctx, id))
			assert.Equal(t, tc.wantStatus, f.transaction(t, id).Status)
		})
	}
}

func Test_MarkOverdue_When_AlreadyOverdue_Then_Noop(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: f.book(t, 1, 1)})
	require.NoError(t, err)

	f.clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, f.svc.MarkOverdue(ctx, id))
	require.NoError(t, f.svc.MarkOverdue(ctx, id))
	assert.Equal(t, domain.StatusOverdue, f.transaction(t, id).Status)
}

func Test_MarkOverdue_When_UnknownTransaction_Then_NotFound(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	err := f.svc.MarkOverdue(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func Test_ReturnBook_RestoresAvailableCopies(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	book := f.book(t, 3, 3)

	id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: book})
	require.NoError(t, err)
	require.Equal(t, int32(2), f.available(t, book))

	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id}))

	tx := f.transaction(t, id)
	assert.Equal(t, domain.StatusReturned, tx.Status)
	require.NotNil(t, tx.ReturnedAt)
	assert.Equal(t, fixedNow.Add(time.Hour), *tx.ReturnedAt)
	assert.Equal(t, int32(3), f.available(t, book))
}

func Test_ReturnBook_When_Overdue_Then_Returned(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	book := f.book(t, 1, 1)

	id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: book})
	require.NoError(t, err)
	f.clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, f.svc.MarkOverdue(ctx, id))

	require.NoError(t, f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id}))
	assert.Equal(t, domain.StatusReturned, f.transaction(t, id).Status)
	assert.Equal(t, int32(1), f.available(t, book))
}

func Test_ReturnBook_When_CalledTwice_Then_CounterIncrementedOnce(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	book := f.book(t, 2, 2)

	id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: book})
	require.NoError(t, err)
	require.NoError(t, f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id}))
	first := f.transaction(t, id)

	f.clock.Advance(time.Hour)
	later := fixedNow.Add(2 * time.Hour)
	require.NoError(t, f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id, ReturnedAt: &later}))

	assert.Equal(t, first, f.transaction(t, id))
	assert.Equal(t, int32(2), f.available(t, book))
}

func Test_ReturnBook_When_ReturnedBeforeBorrowed_Then_InvalidArgumentAndNoChange(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	book := f.book(t, 1, 1)

	id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: book})
	require.NoError(t, err)

	early := fixedNow.Add(-time.Minute)
	err = f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id, ReturnedAt: &early})
	assert.ErrorIs(t, err, domain.ErrReturnBeforeBorrow)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	tx := f.transaction(t, id)
	assert.Equal(t, domain.StatusOpen, tx.Status)
	assert.Nil(t, tx.ReturnedAt)
	assert.Equal(t, int32(0), f.available(t, book))
}

func Test_ReturnBook_When_ReturnedAtEqualsBorrowedAt_Then_Accepted(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()

	id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: f.book(t, 1, 1)})
	require.NoError(t, err)

	at := fixedNow
	assert.NoError(t, f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id, ReturnedAt: &at}))
}

func Test_ReturnBook_When_BookDeleted_Then_ReturnStillSucceeds(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	book := f.book(t, 1, 1)

	id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: book})
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteBook(ctx, book))

	require.NoError(t, f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id}))
	assert.Equal(t, domain.StatusReturned, f.transaction(t, id).Status)

	_, err = f.store.GetBook(ctx, book)
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
}

func Test_ReturnBook_When_CounterAlreadyAtTotal_Then_Clamped(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	ctx := context.Background()
	book := f.book(t, 1, 1)

	id, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: book})
	require.NoError(t, err)

	// Restock out of band so the counter is already at total.
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetAvailableCopies(ctx, book, 1)
	}))

	require.NoError(t, f.svc.ReturnBook(ctx, domain.ReturnRequest{TransactionID: id}))
	assert.Equal(t, int32(1), f.available(t, book))
}

func Test_ReturnBook_When_UnknownTransaction_Then_NotFound(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	err := f.svc.ReturnBook(context.Background(), domain.ReturnRequest{TransactionID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func Test_GetTransaction_When_Unknown_Then_NotFound(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	_, err := f.svc.GetTransaction(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func Test_Borrow_Concurrent_NeverOverLends(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	book := f.book(t, 3, 3)

	members := make([]uuid.UUID, 20)
	for i := range members {
		members[i] = f.member(t)
	}

	var ok, conflicts atomic.Int32
	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(member uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Borrow(context.Background(), domain.BorrowRequest{MemberID: member, BookID: book})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrNoCopiesAvailable):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(m)
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(17), conflicts.Load())
	assert.Equal(t, int32(0), f.available(t, book))
}

func Test_Borrow_Concurrent_SameMember_RespectsLimit_When_Serialized(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.SerializeMemberBorrows = true
	f := newFixture(t, policy)
	member := f.member(t)

	books := make([]uuid.UUID, 12)
	for i := range books {
		books[i] = f.book(t, 1, 1)
	}

	var ok atomic.Int32
	var wg sync.WaitGroup
	for _, b := range books {
		wg.Add(1)
		go func(book uuid.UUID) {
			defer wg.Done()
			if _, err := f.svc.Borrow(context.Background(), domain.BorrowRequest{MemberID: member, BookID: book}); err == nil {
				ok.Add(1)
			} else if !errors.Is(err, domain.ErrLoanLimitReached) {
				t.Errorf("unexpected error: %v", err)
			}
		}(b)
	}
	wg.Wait()

	assert.Equal(t, int32(policy.MaxOpenLoansPerMember), ok.Load())
}

func Test_Borrow_When_ContextCancelled_Then_NothingWritten(t *testing.T) {
	f := newFixture(t, domain.DefaultPolicy())
	book := f.book(t, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Borrow(ctx, domain.BorrowRequest{MemberID: f.member(t), BookID: book})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), f.available(t, book))
}
