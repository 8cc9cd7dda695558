// Package memstore is an in-process storage engine. Units of work are
// serialized by one mutex and run against a cloned state that replaces the
// committed state only when the unit of work succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/loanledger/internal/domain"
	"github.com/punchamoorthee/loanledger/internal/store"
)

type state struct {
	members      map[uuid.UUID]domain.Member
	books        map[uuid.UUID]domain.Book
	transactions map[uuid.UUID]domain.Transaction
}

func newState() state {
	return state{
		members:      map[uuid.UUID]domain.Member{},
		books:        map[uuid.UUID]domain.Book{},
		transactions: map[uuid.UUID]domain.Transaction{},
	}
}

func (s state) clone() state {
	c := state{
		members:      make(map[uuid.UUID]domain.Member, len(s.members)),
		books:        make(map[uuid.UUID]domain.Book, len(s.books)),
		transactions: make(map[uuid.UUID]domain.Transaction, len(s.transactions)),
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = cloneTransaction(v)
	}
	return c
}

func cloneTransaction(t domain.Transaction) domain.Transaction {
	if t.ReturnedAt != nil {
		at := *t.ReturnedAt
		t.ReturnedAt = &at
	}
	return t
}

// Store implements store.Engine in memory.
type Store struct {
	mu    sync.RWMutex
	state state
}

var _ store.Engine = (*Store)(nil)

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) Close() error { return nil }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	t = cloneTransaction(t)
	return &t, nil
}

func (s *Store) GetBook(_ context.Context, id uuid.UUID) (*domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.books[id]
	if !ok {
		return nil, domain.ErrBookNotFound
	}
	return &b, nil
}

func (s *Store) ListOverdueCandidates(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []domain.Transaction
	for _, t := range s.state.transactions {
		if t.Status == domain.StatusOpen && t.DueAt.Before(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]uuid.UUID, 0, len(due))
	for _, t := range due {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (s *Store) CreateMember(_ context.Context, m *domain.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.members[m.ID]; ok {
		return fmt.Errorf("%w: member %s already exists", domain.ErrConflict, m.ID)
	}
	if m.Email != "" {
		for _, other := range s.state.members {
			if other.Email == m.Email {
				return fmt.Errorf("%w: email %s already registered", domain.ErrConflict, m.Email)
			}
		}
	}
	s.state.members[m.ID] = *m
	return nil
}

func (s *Store) CreateBook(_ context.Context, b *domain.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.books[b.ID]; ok {
		return fmt.Errorf("%w: book %s already exists", domain.ErrConflict, b.ID)
	}
	if b.TotalCopies < 0 || b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
		return fmt.Errorf("%w: copies out of range", domain.ErrInvalidArgument)
	}
	s.state.books[b.ID] = *b
	return nil
}

func (s *Store) DeleteBook(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.books, id)
	return nil
}

// memTx needs no per-row locks: the store mutex is held for the whole unit of work.
type memTx struct {
	state state
}

func (tx *memTx) GetMember(_ context.Context, id uuid.UUID) (*domain.Member, error) {
	m, ok := tx.state.members[id]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	return &m, nil
}

func (tx *memTx) LockMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return tx.GetMember(ctx, id)
}

func (tx *memTx) LockBook(_ context.Context, id uuid.UUID) (*domain.Book, error) {
	b, ok := tx.state.books[id]
	if !ok {
		return nil, domain.ErrBookNotFound
	}
	return &b, nil
}

func (tx *memTx) SetAvailableCopies(_ context.Context, bookID uuid.UUID, available int32) error {
	b, ok := tx.state.books[bookID]
	if !ok {
		return domain.ErrBookNotFound
	}
	if available < 0 || available > b.TotalCopies {
		return fmt.Errorf("available copies %d out of range [0,%d]", available, b.TotalCopies)
	}
	b.AvailableCopies = available
	tx.state.books[bookID] = b
	return nil
}

func (tx *memTx) CountOpenLoans(_ context.Context, memberID uuid.UUID) (int, error) {
	n := 0
	for _, t := range tx.state.transactions {
		if t.MemberID == memberID && t.Status == domain.StatusOpen {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) HasActiveLoan(_ context.Context, memberID, bookID uuid.UUID) (bool, error) {
	for _, t := range tx.state.transactions {
		if t.MemberID == memberID && t.BookID == bookID && t.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	if _, ok := tx.state.transactions[t.ID]; ok {
		return fmt.Errorf("%w: borrow transaction %s already exists", domain.ErrConflict, t.ID)
	}
	if _, ok := tx.state.members[t.MemberID]; !ok {
		return domain.ErrMemberNotFound
	}
	if !t.DueAt.After(t.BorrowedAt) {
		return fmt.Errorf("%w: due_at must be after borrowed_at", domain.ErrInvalidArgument)
	}
	if t.IsActive() {
		dup, _ := tx.HasActiveLoan(ctx, t.MemberID, t.BookID)
		if dup {
			return domain.ErrDuplicateActiveLoan
		}
	}
	tx.state.transactions[t.ID] = cloneTransaction(*t)
	return nil
}

func (tx *memTx) LockTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, ok := tx.state.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	t = cloneTransaction(t)
	return &t, nil
}

func (tx *memTx) UpdateTransaction(_ context.Context, t *domain.Transaction) error {
	if _, ok := tx.state.transactions[t.ID]; !ok {
		return domain.ErrTransactionNotFound
	}
	tx.state.transactions[t.ID] = cloneTransaction(*t)
	return nil
}
