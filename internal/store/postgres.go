package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/loanledger/internal/domain"
)

// Store is the pgx-backed engine. Every unit of work runs in a READ COMMITTED
// transaction; row locks are taken with SELECT ... FOR UPDATE.
type Store struct {
	Db          *pgxpool.Pool
	q           queries
	lockTimeout time.Duration
}

type settings struct {
	maxConns    int32
	minConns    int32
	lockTimeout time.Duration
}

// Option tunes a Store.
type Option func(*settings)

// WithPoolSize bounds the connection pool.
func WithPoolSize(maxConns, minConns int32) Option {
	return func(s *settings) {
		s.maxConns = maxConns
		s.minConns = minConns
	}
}

// WithLockTimeout bounds how long a unit of work waits for a row lock.
// Zero leaves the server default in place.
func WithLockTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.lockTimeout = d
	}
}

func NewStore(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if cfg.maxConns > 0 {
		config.MaxConns = cfg.maxConns
	}
	if cfg.minConns > 0 {
		config.MinConns = cfg.minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool, q: newQueries(DialectPostgres), lockTimeout: cfg.lockTimeout}, nil
}

// NewStoreFromPool wraps an existing pool. The caller keeps ownership of it.
func NewStoreFromPool(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store{Db: pool, q: newQueries(DialectPostgres), lockTimeout: cfg.lockTimeout}
}

func (s *Store) Close() error {
	s.Db.Close()
	return nil
}

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		// SET cannot take bind parameters; the value is an integer in milliseconds.
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &pgxTx{tx: tx, q: s.q}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", translateErr(err))
	}
	return nil
}

// GetTransaction retrieves a borrow transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, s.Db, s.q, id, false)
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return getBook(ctx, s.Db, s.q, id, false)
}

// ListOverdueCandidates returns OPEN transactions already past due, oldest due first.
func (s *Store) ListOverdueCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query, args, err := s.q.listOverdueCandidates(now, limit)
	if err != nil {
		return nil, err
	}

	rows, err := s.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan overdue candidate: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CreateMember(ctx context.Context, m *domain.Member) error {
	query, args, err := s.q.insertMember(m)
	if err != nil {
		return err
	}
	_, err = s.Db.Exec(ctx, query, args...)
	return translateErr(err)
}

func (s *Store) CreateBook(ctx context.Context, b *domain.Book) error {
	query, args, err := s.q.insertBook(b)
	if err != nil {
		return err
	}
	_, err = s.Db.Exec(ctx, query, args...)
	return translateErr(err)
}

func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID) error {
	query, args, err := s.q.deleteBook(id)
	if err != nil {
		return err
	}
	_, err = s.Db.Exec(ctx, query, args...)
	return err
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxTx struct {
	tx pgx.Tx
	q  queries
}

func (t *pgxTx) GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return getMember(ctx, t.tx, t.q, id, false)
}

func (t *pgxTx) LockMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return getMember(ctx, t.tx, t.q, id, true)
}

func (t *pgxTx) LockBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return getBook(ctx, t.tx, t.q, id, true)
}

func (t *pgxTx) SetAvailableCopies(ctx context.Context, bookID uuid.UUID, available int32) error {
	query, args, err := t.q.updateAvailableCopies(bookID, available)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update available copies: %w", translateErr(err))
	}
	return nil
}

func (t *pgxTx) CountOpenLoans(ctx context.Context, memberID uuid.UUID) (int, error) {
	query, args, err := t.q.countOpenLoans(memberID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open loans: %w", translateErr(err))
	}
	return n, nil
}

func (t *pgxTx) HasActiveLoan(ctx context.Context, memberID, bookID uuid.UUID) (bool, error) {
	query, args, err := t.q.countActiveLoans(memberID, bookID)
	if err != nil {
		return false, err
	}
	var n int
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("count active loans: %w", translateErr(err))
	}
	return n > 0, nil
}

func (t *pgxTx) InsertTransaction(ctx context.Context, bt *domain.Transaction) error {
	query, args, err := t.q.insertTransaction(bt)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return translateErr(err)
	}
	return nil
}

func (t *pgxTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, t.q, id, true)
}

func (t *pgxTx) UpdateTransaction(ctx context.Context, bt *domain.Transaction) error {
	query, args, err := t.q.updateTransaction(bt)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update borrow transaction: %w", translateErr(err))
	}
	return nil
}

func getMember(ctx context.Context, db pgxQuerier, q queries, id uuid.UUID, lock bool) (*domain.Member, error) {
	query, args, err := q.selectMember(id, lock)
	if err != nil {
		return nil, err
	}
	var m domain.Member
	err = db.QueryRow(ctx, query, args...).Scan(&m.ID, &m.FullName, &m.Email, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, fmt.Errorf("load member: %w", translateErr(err))
	}
	return &m, nil
}

func getBook(ctx context.Context, db pgxQuerier, q queries, id uuid.UUID, lock bool) (*domain.Book, error) {
	query, args, err := q.selectBook(id, lock)
	if err != nil {
		return nil, err
	}
	var b domain.Book
	err = db.QueryRow(ctx, query, args...).Scan(&b.ID, &b.Title, &b.ISBN, &b.TotalCopies, &b.AvailableCopies, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookNotFound
		}
		return nil, fmt.Errorf("load book: %w", translateErr(err))
	}
	return &b, nil
}

func getTransaction(ctx context.Context, db pgxQuerier, q queries, id uuid.UUID, lock bool) (*domain.Transaction, error) {
	query, args, err := q.selectTransaction(id, lock)
	if err != nil {
		return nil, err
	}
	var t domain.Transaction
	err = db.QueryRow(ctx, query, args...).Scan(&t.ID, &t.MemberID, &t.BookID, &t.BorrowedAt, &t.DueAt, &t.ReturnedAt, &t.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load borrow transaction: %w", translateErr(err))
	}
	return &t, nil
}
