package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/punchamoorthee/loanledger/internal/domain"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// SQLStore is the database/sql engine, reached through sqlx. It runs on
// Postgres via lib/pq or on an embedded sqlite file. On sqlite there are no
// row locks: every unit of work begins IMMEDIATE and holds the database write
// lock until it ends.
type SQLStore struct {
	db          *sqlx.DB
	driver      string
	dialect     string
	q           queries
	lockTimeout time.Duration
}

// SQLiteDSN builds a DSN for a sqlite file with the pragmas the engine relies on.
func SQLiteDSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_txlock=immediate&_journal_mode=WAL",
		path, busyTimeout.Milliseconds())
}

// OpenSQL opens a SQLStore for driver "postgres" or "sqlite3".
func OpenSQL(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	var dialect string
	switch driver {
	case DriverPostgres:
		dialect = DialectPostgres
	case DriverSQLite:
		dialect = DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if cfg.maxConns > 0 {
		db.SetMaxOpenConns(int(cfg.maxConns))
	}
	if cfg.minConns > 0 {
		db.SetMaxIdleConns(int(cfg.minConns))
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return &SQLStore{db: db, driver: driver, dialect: dialect, q: newQueries(dialect), lockTimeout: cfg.lockTimeout}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate applies the schema for the store's dialect inside one transaction.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts, err := Schema(s.dialect)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", translateErr(err))
	}
	defer tx.Rollback()

	if s.driver == DriverPostgres && s.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &sqlTx{tx: tx, q: s.q}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit failed: %w", translateErr(err))
	}
	return nil
}

func (s *SQLStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return sqlGetTransaction(ctx, s.db, s.q, id, false)
}

func (s *SQLStore) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return sqlGetBook(ctx, s.db, s.q, id, false)
}

func (s *SQLStore) ListOverdueCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query, args, err := s.q.listOverdueCandidates(now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list overdue candidates: %w", translateErr(err))
	}
	return ids, nil
}

func (s *SQLStore) CreateMember(ctx context.Context, m *domain.Member) error {
	query, args, err := s.q.insertMember(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return translateErr(err)
}

func (s *SQLStore) CreateBook(ctx context.Context, b *domain.Book) error {
	query, args, err := s.q.insertBook(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return translateErr(err)
}

func (s *SQLStore) DeleteBook(ctx context.Context, id uuid.UUID) error {
	query, args, err := s.q.deleteBook(id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

type sqlTx struct {
	tx *sqlx.Tx
	q  queries
}

func (t *sqlTx) GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return sqlGetMember(ctx, t.tx, t.q, id, false)
}

func (t *sqlTx) LockMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return sqlGetMember(ctx, t.tx, t.q, id, true)
}

func (t *sqlTx) LockBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return sqlGetBook(ctx, t.tx, t.q, id, true)
}

func (t *sqlTx) SetAvailableCopies(ctx context.Context, bookID uuid.UUID, available int32) error {
	query, args, err := t.q.updateAvailableCopies(bookID, available)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update available copies: %w", translateErr(err))
	}
	return nil
}

func (t *sqlTx) CountOpenLoans(ctx context.Context, memberID uuid.UUID) (int, error) {
	query, args, err := t.q.countOpenLoans(memberID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := t.tx.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count open loans: %w", translateErr(err))
	}
	return n, nil
}

func (t *sqlTx) HasActiveLoan(ctx context.Context, memberID, bookID uuid.UUID) (bool, error) {
	query, args, err := t.q.countActiveLoans(memberID, bookID)
	if err != nil {
		return false, err
	}
	var n int
	if err := t.tx.GetContext(ctx, &n, query, args...); err != nil {
		return false, fmt.Errorf("count active loans: %w", translateErr(err))
	}
	return n > 0, nil
}

func (t *sqlTx) InsertTransaction(ctx context.Context, bt *domain.Transaction) error {
	query, args, err := t.q.insertTransaction(bt)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return translateErr(err)
	}
	return nil
}

func (t *sqlTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return sqlGetTransaction(ctx, t.tx, t.q, id, true)
}

func (t *sqlTx) UpdateTransaction(ctx context.Context, bt *domain.Transaction) error {
	query, args, err := t.q.updateTransaction(bt)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update borrow transaction: %w", translateErr(err))
	}
	return nil
}

func sqlGetMember(ctx context.Context, db sqlx.QueryerContext, q queries, id uuid.UUID, lock bool) (*domain.Member, error) {
	query, args, err := q.selectMember(id, lock)
	if err != nil {
		return nil, err
	}
	var m domain.Member
	if err := sqlx.GetContext(ctx, db, &m, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, fmt.Errorf("load member: %w", translateErr(err))
	}
	return &m, nil
}

func sqlGetBook(ctx context.Context, db sqlx.QueryerContext, q queries, id uuid.UUID, lock bool) (*domain.Book, error) {
	query, args, err := q.selectBook(id, lock)
	if err != nil {
		return nil, err
	}
	var b domain.Book
	if err := sqlx.GetContext(ctx, db, &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBookNotFound
		}
		return nil, fmt.Errorf("load book: %w", translateErr(err))
	}
	return &b, nil
}

func sqlGetTransaction(ctx context.Context, db sqlx.QueryerContext, q queries, id uuid.UUID, lock bool) (*domain.Transaction, error) {
	query, args, err := q.selectTransaction(id, lock)
	if err != nil {
		return nil, err
	}
	var t domain.Transaction
	if err := sqlx.GetContext(ctx, db, &t, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load borrow transaction: %w", translateErr(err))
	}
	return &t, nil
}
