package store

import (
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/punchamoorthee/loanledger/internal/domain"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"

	tableMembers      = "members"
	tableBooks        = "books"
	tableTransactions = "borrow_transactions"

	colID              = "id"
	colFullName        = "full_name"
	colEmail           = "email"
	colCreatedAt       = "created_at"
	colTitle           = "title"
	colISBN            = "isbn"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colMemberID        = "member_id"
	colBookID          = "book_id"
	colBorrowedAt      = "borrowed_at"
	colDueAt           = "due_at"
	colReturnedAt      = "returned_at"
	colStatus          = "status"
)

// queries builds the SQL shared by the SQL engines. Row locks are rendered
// only for dialects that support SELECT ... FOR UPDATE; sqlite serializes the
// whole unit of work instead.
type queries struct {
	dialect  goqu.DialectWrapper
	lockRows bool
}

func newQueries(dialect string) queries {
	return queries{
		dialect:  goqu.Dialect(dialect),
		lockRows: dialect == DialectPostgres,
	}
}

func (q queries) forUpdate(ds *goqu.SelectDataset) *goqu.SelectDataset {
	if !q.lockRows {
		return ds
	}
	return ds.ForUpdate(exp.Wait)
}

func (q queries) selectMember(id uuid.UUID, lock bool) (string, []any, error) {
	ds := q.dialect.From(tableMembers).
		Select(colID, colFullName, goqu.COALESCE(goqu.C(colEmail), "").As(colEmail), colCreatedAt).
		Where(goqu.C(colID).Eq(id.String()))
	if lock {
		ds = q.forUpdate(ds)
	}
	return ds.Prepared(true).ToSQL()
}

func (q queries) selectBook(id uuid.UUID, lock bool) (string, []any, error) {
	ds := q.dialect.From(tableBooks).
		Select(colID, colTitle, goqu.COALESCE(goqu.C(colISBN), "").As(colISBN), colTotalCopies, colAvailableCopies, colCreatedAt).
		Where(goqu.C(colID).Eq(id.String()))
	if lock {
		ds = q.forUpdate(ds)
	}
	return ds.Prepared(true).ToSQL()
}

func (q queries) updateAvailableCopies(bookID uuid.UUID, available int32) (string, []any, error) {
	return q.dialect.Update(tableBooks).
		Set(goqu.Record{colAvailableCopies: available}).
		Where(goqu.C(colID).Eq(bookID.String())).
		Prepared(true).
		ToSQL()
}

func (q queries) countOpenLoans(memberID uuid.UUID) (string, []any, error) {
	return q.dialect.From(tableTransactions).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.Ex{
			colMemberID: memberID.String(),
			colStatus:   string(domain.StatusOpen),
		}).
		Prepared(true).
		ToSQL()
}

func (q queries) countActiveLoans(memberID, bookID uuid.UUID) (string, []any, error) {
	active := make([]string, 0, len(domain.ActiveStatuses))
	for _, s := range domain.ActiveStatuses {
		active = append(active, string(s))
	}
	return q.dialect.From(tableTransactions).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.Ex{
			colMemberID: memberID.String(),
			colBookID:   bookID.String(),
			colStatus:   active,
		}).
		Prepared(true).
		ToSQL()
}

func (q queries) insertTransaction(t *domain.Transaction) (string, []any, error) {
	return q.dialect.Insert(tableTransactions).
		Rows(goqu.Record{
			colID:         t.ID.String(),
			colMemberID:   t.MemberID.String(),
			colBookID:     t.BookID.String(),
			colBorrowedAt: t.BorrowedAt,
			colDueAt:      t.DueAt,
			colReturnedAt: nullableTime(t.ReturnedAt),
			colStatus:     string(t.Status),
		}).
		Prepared(true).
		ToSQL()
}

func (q queries) selectTransaction(id uuid.UUID, lock bool) (string, []any, error) {
	ds := q.dialect.From(tableTransactions).
		Select(colID, colMemberID, colBookID, colBorrowedAt, colDueAt, colReturnedAt, colStatus).
		Where(goqu.C(colID).Eq(id.String()))
	if lock {
		ds = q.forUpdate(ds)
	}
	return ds.Prepared(true).ToSQL()
}

func (q queries) updateTransaction(t *domain.Transaction) (string, []any, error) {
	return q.dialect.Update(tableTransactions).
		Set(goqu.Record{
			colReturnedAt: nullableTime(t.ReturnedAt),
			colStatus:     string(t.Status),
		}).
		Where(goqu.C(colID).Eq(t.ID.String())).
		Prepared(true).
		ToSQL()
}

func (q queries) listOverdueCandidates(now time.Time, limit int) (string, []any, error) {
	return q.dialect.From(tableTransactions).
		Select(colID).
		Where(
			goqu.C(colStatus).Eq(string(domain.StatusOpen)),
			goqu.C(colDueAt).Lt(now),
		).
		Order(goqu.C(colDueAt).Asc()).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
}

func (q queries) insertMember(m *domain.Member) (string, []any, error) {
	return q.dialect.Insert(tableMembers).
		Rows(goqu.Record{
			colID:        m.ID.String(),
			colFullName:  m.FullName,
			colEmail:     nullableString(m.Email),
			colCreatedAt: createdAt(m.CreatedAt),
		}).
		Prepared(true).
		ToSQL()
}

func (q queries) insertBook(b *domain.Book) (string, []any, error) {
	return q.dialect.Insert(tableBooks).
		Rows(goqu.Record{
			colID:              b.ID.String(),
			colTitle:           b.Title,
			colISBN:            nullableString(b.ISBN),
			colTotalCopies:     b.TotalCopies,
			colAvailableCopies: b.AvailableCopies,
			colCreatedAt:       createdAt(b.CreatedAt),
		}).
		Prepared(true).
		ToSQL()
}

func (q queries) deleteBook(id uuid.UUID) (string, []any, error) {
	return q.dialect.Delete(tableBooks).
		Where(goqu.C(colID).Eq(id.String())).
		Prepared(true).
		ToSQL()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
