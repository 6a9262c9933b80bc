package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/membership"
)

var borrowColumns = []any{"id", "user_id", "book_id", "borrowed_date", "due_date", "return_date", "fine"}

// RunInTx runs fn in one database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	return s.withTx(ctx, "ledger", func(ctx context.Context, sqlTx *sqlx.Tx) error {
		return fn(ctx, &tx{s: s, tx: sqlTx})
	})
}

type tx struct {
	s  *Store
	tx *sqlx.Tx
}

func (t *tx) LockBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	return t.s.getBook(ctx, t.tx, id, true)
}

func (t *tx) SaveBookStock(ctx context.Context, b *catalog.Book) error {
	res, err := t.s.exec(ctx, t.tx, t.s.update("books").
		Set(goqu.Record{
			"available_count":     b.AvailableCount,
			"current_borrower_id": b.CurrentBorrowerID,
		}).
		Where(goqu.C("id").Eq(b.ID)))
	if err != nil {
		return mapError("save stock", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("book %s: %w", b.ID, apperr.ErrNotFound)
	}
	return nil
}

func (t *tx) FindActiveBorrow(ctx context.Context, userID, bookID uuid.UUID) (*circulation.Borrow, error) {
	var b circulation.Borrow
	ds := t.s.from("borrows").
		Select(borrowColumns...).
		Where(
			goqu.C("user_id").Eq(userID),
			goqu.C("book_id").Eq(bookID),
			goqu.C("return_date").IsNull(),
		)
	if err := t.s.get(ctx, t.tx, &b, ds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError("find active borrow", err)
	}
	return &b, nil
}

func (t *tx) LockBorrow(ctx context.Context, id uuid.UUID) (*circulation.Borrow, error) {
	var b circulation.Borrow
	ds := t.s.forUpdate(t.s.from("borrows").Select(borrowColumns...).Where(goqu.C("id").Eq(id)))
	if err := t.s.get(ctx, t.tx, &b, ds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("borrow %s: %w", id, apperr.ErrNotFound)
		}
		return nil, mapError("lock borrow", err)
	}
	return &b, nil
}

func (t *tx) InsertBorrow(ctx context.Context, b *circulation.Borrow) error {
	_, err := t.s.exec(ctx, t.tx, t.s.insert("borrows").Rows(goqu.Record{
		"id":            b.ID,
		"user_id":       b.UserID,
		"book_id":       b.BookID,
		"borrowed_date": b.BorrowedDate,
		"due_date":      b.DueDate,
		"return_date":   b.ReturnDate,
		"fine":          int64(b.Fine),
	}))
	if err != nil {
		err = mapError("insert borrow", err)
		if errors.Is(err, apperr.ErrDuplicate) {
			return fmt.Errorf("%w: user %s, book %s", apperr.ErrAlreadyBorrowed, b.UserID, b.BookID)
		}
		return err
	}
	return nil
}

func (t *tx) CloseBorrow(ctx context.Context, b *circulation.Borrow) error {
	res, err := t.s.exec(ctx, t.tx, t.s.update("borrows").
		Set(goqu.Record{"return_date": b.ReturnDate, "fine": int64(b.Fine)}).
		Where(goqu.C("id").Eq(b.ID), goqu.C("return_date").IsNull()))
	if err != nil {
		return mapError("close borrow", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("borrow %s: %w", b.ID, apperr.ErrAlreadyReturned)
	}
	return nil
}

func (t *tx) AddBorrowedBook(ctx context.Context, userID, bookID uuid.UUID) error {
	_, err := t.s.exec(ctx, t.tx, t.s.insert("user_borrowed_books").Rows(goqu.Record{
		"user_id": userID,
		"book_id": bookID,
	}))
	if err != nil {
		return mapError("add borrowed book", err)
	}
	return nil
}

func (t *tx) RemoveBorrowedBook(ctx context.Context, userID, bookID uuid.UUID) error {
	_, err := t.s.exec(ctx, t.tx, t.s.delete("user_borrowed_books").
		Where(goqu.C("user_id").Eq(userID), goqu.C("book_id").Eq(bookID)))
	if err != nil {
		return mapError("remove borrowed book", err)
	}
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, e *circulation.Event) error {
	return t.s.journal.append(ctx, t.tx, e)
}

func (s *Store) GetBorrow(ctx context.Context, id uuid.UUID) (*circulation.Borrow, error) {
	var b circulation.Borrow
	if err := s.get(ctx, s.db, &b, s.from("borrows").Select(borrowColumns...).Where(goqu.C("id").Eq(id))); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("borrow %s: %w", id, apperr.ErrNotFound)
		}
		return nil, mapError("select borrow", err)
	}
	return &b, nil
}

type borrowRow struct {
	circulation.Borrow
	BookTitle    string `db:"book_title"`
	BookAuthor   string `db:"book_author"`
	BookGenre    string `db:"book_genre"`
	BookImageURL string `db:"book_image_url"`
	UserName     string `db:"user_name"`
	UserEmail    string `db:"user_email"`
}

func (r *borrowRow) view() *circulation.BorrowView {
	return &circulation.BorrowView{
		Borrow: r.Borrow,
		Book: &catalog.Summary{
			ID: r.BookID, Title: r.BookTitle, Author: r.BookAuthor,
			Genre: r.BookGenre, ImageURL: r.BookImageURL,
		},
		User: &membership.Summary{ID: r.UserID, Name: r.UserName, Email: r.UserEmail},
	}
}

// ListBorrows returns matching borrows newest first, joined with their book
// and borrower.
func (s *Store) ListBorrows(ctx context.Context, q circulation.BorrowQuery) ([]*circulation.BorrowView, error) {
	ds := s.from(goqu.T("borrows").As("b")).
		Join(goqu.T("books").As("bk"), goqu.On(goqu.I("bk.id").Eq(goqu.I("b.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("b.user_id")))).
		Select(
			goqu.I("b.id"), goqu.I("b.user_id"), goqu.I("b.book_id"),
			goqu.I("b.borrowed_date"), goqu.I("b.due_date"), goqu.I("b.return_date"), goqu.I("b.fine"),
			goqu.I("bk.title").As("book_title"),
			goqu.I("bk.author").As("book_author"),
			goqu.I("bk.genre").As("book_genre"),
			goqu.I("bk.image_url").As("book_image_url"),
			goqu.I("u.name").As("user_name"),
			goqu.I("u.email").As("user_email"),
		).
		Order(goqu.I("b.borrowed_date").Desc(), goqu.I("b.id").Desc())

	if q.UserID != nil {
		ds = ds.Where(goqu.I("b.user_id").Eq(*q.UserID))
	}
	if q.ActiveOnly {
		ds = ds.Where(goqu.I("b.return_date").IsNull())
	}

	var rows []borrowRow
	if err := s.selectAll(ctx, s.db, &rows, ds); err != nil {
		return nil, mapError("select borrows", err)
	}

	views := make([]*circulation.BorrowView, 0, len(rows))
	for i := range rows {
		views = append(views, rows[i].view())
	}
	return views, nil
}

func (s *Store) BorrowTotals(ctx context.Context, userID *uuid.UUID) (circulation.Totals, error) {
	ds := s.from("borrows").Select(
		goqu.COUNT(goqu.Star()).As("borrows"),
		goqu.L("COALESCE(SUM(CASE WHEN return_date IS NULL THEN 1 ELSE 0 END), 0)").As("active"),
		goqu.L("COALESCE(SUM(CASE WHEN return_date IS NOT NULL THEN fine ELSE 0 END), 0)").As("paid_fines"),
	)
	if userID != nil {
		ds = ds.Where(goqu.C("user_id").Eq(*userID))
	}

	var t circulation.Totals
	if err := s.get(ctx, s.db, &t, ds); err != nil {
		return circulation.Totals{}, mapError("borrow totals", err)
	}
	return t, nil
}

type topBookRow struct {
	catalog.Summary
	BorrowCount int `db:"borrow_count"`
}

// TopBooks ranks books by how often they were ever borrowed. Ties go to the
// book first borrowed earliest, then to the smaller id.
func (s *Store) TopBooks(ctx context.Context, limit int) ([]circulation.TopBook, error) {
	ds := s.from(goqu.T("borrows").As("b")).
		Join(goqu.T("books").As("bk"), goqu.On(goqu.I("bk.id").Eq(goqu.I("b.book_id")))).
		Select(
			goqu.I("bk.id"), goqu.I("bk.title"), goqu.I("bk.author"),
			goqu.I("bk.genre"), goqu.I("bk.image_url"),
			goqu.COUNT(goqu.Star()).As("borrow_count"),
		).
		GroupBy(goqu.I("bk.id"), goqu.I("bk.title"), goqu.I("bk.author"), goqu.I("bk.genre"), goqu.I("bk.image_url")).
		Order(
			goqu.COUNT(goqu.Star()).Desc(),
			goqu.MIN(goqu.I("b.borrowed_date")).Asc(),
			goqu.I("bk.id").Asc(),
		).
		Limit(uint(limit))

	var rows []topBookRow
	if err := s.selectAll(ctx, s.db, &rows, ds); err != nil {
		return nil, mapError("top books", err)
	}

	out := make([]circulation.TopBook, 0, len(rows))
	for _, r := range rows {
		out = append(out, circulation.TopBook{Book: r.Summary, BorrowCount: r.BorrowCount})
	}
	return out, nil
}

func (s *Store) ListEvents(ctx context.Context, borrowID uuid.UUID) ([]circulation.Event, error) {
	return s.journal.load(ctx, borrowID)
}

// LedgerSnapshot reads stock, active borrows and borrowed lists in one
// transaction so the audit compares a single point in time.
func (s *Store) LedgerSnapshot(ctx context.Context) (*circulation.LedgerSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "sqlstore.ledger_snapshot")
	defer span.End()

	var opts *sql.TxOptions
	if s.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, mapError("begin snapshot", err)
	}
	defer tx.Rollback()

	snap := &circulation.LedgerSnapshot{}
	ds := s.from("books").Select("id", "title", "total_copies", "available_count").Order(goqu.C("id").Asc())
	if err := s.selectAll(ctx, tx, &snap.Books, ds); err != nil {
		return nil, mapError("snapshot books", err)
	}
	ds = s.from("borrows").Select("user_id", "book_id").Where(goqu.C("return_date").IsNull())
	if err := s.selectAll(ctx, tx, &snap.Active, ds); err != nil {
		return nil, mapError("snapshot borrows", err)
	}
	if snap.Mirrors, err = s.mirrors(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError("commit snapshot", err)
	}
	return snap, nil
}
