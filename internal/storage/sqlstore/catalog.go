package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
)

var bookColumns = []any{
	"id", "title", "author", "genre", "image_url", "total_copies", "available_count",
	"current_borrower_id", "status", "created_at", "updated_at",
}

func bookRecord(b *catalog.Book) goqu.Record {
	return goqu.Record{
		"id":                  b.ID,
		"title":               b.Title,
		"author":              b.Author,
		"genre":               b.Genre,
		"image_url":           b.ImageURL,
		"total_copies":        b.TotalCopies,
		"available_count":     b.AvailableCount,
		"current_borrower_id": b.CurrentBorrowerID,
		"status":              string(b.Status),
		"created_at":          b.CreatedAt,
		"updated_at":          b.UpdatedAt,
	}
}

func (s *Store) CreateBook(ctx context.Context, b *catalog.Book) error {
	if _, err := s.exec(ctx, s.db, s.insert("books").Rows(bookRecord(b))); err != nil {
		return mapError("insert book", err)
	}
	return nil
}

func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	return s.getBook(ctx, s.db, id, false)
}

func (s *Store) getBook(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, lock bool) (*catalog.Book, error) {
	ds := s.from("books").Select(bookColumns...).Where(goqu.C("id").Eq(id))
	if lock {
		ds = s.forUpdate(ds)
	}

	var b catalog.Book
	if err := s.get(ctx, q, &b, ds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book %s: %w", id, apperr.ErrNotFound)
		}
		return nil, mapError("select book", err)
	}
	return &b, nil
}

func (s *Store) ListBooks(ctx context.Context, f catalog.Filter) ([]*catalog.Book, error) {
	ds := s.from("books").
		Select(bookColumns...).
		Where(goqu.C("status").Eq(string(catalog.StatusActive))).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc())

	if f.Query != "" {
		pattern := "%" + strings.ToLower(f.Query) + "%"
		ds = ds.Where(goqu.Or(
			goqu.Func("LOWER", goqu.C("title")).Like(pattern),
			goqu.Func("LOWER", goqu.C("author")).Like(pattern),
		))
	}
	if f.Genre != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.C("genre")).Eq(strings.ToLower(f.Genre)))
	}
	if f.AvailableOnly {
		ds = ds.Where(goqu.C("available_count").Gt(0))
	}

	books := []*catalog.Book{}
	if err := s.selectAll(ctx, s.db, &books, ds); err != nil {
		return nil, mapError("select books", err)
	}
	return books, nil
}

// UpdateBook locks the book, counts its active borrows and stores whatever fn
// leaves in b.
func (s *Store) UpdateBook(ctx context.Context, id uuid.UUID, fn func(b *catalog.Book, onLoan int) error) (*catalog.Book, error) {
	var out *catalog.Book
	err := s.withTx(ctx, "update_book", func(ctx context.Context, tx *sqlx.Tx) error {
		b, err := s.getBook(ctx, tx, id, true)
		if err != nil {
			return err
		}
		onLoan, err := s.countOnLoan(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(b, onLoan); err != nil {
			return err
		}

		rec := bookRecord(b)
		delete(rec, "id")
		delete(rec, "created_at")
		if _, err := s.exec(ctx, tx, s.update("books").Set(rec).Where(goqu.C("id").Eq(id))); err != nil {
			return mapError("update book", err)
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) countOnLoan(ctx context.Context, q sqlx.QueryerContext, bookID uuid.UUID) (int, error) {
	var n int
	ds := s.from("borrows").
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("book_id").Eq(bookID), goqu.C("return_date").IsNull())
	if err := s.get(ctx, q, &n, ds); err != nil {
		return 0, mapError("count borrows", err)
	}
	return n, nil
}
