package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"librarydesk/internal/apperr"
	"librarydesk/internal/membership"
)

var userColumns = []any{"id", "name", "email", "role", "created_at", "updated_at"}

func (s *Store) CreateUser(ctx context.Context, u *membership.User, c *membership.Credential) error {
	return s.withTx(ctx, "create_user", func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := s.exec(ctx, tx, s.insert("users").Rows(goqu.Record{
			"id":         u.ID,
			"name":       u.Name,
			"email":      u.Email,
			"role":       string(u.Role),
			"created_at": u.CreatedAt,
			"updated_at": u.UpdatedAt,
		}))
		if err != nil {
			return mapError("insert user", err)
		}
		_, err = s.exec(ctx, tx, s.insert("credentials").Rows(goqu.Record{
			"user_id":       u.ID,
			"password_hash": c.PasswordHash,
			"salt":          c.Salt,
		}))
		if err != nil {
			return mapError("insert credential", err)
		}
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*membership.User, error) {
	var u membership.User
	err := s.get(ctx, s.db, &u, s.from("users").Select(userColumns...).Where(goqu.C("id").Eq(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
		}
		return nil, mapError("select user", err)
	}
	if err := s.fillBorrowedBooks(ctx, s.db, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*membership.User, *membership.Credential, error) {
	var row struct {
		membership.User
		PasswordHash string `db:"password_hash"`
		Salt         string `db:"salt"`
	}
	ds := s.from(goqu.T("users").As("u")).
		Join(goqu.T("credentials").As("c"), goqu.On(goqu.I("c.user_id").Eq(goqu.I("u.id")))).
		Select(
			goqu.I("u.id"), goqu.I("u.name"), goqu.I("u.email"), goqu.I("u.role"),
			goqu.I("u.created_at"), goqu.I("u.updated_at"),
			goqu.I("c.password_hash"), goqu.I("c.salt"),
		).
		Where(goqu.I("u.email").Eq(email))

	if err := s.get(ctx, s.db, &row, ds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
		}
		return nil, nil, mapError("select user by email", err)
	}

	u := row.User
	if err := s.fillBorrowedBooks(ctx, s.db, &u); err != nil {
		return nil, nil, err
	}
	return &u, &membership.Credential{UserID: u.ID, PasswordHash: row.PasswordHash, Salt: row.Salt}, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*membership.User, error) {
	users := []*membership.User{}
	ds := s.from("users").Select(userColumns...).Order(goqu.C("created_at").Asc(), goqu.C("email").Asc())
	if err := s.selectAll(ctx, s.db, &users, ds); err != nil {
		return nil, mapError("select users", err)
	}

	mirrors, err := s.mirrors(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		u.BorrowedBooks = append([]uuid.UUID{}, mirrors[u.ID]...)
	}
	return users, nil
}

func (s *Store) SetUserRole(ctx context.Context, id uuid.UUID, role membership.Role, at time.Time) (*membership.User, error) {
	res, err := s.exec(ctx, s.db, s.update("users").
		Set(goqu.Record{"role": string(role), "updated_at": at}).
		Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, mapError("update role", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) fillBorrowedBooks(ctx context.Context, q sqlx.QueryerContext, u *membership.User) error {
	ids := []uuid.UUID{}
	ds := s.from("user_borrowed_books").
		Select("book_id").
		Where(goqu.C("user_id").Eq(u.ID)).
		Order(goqu.C("id").Asc())
	if err := s.selectAll(ctx, q, &ids, ds); err != nil {
		return mapError("select borrowed books", err)
	}
	u.BorrowedBooks = ids
	return nil
}

type mirrorRow struct {
	UserID uuid.UUID `db:"user_id"`
	BookID uuid.UUID `db:"book_id"`
}

// mirrors returns every user's borrowed list in the order books were added.
func (s *Store) mirrors(ctx context.Context, q sqlx.QueryerContext) (map[uuid.UUID][]uuid.UUID, error) {
	var rows []mirrorRow
	ds := s.from("user_borrowed_books").Select("user_id", "book_id").Order(goqu.C("id").Asc())
	if err := s.selectAll(ctx, q, &rows, ds); err != nil {
		return nil, mapError("select borrowed books", err)
	}

	out := make(map[uuid.UUID][]uuid.UUID)
	for _, r := range rows {
		out[r.UserID] = append(out[r.UserID], r.BookID)
	}
	return out, nil
}
