// Package memstore keeps the whole library in process memory. Transactions
// are serialized: each one works on a private copy of the state that replaces
// the committed state only when the transaction function succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/membership"
	"librarydesk/internal/review"
)

type state struct {
	books       map[uuid.UUID]catalog.Book
	users       map[uuid.UUID]membership.User
	creds       map[uuid.UUID]membership.Credential
	emails      map[string]uuid.UUID
	mirrors     map[uuid.UUID][]uuid.UUID
	borrows     map[uuid.UUID]circulation.Borrow
	borrowOrder []uuid.UUID
	events      []circulation.Event
	nextEventID int64
}

func newState() *state {
	return &state{
		books:   make(map[uuid.UUID]catalog.Book),
		users:   make(map[uuid.UUID]membership.User),
		creds:   make(map[uuid.UUID]membership.Credential),
		emails:  make(map[string]uuid.UUID),
		mirrors: make(map[uuid.UUID][]uuid.UUID),
		borrows: make(map[uuid.UUID]circulation.Borrow),
	}
}

func (s *state) clone() *state {
	c := &state{
		books:       make(map[uuid.UUID]catalog.Book, len(s.books)),
		users:       make(map[uuid.UUID]membership.User, len(s.users)),
		creds:       make(map[uuid.UUID]membership.Credential, len(s.creds)),
		emails:      make(map[string]uuid.UUID, len(s.emails)),
		mirrors:     make(map[uuid.UUID][]uuid.UUID, len(s.mirrors)),
		borrows:     make(map[uuid.UUID]circulation.Borrow, len(s.borrows)),
		borrowOrder: append([]uuid.UUID(nil), s.borrowOrder...),
		events:      append([]circulation.Event(nil), s.events...),
		nextEventID: s.nextEventID,
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.creds {
		c.creds[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.mirrors {
		c.mirrors[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range s.borrows {
		c.borrows[k] = v
	}
	return c
}

func (s *state) onLoan(bookID uuid.UUID) int {
	n := 0
	for _, b := range s.borrows {
		if b.BookID == bookID && b.Active() {
			n++
		}
	}
	return n
}

// Store is the in-memory implementation of every store interface.
type Store struct {
	mu      sync.RWMutex
	st      *state
	reviews []review.Review
}

func New() *Store {
	return &Store{st: newState()}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// update runs fn against a private copy of the state and commits it when fn
// returns nil.
func (s *Store) update(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrConflict, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrConflict, err.Error())
	}
	s.st = work
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

func bookNotFound(id uuid.UUID) error {
	return fmt.Errorf("book %s: %w", id, apperr.ErrNotFound)
}

func userNotFound(id uuid.UUID) error {
	return fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
}

// catalog.Store

func (s *Store) CreateBook(ctx context.Context, b *catalog.Book) error {
	return s.update(ctx, func(st *state) error {
		if _, ok := st.books[b.ID]; ok {
			return fmt.Errorf("book %s: %w", b.ID, apperr.ErrDuplicate)
		}
		st.books[b.ID] = *b
		return nil
	})
}

func (s *Store) GetBook(_ context.Context, id uuid.UUID) (*catalog.Book, error) {
	var (
		b  catalog.Book
		ok bool
	)
	s.read(func(st *state) { b, ok = st.books[id] })
	if !ok {
		return nil, bookNotFound(id)
	}
	return &b, nil
}

func (s *Store) ListBooks(_ context.Context, f catalog.Filter) ([]*catalog.Book, error) {
	q := strings.ToLower(f.Query)
	books := []*catalog.Book{}
	s.read(func(st *state) {
		for _, b := range st.books {
			if b.Status != catalog.StatusActive {
				continue
			}
			if q != "" && !strings.Contains(strings.ToLower(b.Title), q) &&
				!strings.Contains(strings.ToLower(b.Author), q) {
				continue
			}
			if f.Genre != "" && !strings.EqualFold(b.Genre, f.Genre) {
				continue
			}
			if f.AvailableOnly && b.AvailableCount <= 0 {
				continue
			}
			b := b
			books = append(books, &b)
		}
	})
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID.String() < books[j].ID.String()
	})
	return books, nil
}

func (s *Store) UpdateBook(ctx context.Context, id uuid.UUID, fn func(b *catalog.Book, onLoan int) error) (*catalog.Book, error) {
	var out catalog.Book
	err := s.update(ctx, func(st *state) error {
		b, ok := st.books[id]
		if !ok {
			return bookNotFound(id)
		}
		if err := fn(&b, st.onLoan(id)); err != nil {
			return err
		}
		st.books[id] = b
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// membership.Store

func (s *Store) CreateUser(ctx context.Context, u *membership.User, c *membership.Credential) error {
	return s.update(ctx, func(st *state) error {
		if _, taken := st.emails[u.Email]; taken {
			return fmt.Errorf("email %s: %w", u.Email, apperr.ErrDuplicate)
		}
		stored := *u
		stored.BorrowedBooks = nil
		st.users[u.ID] = stored
		st.creds[u.ID] = *c
		st.emails[u.Email] = u.ID
		return nil
	})
}

func (st *state) user(id uuid.UUID) (*membership.User, bool) {
	u, ok := st.users[id]
	if !ok {
		return nil, false
	}
	u.BorrowedBooks = append([]uuid.UUID{}, st.mirrors[id]...)
	return &u, true
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*membership.User, error) {
	var (
		u  *membership.User
		ok bool
	)
	s.read(func(st *state) { u, ok = st.user(id) })
	if !ok {
		return nil, userNotFound(id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*membership.User, *membership.Credential, error) {
	var (
		u  *membership.User
		c  membership.Credential
		ok bool
	)
	s.read(func(st *state) {
		id, found := st.emails[email]
		if !found {
			return
		}
		u, ok = st.user(id)
		c = st.creds[id]
	})
	if !ok {
		return nil, nil, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
	}
	return u, &c, nil
}

func (s *Store) ListUsers(_ context.Context) ([]*membership.User, error) {
	users := []*membership.User{}
	s.read(func(st *state) {
		for id := range st.users {
			u, _ := st.user(id)
			users = append(users, u)
		}
	})
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].Email < users[j].Email
	})
	return users, nil
}

func (s *Store) SetUserRole(ctx context.Context, id uuid.UUID, role membership.Role, at time.Time) (*membership.User, error) {
	var out *membership.User
	err := s.update(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return userNotFound(id)
		}
		u.Role = role
		u.UpdatedAt = at
		st.users[id] = u
		out, _ = st.user(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// review.Store

func (s *Store) CreateReview(_ context.Context, r *review.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews = append(s.reviews, *r)
	return nil
}

func (s *Store) ListReviews(_ context.Context, bookID uuid.UUID) ([]*review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*review.Review{}
	for i := len(s.reviews) - 1; i >= 0; i-- {
		if s.reviews[i].BookID == bookID {
			r := s.reviews[i]
			out = append(out, &r)
		}
	}
	return out, nil
}
