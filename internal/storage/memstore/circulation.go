package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/membership"
)

// RunInTx runs fn with exclusive access to a private copy of the library.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	return s.update(ctx, func(st *state) error {
		return fn(ctx, &tx{st: st})
	})
}

type tx struct {
	st *state
}

func (t *tx) LockBook(_ context.Context, id uuid.UUID) (*catalog.Book, error) {
	b, ok := t.st.books[id]
	if !ok {
		return nil, bookNotFound(id)
	}
	return &b, nil
}

func (t *tx) SaveBookStock(_ context.Context, b *catalog.Book) error {
	cur, ok := t.st.books[b.ID]
	if !ok {
		return bookNotFound(b.ID)
	}
	cur.AvailableCount = b.AvailableCount
	cur.CurrentBorrowerID = b.CurrentBorrowerID
	t.st.books[b.ID] = cur
	return nil
}

func (t *tx) FindActiveBorrow(_ context.Context, userID, bookID uuid.UUID) (*circulation.Borrow, error) {
	for _, b := range t.st.borrows {
		if b.UserID == userID && b.BookID == bookID && b.Active() {
			return &b, nil
		}
	}
	return nil, nil
}

func (t *tx) LockBorrow(_ context.Context, id uuid.UUID) (*circulation.Borrow, error) {
	b, ok := t.st.borrows[id]
	if !ok {
		return nil, fmt.Errorf("borrow %s: %w", id, apperr.ErrNotFound)
	}
	return &b, nil
}

func (t *tx) InsertBorrow(ctx context.Context, b *circulation.Borrow) error {
	if existing, _ := t.FindActiveBorrow(ctx, b.UserID, b.BookID); existing != nil {
		return fmt.Errorf("%w: user %s, book %s", apperr.ErrAlreadyBorrowed, b.UserID, b.BookID)
	}
	t.st.borrows[b.ID] = *b
	t.st.borrowOrder = append(t.st.borrowOrder, b.ID)
	return nil
}

func (t *tx) CloseBorrow(_ context.Context, b *circulation.Borrow) error {
	cur, ok := t.st.borrows[b.ID]
	if !ok {
		return fmt.Errorf("borrow %s: %w", b.ID, apperr.ErrNotFound)
	}
	if !cur.Active() {
		return fmt.Errorf("borrow %s: %w", b.ID, apperr.ErrAlreadyReturned)
	}
	cur.ReturnDate = b.ReturnDate
	cur.Fine = b.Fine
	t.st.borrows[b.ID] = cur
	return nil
}

func (t *tx) AddBorrowedBook(_ context.Context, userID, bookID uuid.UUID) error {
	if _, ok := t.st.users[userID]; !ok {
		return userNotFound(userID)
	}
	t.st.mirrors[userID] = append(t.st.mirrors[userID], bookID)
	return nil
}

func (t *tx) RemoveBorrowedBook(_ context.Context, userID, bookID uuid.UUID) error {
	list := t.st.mirrors[userID]
	for i, id := range list {
		if id == bookID {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.st.mirrors, userID)
		return nil
	}
	t.st.mirrors[userID] = list
	return nil
}

func (t *tx) AppendEvent(_ context.Context, e *circulation.Event) error {
	t.st.nextEventID++
	e.ID = t.st.nextEventID
	t.st.events = append(t.st.events, *e)
	return nil
}

// circulation.Store reads

func (s *Store) GetBorrow(_ context.Context, id uuid.UUID) (*circulation.Borrow, error) {
	var (
		b  circulation.Borrow
		ok bool
	)
	s.read(func(st *state) { b, ok = st.borrows[id] })
	if !ok {
		return nil, fmt.Errorf("borrow %s: %w", id, apperr.ErrNotFound)
	}
	return &b, nil
}

// ListBorrows returns matching borrows newest first.
func (s *Store) ListBorrows(_ context.Context, q circulation.BorrowQuery) ([]*circulation.BorrowView, error) {
	views := []*circulation.BorrowView{}
	s.read(func(st *state) {
		for i := len(st.borrowOrder) - 1; i >= 0; i-- {
			b := st.borrows[st.borrowOrder[i]]
			if q.UserID != nil && b.UserID != *q.UserID {
				continue
			}
			if q.ActiveOnly && !b.Active() {
				continue
			}
			v := &circulation.BorrowView{Borrow: b}
			if book, ok := st.books[b.BookID]; ok {
				v.Book = &catalog.Summary{
					ID: book.ID, Title: book.Title, Author: book.Author,
					Genre: book.Genre, ImageURL: book.ImageURL,
				}
			}
			if u, ok := st.users[b.UserID]; ok {
				v.User = &membership.Summary{ID: u.ID, Name: u.Name, Email: u.Email}
			}
			views = append(views, v)
		}
	})
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].BorrowedDate.After(views[j].BorrowedDate)
	})
	return views, nil
}

func (s *Store) BorrowTotals(_ context.Context, userID *uuid.UUID) (circulation.Totals, error) {
	var t circulation.Totals
	s.read(func(st *state) {
		for _, b := range st.borrows {
			if userID != nil && b.UserID != *userID {
				continue
			}
			t.Borrows++
			if b.Active() {
				t.Active++
			} else {
				t.PaidFines += b.Fine
			}
		}
	})
	return t, nil
}

// TopBooks ranks books by how often they were ever borrowed. Ties go to the
// book first borrowed earliest, then to the smaller id.
func (s *Store) TopBooks(_ context.Context, limit int) ([]circulation.TopBook, error) {
	type rank struct {
		top   circulation.TopBook
		first int
	}
	var ranks []*rank
	s.read(func(st *state) {
		byBook := make(map[uuid.UUID]*rank)
		for pos, id := range st.borrowOrder {
			b := st.borrows[id]
			r, ok := byBook[b.BookID]
			if !ok {
				book := st.books[b.BookID]
				r = &rank{
					top: circulation.TopBook{Book: catalog.Summary{
						ID: book.ID, Title: book.Title, Author: book.Author,
						Genre: book.Genre, ImageURL: book.ImageURL,
					}},
					first: pos,
				}
				byBook[b.BookID] = r
				ranks = append(ranks, r)
			}
			r.top.BorrowCount++
		}
	})
	sort.SliceStable(ranks, func(i, j int) bool {
		if ranks[i].top.BorrowCount != ranks[j].top.BorrowCount {
			return ranks[i].top.BorrowCount > ranks[j].top.BorrowCount
		}
		if ranks[i].first != ranks[j].first {
			return ranks[i].first < ranks[j].first
		}
		return ranks[i].top.Book.ID.String() < ranks[j].top.Book.ID.String()
	})

	out := []circulation.TopBook{}
	for i := 0; i < len(ranks) && i < limit; i++ {
		out = append(out, ranks[i].top)
	}
	return out, nil
}

func (s *Store) ListEvents(_ context.Context, borrowID uuid.UUID) ([]circulation.Event, error) {
	events := []circulation.Event{}
	s.read(func(st *state) {
		for _, e := range st.events {
			if e.BorrowID == borrowID {
				events = append(events, e)
			}
		}
	})
	return events, nil
}

func (s *Store) LedgerSnapshot(_ context.Context) (*circulation.LedgerSnapshot, error) {
	snap := &circulation.LedgerSnapshot{Mirrors: make(map[uuid.UUID][]uuid.UUID)}
	s.read(func(st *state) {
		for _, b := range st.books {
			snap.Books = append(snap.Books, circulation.BookStock{
				ID: b.ID, Title: b.Title, TotalCopies: b.TotalCopies, AvailableCount: b.AvailableCount,
			})
		}
		for _, b := range st.borrows {
			if b.Active() {
				snap.Active = append(snap.Active, circulation.BorrowPair{UserID: b.UserID, BookID: b.BookID})
			}
		}
		for id, list := range st.mirrors {
			snap.Mirrors[id] = append([]uuid.UUID(nil), list...)
		}
	})
	return snap, nil
}
