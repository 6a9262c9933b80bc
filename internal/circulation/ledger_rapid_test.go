package circulation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"
	"pgregory.net/rapid"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/fine"
	"librarydesk/internal/membership"
	"librarydesk/internal/storage/memstore"
)

type pair struct{ user, book int }

// ledgerModel is the expected outcome of every borrow and return.
type ledgerModel struct {
	copies    []int
	available []int
	active    map[pair]uuid.UUID
	closed    map[uuid.UUID]bool
}

func (m *ledgerModel) onLoan(book int) int {
	n := 0
	for p := range m.active {
		if p.book == book {
			n++
		}
	}
	return n
}

func TestLedgerInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		store := memstore.New()
		clk := &clock{now: t0}
		members := membership.NewService(store)
		books := catalog.NewService(store)
		svc := circulation.NewService(store, members,
			circulation.WithClock(clk.Now),
			circulation.WithMeterProvider(noop.NewMeterProvider()),
		)

		nUsers := rapid.IntRange(1, 4).Draw(t, "users")
		nBooks := rapid.IntRange(1, 3).Draw(t, "books")

		users := make([]*membership.User, nUsers)
		for i := range users {
			users[i] = addUser(t, store, membership.RoleMember)
		}

		m := &ledgerModel{active: make(map[pair]uuid.UUID), closed: make(map[uuid.UUID]bool)}
		bookIDs := make([]uuid.UUID, nBooks)
		for i := range bookIDs {
			copies := rapid.IntRange(0, 3).Draw(t, "copies")
			b, err := books.AddBook(ctx, catalog.NewBook{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", Copies: &copies})
			if err != nil {
				t.Fatalf("add book: %v", err)
			}
			bookIDs[i] = b.ID
			m.copies = append(m.copies, copies)
			m.available = append(m.available, copies)
		}

		var paid fine.Amount
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for step := 0; step < steps; step++ {
			clk.Advance(time.Duration(rapid.IntRange(0, 72).Draw(t, "hours")) * time.Hour)
			u := rapid.IntRange(0, nUsers-1).Draw(t, "user")
			b := rapid.IntRange(0, nBooks-1).Draw(t, "book")
			p := pair{u, b}

			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				borrow, err := svc.BorrowBook(ctx, users[u].ID, bookIDs[b])
				_, has := m.active[p]
				switch {
				case has:
					if !errors.Is(err, apperr.ErrAlreadyBorrowed) {
						t.Fatalf("borrow twice: want already borrowed, got %v", err)
					}
				case m.available[b] == 0:
					if !errors.Is(err, apperr.ErrOutOfStock) {
						t.Fatalf("borrow empty shelf: want out of stock, got %v", err)
					}
				default:
					if err != nil {
						t.Fatalf("borrow: %v", err)
					}
					m.available[b]--
					m.active[p] = borrow.ID
				}

			case 1:
				id, has := m.active[p]
				if !has {
					continue
				}
				returned, err := svc.ReturnBook(ctx, id, circulation.Requester{UserID: users[u].ID})
				if err != nil {
					t.Fatalf("return: %v", err)
				}
				if want := fine.Calculate(returned.DueDate, *returned.ReturnDate); returned.Fine != want {
					t.Fatalf("fine %d, want %d", returned.Fine, want)
				}
				paid += returned.Fine
				m.available[b]++
				delete(m.active, p)
				m.closed[id] = true

			case 2:
				// returning a closed borrow changes nothing
				for id := range m.closed {
					_, err := svc.ReturnBook(ctx, id, circulation.Requester{UserID: users[u].ID, Role: membership.RoleAdmin})
					if !errors.Is(err, apperr.ErrAlreadyReturned) {
						t.Fatalf("second return: want already returned, got %v", err)
					}
					break
				}
			}

			for i, id := range bookIDs {
				got, err := store.GetBook(ctx, id)
				if err != nil {
					t.Fatalf("get book: %v", err)
				}
				if got.AvailableCount != m.available[i] {
					t.Fatalf("book %d: available %d, want %d", i, got.AvailableCount, m.available[i])
				}
				if got.AvailableCount < 0 || got.AvailableCount > got.TotalCopies {
					t.Fatalf("book %d: available %d outside [0, %d]", i, got.AvailableCount, got.TotalCopies)
				}
				if got.TotalCopies-got.AvailableCount != m.onLoan(i) {
					t.Fatalf("book %d: ledger says %d out, %d active borrows",
						i, got.TotalCopies-got.AvailableCount, m.onLoan(i))
				}
			}
		}

		report, err := svc.Audit(ctx)
		if err != nil {
			t.Fatalf("audit: %v", err)
		}
		if !report.Healthy {
			t.Fatalf("audit found violations: %+v", report)
		}

		stats, err := svc.Stats(ctx, 0)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.ActiveBorrows != len(m.active) {
			t.Fatalf("stats: %d active, want %d", stats.ActiveBorrows, len(m.active))
		}
		if stats.TotalBorrows != len(m.active)+len(m.closed) {
			t.Fatalf("stats: %d borrows, want %d", stats.TotalBorrows, len(m.active)+len(m.closed))
		}
		if stats.TotalFees < paid {
			t.Fatalf("stats: total fees %d below paid %d", stats.TotalFees, paid)
		}
	})
}
