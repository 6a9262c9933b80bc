// Package seed loads the starter catalog and the demo account.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/lib/sl"
	"librarydesk/internal/membership"
)

const (
	DefaultCopies = 10

	TestUserEmail    = "test@example.com"
	TestUserPassword = "password123"
	TestUserName     = "Test User"

	placeholderImage = "https://via.placeholder.com/150"
)

// Book is one starter catalog entry.
type Book struct {
	Title  string
	Author string
	Genre  string
}

// Catalog is the starter catalog.
var Catalog = []Book{
	{"The Pragmatic Programmer", "Andrew Hunt", "Programming"},
	{"Clean Code", "Robert C. Martin", "Programming"},
	{"You Don't Know JS", "Kyle Simpson", "Programming"},
	{"Eloquent JavaScript", "Marijn Haverbeke", "Programming"},
	{"Data Communication and Networking", "Behrouz Forouzan", "Networking"},
	{"Introduction to Algorithms", "Cormen, Leiserson, Rivest, Stein", "Algorithms"},
	{"Design Patterns", "Erich Gamma", "Software Engineering"},
	{"The Mythical Man-Month", "Frederick P. Brooks Jr.", "Software Engineering"},
	{"Effective Java", "Joshua Bloch", "Programming"},
	{"Refactoring", "Martin Fowler", "Programming"},
}

type Options struct {
	// Reset retires the starter titles already present before adding them again.
	Reset        bool
	WithTestUser bool
	// SampleBorrow has the test user borrow the first starter book.
	SampleBorrow bool
}

// Report says what a run changed.
type Report struct {
	Added    int
	Skipped  int
	Retired  int
	UserMade bool
	Borrowed string
}

type Seeder struct {
	log     *slog.Logger
	books   catalog.Service
	members membership.Service
	borrows circulation.Service
}

func New(log *slog.Logger, books catalog.Service, members membership.Service, borrows circulation.Service) *Seeder {
	return &Seeder{
		log:     log.With(slog.String("component", "seed")),
		books:   books,
		members: members,
		borrows: borrows,
	}
}

// Run adds every starter title that is not in the catalog yet. Titles match
// case-insensitively on title and author.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Report, error) {
	const op = "seed.Run"
	log := s.log.With(slog.String("op", op))

	existing, err := s.books.ListBooks(ctx, catalog.Filter{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	report := &Report{}
	present := make(map[string]*catalog.Book, len(existing))
	for _, b := range existing {
		present[key(b.Title, b.Author)] = b
	}

	for _, entry := range Catalog {
		k := key(entry.Title, entry.Author)
		if b, ok := present[k]; ok {
			if !opts.Reset {
				report.Skipped++
				continue
			}
			if err := s.books.DeleteBook(ctx, b.ID); err != nil {
				// Copies still out keep the old entry in place.
				log.Warn("cannot retire book", slog.String("title", b.Title), sl.Err(err))
				report.Skipped++
				continue
			}
			report.Retired++
		}

		copies := DefaultCopies
		b, err := s.books.AddBook(ctx, catalog.NewBook{
			Title:    entry.Title,
			Author:   entry.Author,
			Genre:    entry.Genre,
			ImageURL: placeholderImage,
			Copies:   &copies,
		})
		if err != nil {
			return report, fmt.Errorf("%s: add %q: %w", op, entry.Title, err)
		}
		present[k] = b
		report.Added++
	}

	if opts.WithTestUser || opts.SampleBorrow {
		made, err := s.ensureTestUser(ctx)
		if err != nil {
			return report, fmt.Errorf("%s: %w", op, err)
		}
		report.UserMade = made
	}

	if opts.SampleBorrow {
		first := present[key(Catalog[0].Title, Catalog[0].Author)]
		if err := s.sampleBorrow(ctx, first); err != nil {
			return report, fmt.Errorf("%s: %w", op, err)
		}
		report.Borrowed = first.Title
	}

	log.Info("seed finished",
		slog.Int("added", report.Added),
		slog.Int("skipped", report.Skipped),
		slog.Int("retired", report.Retired),
		slog.Bool("test_user_created", report.UserMade),
	)
	return report, nil
}

func (s *Seeder) ensureTestUser(ctx context.Context) (bool, error) {
	_, err := s.members.Register(ctx, membership.Registration{
		Name:     TestUserName,
		Email:    TestUserEmail,
		Password: TestUserPassword,
		Role:     membership.RoleMember,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperr.ErrDuplicate):
		return false, nil
	default:
		return false, fmt.Errorf("create test user: %w", err)
	}
}

func (s *Seeder) sampleBorrow(ctx context.Context, book *catalog.Book) error {
	u, err := s.members.Authenticate(ctx, TestUserEmail, TestUserPassword)
	if err != nil {
		return fmt.Errorf("test user: %w", err)
	}
	_, err = s.borrows.BorrowBook(ctx, u.ID, book.ID)
	if err != nil && !errors.Is(err, apperr.ErrAlreadyBorrowed) {
		return fmt.Errorf("sample borrow: %w", err)
	}
	return nil
}

func key(title, author string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "\x00" + strings.ToLower(strings.TrimSpace(author))
}
