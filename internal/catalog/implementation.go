// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"librarydesk/internal/apperr"
)

// service implements the Service interface.
type service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(store Store) Service {
	return &service{
		store: store,
		now:   time.Now,
	}
}

// AddBook creates a new book with all of its copies on the shelf.
func (s *service) AddBook(ctx context.Context, nb NewBook) (*Book, error) {
	copies := DefaultCopies
	if nb.Copies != nil {
		copies = *nb.Copies
	}

	book := &Book{
		ID:             uuid.New(),
		Title:          strings.TrimSpace(nb.Title),
		Author:         strings.TrimSpace(nb.Author),
		Genre:          strings.TrimSpace(nb.Genre),
		ImageURL:       strings.TrimSpace(nb.ImageURL),
		TotalCopies:    copies,
		AvailableCount: copies,
		Status:         StatusActive,
		CreatedAt:      s.now().UTC(),
	}
	book.UpdatedAt = book.CreatedAt

	if err := validateBook(book); err != nil {
		return nil, err
	}

	if err := s.store.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}
	return book, nil
}

// GetBook retrieves an active book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	if book.Status == StatusRetired {
		return nil, fmt.Errorf("book with ID %s: %w", id, apperr.ErrNotFound)
	}
	return book, nil
}

// ListBooks returns the active books matching f.
func (s *service) ListBooks(ctx context.Context, f Filter) ([]*Book, error) {
	f.Query = strings.TrimSpace(f.Query)
	f.Genre = strings.TrimSpace(f.Genre)

	books, err := s.store.ListBooks(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// UpdateBook edits metadata and, when requested, the number of owned copies.
// Copy changes go through the ledger so they serialize with borrows.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, u BookUpdate) (*Book, error) {
	book, err := s.store.UpdateBook(ctx, id, func(b *Book, onLoan int) error {
		if b.Status == StatusRetired {
			return fmt.Errorf("book with ID %s: %w", id, apperr.ErrNotFound)
		}
		if u.Title != nil {
			b.Title = strings.TrimSpace(*u.Title)
		}
		if u.Author != nil {
			b.Author = strings.TrimSpace(*u.Author)
		}
		if u.Genre != nil {
			b.Genre = strings.TrimSpace(*u.Genre)
		}
		if u.ImageURL != nil {
			b.ImageURL = strings.TrimSpace(*u.ImageURL)
		}
		if u.TotalCopies != nil {
			if err := b.Resize(*u.TotalCopies, onLoan); err != nil {
				return err
			}
		}
		b.UpdatedAt = s.now().UTC()
		return validateBook(b)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}
	return book, nil
}

// DeleteBook retires a book. Borrow history keeps referring to it, so the row
// stays. A book with copies out cannot be retired.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	_, err := s.store.UpdateBook(ctx, id, func(b *Book, onLoan int) error {
		if b.Status == StatusRetired {
			return fmt.Errorf("book with ID %s: %w", id, apperr.ErrNotFound)
		}
		if onLoan > 0 {
			return fmt.Errorf("%w: %d copies of %q are still on loan", apperr.ErrConflict, onLoan, b.Title)
		}
		b.Status = StatusRetired
		b.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

func validateBook(b *Book) error {
	var problems []string
	if b.Title == "" {
		problems = append(problems, "title is required")
	}
	if b.Author == "" {
		problems = append(problems, "author is required")
	}
	if b.Genre == "" {
		problems = append(problems, "genre is required")
	}
	if b.ImageURL != "" {
		if u, err := url.Parse(b.ImageURL); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, "imageUrl must be an absolute URL")
		}
	}
	if b.TotalCopies < 0 {
		problems = append(problems, "copies must not be negative")
	}
	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, ", "))
	}
	return nil
}
