// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, nb NewBook) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context, f Filter) ([]*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, u BookUpdate) (*Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
}

// Store persists books. UpdateBook runs fn inside a transaction that holds the
// book row locked, with onLoan set to the number of active borrows of it.
type Store interface {
	CreateBook(ctx context.Context, b *Book) error
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context, f Filter) ([]*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, fn func(b *Book, onLoan int) error) (*Book, error)
}
