package catalog_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/storage/memstore"
)

func ptr[T any](v T) *T { return &v }

func TestAddBook(t *testing.T) {
	ctx := context.Background()
	svc := catalog.NewService(memstore.New())

	book, err := svc.AddBook(ctx, catalog.NewBook{
		Title:    "  The Hobbit ",
		Author:   "J.R.R. Tolkien",
		Genre:    "Fantasy",
		ImageURL: "https://images.example.com/hobbit.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "The Hobbit", book.Title)
	assert.Equal(t, catalog.DefaultCopies, book.TotalCopies)
	assert.Equal(t, catalog.DefaultCopies, book.AvailableCount)
	assert.Equal(t, catalog.StatusActive, book.Status)

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ID, got.ID)

	none, err := svc.AddBook(ctx, catalog.NewBook{Title: "Pride and Prejudice", Author: "Jane Austen", Genre: "Romance", Copies: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, none.TotalCopies)
	assert.False(t, none.IsAvailable())
}

func TestAddBook_Invalid(t *testing.T) {
	svc := catalog.NewService(memstore.New())

	tests := []struct {
		name string
		nb   catalog.NewBook
		msg  string
	}{
		{"no title", catalog.NewBook{Author: "A", Genre: "G"}, "title is required"},
		{"blank author", catalog.NewBook{Title: "T", Author: "  ", Genre: "G"}, "author is required"},
		{"relative url", catalog.NewBook{Title: "T", Author: "A", Genre: "G", ImageURL: "/img.png"}, "imageUrl must be an absolute URL"},
		{"negative copies", catalog.NewBook{Title: "T", Author: "A", Genre: "G", Copies: ptr(-2)}, "copies must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddBook(context.Background(), tt.nb)
			require.ErrorIs(t, err, apperr.ErrValidation)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestUpdateBook(t *testing.T) {
	ctx := context.Background()
	svc := catalog.NewService(memstore.New())
	book, err := svc.AddBook(ctx, catalog.NewBook{Title: "1984", Author: "George Orwell", Genre: "Dystopian", Copies: ptr(2)})
	require.NoError(t, err)

	updated, err := svc.UpdateBook(ctx, book.ID, catalog.BookUpdate{
		Genre:       ptr("Science Fiction"),
		TotalCopies: ptr(4),
	})
	require.NoError(t, err)
	assert.Equal(t, "1984", updated.Title)
	assert.Equal(t, "Science Fiction", updated.Genre)
	assert.Equal(t, 4, updated.TotalCopies)
	assert.Equal(t, 4, updated.AvailableCount)

	_, err = svc.UpdateBook(ctx, book.ID, catalog.BookUpdate{Title: ptr("")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.UpdateBook(ctx, uuid.New(), catalog.BookUpdate{Title: ptr("x")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteBook_Retires(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := catalog.NewService(store)
	book, err := svc.AddBook(ctx, catalog.NewBook{Title: "Brave New World", Author: "Aldous Huxley", Genre: "Dystopian"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteBook(ctx, book.ID))

	_, err = svc.GetBook(ctx, book.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	books, err := svc.ListBooks(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Empty(t, books)

	// the row survives for borrow history
	raw, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusRetired, raw.Status)

	assert.ErrorIs(t, svc.DeleteBook(ctx, book.ID), apperr.ErrNotFound)
	_, err = svc.UpdateBook(ctx, book.ID, catalog.BookUpdate{Title: ptr("Again")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListBooks_TrimsFilter(t *testing.T) {
	ctx := context.Background()
	svc := catalog.NewService(memstore.New())
	_, err := svc.AddBook(ctx, catalog.NewBook{Title: "The Catcher in the Rye", Author: "J.D. Salinger", Genre: "Fiction"})
	require.NoError(t, err)

	books, err := svc.ListBooks(ctx, catalog.Filter{Query: "  catcher ", Genre: " fiction"})
	require.NoError(t, err)
	assert.Len(t, books, 1)
}
