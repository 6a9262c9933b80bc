// internal/catalog/domain.go
package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"librarydesk/internal/apperr"
)

// DefaultCopies is used when a book is added without an explicit copy count.
const DefaultCopies = 10

// Status of a book in the catalog.
type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

// Book is a catalog title together with its copy ledger.
type Book struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Title             string     `json:"title" db:"title"`
	Author            string     `json:"author" db:"author"`
	Genre             string     `json:"genre" db:"genre"`
	ImageURL          string     `json:"imageUrl" db:"image_url"`
	TotalCopies       int        `json:"totalCopies" db:"total_copies"`
	AvailableCount    int        `json:"availableCount" db:"available_count"`
	CurrentBorrowerID *uuid.UUID `json:"currentBorrowerId,omitempty" db:"current_borrower_id"`
	Status            Status     `json:"status" db:"status"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time  `json:"updatedAt" db:"updated_at"`
}

// IsAvailable reports whether at least one copy is on the shelf.
func (b *Book) IsAvailable() bool {
	return b.AvailableCount > 0
}

func (b Book) MarshalJSON() ([]byte, error) {
	type plain Book
	return json.Marshal(struct {
		plain
		IsAvailable bool `json:"isAvailable"`
	}{plain(b), b.IsAvailable()})
}

// DecrementAvailability takes one copy off the shelf for borrower.
func (b *Book) DecrementAvailability(borrower uuid.UUID) error {
	if b.AvailableCount <= 0 {
		return fmt.Errorf("%w: %q has no copies left", apperr.ErrOutOfStock, b.Title)
	}
	b.AvailableCount--
	id := borrower
	b.CurrentBorrowerID = &id
	return nil
}

// IncrementAvailability puts one copy back. The shelf never holds more than
// TotalCopies.
func (b *Book) IncrementAvailability() error {
	if b.AvailableCount >= b.TotalCopies {
		return fmt.Errorf("%w: %q already has all %d copies on the shelf",
			apperr.ErrInvariant, b.Title, b.TotalCopies)
	}
	b.AvailableCount++
	if b.AvailableCount == b.TotalCopies {
		b.CurrentBorrowerID = nil
	}
	return nil
}

// Resize changes the number of owned copies while onLoan copies are out.
func (b *Book) Resize(newTotal, onLoan int) error {
	if newTotal < 0 {
		return apperr.Validation("totalCopies must not be negative")
	}
	if newTotal < onLoan {
		return fmt.Errorf("%w: %d copies of %q are on loan, cannot shrink to %d",
			apperr.ErrConflict, onLoan, b.Title, newTotal)
	}
	b.TotalCopies = newTotal
	b.AvailableCount = newTotal - onLoan
	if onLoan == 0 {
		b.CurrentBorrowerID = nil
	}
	return nil
}

// Summary is the slice of a book embedded in borrow views.
type Summary struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Title    string    `json:"title" db:"title"`
	Author   string    `json:"author" db:"author"`
	Genre    string    `json:"genre,omitempty" db:"genre"`
	ImageURL string    `json:"imageUrl,omitempty" db:"image_url"`
}

// Filter narrows ListBooks.
type Filter struct {
	Query         string
	Genre         string
	AvailableOnly bool
}

// NewBook is the input for AddBook.
type NewBook struct {
	Title    string
	Author   string
	Genre    string
	ImageURL string
	Copies   *int
}

// BookUpdate carries the fields of UpdateBook. Nil fields are left alone.
type BookUpdate struct {
	Title       *string
	Author      *string
	Genre       *string
	ImageURL    *string
	TotalCopies *int
}
