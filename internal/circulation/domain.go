// internal/circulation/domain.go
package circulation

import (
	stdjson "encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/fine"
	"librarydesk/internal/membership"
)

// LoanPeriod is how long a copy may be kept before fines accrue.
const LoanPeriod = 7 * 24 * time.Hour

// DefaultTopBooks is the size of the popularity ranking in Stats.
const DefaultTopBooks = 5

const maxTopBooks = 50

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Borrow is one loan of one copy. A borrow is active until ReturnDate is set;
// Fine is frozen at that moment.
type Borrow struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	UserID       uuid.UUID   `json:"userId" db:"user_id"`
	BookID       uuid.UUID   `json:"bookId" db:"book_id"`
	BorrowedDate time.Time   `json:"borrowedDate" db:"borrowed_date"`
	DueDate      time.Time   `json:"dueDate" db:"due_date"`
	ReturnDate   *time.Time  `json:"returnDate" db:"return_date"`
	Fine         fine.Amount `json:"fine" db:"fine"`
}

func newBorrow(userID, bookID uuid.UUID, at time.Time) *Borrow {
	return &Borrow{
		ID:           uuid.New(),
		UserID:       userID,
		BookID:       bookID,
		BorrowedDate: at,
		DueDate:      at.Add(LoanPeriod),
	}
}

// Active reports whether the copy is still out.
func (b *Borrow) Active() bool {
	return b.ReturnDate == nil
}

// Close marks the borrow returned at and freezes its fine.
func (b *Borrow) Close(at time.Time) error {
	if !b.Active() {
		return fmt.Errorf("%w: borrow %s was returned at %s",
			apperr.ErrAlreadyReturned, b.ID, b.ReturnDate.Format(time.RFC3339))
	}
	returned := at
	b.ReturnDate = &returned
	b.Fine = fine.Calculate(b.DueDate, at)
	return nil
}

// CurrentFine is the live estimate for an active borrow and the frozen fine
// for a returned one.
func (b *Borrow) CurrentFine(asOf time.Time) fine.Amount {
	if b.Active() {
		return fine.Calculate(b.DueDate, asOf)
	}
	return b.Fine
}

const (
	BorrowStatusActive   = "active"
	BorrowStatusReturned = "returned"
)

// BorrowView is a borrow joined with its book and borrower.
type BorrowView struct {
	Borrow
	Status      string              `json:"status"`
	CurrentFine fine.Amount         `json:"currentFine"`
	Book        *catalog.Summary    `json:"book,omitempty"`
	User        *membership.Summary `json:"user,omitempty"`
}

func (v *BorrowView) settle(asOf time.Time) {
	v.CurrentFine = v.Borrow.CurrentFine(asOf)
	v.Status = BorrowStatusReturned
	if v.Active() {
		v.Status = BorrowStatusActive
	}
}

// BorrowQuery filters ListBorrows.
type BorrowQuery struct {
	UserID     *uuid.UUID
	ActiveOnly bool
}

// Requester is whoever asks to return a borrow.
type Requester struct {
	UserID uuid.UUID
	Role   membership.Role
}

func (r Requester) mayReturn(b *Borrow) bool {
	return r.UserID == b.UserID || r.Role.Can(membership.CapManageCirculation)
}

// FeeSummary is a user's fine position.
type FeeSummary struct {
	TotalPaidFines  fine.Amount `json:"totalPaidFines"`
	CurrentLateFees fine.Amount `json:"currentLateFees"`
	TotalFines      fine.Amount `json:"totalFines"`
}

// Totals are aggregate counters kept by the store.
type Totals struct {
	Borrows   int         `db:"borrows"`
	Active    int         `db:"active"`
	PaidFines fine.Amount `db:"paid_fines"`
}

// TopBook is one entry of the popularity ranking.
type TopBook struct {
	Book        catalog.Summary `json:"book"`
	BorrowCount int             `json:"borrowCount"`
}

// Stats is the library wide report.
type Stats struct {
	TotalBorrows  int         `json:"totalBorrows"`
	ActiveBorrows int         `json:"activeBorrows"`
	TotalFees     fine.Amount `json:"totalFees"`
	TopBooks      []TopBook   `json:"topBooks"`
}

// Dashboard is what a signed in user sees first.
type Dashboard struct {
	User          *membership.User `json:"user"`
	BorrowedBooks []*BorrowView    `json:"borrowedBooks"`
}

// Event types recorded in the borrow journal.
const (
	EventBookBorrowed = "BookBorrowed"
	EventBookReturned = "BookReturned"
)

// Event is one journal entry of a borrow.
type Event struct {
	ID        int64              `json:"id" db:"id"`
	BorrowID  uuid.UUID          `json:"borrowId" db:"borrow_id"`
	Type      string             `json:"type" db:"event_type"`
	Data      stdjson.RawMessage `json:"data" db:"event_data"`
	CreatedAt time.Time          `json:"createdAt" db:"created_at"`
}

// BookBorrowedEvent is recorded when a copy goes out.
type BookBorrowedEvent struct {
	BorrowID uuid.UUID `json:"borrowId"`
	UserID   uuid.UUID `json:"userId"`
	BookID   uuid.UUID `json:"bookId"`
	DueDate  time.Time `json:"dueDate"`
	Left     int       `json:"availableCount"`
}

// BookReturnedEvent is recorded when a copy comes back.
type BookReturnedEvent struct {
	BorrowID   uuid.UUID   `json:"borrowId"`
	UserID     uuid.UUID   `json:"userId"`
	BookID     uuid.UUID   `json:"bookId"`
	ReturnDate time.Time   `json:"returnDate"`
	Fine       fine.Amount `json:"fine"`
	ReturnedBy uuid.UUID   `json:"returnedBy"`
}

func newEvent(borrowID uuid.UUID, typ string, data any, at time.Time) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", typ, err)
	}
	return &Event{
		BorrowID:  borrowID,
		Type:      typ,
		Data:      raw,
		CreatedAt: at,
	}, nil
}
