// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"librarydesk/internal/catalog"
	"librarydesk/internal/membership"
)

// Service defines the interface for the circulation service.
type Service interface {
	BorrowBook(ctx context.Context, userID, bookID uuid.UUID) (*Borrow, error)
	ReturnBook(ctx context.Context, borrowID uuid.UUID, by Requester) (*Borrow, error)

	UserBorrows(ctx context.Context, userID uuid.UUID) ([]*BorrowView, error)
	FeeSummary(ctx context.Context, userID uuid.UUID) (*FeeSummary, error)
	AllBorrows(ctx context.Context) ([]*BorrowView, error)
	Stats(ctx context.Context, topN int) (*Stats, error)
	Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error)

	BorrowHistory(ctx context.Context, borrowID uuid.UUID) ([]Event, error)
	Audit(ctx context.Context) (*AuditReport, error)
}

// Store is the borrow record store. Every state change happens inside RunInTx;
// the read methods see committed state only.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetBorrow(ctx context.Context, id uuid.UUID) (*Borrow, error)
	ListBorrows(ctx context.Context, q BorrowQuery) ([]*BorrowView, error)
	BorrowTotals(ctx context.Context, userID *uuid.UUID) (Totals, error)
	TopBooks(ctx context.Context, limit int) ([]TopBook, error)
	ListEvents(ctx context.Context, borrowID uuid.UUID) ([]Event, error)
	LedgerSnapshot(ctx context.Context) (*LedgerSnapshot, error)
}

// Tx is the set of writes a borrow or return is made of. Implementations hold
// the locked rows until the surrounding RunInTx commits or rolls back.
type Tx interface {
	// LockBook returns the book and holds it against concurrent ledger changes.
	LockBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	SaveBookStock(ctx context.Context, b *catalog.Book) error

	// FindActiveBorrow returns nil when the user has no active borrow of the book.
	FindActiveBorrow(ctx context.Context, userID, bookID uuid.UUID) (*Borrow, error)
	LockBorrow(ctx context.Context, id uuid.UUID) (*Borrow, error)
	InsertBorrow(ctx context.Context, b *Borrow) error
	CloseBorrow(ctx context.Context, b *Borrow) error

	AddBorrowedBook(ctx context.Context, userID, bookID uuid.UUID) error
	RemoveBorrowedBook(ctx context.Context, userID, bookID uuid.UUID) error

	AppendEvent(ctx context.Context, e *Event) error
}

// Members looks up accounts. membership.Service satisfies it.
type Members interface {
	GetUser(ctx context.Context, id uuid.UUID) (*membership.User, error)
}
