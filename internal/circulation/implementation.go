// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/fine"
)

const instrumentationName = "librarydesk/circulation"

// service implements the Service interface.
type service struct {
	store   Store
	members Members
	now     func() time.Time
	tracer  trace.Tracer

	borrows   metric.Int64Counter
	returns   metric.Int64Counter
	fines     metric.Int64Counter
	rejection metric.Int64Counter
}

// Option configures the circulation service.
type Option func(*service)

// WithClock overrides the time source used for borrow, due and return dates.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithMeterProvider records metrics with mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *service) { s.initMetrics(mp.Meter(instrumentationName)) }
}

// NewService creates a new circulation service instance.
func NewService(store Store, members Members, opts ...Option) Service {
	s := &service{
		store:   store,
		members: members,
		now:     time.Now,
		tracer:  otel.Tracer(instrumentationName),
	}
	s.initMetrics(otel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) initMetrics(m metric.Meter) {
	// names are constant and valid, so errors are ignored
	s.borrows, _ = m.Int64Counter("librarydesk.circulation.borrows",
		metric.WithDescription("Books borrowed."))
	s.returns, _ = m.Int64Counter("librarydesk.circulation.returns",
		metric.WithDescription("Books returned."))
	s.fines, _ = m.Int64Counter("librarydesk.circulation.fines_assessed",
		metric.WithDescription("Sum of fines frozen at return."))
	s.rejection, _ = m.Int64Counter("librarydesk.circulation.rejections",
		metric.WithDescription("Borrow and return requests rejected, by reason."))
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// BorrowBook lends one copy of bookID to userID. The stock check, the
// decrement, the borrow record and the user's borrowed list change together
// or not at all.
func (s *service) BorrowBook(ctx context.Context, userID, bookID uuid.UUID) (*Borrow, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("book.id", bookID.String()),
		),
	)
	defer span.End()

	var borrow *Borrow
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book.Status == catalog.StatusRetired {
			return fmt.Errorf("book with ID %s: %w", bookID, apperr.ErrNotFound)
		}

		existing, err := tx.FindActiveBorrow(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: borrow %s is due %s",
				apperr.ErrAlreadyBorrowed, existing.ID, existing.DueDate.Format(time.RFC3339))
		}

		if err := book.DecrementAvailability(userID); err != nil {
			return err
		}
		if err := tx.SaveBookStock(ctx, book); err != nil {
			return err
		}
		if err := tx.AddBorrowedBook(ctx, userID, bookID); err != nil {
			return err
		}

		now := s.clock()
		b := newBorrow(userID, bookID, now)
		if err := tx.InsertBorrow(ctx, b); err != nil {
			return err
		}

		ev, err := newEvent(b.ID, EventBookBorrowed, BookBorrowedEvent{
			BorrowID: b.ID,
			UserID:   userID,
			BookID:   bookID,
			DueDate:  b.DueDate,
			Left:     book.AvailableCount,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return err
		}

		borrow = b
		return nil
	})
	if err != nil {
		s.reject(ctx, span, "borrow", err)
		return nil, fmt.Errorf("borrow book %s: %w", bookID, err)
	}

	s.borrows.Add(ctx, 1)
	span.SetAttributes(attribute.String("borrow.id", borrow.ID.String()))
	return borrow, nil
}

// ReturnBook closes an active borrow, freezes its fine and puts the copy back.
func (s *service) ReturnBook(ctx context.Context, borrowID uuid.UUID, by Requester) (*Borrow, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(
			attribute.String("borrow.id", borrowID.String()),
			attribute.String("requester.id", by.UserID.String()),
		),
	)
	defer span.End()

	var borrow *Borrow
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.LockBorrow(ctx, borrowID)
		if err != nil {
			return err
		}
		if !by.mayReturn(b) {
			return fmt.Errorf("%w: borrow %s belongs to another user", apperr.ErrForbidden, borrowID)
		}

		now := s.clock()
		if err := b.Close(now); err != nil {
			return err
		}

		book, err := tx.LockBook(ctx, b.BookID)
		if err != nil {
			return err
		}
		if err := book.IncrementAvailability(); err != nil {
			return err
		}
		if err := tx.SaveBookStock(ctx, book); err != nil {
			return err
		}
		if err := tx.CloseBorrow(ctx, b); err != nil {
			return err
		}
		if err := tx.RemoveBorrowedBook(ctx, b.UserID, b.BookID); err != nil {
			return err
		}

		ev, err := newEvent(b.ID, EventBookReturned, BookReturnedEvent{
			BorrowID:   b.ID,
			UserID:     b.UserID,
			BookID:     b.BookID,
			ReturnDate: now,
			Fine:       b.Fine,
			ReturnedBy: by.UserID,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, ev); err != nil {
			return err
		}

		borrow = b
		return nil
	})
	if err != nil {
		s.reject(ctx, span, "return", err)
		return nil, fmt.Errorf("return borrow %s: %w", borrowID, err)
	}

	s.returns.Add(ctx, 1)
	if borrow.Fine > 0 {
		s.fines.Add(ctx, int64(borrow.Fine))
	}
	span.SetAttributes(attribute.Int64("borrow.fine", int64(borrow.Fine)))
	return borrow, nil
}

func (s *service) reject(ctx context.Context, span trace.Span, op string, err error) {
	code := apperr.Code(err)
	s.rejection.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("reason", code),
	))
	span.SetAttributes(attribute.String("rejection.reason", code))
	if code == apperr.CodeInternal || code == apperr.CodeInvariant {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// UserBorrows lists a user's borrows, newest first, with live fines on the
// active ones.
func (s *service) UserBorrows(ctx context.Context, userID uuid.UUID) ([]*BorrowView, error) {
	views, err := s.store.ListBorrows(ctx, BorrowQuery{UserID: &userID})
	if err != nil {
		return nil, fmt.Errorf("list borrows of %s: %w", userID, err)
	}
	return s.settle(views), nil
}

// AllBorrows lists every borrow with its book and borrower.
func (s *service) AllBorrows(ctx context.Context) ([]*BorrowView, error) {
	views, err := s.store.ListBorrows(ctx, BorrowQuery{})
	if err != nil {
		return nil, fmt.Errorf("list borrows: %w", err)
	}
	return s.settle(views), nil
}

func (s *service) settle(views []*BorrowView) []*BorrowView {
	now := s.clock()
	for _, v := range views {
		v.settle(now)
	}
	return views
}

// FeeSummary adds up what a user has paid and what they currently owe.
func (s *service) FeeSummary(ctx context.Context, userID uuid.UUID) (*FeeSummary, error) {
	totals, err := s.store.BorrowTotals(ctx, &userID)
	if err != nil {
		return nil, fmt.Errorf("fee summary of %s: %w", userID, err)
	}
	live, err := s.liveFees(ctx, &userID)
	if err != nil {
		return nil, fmt.Errorf("fee summary of %s: %w", userID, err)
	}
	return &FeeSummary{
		TotalPaidFines:  totals.PaidFines,
		CurrentLateFees: live,
		TotalFines:      totals.PaidFines + live,
	}, nil
}

func (s *service) liveFees(ctx context.Context, userID *uuid.UUID) (fine.Amount, error) {
	active, err := s.store.ListBorrows(ctx, BorrowQuery{UserID: userID, ActiveOnly: true})
	if err != nil {
		return 0, err
	}
	now := s.clock()
	var sum fine.Amount
	for _, v := range active {
		sum += v.Borrow.CurrentFine(now)
	}
	return sum, nil
}

// Stats reports library wide totals and the topN most borrowed books.
func (s *service) Stats(ctx context.Context, topN int) (*Stats, error) {
	switch {
	case topN <= 0:
		topN = DefaultTopBooks
	case topN > maxTopBooks:
		topN = maxTopBooks
	}

	totals, err := s.store.BorrowTotals(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	live, err := s.liveFees(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	top, err := s.store.TopBooks(ctx, topN)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if top == nil {
		top = []TopBook{}
	}

	return &Stats{
		TotalBorrows:  totals.Borrows,
		ActiveBorrows: totals.Active,
		TotalFees:     totals.PaidFines + live,
		TopBooks:      top,
	}, nil
}

// Dashboard returns the user's profile with the books they have out.
func (s *service) Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	user, err := s.members.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	active, err := s.store.ListBorrows(ctx, BorrowQuery{UserID: &userID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	return &Dashboard{User: user, BorrowedBooks: s.settle(active)}, nil
}

// BorrowHistory returns the journal of one borrow in order.
func (s *service) BorrowHistory(ctx context.Context, borrowID uuid.UUID) ([]Event, error) {
	if _, err := s.store.GetBorrow(ctx, borrowID); err != nil {
		return nil, fmt.Errorf("history of %s: %w", borrowID, err)
	}
	events, err := s.store.ListEvents(ctx, borrowID)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", borrowID, err)
	}
	return events, nil
}

// Audit checks the stock invariants against a consistent snapshot.
func (s *service) Audit(ctx context.Context) (*AuditReport, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.audit")
	defer span.End()

	snap, err := s.store.LedgerSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	report := auditSnapshot(snap, s.clock())
	span.SetAttributes(attribute.Bool("audit.healthy", report.Healthy))
	if !report.Healthy {
		span.SetStatus(codes.Error, "inventory invariants violated")
	}
	return report, nil
}

// IsRejection reports whether err is one of the expected outcomes of a
// borrow or return rather than a failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		apperr.ErrNotFound, apperr.ErrOutOfStock, apperr.ErrAlreadyBorrowed,
		apperr.ErrAlreadyReturned, apperr.ErrForbidden, apperr.ErrConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
