package circulation

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// BookStock is the ledger state of one book.
type BookStock struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Title          string    `json:"title" db:"title"`
	TotalCopies    int       `json:"totalCopies" db:"total_copies"`
	AvailableCount int       `json:"availableCount" db:"available_count"`
}

// BorrowPair identifies an active borrow by user and book.
type BorrowPair struct {
	UserID uuid.UUID `json:"userId" db:"user_id"`
	BookID uuid.UUID `json:"bookId" db:"book_id"`
}

// LedgerSnapshot is a consistent read of every book's stock, every active
// borrow and every user's borrowed list.
type LedgerSnapshot struct {
	Books   []BookStock
	Active  []BorrowPair
	Mirrors map[uuid.UUID][]uuid.UUID
}

// LedgerMismatch is a book whose counts disagree with its active borrows.
type LedgerMismatch struct {
	BookStock
	OnLoan int `json:"onLoan"`
}

// DuplicateBorrow is a (user, book) pair with more than one active borrow.
type DuplicateBorrow struct {
	BorrowPair
	Count int `json:"count"`
}

// MirrorMismatch is a user whose borrowed list differs from their active borrows.
type MirrorMismatch struct {
	UserID   uuid.UUID   `json:"userId"`
	Recorded []uuid.UUID `json:"recorded"`
	Actual   []uuid.UUID `json:"actual"`
}

// AuditReport lists every inventory invariant violation found.
type AuditReport struct {
	Healthy          bool              `json:"healthy"`
	CheckedAt        time.Time         `json:"checkedAt"`
	Books            int               `json:"books"`
	ActiveBorrows    int               `json:"activeBorrows"`
	NegativeStock    []BookStock       `json:"negativeStock"`
	OverStock        []BookStock       `json:"overStock"`
	LedgerMismatches []LedgerMismatch  `json:"ledgerMismatches"`
	DuplicateActive  []DuplicateBorrow `json:"duplicateActive"`
	MirrorMismatches []MirrorMismatch  `json:"mirrorMismatches"`
}

func auditSnapshot(snap *LedgerSnapshot, at time.Time) *AuditReport {
	report := &AuditReport{
		CheckedAt:        at,
		Books:            len(snap.Books),
		ActiveBorrows:    len(snap.Active),
		NegativeStock:    []BookStock{},
		OverStock:        []BookStock{},
		LedgerMismatches: []LedgerMismatch{},
		DuplicateActive:  []DuplicateBorrow{},
		MirrorMismatches: []MirrorMismatch{},
	}

	onLoan := make(map[uuid.UUID]int)
	pairs := make(map[BorrowPair]int)
	actual := make(map[uuid.UUID][]uuid.UUID)
	for _, p := range snap.Active {
		onLoan[p.BookID]++
		pairs[p]++
		actual[p.UserID] = append(actual[p.UserID], p.BookID)
	}

	for _, b := range snap.Books {
		if b.AvailableCount < 0 {
			report.NegativeStock = append(report.NegativeStock, b)
		}
		if b.AvailableCount > b.TotalCopies {
			report.OverStock = append(report.OverStock, b)
		}
		if n := onLoan[b.ID]; b.TotalCopies-b.AvailableCount != n {
			report.LedgerMismatches = append(report.LedgerMismatches, LedgerMismatch{BookStock: b, OnLoan: n})
		}
	}

	for p, n := range pairs {
		if n > 1 {
			report.DuplicateActive = append(report.DuplicateActive, DuplicateBorrow{BorrowPair: p, Count: n})
		}
	}
	sort.Slice(report.DuplicateActive, func(i, j int) bool {
		a, b := report.DuplicateActive[i], report.DuplicateActive[j]
		if a.UserID != b.UserID {
			return a.UserID.String() < b.UserID.String()
		}
		return a.BookID.String() < b.BookID.String()
	})

	users := make(map[uuid.UUID]struct{})
	for id := range snap.Mirrors {
		users[id] = struct{}{}
	}
	for id := range actual {
		users[id] = struct{}{}
	}
	for id := range users {
		recorded := sortedIDs(snap.Mirrors[id])
		have := sortedIDs(actual[id])
		if !equalIDs(recorded, have) {
			report.MirrorMismatches = append(report.MirrorMismatches, MirrorMismatch{
				UserID:   id,
				Recorded: recorded,
				Actual:   have,
			})
		}
	}
	sort.Slice(report.MirrorMismatches, func(i, j int) bool {
		return report.MirrorMismatches[i].UserID.String() < report.MirrorMismatches[j].UserID.String()
	})

	report.Healthy = len(report.NegativeStock) == 0 &&
		len(report.OverStock) == 0 &&
		len(report.LedgerMismatches) == 0 &&
		len(report.DuplicateActive) == 0 &&
		len(report.MirrorMismatches) == 0
	return report
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID{}, ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func equalIDs(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
