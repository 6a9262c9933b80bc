package circulation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditSnapshot_Healthy(t *testing.T) {
	user, book := uuid.New(), uuid.New()
	snap := &LedgerSnapshot{
		Books:   []BookStock{{ID: book, Title: "Sapiens", TotalCopies: 3, AvailableCount: 2}},
		Active:  []BorrowPair{{UserID: user, BookID: book}},
		Mirrors: map[uuid.UUID][]uuid.UUID{user: {book}},
	}

	report := auditSnapshot(snap, time.Unix(0, 0))
	assert.True(t, report.Healthy)
	assert.Equal(t, 1, report.Books)
	assert.Equal(t, 1, report.ActiveBorrows)
	assert.Empty(t, report.LedgerMismatches)
}

func TestAuditSnapshot_Violations(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	negative := BookStock{ID: uuid.New(), Title: "Negative", TotalCopies: 1, AvailableCount: -1}
	over := BookStock{ID: uuid.New(), Title: "Over", TotalCopies: 1, AvailableCount: 2}
	dup := BookStock{ID: uuid.New(), Title: "Dup", TotalCopies: 5, AvailableCount: 3}

	snap := &LedgerSnapshot{
		Books: []BookStock{negative, over, dup},
		Active: []BorrowPair{
			{UserID: alice, BookID: dup.ID},
			{UserID: alice, BookID: dup.ID},
		},
		Mirrors: map[uuid.UUID][]uuid.UUID{
			alice: {dup.ID, dup.ID},
			bob:   {negative.ID},
		},
	}

	report := auditSnapshot(snap, time.Unix(0, 0))
	require.False(t, report.Healthy)

	assert.Equal(t, []BookStock{negative}, report.NegativeStock)
	assert.Equal(t, []BookStock{over}, report.OverStock)

	// negative has 2 out with no borrows, over has -1
	require.Len(t, report.LedgerMismatches, 2)
	assert.Equal(t, negative.ID, report.LedgerMismatches[0].ID)
	assert.Equal(t, over.ID, report.LedgerMismatches[1].ID)

	require.Len(t, report.DuplicateActive, 1)
	assert.Equal(t, DuplicateBorrow{BorrowPair: BorrowPair{UserID: alice, BookID: dup.ID}, Count: 2}, report.DuplicateActive[0])

	require.Len(t, report.MirrorMismatches, 1)
	assert.Equal(t, bob, report.MirrorMismatches[0].UserID)
	assert.Empty(t, report.MirrorMismatches[0].Actual)
}

func TestAuditSnapshot_MirrorOrderIgnored(t *testing.T) {
	user, a, b := uuid.New(), uuid.New(), uuid.New()
	snap := &LedgerSnapshot{
		Books: []BookStock{
			{ID: a, TotalCopies: 1},
			{ID: b, TotalCopies: 1},
		},
		Active:  []BorrowPair{{UserID: user, BookID: a}, {UserID: user, BookID: b}},
		Mirrors: map[uuid.UUID][]uuid.UUID{user: {b, a}},
	}

	assert.True(t, auditSnapshot(snap, time.Now()).Healthy)
}
