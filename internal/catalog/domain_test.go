package catalog

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarydesk/internal/apperr"
)

func TestBook_Availability(t *testing.T) {
	b := &Book{Title: "Dune", TotalCopies: 2, AvailableCount: 2}
	alice, bob := uuid.New(), uuid.New()

	require.NoError(t, b.DecrementAvailability(alice))
	require.NoError(t, b.DecrementAvailability(bob))
	assert.Equal(t, 0, b.AvailableCount)
	assert.False(t, b.IsAvailable())
	require.NotNil(t, b.CurrentBorrowerID)
	assert.Equal(t, bob, *b.CurrentBorrowerID)

	err := b.DecrementAvailability(alice)
	assert.ErrorIs(t, err, apperr.ErrOutOfStock)
	assert.Equal(t, 0, b.AvailableCount)

	require.NoError(t, b.IncrementAvailability())
	assert.NotNil(t, b.CurrentBorrowerID, "a copy is still out")
	require.NoError(t, b.IncrementAvailability())
	assert.Nil(t, b.CurrentBorrowerID)
	assert.Equal(t, 2, b.AvailableCount)

	err = b.IncrementAvailability()
	assert.ErrorIs(t, err, apperr.ErrInvariant)
	assert.Equal(t, 2, b.AvailableCount)
}

func TestBook_Resize(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		onLoan    int
		newTotal  int
		wantErr   error
		wantAvail int
	}{
		{"grow", 3, 1, 5, nil, 4},
		{"shrink", 5, 2, 2, nil, 0},
		{"to zero", 3, 0, 0, nil, 0},
		{"below on loan", 3, 2, 1, apperr.ErrConflict, 1},
		{"negative", 3, 0, -1, apperr.ErrValidation, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Book{Title: "Sapiens", TotalCopies: tt.total, AvailableCount: tt.total - tt.onLoan}
			err := b.Resize(tt.newTotal, tt.onLoan)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.total, b.TotalCopies)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.newTotal, b.TotalCopies)
			assert.Equal(t, tt.wantAvail, b.AvailableCount)
		})
	}
}

func TestBook_MarshalJSON(t *testing.T) {
	b := Book{ID: uuid.New(), Title: "1984", TotalCopies: 1, AvailableCount: 1, Status: StatusActive}

	raw, err := json.Marshal(&b)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, true, got["isAvailable"])
	assert.Equal(t, "1984", got["title"])
	assert.EqualValues(t, 1, got["availableCount"])
	assert.NotContains(t, got, "currentBorrowerId")
}
