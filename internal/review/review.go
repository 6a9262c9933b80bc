// Package review lets readers rate and comment on books.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"librarydesk/internal/apperr"
	"librarydesk/internal/catalog"
	"librarydesk/internal/membership"
)

const (
	MinRating = 1
	MaxRating = 5

	maxCommentLen = 2000
)

// Review is one reader's opinion of a book.
type Review struct {
	ID           uuid.UUID `json:"id" db:"id"`
	BookID       uuid.UUID `json:"bookId" db:"book_id"`
	UserID       uuid.UUID `json:"userId" db:"user_id"`
	Rating       int       `json:"rating" db:"rating"`
	Comment      string    `json:"comment" db:"comment"`
	ReviewerName string    `json:"reviewerName" db:"reviewer_name"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Store persists reviews.
type Store interface {
	CreateReview(ctx context.Context, r *Review) error
	ListReviews(ctx context.Context, bookID uuid.UUID) ([]*Review, error)
}

// Books resolves the reviewed book. catalog.Service satisfies it.
type Books interface {
	GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
}

// Members resolves the reviewer. membership.Service satisfies it.
type Members interface {
	GetUser(ctx context.Context, id uuid.UUID) (*membership.User, error)
}

// Service adds and lists reviews.
type Service struct {
	store   Store
	books   Books
	members Members
	now     func() time.Time
}

func NewService(store Store, books Books, members Members) *Service {
	return &Service{store: store, books: books, members: members, now: time.Now}
}

// AddReview records userID's review of bookID.
func (s *Service) AddReview(ctx context.Context, bookID, userID uuid.UUID, rating int, comment string) (*Review, error) {
	if rating < MinRating || rating > MaxRating {
		return nil, apperr.Validation("rating must be between %d and %d", MinRating, MaxRating)
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLen {
		return nil, apperr.Validation("comment must be at most %d characters", maxCommentLen)
	}

	if _, err := s.books.GetBook(ctx, bookID); err != nil {
		return nil, fmt.Errorf("add review: %w", err)
	}
	user, err := s.members.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("add review: %w", err)
	}

	r := &Review{
		ID:           uuid.New(),
		BookID:       bookID,
		UserID:       userID,
		Rating:       rating,
		Comment:      comment,
		ReviewerName: user.Name,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateReview(ctx, r); err != nil {
		return nil, fmt.Errorf("add review: %w", err)
	}
	return r, nil
}

// ListReviews returns the reviews of bookID, newest first.
func (s *Service) ListReviews(ctx context.Context, bookID uuid.UUID) ([]*Review, error) {
	if _, err := s.books.GetBook(ctx, bookID); err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	reviews, err := s.store.ListReviews(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	if reviews == nil {
		reviews = []*Review{}
	}
	return reviews, nil
}
