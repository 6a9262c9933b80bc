// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"librarydesk/internal/apperr"
)

var errInvalidCredentials = fmt.Errorf("%w: invalid email or password", apperr.ErrUnauthorized)

// service implements the Service interface.
type service struct {
	store    Store
	limiters *attemptLimiter
	now      func() time.Time
}

// Option configures the membership service.
type Option func(*service)

// WithAttemptLimit throttles Register and Authenticate per email address.
func WithAttemptLimit(every time.Duration, burst int) Option {
	return func(s *service) {
		s.limiters = newAttemptLimiter(rate.Every(every), burst)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new membership service instance. By default every
// email gets 5 attempts per minute.
func NewService(store Store, opts ...Option) Service {
	s := &service{
		store:    store,
		limiters: newAttemptLimiter(rate.Every(time.Minute/5), 5),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new user with the given role.
func (s *service) Register(ctx context.Context, reg Registration) (*User, error) {
	reg.Email = normalizeEmail(reg.Email)
	reg.Name = strings.TrimSpace(reg.Name)
	if reg.Role == "" {
		reg.Role = RoleMember
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	if !s.limiters.allow(reg.Email, s.now()) {
		return nil, fmt.Errorf("register %s: %w", reg.Email, apperr.ErrRateLimited)
	}

	hash, salt, err := hashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		ID:            uuid.New(),
		Name:          reg.Name,
		Email:         reg.Email,
		Role:          reg.Role,
		BorrowedBooks: []uuid.UUID{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	credential := &Credential{
		UserID:       user.ID,
		PasswordHash: hash,
		Salt:         salt,
	}

	if err := s.store.CreateUser(ctx, user, credential); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return nil, fmt.Errorf("%w: email %s is already registered", apperr.ErrDuplicate, reg.Email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate verifies a user's credentials and returns the user if successful.
func (s *service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if !s.limiters.allow(email, s.now()) {
		return nil, fmt.Errorf("login %s: %w", email, apperr.ErrRateLimited)
	}

	user, credential, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	ok, err := verifyPassword(password, credential.Salt, credential.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, errInvalidCredentials
	}
	return user, nil
}

// GetUser retrieves a user by their ID.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return user, nil
}

func (s *service) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ChangeRole sets the role of a user.
func (s *service) ChangeRole(ctx context.Context, id uuid.UUID, role Role) (*User, error) {
	if !role.Valid() {
		return nil, apperr.Validation("unknown role %q", role)
	}
	user, err := s.store.SetUserRole(ctx, id, role, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to change role of %s: %w", id, err)
	}
	return user, nil
}

// maxLimiterKeys bounds how many emails the attempt limiter tracks at once.
const maxLimiterKeys = 10000

// attemptLimiter hands out one token bucket per key. Once maxKeys buckets
// exist, full buckets are dropped (a full bucket behaves like a new one); if
// that is not enough, arbitrary buckets go until half the room is free.
type attemptLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	maxKeys int
	perKey  map[string]*rate.Limiter
}

func newAttemptLimiter(limit rate.Limit, burst int) *attemptLimiter {
	return &attemptLimiter{
		limit:   limit,
		burst:   burst,
		maxKeys: maxLimiterKeys,
		perKey:  make(map[string]*rate.Limiter),
	}
}

func (l *attemptLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.perKey[key]
	if !ok {
		if len(l.perKey) >= l.maxKeys {
			l.sweep(now)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.perKey[key] = lim
	}
	return lim.AllowN(now, 1)
}

func (l *attemptLimiter) sweep(now time.Time) {
	for k, lim := range l.perKey {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.perKey, k)
		}
	}
	for k := range l.perKey {
		if len(l.perKey) < l.maxKeys/2 {
			break
		}
		delete(l.perKey, k)
	}
}

func (l *attemptLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perKey)
}
