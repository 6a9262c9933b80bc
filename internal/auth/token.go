// Package auth issues and checks bearer tokens and carries the caller's
// identity through request contexts.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"librarydesk/internal/apperr"
	"librarydesk/internal/membership"
)

// Claims are the custom fields carried in a token.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the validated caller of a request.
type Identity struct {
	UserID uuid.UUID
	Role   membership.Role
	Email  string
}

// Can reports whether the identity's role grants c.
func (i Identity) Can(c membership.Capability) bool {
	return i.Role.Can(c)
}

// Maker generates and parses tokens.
type Maker interface {
	GenerateToken(u *membership.User) (string, error)
	ParseToken(token string) (Identity, error)
}

// JWTMaker signs HS256 tokens with a shared secret.
type JWTMaker struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewJWTMaker creates a JWTMaker.
func NewJWTMaker(secret string, ttl time.Duration, issuer string) *JWTMaker {
	return &JWTMaker{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
}

// GenerateToken issues a token for u valid for the configured TTL.
func (m *JWTMaker) GenerateToken(u *membership.User) (string, error) {
	const op = "auth.GenerateToken"

	now := m.now()
	claims := Claims{
		UserID: u.ID.String(),
		Role:   string(u.Role),
		Email:  u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// ParseToken checks the signature, expiry and issuer of token and returns the
// identity it carries. All failures wrap apperr.ErrUnauthorized.
func (m *JWTMaker) ParseToken(token string) (Identity, error) {
	const op = "auth.ParseToken"

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: %s", op, apperr.ErrUnauthorized, err.Error())
	}
	if !parsed.Valid {
		return Identity{}, fmt.Errorf("%s: %w: invalid token", op, apperr.ErrUnauthorized)
	}

	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: bad user id", op, apperr.ErrUnauthorized)
	}
	role, err := membership.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: bad role", op, apperr.ErrUnauthorized)
	}

	return Identity{UserID: id, Role: role, Email: claims.Email}, nil
}
