package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"librarydesk/internal/apperr"
	"librarydesk/internal/httpx"
	"librarydesk/internal/membership"
)

type ctxKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func Middleware(maker Maker, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				httpx.Error(w, r, log, fmt.Errorf("%w: missing bearer token", apperr.ErrUnauthorized))
				return
			}

			id, err := maker.ParseToken(strings.TrimSpace(token))
			if err != nil {
				httpx.Error(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		})
	}
}

// Require lets the request through only when the caller's role grants c. It
// must run after Middleware.
func Require(c membership.Capability, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				httpx.Error(w, r, log, fmt.Errorf("%w: no identity", apperr.ErrUnauthorized))
				return
			}
			if !id.Can(c) {
				httpx.Error(w, r, log, fmt.Errorf("%w: role %s lacks %s", apperr.ErrForbidden, id.Role, c))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
