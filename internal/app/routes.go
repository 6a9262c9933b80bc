package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"librarydesk/internal/apperr"
	"librarydesk/internal/auth"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/httpx"
	"librarydesk/internal/lib/sl"
	"librarydesk/internal/membership"
	"librarydesk/internal/review"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter mounts the REST API under /api next to /healthz and /metrics.
func NewRouter(log *slog.Logger, svc *Services, store Pinger, reg *prometheus.Registry) http.Handler {
	metrics := httpx.NewMetrics(reg)

	books := catalog.NewHandler(log, svc.Catalog)
	members := membership.NewHandler(log, svc.Members)
	borrows := circulation.NewHandler(log, svc.Circulation)
	reviews := review.NewHandler(log, svc.Reviews)
	signin := auth.NewHandler(log, svc.Members, svc.Tokens)

	authed := auth.Middleware(svc.Tokens, log)
	can := func(c membership.Capability) func(http.Handler) http.Handler {
		return auth.Require(c, log)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		httpx.RequestLogger(log),
		middleware.Recoverer,
		metrics.Middleware,
	)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", signin.Signup)
		r.Post("/auth/login", signin.Login)

		r.Route("/books", func(r chi.Router) {
			r.Get("/", books.List)
			r.Get("/{id}", books.Get)
			r.Get("/{id}/reviews", reviews.List)

			r.Group(func(r chi.Router) {
				r.Use(authed)
				r.Post("/{id}/reviews", reviews.Create)

				r.With(can(membership.CapManageCatalog)).Post("/", books.Create)
				r.With(can(membership.CapManageCatalog)).Put("/{id}", books.Update)
				r.With(can(membership.CapManageCatalog)).Delete("/{id}", books.Delete)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authed)

			r.Get("/auth/me", signin.Me)
			r.Get("/dashboard", borrows.Dashboard)

			r.Route("/borrows", func(r chi.Router) {
				r.Post("/borrow", borrows.Borrow)
				r.Post("/return", borrows.Return)
				r.Get("/user", borrows.Mine)
				r.Get("/fees", borrows.Fees)

				r.With(can(membership.CapManageCirculation)).Get("/", borrows.All)
				r.With(can(membership.CapViewReports)).Get("/stats", borrows.Stats)
				r.With(can(membership.CapManageCirculation)).Get("/audit", borrows.Audit)
				r.With(can(membership.CapManageCirculation)).Get("/{id}/events", borrows.Events)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(can(membership.CapManageUsers))
				r.Get("/", members.ListUsers)
				r.Get("/{id}", members.GetUser)
				r.Put("/{id}/role", members.ChangeRole)
			})
		})
	})

	r.Get("/healthz", health(log, store))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, r, log, fmt.Errorf("%w: no route for %s %s", apperr.ErrNotFound, r.Method, r.URL.Path))
	})

	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

func health(log *slog.Logger, store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			log.Error("health check failed", sl.Err(err))
			httpx.JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: httpx.StatusError})
			return
		}
		httpx.JSON(w, r, http.StatusOK, healthResponse{Status: httpx.StatusOK})
	}
}
