// Package api exposes the auth subsystem over REST: login/logout, session
// introspection, and the security admin endpoints backing the blog's admin
// panel. Every other part of the CMS consumes authentication exclusively
// through AuthMiddleware.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/blogsuite/blogauth/cache"
	"github.com/blogsuite/blogauth/credential"
	"github.com/blogsuite/blogauth/session"
	"github.com/blogsuite/blogauth/token"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers. sessions may be
// nil when the session subsystem failed to initialize; the service then runs
// in degraded token-only mode instead of refusing to start.
type API struct {
	creds    *credential.Store
	sessions *session.Manager
	issuer   *token.Issuer

	logger         *slog.Logger
	audit          *auditLogger
	limiter        *loginRateLimiter
	throttle       *authThrottle
	metrics        *metricsCollector
	cacheStats     func() cache.Stats
	trustedProxies []netip.Prefix
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. If not set, a default JSON logger
// writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// WithTrustedProxies enables proxy-header IP extraction for peers inside the
// given ranges.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithCacheStats exposes cache statistics on the security admin surface.
func WithCacheStats(fn func() cache.Stats) Option {
	return func(a *API) { a.cacheStats = fn }
}

// WithAuthThrottle overrides the default per-IP request throttle on the
// auth endpoints.
func WithAuthThrottle(perSecond float64, burst int) Option {
	return func(a *API) { a.throttle = newAuthThrottle(perSecond, burst) }
}

// New creates a new API instance. A nil session manager is allowed and puts
// the service in degraded token-only mode.
func New(creds *credential.Store, sessions *session.Manager, issuer *token.Issuer, opts ...Option) *API {
	a := &API{
		creds:    creds,
		sessions: sessions,
		issuer:   issuer,
		limiter:  newLoginRateLimiter(),
		metrics:  newMetricsCollector(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.logger = a.logger.With("component", "api")
	a.audit = newAuditLogger(a.logger)
	if a.throttle == nil {
		a.throttle = newAuthThrottle(defaultAuthRatePerSecond, defaultAuthRateBurst)
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/openapi.yaml",
		Path:    "api/redoc",
	}, nil))

	r.Route("/auth", func(r chi.Router) {
		r.Use(a.throttleMiddleware)
		r.Post("/login", a.Login)
		r.With(a.AuthMiddleware).Post("/logout", a.Logout)
		r.With(a.AuthMiddleware).Get("/session", a.Session)
		r.With(a.AuthMiddleware).Post("/password", a.ChangePassword)
		r.With(a.AuthMiddleware).Post("/username", a.ChangeUsername)
	})

	r.Route("/security", func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Get("/sessions", a.ListSessions)
		r.Delete("/sessions", a.TerminateAllSessions)
		r.Delete("/sessions/{sessionID}", a.TerminateSession)
		r.Get("/history", a.ListLoginHistory)
		r.Get("/failed", a.ListFailedLogins)
		r.Delete("/failed", a.ClearFailedLogins)
		r.Get("/failed/by-ip", a.FailedLoginsByIP)
		r.Post("/blocked-ips", a.BlockIP)
		r.Get("/cache", a.CacheStats)
	})

	return r
}
