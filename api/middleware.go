package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/blogsuite/blogauth/session"
	"github.com/blogsuite/blogauth/token"
)

type contextKey int

const principalKey contextKey = iota

// Principal is the authenticated identity attached to the request context.
// In degraded mode (TokenOnly) the session fields are derived from token
// claims instead of a server-tracked record.
type Principal struct {
	Username     string
	SessionID    string
	LoginTime    time.Time
	LastActivity time.Time
	TokenOnly    bool
}

// authOutcome is the explicit three-way result of token validation:
// a session-backed principal, a token-only principal (session subsystem
// degraded), or a rejection with a stable error code.
type authOutcome struct {
	kind    outcomeKind
	code    string
	claims  *token.Claims
	session *session.Session
}

type outcomeKind int

const (
	outcomeRejected outcomeKind = iota
	outcomeSessionBacked
	outcomeTokenOnly
)

func rejected(code string) authOutcome {
	return authOutcome{kind: outcomeRejected, code: code}
}

// authenticate verifies the bearer token cryptographically, then cross-checks
// the embedded session against the session manager when it is available.
// Cryptographic validity is cheap and stateless; session validity is stateful
// and revocable. When the stateful side is unavailable the token's claims are
// trusted directly, at reduced assurance, rather than failing the request.
func (a *API) authenticate(r *http.Request) authOutcome {
	raw := bearerToken(r)
	if raw == "" {
		return rejected(codeAuthRequired)
	}
	claims, err := a.issuer.Verify(raw)
	if err != nil {
		return rejected(codeInvalidToken)
	}

	if a.sessions == nil {
		a.logger.Warn("session tracking degraded: manager unavailable, trusting token claims",
			"username", claims.Username())
		return authOutcome{kind: outcomeTokenOnly, claims: claims}
	}

	sess, err := a.sessions.Validate(r.Context(), claims.SessionID)
	switch {
	case err == nil:
		return authOutcome{kind: outcomeSessionBacked, claims: claims, session: sess}
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		return rejected(codeInvalidSession)
	default:
		// Validation itself failed (persistence trouble, not a revoked
		// session): degrade rather than hard-fail the whole service.
		a.logger.Warn("session tracking degraded: validation failed, trusting token claims",
			"username", claims.Username(), "error", err)
		return authOutcome{kind: outcomeTokenOnly, claims: claims}
	}
}

// AuthMiddleware authenticates the bearer token and attaches the resulting
// principal to the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome := a.authenticate(r)
		switch outcome.kind {
		case outcomeRejected:
			a.metrics.recordValidation("rejected")
			status := http.StatusUnauthorized
			msg := "authentication required"
			switch outcome.code {
			case codeInvalidToken:
				msg = "invalid or expired token"
			case codeInvalidSession:
				msg = "invalid or expired session"
			}
			writeError(w, status, outcome.code, msg)
			return

		case outcomeSessionBacked:
			a.metrics.recordValidation("session")
			p := Principal{
				Username:     outcome.session.Username,
				SessionID:    outcome.session.ID,
				LoginTime:    outcome.session.LoginTime,
				LastActivity: outcome.session.LastActivity,
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))

		case outcomeTokenOnly:
			a.metrics.recordValidation("token_only")
			p := Principal{
				Username:     outcome.claims.Username(),
				SessionID:    outcome.claims.SessionID,
				LoginTime:    outcome.claims.IssuedAt.Time,
				LastActivity: time.Now().UTC(),
				TokenOnly:    true,
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
		}
	})
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// principalFromContext returns the authenticated principal, if any.
func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// extractClientIP returns the best-effort client address. Proxy headers are
// honored only when the direct peer falls inside a configured trusted proxy
// range; by default only RemoteAddr is consulted, so untrusted clients
// cannot spoof their source IP via headers.
func (a *API) extractClientIP(r *http.Request) string {
	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}
	if len(a.trustedProxies) == 0 {
		return remoteIP
	}
	addr, err := netip.ParseAddr(remoteIP)
	if err != nil {
		return remoteIP
	}
	trusted := false
	for _, prefix := range a.trustedProxies {
		if prefix.Contains(addr) {
			trusted = true
			break
		}
	}
	if !trusted {
		return remoteIP
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if _, err := netip.ParseAddr(first); err == nil {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if _, err := netip.ParseAddr(realIP); err == nil {
			return realIP
		}
	}
	return remoteIP
}

func (a *API) logDegraded(r *http.Request, username string, err error) {
	a.audit.logEvent(AuditDegradedMode, r, username, slog.String("error", err.Error()))
}
