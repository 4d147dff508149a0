package api

import (
	"errors"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"

	"github.com/blogsuite/blogauth/session"
)

// requireSessions guards admin endpoints that are meaningless without the
// session subsystem.
func (a *API) requireSessions(w http.ResponseWriter) bool {
	if a.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, codePersistence, "session tracking is unavailable")
		return false
	}
	return true
}

// ListSessions handles GET /security/sessions.
func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	if !a.requireSessions(w) {
		return
	}
	sessions := a.sessions.ActiveSessions(r.Context())
	a.metrics.setActiveSessions(len(sessions))
	writeJSON(w, http.StatusOK, sessions)
}

// TerminateSession handles DELETE /security/sessions/{sessionID}.
func (a *API) TerminateSession(w http.ResponseWriter, r *http.Request) {
	if !a.requireSessions(w) {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := a.sessions.Terminate(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "session not found")
			return
		}
		mapError(w, err)
		return
	}

	p, _ := principalFromContext(r.Context())
	a.audit.logEvent(AuditSessionKilled, r, p.Username)
	writeJSON(w, http.StatusOK, OKResponse{Success: true})
}

// TerminateAllSessions handles DELETE /security/sessions. The caller's own
// session goes with the rest; their token keeps working only until the
// middleware next consults the session store.
func (a *API) TerminateAllSessions(w http.ResponseWriter, r *http.Request) {
	if !a.requireSessions(w) {
		return
	}
	n, err := a.sessions.TerminateAll(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}

	p, _ := principalFromContext(r.Context())
	a.audit.logEvent(AuditSessionsCleared, r, p.Username)
	writeJSON(w, http.StatusOK, CountResponse{Success: true, Count: n})
}

// ListLoginHistory handles GET /security/history.
func (a *API) ListLoginHistory(w http.ResponseWriter, r *http.Request) {
	if !a.requireSessions(w) {
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.LoginHistory(r.Context()))
}

// ListFailedLogins handles GET /security/failed.
func (a *API) ListFailedLogins(w http.ResponseWriter, r *http.Request) {
	if !a.requireSessions(w) {
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.FailedLogins(r.Context()))
}

// ClearFailedLogins handles DELETE /security/failed.
func (a *API) ClearFailedLogins(w http.ResponseWriter, r *http.Request) {
	if !a.requireSessions(w) {
		return
	}
	n, err := a.sessions.ClearFailedLogins(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}

	p, _ := principalFromContext(r.Context())
	a.audit.logEvent(AuditFailureLogWiped, r, p.Username)
	writeJSON(w, http.StatusOK, CountResponse{Success: true, Count: n})
}

// FailedLoginsByIP handles GET /security/failed/by-ip.
func (a *API) FailedLoginsByIP(w http.ResponseWriter, r *http.Request) {
	if !a.requireSessions(w) {
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.FailedLoginsByIP(r.Context()))
}

// BlockIP handles POST /security/blocked-ips.
func (a *API) BlockIP(w http.ResponseWriter, r *http.Request) {
	if !a.requireSessions(w) {
		return
	}
	req, ok := decodeJSON[BlockIPRequest](w, r)
	if !ok {
		return
	}
	if _, err := netip.ParseAddr(req.IP); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid IP address")
		return
	}
	if err := a.sessions.BlockIP(r.Context(), req.IP, req.Reason); err != nil {
		mapError(w, err)
		return
	}

	p, _ := principalFromContext(r.Context())
	a.audit.logEvent(AuditIPBlocked, r, p.Username)
	writeJSON(w, http.StatusOK, OKResponse{Success: true})
}

// CacheStats handles GET /security/cache.
func (a *API) CacheStats(w http.ResponseWriter, r *http.Request) {
	if a.cacheStats == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "cache statistics are not exposed")
		return
	}
	writeJSON(w, http.StatusOK, a.cacheStats())
}
