package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/blogsuite/blogauth/credential"
	"github.com/blogsuite/blogauth/internal/util"
	"github.com/blogsuite/blogauth/session"
	"github.com/blogsuite/blogauth/token"
)

// loginFailedMessage is the client-facing message for any failed login.
// It deliberately does not distinguish unknown usernames from wrong
// passwords.
const loginFailedMessage = "Kullanıcı adı veya şifre hatalı"

// Login handles POST /auth/login. On success it issues a token and registers
// a tracked session; if session registration fails the login still succeeds
// in degraded token-only mode.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "username and password are required")
		return
	}

	ip := a.extractClientIP(r)
	userAgent := r.UserAgent()

	if blocked, retryAfter := a.limiter.check(ip); blocked {
		a.metrics.recordLogin("rate_limited")
		a.audit.logFailure(AuditLoginRateLimited, r, "too many failed attempts",
			slog.String("username", req.Username), slog.String("ip", ip))
		writeRateLimited(w, retryAfter)
		return
	}

	username := util.NormalizeUsername(req.Username)

	if err := a.creds.Verify(r.Context(), username, req.Password); err != nil {
		if !errors.Is(err, credential.ErrInvalidCredentials) {
			a.logger.Error("credential verification failed", "error", err)
			mapError(w, err)
			return
		}
		reason := "invalid password"
		if errors.Is(err, credential.ErrUnknownUser) {
			reason = "user not found"
		}
		a.limiter.recordFailure(ip)
		a.metrics.recordLogin("failure")
		a.audit.logFailure(AuditLoginFailure, r, reason,
			slog.String("username", username), slog.String("ip", ip))
		if a.sessions != nil {
			if err := a.sessions.RecordFailure(r.Context(), username, ip, userAgent, reason); err != nil {
				a.logger.Warn("recording failed login failed", "error", err)
			}
		}
		writeError(w, http.StatusUnauthorized, codeInvalidLogin, loginFailedMessage)
		return
	}

	a.limiter.recordSuccess(ip)

	// The session ID is generated up front and embedded in the token, so a
	// failed session write still leaves the client with a usable token.
	sessionID := uuid.NewString()
	raw, err := a.issuer.Issue(username, sessionID)
	if err != nil {
		a.logger.Error("issuing token failed", "error", err)
		writeError(w, http.StatusInternalServerError, codePersistence, "internal error")
		return
	}

	resp := LoginResponse{
		Success: true,
		Token:   raw,
		User:    LoginUser{Username: username, SessionID: sessionID},
	}

	if a.sessions == nil {
		a.logger.Warn("session tracking degraded: manager unavailable, login proceeds token-only",
			"username", username)
	} else {
		sess, err := a.sessions.Create(r.Context(), session.NewSession{
			ID:               sessionID,
			Username:         username,
			ClientIP:         ip,
			UserAgent:        userAgent,
			TokenFingerprint: token.Fingerprint(raw),
		})
		if err != nil {
			a.logDegraded(r, username, err)
		} else {
			resp.Session = &SessionInfo{
				ExpiresAt:    sess.LastActivity.Add(a.sessions.Timeout()),
				LastActivity: sess.LastActivity,
			}
		}
		if err := a.sessions.RecordLogin(r.Context(), username, ip, userAgent); err != nil {
			a.logger.Warn("recording login history failed", "error", err)
		}
	}

	a.metrics.recordLogin("success")
	a.audit.logEvent(AuditLoginSuccess, r, username,
		slog.String("session_id", sessionID), slog.String("ip", ip))
	writeJSON(w, http.StatusOK, resp)
}

// Logout handles POST /auth/logout. Invalidating an already-gone session is
// not an error; in degraded mode the token simply ages out.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeAuthRequired, "authentication required")
		return
	}

	if a.sessions != nil && p.SessionID != "" {
		if err := a.sessions.Invalidate(r.Context(), p.SessionID); err != nil {
			a.logger.Warn("invalidating session on logout failed", "error", err,
				"session_id", p.SessionID)
		}
	}

	a.audit.logEvent(AuditLogout, r, p.Username, slog.String("session_id", p.SessionID))
	writeJSON(w, http.StatusOK, OKResponse{Success: true})
}

// Session handles GET /auth/session: introspection of the caller's own
// session.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeAuthRequired, "authentication required")
		return
	}

	resp := SessionResponse{
		Username:     p.Username,
		SessionID:    p.SessionID,
		LoginTime:    p.LoginTime,
		LastActivity: p.LastActivity,
		Tracked:      !p.TokenOnly,
	}
	if a.sessions != nil && !p.TokenOnly {
		for _, s := range a.sessions.ActiveSessions(r.Context()) {
			if s.ID == p.SessionID {
				resp.ClientIP = s.ClientIP
				resp.UserAgent = s.UserAgent
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChangePassword handles POST /auth/password. The current password is
// re-verified even though the caller already holds a valid token.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeAuthRequired, "authentication required")
		return
	}
	req, ok := decodeJSON[ChangePasswordRequest](w, r)
	if !ok {
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, codeValidation, "new password must be at least 8 characters")
		return
	}

	if err := a.creds.Verify(r.Context(), p.Username, req.CurrentPassword); err != nil {
		if errors.Is(err, credential.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, codeInvalidLogin, loginFailedMessage)
			return
		}
		mapError(w, err)
		return
	}
	if err := a.creds.SetPassword(r.Context(), p.Username, req.NewPassword); err != nil {
		a.logger.Error("password change failed", "error", err, "username", p.Username)
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditPasswordChanged, r, p.Username)
	writeJSON(w, http.StatusOK, OKResponse{Success: true})
}

// ChangeUsername handles POST /auth/username. Existing sessions are
// invalidated because their tokens carry the old subject.
func (a *API) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeAuthRequired, "authentication required")
		return
	}
	req, ok := decodeJSON[ChangeUsernameRequest](w, r)
	if !ok {
		return
	}
	newName := util.NormalizeUsername(req.NewUsername)
	if newName == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "new username is required")
		return
	}

	if err := a.creds.Verify(r.Context(), p.Username, req.Password); err != nil {
		if errors.Is(err, credential.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, codeInvalidLogin, loginFailedMessage)
			return
		}
		mapError(w, err)
		return
	}
	if err := a.creds.Rename(r.Context(), p.Username, newName); err != nil {
		a.logger.Error("username change failed", "error", err, "username", p.Username)
		mapError(w, err)
		return
	}

	if a.sessions != nil {
		if _, err := a.sessions.TerminateAll(r.Context()); err != nil {
			a.logger.Warn("terminating sessions after username change failed", "error", err)
		}
	}

	a.audit.logEvent(AuditUsernameChanged, r, p.Username,
		slog.String("new_username", newName))
	writeJSON(w, http.StatusOK, OKResponse{Success: true})
}
