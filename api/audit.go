package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditLogout           AuditEvent = "logout"
	AuditPasswordChanged  AuditEvent = "password_changed"
	AuditUsernameChanged  AuditEvent = "username_changed"
	AuditSessionKilled    AuditEvent = "session_terminated"
	AuditSessionsCleared  AuditEvent = "all_sessions_terminated"
	AuditFailureLogWiped  AuditEvent = "failed_login_log_cleared"
	AuditIPBlocked        AuditEvent = "ip_blocked"
	AuditDegradedMode     AuditEvent = "session_tracking_degraded"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
}

// logEvent is a convenience for events tied to a username.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, username string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("username", username),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed or throttled authentication attempt. The reason
// stays in the audit trail; client responses carry only a generic message.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
