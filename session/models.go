package session

import "time"

// Session is the server-tracked record binding a bearer token to a principal.
// Token holds only a truncated fingerprint for audit display; the live token
// is never persisted.
type Session struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Token        string    `json:"token"`
	ClientIP     string    `json:"clientIp"`
	UserAgent    string    `json:"userAgent"`
	LoginTime    time.Time `json:"loginTime"`
	LastActivity time.Time `json:"lastActivity"`
}

// LoginRecord is one login attempt, successful or failed. Records are
// immutable once written; retention is a rolling window enforced by
// truncation, oldest first.
type LoginRecord struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

// BlockedIP records an operator decision to block a source address.
type BlockedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason,omitempty"`
	BlockedAt time.Time `json:"blockedAt"`
}

// EventLog is the single security-event document. It is always read and
// rewritten wholesale; lists are kept newest-first.
type EventLog struct {
	ActiveSessions []Session     `json:"activeSessions"`
	LoginHistory   []LoginRecord `json:"loginHistory"`
	FailedLogins   []LoginRecord `json:"failedLogins"`
	BlockedIPs     []BlockedIP   `json:"blockedIps,omitempty"`
}

// IPFailureSummary aggregates failed logins by source IP, the view the
// security panel uses to spot brute-force attempts.
type IPFailureSummary struct {
	IP             string    `json:"ip"`
	FailedAttempts int       `json:"failedAttempts"`
	Usernames      []string  `json:"usernames"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastSeen       time.Time `json:"lastSeen"`
	Blocked        bool      `json:"blocked"`
}
