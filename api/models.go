package api

import "time"

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginUser identifies the authenticated principal in a login response.
type LoginUser struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId,omitempty"`
}

// SessionInfo summarizes the server-tracked session for the client.
type SessionInfo struct {
	ExpiresAt    time.Time `json:"expiresAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// LoginResponse is returned from POST /auth/login. Session is omitted when
// session tracking is degraded; the token alone remains usable.
type LoginResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    LoginUser    `json:"user"`
	Session *SessionInfo `json:"session,omitempty"`
}

// SessionResponse is returned from GET /auth/session. Tracked is false when
// the metadata is derived from token claims rather than a session record.
type SessionResponse struct {
	Username     string    `json:"username"`
	SessionID    string    `json:"sessionId"`
	LoginTime    time.Time `json:"loginTime"`
	LastActivity time.Time `json:"lastActivity"`
	ClientIP     string    `json:"clientIp,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	Tracked      bool      `json:"tracked"`
}

// ChangePasswordRequest is the JSON body for POST /auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangeUsernameRequest is the JSON body for POST /auth/username.
type ChangeUsernameRequest struct {
	Password    string `json:"password"`
	NewUsername string `json:"newUsername"`
}

// BlockIPRequest is the JSON body for POST /security/blocked-ips.
type BlockIPRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason,omitempty"`
}

// CountResponse reports how many records an operation affected.
type CountResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// OKResponse is the minimal success envelope.
type OKResponse struct {
	Success bool `json:"success"`
}
