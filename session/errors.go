package session

import "errors"

var (
	// ErrSessionNotFound means no active session matches the given ID.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionExpired means the session exceeded the inactivity timeout.
	ErrSessionExpired = errors.New("session: expired")
)
