// Package session manages server-tracked sessions and the security event log.
//
// All state lives in one persisted document (see EventLog) that is read and
// rewritten wholesale on every mutation. A mutex serializes writers — the
// document store itself offers no concurrency control — and a background
// sweeper expires idle sessions and trims the bounded history lists.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blogsuite/blogauth/storage"
)

const documentName = "security-events"

const (
	// DefaultTimeout is the inactivity window after which a session expires.
	DefaultTimeout = 24 * time.Hour
	// DefaultCleanupInterval is how often the background sweep runs.
	DefaultCleanupInterval = time.Hour
	// DefaultMaxSessionsPerUser caps concurrent sessions per username.
	DefaultMaxSessionsPerUser = 10

	maxLoginHistory = 100
	maxFailedLogins = 200
	maxBlockedIPs   = 50
)

// Config tunes the manager. Zero values fall back to the defaults above.
type Config struct {
	Timeout            time.Duration
	CleanupInterval    time.Duration
	MaxSessionsPerUser int
	// SingleSession makes Create replace the user's prior sessions, the
	// behavior of the admin login endpoint. Paths that allow concurrent
	// sessions rely on MaxSessionsPerUser instead.
	SingleSession bool
}

// Manager owns the session lifecycle: creation, validation, invalidation,
// and the periodic cleanup sweep. Construct with NewManager and release with
// Close.
type Manager struct {
	store  storage.DocumentStore
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
	now      func() time.Time
}

// NewManager creates a Manager and starts its background sweeper.
func NewManager(store storage.DocumentStore, logger *slog.Logger, cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.MaxSessionsPerUser <= 0 {
		cfg.MaxSessionsPerUser = DefaultMaxSessionsPerUser
	}
	m := &Manager{
		store:  store,
		logger: logger.With("component", "session"),
		cfg:    cfg,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	go m.cleanupLoop()
	return m
}

// Close stops the background sweeper. Idempotent.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// loadStrict reads the event log document. A missing document is an empty
// log; read and decode failures are reported to the caller. Caller holds the
// lock.
func (m *Manager) loadStrict(ctx context.Context) (EventLog, error) {
	var log EventLog
	data, err := m.store.Read(ctx, documentName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return log, nil
		}
		return log, fmt.Errorf("reading security event log: %w", err)
	}
	if err := json.Unmarshal(data, &log); err != nil {
		return EventLog{}, fmt.Errorf("decoding security event log: %w", err)
	}
	return log, nil
}

// load recovers failures to an empty log: mutation paths must keep working,
// the security log never takes down a request. Validate uses loadStrict
// instead so callers can tell a broken store from a revoked session. Caller
// holds the lock.
func (m *Manager) load(ctx context.Context) EventLog {
	log, err := m.loadStrict(ctx)
	if err != nil {
		m.logger.Error("reading security event log failed, starting from empty",
			"error", err)
		return EventLog{}
	}
	return log
}

// persist writes the event log document back. Caller holds the lock.
func (m *Manager) persist(ctx context.Context, log EventLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshaling security event log: %w", err)
	}
	if err := m.store.Write(ctx, documentName, data); err != nil {
		return fmt.Errorf("persisting security event log: %w", err)
	}
	return nil
}

// NewSession carries the inputs for Create. ID may be pre-generated by the
// caller (the login handler issues the bearer token first, embedding the
// session ID); when empty a fresh one is generated.
type NewSession struct {
	ID               string
	Username         string
	ClientIP         string
	UserAgent        string
	TokenFingerprint string
}

// Create registers a new session. Under the single-session policy the
// user's prior sessions are replaced outright; otherwise they are trimmed to
// the per-user cap, oldest first.
func (m *Manager) Create(ctx context.Context, p NewSession) (*Session, error) {
	if p.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	kept := log.ActiveSessions[:0]
	var existing []Session
	for _, s := range log.ActiveSessions {
		if s.Username == p.Username {
			existing = append(existing, s)
		} else {
			kept = append(kept, s)
		}
	}
	if !m.cfg.SingleSession {
		// Keep the newest cap-1 of the user's sessions so the new one fits.
		sort.Slice(existing, func(i, j int) bool {
			return existing[i].LastActivity.After(existing[j].LastActivity)
		})
		if limit := m.cfg.MaxSessionsPerUser - 1; len(existing) > limit {
			existing = existing[:limit]
		}
		kept = append(kept, existing...)
	}

	now := m.now().UTC()
	sess := Session{
		ID:           p.ID,
		Username:     p.Username,
		Token:        p.TokenFingerprint,
		ClientIP:     p.ClientIP,
		UserAgent:    p.UserAgent,
		LoginTime:    now,
		LastActivity: now,
	}
	log.ActiveSessions = append(kept, sess)

	if err := m.persist(ctx, log); err != nil {
		return nil, err
	}
	m.logger.Info("session created", "session_id", sess.ID, "username", p.Username, "client_ip", p.ClientIP)
	return &sess, nil
}

// Validate looks up a session by ID and refreshes its activity timestamp.
// Sessions past the inactivity timeout are dropped and reported expired.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log, err := m.loadStrict(ctx)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, s := range log.ActiveSessions {
		if s.ID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrSessionNotFound
	}

	now := m.now().UTC()
	sess := log.ActiveSessions[idx]
	if now.Sub(sess.LastActivity) > m.cfg.Timeout {
		log.ActiveSessions = append(log.ActiveSessions[:idx], log.ActiveSessions[idx+1:]...)
		if err := m.persist(ctx, log); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}

	sess.LastActivity = now
	log.ActiveSessions[idx] = sess
	if err := m.persist(ctx, log); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Invalidate removes a session on explicit logout. Removing a session that
// no longer exists is not an error; logout stays idempotent.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	kept := log.ActiveSessions[:0]
	removed := false
	for _, s := range log.ActiveSessions {
		if s.ID == sessionID {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	if !removed {
		return nil
	}
	log.ActiveSessions = kept
	if err := m.persist(ctx, log); err != nil {
		return err
	}
	m.logger.Info("session invalidated", "session_id", sessionID)
	return nil
}

// Terminate removes one session by ID as an admin action. Unlike Invalidate
// it reports whether the session existed.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	kept := log.ActiveSessions[:0]
	removed := false
	for _, s := range log.ActiveSessions {
		if s.ID == sessionID {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	if !removed {
		return ErrSessionNotFound
	}
	log.ActiveSessions = kept
	if err := m.persist(ctx, log); err != nil {
		return err
	}
	m.logger.Info("session terminated", "session_id", sessionID)
	return nil
}

// TerminateAll removes every active session and returns how many there were.
func (m *Manager) TerminateAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	n := len(log.ActiveSessions)
	if n == 0 {
		return 0, nil
	}
	log.ActiveSessions = nil
	if err := m.persist(ctx, log); err != nil {
		return 0, err
	}
	m.logger.Info("all sessions terminated", "count", n)
	return n, nil
}

// ActiveSessions returns the current session list, newest activity first.
func (m *Manager) ActiveSessions(ctx context.Context) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	out := make([]Session, len(log.ActiveSessions))
	copy(out, log.ActiveSessions)
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Timeout returns the configured inactivity timeout.
func (m *Manager) Timeout() time.Duration {
	return m.cfg.Timeout
}

// cleanupLoop drives the periodic sweep until Close.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.Sweep(ctx); err != nil {
				// Not part of any request; skip this cycle rather than crash.
				m.logger.Error("cleanup sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// Sweep expires idle sessions, enforces the per-user session cap, and trims
// the bounded history lists. The document is rewritten only when something
// actually changed.
func (m *Manager) Sweep(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	changed := false
	now := m.now().UTC()

	// 1. Drop sessions past the inactivity timeout.
	alive := log.ActiveSessions[:0]
	for _, s := range log.ActiveSessions {
		if now.Sub(s.LastActivity) > m.cfg.Timeout {
			changed = true
			m.logger.Info("expired session removed", "session_id", s.ID, "username", s.Username)
			continue
		}
		alive = append(alive, s)
	}
	log.ActiveSessions = alive

	// 2. Per-user cap: keep the most recent sessions. Creation alone cannot
	// guarantee the cap under concurrent logins.
	byUser := make(map[string][]Session)
	for _, s := range log.ActiveSessions {
		byUser[s.Username] = append(byUser[s.Username], s)
	}
	capExceeded := false
	for _, sessions := range byUser {
		if len(sessions) > m.cfg.MaxSessionsPerUser {
			capExceeded = true
			break
		}
	}
	if capExceeded {
		var trimmed []Session
		for user, sessions := range byUser {
			sort.Slice(sessions, func(i, j int) bool {
				return sessions[i].LastActivity.After(sessions[j].LastActivity)
			})
			if len(sessions) > m.cfg.MaxSessionsPerUser {
				m.logger.Info("per-user session cap enforced",
					"username", user, "dropped", len(sessions)-m.cfg.MaxSessionsPerUser)
				sessions = sessions[:m.cfg.MaxSessionsPerUser]
				changed = true
			}
			trimmed = append(trimmed, sessions...)
		}
		log.ActiveSessions = trimmed
	}

	// 3. Retention caps on the history lists.
	if len(log.LoginHistory) > maxLoginHistory {
		log.LoginHistory = log.LoginHistory[:maxLoginHistory]
		changed = true
	}
	if len(log.FailedLogins) > maxFailedLogins {
		log.FailedLogins = log.FailedLogins[:maxFailedLogins]
		changed = true
	}

	// 4. Write only if the sweep changed anything.
	if !changed {
		return nil
	}
	return m.persist(ctx, log)
}
