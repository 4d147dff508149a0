package session

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// RecordLogin appends a successful login to the history, newest first,
// truncating to the retention cap.
func (m *Manager) RecordLogin(ctx context.Context, username, ip, userAgent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	rec := LoginRecord{
		ID:        uuid.NewString(),
		Username:  username,
		IP:        ip,
		UserAgent: userAgent,
		Timestamp: m.now().UTC(),
		Success:   true,
	}
	log.LoginHistory = prepend(log.LoginHistory, rec, maxLoginHistory)
	return m.persist(ctx, log)
}

// RecordFailure appends a failed login attempt. The reason is for the
// internal audit trail only and must never reach the client response.
func (m *Manager) RecordFailure(ctx context.Context, username, ip, userAgent, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	rec := LoginRecord{
		ID:        uuid.NewString(),
		Username:  username,
		IP:        ip,
		UserAgent: userAgent,
		Timestamp: m.now().UTC(),
		Success:   false,
		Reason:    reason,
	}
	log.FailedLogins = prepend(log.FailedLogins, rec, maxFailedLogins)
	return m.persist(ctx, log)
}

// ClearFailedLogins empties the failure log and returns how many records
// were dropped.
func (m *Manager) ClearFailedLogins(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	n := len(log.FailedLogins)
	if n == 0 {
		return 0, nil
	}
	log.FailedLogins = nil
	if err := m.persist(ctx, log); err != nil {
		return 0, err
	}
	m.logger.Info("failed login log cleared", "dropped", n)
	return n, nil
}

// BlockIP records an operator block for a source address. Re-blocking an
// already blocked IP refreshes its entry.
func (m *Manager) BlockIP(ctx context.Context, ip, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	kept := log.BlockedIPs[:0]
	for _, b := range log.BlockedIPs {
		if b.IP != ip {
			kept = append(kept, b)
		}
	}
	entry := BlockedIP{IP: ip, Reason: reason, BlockedAt: m.now().UTC()}
	log.BlockedIPs = prependBlocked(kept, entry, maxBlockedIPs)
	if err := m.persist(ctx, log); err != nil {
		return err
	}
	m.logger.Warn("ip blocked", "ip", ip, "reason", reason)
	return nil
}

// LoginHistory returns the successful login records, newest first.
func (m *Manager) LoginHistory(ctx context.Context) []LoginRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.load(ctx)
	out := make([]LoginRecord, len(log.LoginHistory))
	copy(out, log.LoginHistory)
	return out
}

// FailedLogins returns the failed login records, newest first.
func (m *Manager) FailedLogins(ctx context.Context) []LoginRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.load(ctx)
	out := make([]LoginRecord, len(log.FailedLogins))
	copy(out, log.FailedLogins)
	return out
}

// BlockedIPs returns the recorded IP blocks, newest first.
func (m *Manager) BlockedIPs(ctx context.Context) []BlockedIP {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.load(ctx)
	out := make([]BlockedIP, len(log.BlockedIPs))
	copy(out, log.BlockedIPs)
	return out
}

// FailedLoginsByIP groups the failure log by source IP: attempt count,
// distinct usernames tried, and the first/last timestamps seen.
func (m *Manager) FailedLoginsByIP(ctx context.Context) []IPFailureSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.load(ctx)
	blocked := make(map[string]bool, len(log.BlockedIPs))
	for _, b := range log.BlockedIPs {
		blocked[b.IP] = true
	}

	byIP := make(map[string]*IPFailureSummary)
	seenUser := make(map[string]map[string]bool)
	for _, rec := range log.FailedLogins {
		sum, ok := byIP[rec.IP]
		if !ok {
			sum = &IPFailureSummary{
				IP:        rec.IP,
				FirstSeen: rec.Timestamp,
				LastSeen:  rec.Timestamp,
				Blocked:   blocked[rec.IP],
			}
			byIP[rec.IP] = sum
			seenUser[rec.IP] = make(map[string]bool)
		}
		sum.FailedAttempts++
		if rec.Timestamp.Before(sum.FirstSeen) {
			sum.FirstSeen = rec.Timestamp
		}
		if rec.Timestamp.After(sum.LastSeen) {
			sum.LastSeen = rec.Timestamp
		}
		if !seenUser[rec.IP][rec.Username] {
			seenUser[rec.IP][rec.Username] = true
			sum.Usernames = append(sum.Usernames, rec.Username)
		}
	}

	out := make([]IPFailureSummary, 0, len(byIP))
	for _, sum := range byIP {
		out = append(out, *sum)
	}
	// Most attempts first; ties by most recent activity.
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailedAttempts != out[j].FailedAttempts {
			return out[i].FailedAttempts > out[j].FailedAttempts
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

// prepend inserts at the head and slices to the cap; old entries fall off
// silently rather than erroring.
func prepend(list []LoginRecord, rec LoginRecord, limit int) []LoginRecord {
	list = append([]LoginRecord{rec}, list...)
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

func prependBlocked(list []BlockedIP, b BlockedIP, limit int) []BlockedIP {
	list = append([]BlockedIP{b}, list...)
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}
