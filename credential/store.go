// Package credential persists admin username/password records and verifies
// login attempts against them.
//
// Records written by old deployments may still hold a plaintext password; the
// first successful authentication rehashes such a record in place and flips
// its isHashed flag. Once hashed, a record is never reverted.
package credential

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/blogsuite/blogauth/cache"
	"github.com/blogsuite/blogauth/internal/util"
	"github.com/blogsuite/blogauth/storage"
)

const (
	documentName = "credentials"
	cacheKey     = "credentials"

	defaultAdminUser     = "admin"
	generatedPasswordLen = 20
)

// dummyHash is compared against when the username does not exist, so the
// miss path costs roughly the same as a real bcrypt comparison.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ErrInvalidCredentials covers both unknown-username and wrong-password so
// responses cannot be used for user enumeration. The granular reason goes
// only to the audit trail.
var ErrInvalidCredentials = errors.New("credential: invalid username or password")

// ErrUnknownUser wraps ErrInvalidCredentials: callers branching on
// ErrInvalidCredentials treat both identically, while the audit trail may
// record the granular reason.
var ErrUnknownUser = fmt.Errorf("credential: unknown username: %w", ErrInvalidCredentials)

// ErrNotFound is returned by management operations on a missing username.
var ErrNotFound = errors.New("credential: username not found")

// Record is one stored credential.
type Record struct {
	Username    string    `json:"username"`
	Password    string    `json:"password"`
	IsHashed    bool      `json:"isHashed"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Store loads and saves the credential document, fronted by the shared cache
// so the hot validation path does not reread the file on every request.
type Store struct {
	store  storage.DocumentStore
	cache  *cache.Cache[map[string]Record]
	logger *slog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New creates a credential store. The cache may be shared with other
// components; this store uses the "credentials" key.
func New(store storage.DocumentStore, c *cache.Cache[map[string]Record], logger *slog.Logger) *Store {
	return &Store{
		store:  store,
		cache:  c,
		logger: logger.With("component", "credential"),
		now:    time.Now,
	}
}

// Load returns the credential records. A missing or unreadable document
// bootstraps a fresh admin record with a generated password — the system
// never boots with a known default credential.
func (s *Store) Load(ctx context.Context) (map[string]Record, error) {
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, nil
	}

	data, err := s.store.Read(ctx, documentName)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("reading credentials failed, bootstrapping a fresh admin record",
				"error", err)
		}
		return s.bootstrap(ctx)
	}
	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Error("credential document is corrupt, bootstrapping a fresh admin record",
			"error", err)
		return s.bootstrap(ctx)
	}
	s.cache.Set(cacheKey, records)
	return records, nil
}

// Save persists the records and invalidates the cache entry, the discipline
// every writer of cached data follows.
func (s *Store) Save(ctx context.Context, records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := s.store.Write(ctx, documentName, data); err != nil {
		return fmt.Errorf("persisting credentials: %w", err)
	}
	s.cache.Invalidate(cacheKey)
	return nil
}

// bootstrap synthesizes the single default administrator record with a
// generated high-entropy password. The plaintext is logged exactly once here;
// only the hash is stored.
func (s *Store) bootstrap(ctx context.Context) (map[string]Record, error) {
	password, err := util.RandomPassword(generatedPasswordLen)
	if err != nil {
		return nil, fmt.Errorf("generating admin password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing admin password: %w", err)
	}
	records := map[string]Record{
		defaultAdminUser: {
			Username:    defaultAdminUser,
			Password:    string(hash),
			IsHashed:    true,
			LastUpdated: s.now().UTC(),
		},
	}
	if err := s.Save(ctx, records); err != nil {
		return nil, err
	}
	s.logger.Warn("no credential file found; generated a new admin password",
		"username", defaultAdminUser, "password", password)
	return records, nil
}

// Verify checks a username/password pair. Unknown usernames and wrong
// passwords are indistinguishable to the caller; legacy plaintext records
// are migrated to bcrypt on their first successful use, persisted before
// this function returns.
func (s *Store) Verify(ctx context.Context, username, password string) error {
	username = util.NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.Load(ctx)
	if err != nil {
		return err
	}
	rec, ok := records[username]
	if !ok {
		// Burn a comparison so the miss path doesn't return faster.
		bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return ErrUnknownUser
	}

	if rec.IsHashed {
		if bcrypt.CompareHashAndPassword([]byte(rec.Password), []byte(password)) != nil {
			return ErrInvalidCredentials
		}
		return nil
	}

	// Legacy plaintext record.
	if subtle.ConstantTimeCompare([]byte(rec.Password), []byte(password)) != 1 {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("rehashing legacy credential: %w", err)
	}
	migrated := maps.Clone(records)
	rec.Password = string(hash)
	rec.IsHashed = true
	rec.LastUpdated = s.now().UTC()
	migrated[username] = rec
	if err := s.Save(ctx, migrated); err != nil {
		return fmt.Errorf("persisting migrated credential: %w", err)
	}
	s.logger.Info("legacy plaintext credential migrated to hashed storage", "username", username)
	return nil
}

// SetPassword replaces a user's password with a fresh hash.
func (s *Store) SetPassword(ctx context.Context, username, password string) error {
	username = util.NormalizeUsername(username)
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.Load(ctx)
	if err != nil {
		return err
	}
	rec, ok := records[username]
	if !ok {
		return fmt.Errorf("%s: %w", username, ErrNotFound)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	updated := maps.Clone(records)
	rec.Password = string(hash)
	rec.IsHashed = true
	rec.LastUpdated = s.now().UTC()
	updated[username] = rec
	if err := s.Save(ctx, updated); err != nil {
		return err
	}
	s.logger.Info("password updated", "username", username)
	return nil
}

// Rename moves a credential record to a new username.
func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	oldName = util.NormalizeUsername(oldName)
	newName = util.NormalizeUsername(newName)
	if newName == "" {
		return fmt.Errorf("new username must not be empty")
	}
	if oldName == newName {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.Load(ctx)
	if err != nil {
		return err
	}
	rec, ok := records[oldName]
	if !ok {
		return fmt.Errorf("%s: %w", oldName, ErrNotFound)
	}
	if _, exists := records[newName]; exists {
		return fmt.Errorf("username %q already exists", newName)
	}
	updated := maps.Clone(records)
	delete(updated, oldName)
	rec.Username = newName
	rec.LastUpdated = s.now().UTC()
	updated[newName] = rec
	if err := s.Save(ctx, updated); err != nil {
		return err
	}
	s.logger.Info("username changed", "old", oldName, "new", newName)
	return nil
}
