package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/authserver/instrumentation"
	"github.com/giantswarm/authserver/storage"
)

type tokenRow struct {
	authCode  uuid.NullUUID
	expiresAt time.Time
}

type refreshRow struct {
	tokenRow
	revokedReason storage.RevocationReason
}

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	clients       map[uuid.UUID]*storage.Client
	clientAliases map[string]uuid.UUID
	users         map[uuid.UUID]*storage.User
	usernames     map[string]uuid.UUID

	authCodes     map[uuid.UUID]time.Time
	replayedCodes map[uuid.UUID]time.Time
	accessTokens  map[uuid.UUID]tokenRow
	refreshTokens map[uuid.UUID]*refreshRow
	loginAttempts []storage.LoginAttempt

	// lock-free counts read by metric callbacks
	clientsCount       atomic.Int64
	usersCount         atomic.Int64
	authCodesCount     atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64
	attemptsCount      atomic.Int64

	instrumentation *instrumentation.Instrumentation
	logger          *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		clients:       make(map[uuid.UUID]*storage.Client),
		clientAliases: make(map[string]uuid.UUID),
		users:         make(map[uuid.UUID]*storage.User),
		usernames:     make(map[string]uuid.UUID),
		authCodes:     make(map[uuid.UUID]time.Time),
		replayedCodes: make(map[uuid.UUID]time.Time),
		accessTokens:  make(map[uuid.UUID]tokenRow),
		refreshTokens: make(map[uuid.UUID]*refreshRow),
		logger:        slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables storage metrics and registers the size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.syncCountsLocked()
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizes{
		Clients:       s.clientsCount.Load,
		Users:         s.usersCount.Load,
		AuthCodes:     s.authCodesCount.Load,
		AccessTokens:  s.accessTokensCount.Load,
		RefreshTokens: s.refreshTokensCount.Load,
		LoginAttempts: s.attemptsCount.Load,
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// syncCountsLocked must be called with mu held.
func (s *Store) syncCountsLocked() {
	s.clientsCount.Store(int64(len(s.clients)))
	s.usersCount.Store(int64(len(s.users)))
	s.authCodesCount.Store(int64(len(s.authCodes)))
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.attemptsCount.Store(int64(len(s.loginAttempts)))
}

func (s *Store) record(ctx context.Context, operation string, start time.Time, err error) {
	if s.instrumentation == nil {
		return
	}
	s.instrumentation.TraceStorageOperation(ctx, "memory", operation, start, err)
	result := "success"
	if err != nil {
		result = "error"
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result,
		float64(time.Since(start).Microseconds())/1000)
}

// ============================================================
// Clients
// ============================================================

func cloneClient(c *storage.Client) *storage.Client {
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	if c.Secret != nil {
		secret := *c.Secret
		secret.Hash = slices.Clone(c.Secret.Hash)
		out.Secret = &secret
	}
	return &out
}

// GetClient retrieves a client by id.
func (s *Store) GetClient(ctx context.Context, id uuid.UUID) (*storage.Client, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		s.record(ctx, "get_client", start, storage.ErrClientNotFound)
		return nil, storage.ErrClientNotFound
	}
	s.record(ctx, "get_client", start, nil)
	return cloneClient(c), nil
}

// GetClientByAlias retrieves a client by alias.
func (s *Store) GetClientByAlias(ctx context.Context, alias string) (*storage.Client, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.clientAliases[alias]
	if !ok {
		s.record(ctx, "get_client_by_alias", start, storage.ErrClientNotFound)
		return nil, storage.ErrClientNotFound
	}
	s.record(ctx, "get_client_by_alias", start, nil)
	return cloneClient(s.clients[id]), nil
}

// SaveClient inserts a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ID]; ok {
		s.record(ctx, "save_client", start, storage.ErrDuplicateID)
		return storage.ErrDuplicateID
	}
	if _, ok := s.clientAliases[client.Alias]; ok {
		s.record(ctx, "save_client", start, storage.ErrAliasTaken)
		return storage.ErrAliasTaken
	}

	s.clients[client.ID] = cloneClient(client)
	s.clientAliases[client.Alias] = client.ID
	s.clientsCount.Store(int64(len(s.clients)))
	s.record(ctx, "save_client", start, nil)
	return nil
}

// UpdateClientSecret replaces a client's secret hash.
func (s *Store) UpdateClientSecret(ctx context.Context, id uuid.UUID, secret storage.PasswordHash) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		s.record(ctx, "update_client_secret", start, storage.ErrClientNotFound)
		return storage.ErrClientNotFound
	}
	secret.Hash = slices.Clone(secret.Hash)
	c.Secret = &secret
	s.record(ctx, "update_client_secret", start, nil)
	return nil
}

// ClientIDExists reports whether a client id is in use.
func (s *Store) ClientIDExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[id]
	return ok, nil
}

// ============================================================
// Users
// ============================================================

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		s.record(ctx, "get_user_by_username", start, storage.ErrUserNotFound)
		return nil, storage.ErrUserNotFound
	}
	u := *s.users[id]
	u.Password.Hash = slices.Clone(u.Password.Hash)
	s.record(ctx, "get_user_by_username", start, nil)
	return &u, nil
}

// SaveUser inserts a user.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		s.record(ctx, "save_user", start, storage.ErrDuplicateID)
		return storage.ErrDuplicateID
	}
	if _, ok := s.usernames[user.Username]; ok {
		s.record(ctx, "save_user", start, storage.ErrUsernameTaken)
		return storage.ErrUsernameTaken
	}

	u := *user
	s.users[u.ID] = &u
	s.usernames[u.Username] = u.ID
	s.usersCount.Store(int64(len(s.users)))
	s.record(ctx, "save_user", start, nil)
	return nil
}

// UpdateUserPassword replaces a user's password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, id uuid.UUID, password storage.PasswordHash) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		s.record(ctx, "update_user_password", start, storage.ErrUserNotFound)
		return storage.ErrUserNotFound
	}
	password.Hash = slices.Clone(password.Hash)
	u.Password = password
	s.record(ctx, "update_user_password", start, nil)
	return nil
}

// UserIDExists reports whether a user id is in use.
func (s *Store) UserIDExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}
