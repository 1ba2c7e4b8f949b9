package token

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/authserver/security"
	"github.com/giantswarm/authserver/storage"
	"github.com/giantswarm/authserver/storage/memory"
)

const (
	testIssuer   = "https://auth.example.com"
	testRedirect = "https://app.example.com/callback"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	m      *Manager
	store  *memory.Store
	now    time.Time
	client uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		now:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		client: uuid.New(),
	}
	f.m = NewManager(f.store, security.StaticSecrets{Key: testKey},
		WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) sign(t *testing.T, c *Claims) string {
	t.Helper()
	raw, err := f.m.Sign(c)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return raw
}

func (f *fixture) codePair(t *testing.T) (code *Claims, access, refresh *Claims) {
	t.Helper()
	ctx := context.Background()

	code, err := f.m.IssueAuthCode(ctx, testIssuer, f.client, "user-1", "read", testRedirect)
	if err != nil {
		t.Fatalf("IssueAuthCode() error = %v", err)
	}
	redeemed, err := f.m.VerifyAuthCode(ctx, f.sign(t, code), testIssuer, f.client, testRedirect)
	if err != nil {
		t.Fatalf("VerifyAuthCode() error = %v", err)
	}
	jti, _ := redeemed.JTI()
	access, refresh, err = f.m.IssuePair(ctx, testIssuer, f.client, redeemed.Subject, redeemed.Scope, time.Hour, &jti)
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}
	return code, access, refresh
}

func TestIssueAuthCode(t *testing.T) {
	f := newFixture(t)
	c, err := f.m.IssueAuthCode(context.Background(), testIssuer, f.client, "user-1", "read write", testRedirect)
	if err != nil {
		t.Fatalf("IssueAuthCode() error = %v", err)
	}

	if c.Kind != KindAuthorization {
		t.Errorf("Kind = %q, want %q", c.Kind, KindAuthorization)
	}
	if got := c.ExpiresAt.Sub(f.now); got != AuthCodeTTL {
		t.Errorf("expiry = now+%v, want now+%v", got, AuthCodeTTL)
	}
	if c.RedirectURI != testRedirect {
		t.Errorf("RedirectURI = %q, want %q", c.RedirectURI, testRedirect)
	}
	if !c.HasAudience(testIssuer) || !c.HasAudience(f.client.String()) {
		t.Errorf("Audience = %v, want issuer and client", c.Audience)
	}
	jti, err := c.JTI()
	if err != nil {
		t.Fatalf("JTI() error = %v", err)
	}
	if ok, _ := f.store.AuthCodeExists(context.Background(), jti); !ok {
		t.Error("authorization code row was not stored")
	}
}

func TestIssueRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := uuid.New()

	access, err := f.m.IssueAccessToken(ctx, testIssuer, f.client, "user-1", "read", 30*time.Minute, &code)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	refresh, err := f.m.IssueRefreshToken(ctx, access)
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}

	if refresh.Kind != KindRefresh {
		t.Errorf("Kind = %q, want %q", refresh.Kind, KindRefresh)
	}
	if want := access.ExpiresAt.Add(RefreshGrace); !refresh.ExpiresAt.Equal(want) {
		t.Errorf("refresh expiry = %v, want %v", refresh.ExpiresAt, want)
	}
	if refresh.Subject != access.Subject || refresh.Scope != access.Scope {
		t.Error("refresh token does not carry the source subject and scope")
	}
	if refresh.AuthCodeID == nil || *refresh.AuthCodeID != code {
		t.Error("refresh token lost its backing code")
	}
	if refresh.ID == access.ID {
		t.Error("refresh token reuses the access token id")
	}
}

func TestVerify_Ordering(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()

	base := func() *Claims {
		return f.m.newClaims(KindAccess, testIssuer, f.client, "user-1", "read", f.now.Add(time.Hour))
	}

	tests := []struct {
		name    string
		mutate  func(*Claims)
		raw     func(string) string
		client  uuid.NullUUID
		kind    Kind
		wantErr error
	}{
		{
			name: "valid",
			kind: KindAccess,
		},
		{
			name:    "tampered signature",
			raw:     func(s string) string { return s[:len(s)-2] + "xx" },
			kind:    KindAccess,
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "garbage",
			raw:     func(string) string { return "not.a.token" },
			kind:    KindAccess,
			wantErr: ErrMalformed,
		},
		{
			name:    "wrong issuer",
			mutate:  func(c *Claims) { c.Issuer = "https://evil.example.com" },
			kind:    KindAccess,
			wantErr: ErrIncorrectIssuer,
		},
		{
			name:    "wrong client",
			client:  uuid.NullUUID{UUID: other, Valid: true},
			kind:    KindAccess,
			wantErr: ErrWrongClient,
		},
		{
			name:    "issuer missing from audience",
			mutate:  func(c *Claims) { c.Audience = jwt.ClaimStrings{f.client.String()} },
			kind:    KindAccess,
			wantErr: ErrBadAudience,
		},
		{
			name: "expired and bad audience reports audience first",
			mutate: func(c *Claims) {
				c.Audience = nil
				c.ExpiresAt = jwt.NewNumericDate(f.now.Add(-time.Minute))
			},
			kind:    KindAccess,
			wantErr: ErrBadAudience,
		},
		{
			name:    "expired",
			mutate:  func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(f.now.Add(-time.Second)) },
			kind:    KindAccess,
			wantErr: ErrExpired,
		},
		{
			name:    "not yet valid",
			mutate:  func(c *Claims) { c.NotBefore = jwt.NewNumericDate(f.now.Add(time.Minute)) },
			kind:    KindAccess,
			wantErr: ErrNotYetValid,
		},
		{
			name:    "wrong kind",
			kind:    KindRefresh,
			wantErr: ErrWrongKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			c.ID = uuid.NewString()
			if tt.mutate != nil {
				tt.mutate(c)
			}
			raw := f.sign(t, c)
			if tt.raw != nil {
				raw = tt.raw(raw)
			}

			_, err := f.m.Verify(raw, testIssuer, tt.client, tt.kind)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_RejectsOtherKeyAndAlgorithm(t *testing.T) {
	f := newFixture(t)
	c := f.m.newClaims(KindAccess, testIssuer, f.client, "user-1", "read", f.now.Add(time.Hour))

	otherKey := NewManager(f.store, security.StaticSecrets{Key: []byte(strings.Repeat("x", 32))})
	raw, err := otherKey.Sign(c)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := f.m.Verify(raw, testIssuer, uuid.NullUUID{}, KindAccess); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Verify(other key) error = %v, want ErrInvalidSignature", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, c).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString(none) error = %v", err)
	}
	if _, err := f.m.Verify(unsigned, testIssuer, uuid.NullUUID{}, KindAccess); err == nil {
		t.Error("Verify(alg none) succeeded")
	}
}

func TestVerifyAuthCode_RedirectMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.m.IssueAuthCode(ctx, testIssuer, f.client, "user-1", "read", testRedirect)
	if err != nil {
		t.Fatalf("IssueAuthCode() error = %v", err)
	}
	raw := f.sign(t, code)

	if _, err := f.m.VerifyAuthCode(ctx, raw, testIssuer, f.client, "https://app.example.com/other"); !errors.Is(err, ErrRedirectMismatch) {
		t.Fatalf("VerifyAuthCode() error = %v, want ErrRedirectMismatch", err)
	}
	// a mismatch does not consume the code
	if _, err := f.m.VerifyAuthCode(ctx, raw, testIssuer, f.client, testRedirect); err != nil {
		t.Errorf("VerifyAuthCode() after mismatch error = %v", err)
	}
}

func TestVerifyAuthCode_ReplayCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, access, refresh := f.codePair(t)

	_, err := f.m.VerifyAuthCode(ctx, f.sign(t, code), testIssuer, f.client, testRedirect)
	if !errors.Is(err, ErrCodeReplayed) {
		t.Fatalf("second VerifyAuthCode() error = %v, want ErrCodeReplayed", err)
	}
	var replay *ReplayError
	if !errors.As(err, &replay) {
		t.Fatalf("error %T is not a *ReplayError", err)
	}
	if replay.AccessTokensRevoked != 1 || replay.RefreshTokensRevoked != 1 {
		t.Errorf("cascade = %+v, want 1 access and 1 refresh", replay)
	}

	if _, err := f.m.VerifyAccessToken(ctx, f.sign(t, access), testIssuer); !errors.Is(err, ErrRevoked) {
		t.Errorf("VerifyAccessToken() after replay error = %v, want ErrRevoked", err)
	}
	if _, err := f.m.VerifyRefreshToken(ctx, f.sign(t, refresh), testIssuer, uuid.NullUUID{}); !errors.Is(err, ErrRevoked) {
		t.Errorf("VerifyRefreshToken() after replay error = %v, want ErrRevoked", err)
	}

	jti, _ := refresh.JTI()
	if reason, _ := f.store.RefreshTokenRevocationReason(jti); reason != storage.RevocationReusedAuthorizationCode {
		t.Errorf("revocation reason = %q, want %q", reason, storage.RevocationReusedAuthorizationCode)
	}
}

// racingStore runs beforeAccess once, right before the next access token row
// is inserted, and remembers the ids of the token rows it stores.
type racingStore struct {
	*memory.Store
	beforeAccess func()
	access       []uuid.UUID
	refresh      []uuid.UUID
}

func (s *racingStore) CreateAccessToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error {
	if hook := s.beforeAccess; hook != nil {
		s.beforeAccess = nil
		hook()
	}
	s.access = append(s.access, jti)
	return s.Store.CreateAccessToken(ctx, jti, authCode, expiresAt)
}

func (s *racingStore) CreateRefreshToken(ctx context.Context, jti uuid.UUID, authCode uuid.NullUUID, expiresAt time.Time) error {
	s.refresh = append(s.refresh, jti)
	return s.Store.CreateRefreshToken(ctx, jti, authCode, expiresAt)
}

// assertIssuedRevoked checks that every token row written through store for
// code is unusable.
func assertIssuedRevoked(t *testing.T, m *Manager, store *racingStore, client, code uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	exp := m.now().Add(time.Hour)

	for _, jti := range store.access {
		c := m.newClaims(KindAccess, testIssuer, client, "user-1", "read", exp)
		c.ID = jti.String()
		c.AuthCodeID = &code
		raw, err := m.Sign(c)
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		if _, err := m.VerifyAccessToken(ctx, raw, testIssuer); !errors.Is(err, ErrRevoked) {
			t.Errorf("VerifyAccessToken(%s) error = %v, want ErrRevoked", jti, err)
		}
	}
	for _, jti := range store.refresh {
		c := m.newClaims(KindRefresh, testIssuer, client, "user-1", "read", exp.Add(RefreshGrace))
		c.ID = jti.String()
		c.AuthCodeID = &code
		raw, err := m.Sign(c)
		if err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
		if _, err := m.VerifyRefreshToken(ctx, raw, testIssuer, uuid.NullUUID{}); !errors.Is(err, ErrRevoked) {
			t.Errorf("VerifyRefreshToken(%s) error = %v, want ErrRevoked", jti, err)
		}
		if reason, _ := store.RefreshTokenRevocationReason(jti); reason != storage.RevocationReusedAuthorizationCode {
			t.Errorf("refresh %s revocation reason = %q, want %q", jti, reason, storage.RevocationReusedAuthorizationCode)
		}
	}
}

func TestIssuePair_ReplayBeforeTokensStored(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &racingStore{Store: memory.New()}
	m := NewManager(store, security.StaticSecrets{Key: testKey}, WithClock(func() time.Time { return now }))
	client := uuid.New()

	code, err := m.IssueAuthCode(ctx, testIssuer, client, "user-1", "read", testRedirect)
	if err != nil {
		t.Fatalf("IssueAuthCode() error = %v", err)
	}
	raw, err := m.Sign(code)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	redeemed, err := m.VerifyAuthCode(ctx, raw, testIssuer, client, testRedirect)
	if err != nil {
		t.Fatalf("VerifyAuthCode() error = %v", err)
	}

	var replayErr error
	store.beforeAccess = func() {
		_, replayErr = m.VerifyAuthCode(ctx, raw, testIssuer, client, testRedirect)
	}

	codeID, _ := redeemed.JTI()
	access, refresh, err := m.IssuePair(ctx, testIssuer, client, redeemed.Subject, redeemed.Scope, time.Hour, &codeID)
	if !errors.Is(replayErr, ErrCodeReplayed) {
		t.Fatalf("concurrent VerifyAuthCode() error = %v, want ErrCodeReplayed", replayErr)
	}
	var replay *ReplayError
	if !errors.As(err, &replay) {
		t.Fatalf("IssuePair() error = %v, want *ReplayError", err)
	}
	if access != nil || refresh != nil {
		t.Error("IssuePair() returned tokens for a replayed code")
	}
	if replay.AccessTokensRevoked != 1 || replay.RefreshTokensRevoked != 1 {
		t.Errorf("cascade = %+v, want 1 access and 1 refresh", replay)
	}
	if len(store.access) != 1 || len(store.refresh) != 1 {
		t.Fatalf("stored %d access and %d refresh rows, want 1 each", len(store.access), len(store.refresh))
	}
	assertIssuedRevoked(t, m, store, client, codeID)
}

func TestRotateRefresh_ReplayBeforeTokensStored(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &racingStore{Store: memory.New()}
	m := NewManager(store, security.StaticSecrets{Key: testKey}, WithClock(func() time.Time { return now }))
	client := uuid.New()

	code, err := m.IssueAuthCode(ctx, testIssuer, client, "user-1", "read", testRedirect)
	if err != nil {
		t.Fatalf("IssueAuthCode() error = %v", err)
	}
	raw, _ := m.Sign(code)
	redeemed, err := m.VerifyAuthCode(ctx, raw, testIssuer, client, testRedirect)
	if err != nil {
		t.Fatalf("VerifyAuthCode() error = %v", err)
	}
	codeID, _ := redeemed.JTI()
	_, refresh, err := m.IssuePair(ctx, testIssuer, client, redeemed.Subject, redeemed.Scope, time.Hour, &codeID)
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	// the replay lands after the old refresh token is consumed and before
	// the rotated pair is stored
	store.beforeAccess = func() {
		_, _ = m.VerifyAuthCode(ctx, raw, testIssuer, client, testRedirect)
	}
	if _, _, err := m.RotateRefresh(ctx, refresh, refresh.Scope, time.Hour); !errors.Is(err, ErrCodeReplayed) {
		t.Fatalf("RotateRefresh() error = %v, want ErrCodeReplayed", err)
	}

	// only the rotated rows remain to check; the first pair was handled by
	// the cascade itself
	store.access, store.refresh = store.access[1:], store.refresh[1:]
	assertIssuedRevoked(t, m, store, client, codeID)
}

func TestRotateRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, refresh := f.codePair(t)
	raw := f.sign(t, refresh)

	old, err := f.m.VerifyRefreshToken(ctx, raw, testIssuer, uuid.NullUUID{UUID: f.client, Valid: true})
	if err != nil {
		t.Fatalf("VerifyRefreshToken() error = %v", err)
	}
	access, next, err := f.m.RotateRefresh(ctx, old, old.Scope, time.Hour)
	if err != nil {
		t.Fatalf("RotateRefresh() error = %v", err)
	}
	if access.Scope != "read" || next.Scope != "read" {
		t.Errorf("rotated scopes = %q, %q; want read", access.Scope, next.Scope)
	}
	if next.AuthCodeID == nil || *next.AuthCodeID != *old.AuthCodeID {
		t.Error("rotated refresh token lost its backing code")
	}

	// the old token is consumed and kept for audit
	if _, err := f.m.VerifyRefreshToken(ctx, raw, testIssuer, uuid.NullUUID{}); !errors.Is(err, ErrRevoked) {
		t.Errorf("VerifyRefreshToken(old) error = %v, want ErrRevoked", err)
	}
	if _, _, err := f.m.RotateRefresh(ctx, old, old.Scope, time.Hour); !errors.Is(err, ErrRevoked) {
		t.Errorf("second RotateRefresh() error = %v, want ErrRevoked", err)
	}
	jti, _ := old.JTI()
	if reason, ok := f.store.RefreshTokenRevocationReason(jti); !ok || reason != storage.RevocationNewRefreshToken {
		t.Errorf("old row reason = %q (present %v), want %q", reason, ok, storage.RevocationNewRefreshToken)
	}

	if _, err := f.m.VerifyRefreshToken(ctx, f.sign(t, next), testIssuer, uuid.NullUUID{}); err != nil {
		t.Errorf("VerifyRefreshToken(new) error = %v", err)
	}
}

func TestVerifyAccessToken_AfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	access, err := f.m.IssueAccessToken(ctx, testIssuer, f.client, "user-1", "read", time.Minute, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	raw := f.sign(t, access)

	if _, err := f.m.VerifyAccessToken(ctx, raw, testIssuer); err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}
	f.now = f.now.Add(2 * time.Minute)
	if _, err := f.m.VerifyAccessToken(ctx, raw, testIssuer); !errors.Is(err, ErrExpired) {
		t.Errorf("VerifyAccessToken() after expiry error = %v, want ErrExpired", err)
	}
}

func TestAccessTokenCannotBeUsedAsRefresh(t *testing.T) {
	f := newFixture(t)
	_, access, _ := f.codePair(t)
	_, err := f.m.VerifyRefreshToken(context.Background(), f.sign(t, access), testIssuer, uuid.NullUUID{})
	if !errors.Is(err, ErrWrongKind) {
		t.Errorf("VerifyRefreshToken(access) error = %v, want ErrWrongKind", err)
	}
}

type collidingTokens struct {
	*memory.Store
	collisions int
}

func (s *collidingTokens) CreateAccessToken(ctx context.Context, jti uuid.UUID, code uuid.NullUUID, exp time.Time) error {
	if s.collisions > 0 {
		s.collisions--
		return storage.ErrDuplicateID
	}
	return s.Store.CreateAccessToken(ctx, jti, code, exp)
}

func TestIssueAccessToken_RetriesDuplicateInsert(t *testing.T) {
	store := &collidingTokens{Store: memory.New(), collisions: 2}
	m := NewManager(store, security.StaticSecrets{Key: testKey})

	c, err := m.IssueAccessToken(context.Background(), testIssuer, uuid.New(), "user-1", "read", time.Hour, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	jti, _ := c.JTI()
	if ok, _ := store.AccessTokenExists(context.Background(), jti); !ok {
		t.Error("access token row missing after retries")
	}
}

func TestIsVerificationError(t *testing.T) {
	if !IsVerificationError(&ReplayError{}) {
		t.Error("ReplayError should be a verification error")
	}
	if IsVerificationError(errors.New("database down")) {
		t.Error("internal error classified as verification error")
	}
}
