package application

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/example/neighborhood-portal/internal/persistence"
)

func plainHasher(secret string) (string, error) {
	return "hashed:" + secret, nil
}

func plainVerifier(hash, secret string) error {
	if hash != "hashed:"+secret {
		return ErrInvalidCredentials
	}
	return nil
}

type authFixture struct {
	now      time.Time
	users    *credentialStoreStub
	sessions *sessionRepositoryStub
	codes    *codeRepositoryStub
	sender   *codeSenderStub
	roles    *invalidatorStub
	svc      *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	f := &authFixture{
		now:      time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		users:    newCredentialStoreStub(),
		sessions: newSessionRepositoryStub(),
		codes:    newCodeRepositoryStub(),
		sender:   &codeSenderStub{},
		roles:    &invalidatorStub{},
	}
	seq := 0
	nextID := func() string {
		seq++
		return "id-" + strconv.Itoa(seq)
	}
	tokenSeq := 0
	f.svc = NewAuthService(AuthDependencies{
		Users:        f.users,
		Sessions:     f.sessions,
		Codes:        f.codes,
		Sender:       f.sender,
		Tokens:       NewTokenIssuer(testSecret, "portal-test", 15*time.Minute, func() time.Time { return f.now }, nextID),
		Roles:        f.roles,
		HashPassword: plainHasher,
		HashCode:     plainHasher,
		Verify:       plainVerifier,
		IDGenerator:  nextID,
		TokenGenerator: func() string {
			tokenSeq++
			return "refresh-" + strconv.Itoa(tokenSeq)
		},
		CodeGenerator: func() string { return "123456" },
		Now:           func() time.Time { return f.now },
		RefreshTTL:    24 * time.Hour,
		CodeTTL:       10 * time.Minute,
	})
	return f
}

func (f *authFixture) seedUser(user User, password string) {
	f.users.seed(UserCredentials{User: user, PasswordHash: "hashed:" + password})
}

func TestAuthService_Register(t *testing.T) {
	t.Parallel()

	t.Run("creates unverified account and sends code", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		user, err := f.svc.Register(context.Background(), RegisterParams{Email: " Warga@Example.com ", Password: "rahasia123"})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if user.Email != "warga@example.com" {
			t.Fatalf("expected normalized email, got %q", user.Email)
		}
		if user.EmailVerified {
			t.Fatalf("new accounts must not be verified")
		}
		stored := f.users.byID[user.ID]
		if stored.PasswordHash != "hashed:rahasia123" {
			t.Fatalf("expected hashed password to be stored, got %q", stored.PasswordHash)
		}
		if len(f.sender.sent) != 1 || f.sender.sent[0] != "warga@example.com:123456" {
			t.Fatalf("expected one code delivery, got %#v", f.sender.sent)
		}
		code := f.codes.latest[user.ID]
		if code.CodeHash != "hashed:123456" {
			t.Fatalf("expected code hash to be stored, got %q", code.CodeHash)
		}
		if !code.ExpiresAt.Equal(f.now.Add(10 * time.Minute)) {
			t.Fatalf("unexpected code expiry %v", code.ExpiresAt)
		}
	})

	t.Run("validates email and password", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		_, err := f.svc.Register(context.Background(), RegisterParams{Email: "not-an-email", Password: "short"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"email", "password"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Fatalf("expected %s field error, got %#v", field, vErr.FieldErrors)
			}
		}
	})

	t.Run("reports duplicate email on the email field", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		f.seedUser(User{ID: "existing", Email: "warga@example.com"}, "rahasia123")

		_, err := f.svc.Register(context.Background(), RegisterParams{Email: "warga@example.com", Password: "rahasia123"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["email"] == "" {
			t.Fatalf("expected email field error, got %v", err)
		}
	})
}

func TestAuthService_VerifyEmail(t *testing.T) {
	t.Parallel()

	register := func(t *testing.T, f *authFixture) User {
		t.Helper()
		user, err := f.svc.Register(context.Background(), RegisterParams{Email: "warga@example.com", Password: "rahasia123"})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		return user
	}

	t.Run("marks account verified and signs in", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		user := register(t, f)

		result, err := f.svc.VerifyEmail(context.Background(), VerifyEmailParams{Email: "warga@example.com", Code: "123456"})
		if err != nil {
			t.Fatalf("VerifyEmail failed: %v", err)
		}
		if !result.User.EmailVerified || !f.users.byID[user.ID].User.EmailVerified {
			t.Fatalf("expected account to be verified")
		}
		if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
			t.Fatalf("expected token pair, got %#v", result.Tokens)
		}
		if f.codes.latest[user.ID].ConsumedAt == nil {
			t.Fatalf("expected code to be consumed")
		}
	})

	t.Run("rejects wrong code", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		register(t, f)

		_, err := f.svc.VerifyEmail(context.Background(), VerifyEmailParams{Email: "warga@example.com", Code: "000000"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["code"] == "" {
			t.Fatalf("expected code field error, got %v", err)
		}
	})

	t.Run("rejects expired code", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		register(t, f)
		f.now = f.now.Add(11 * time.Minute)

		_, err := f.svc.VerifyEmail(context.Background(), VerifyEmailParams{Email: "warga@example.com", Code: "123456"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError for expired code, got %v", err)
		}
	})

	t.Run("rejects a consumed code", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		register(t, f)
		f.codes.consumeErr = persistence.ErrConflict

		_, err := f.svc.VerifyEmail(context.Background(), VerifyEmailParams{Email: "warga@example.com", Code: "123456"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError for consumed code, got %v", err)
		}
	})

	t.Run("locks the code after repeated wrong guesses", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		user := register(t, f)

		for i := 0; i < DefaultMaxCodeAttempts; i++ {
			_, err := f.svc.VerifyEmail(context.Background(), VerifyEmailParams{Email: "warga@example.com", Code: "000000"})
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("guess %d: expected ValidationError, got %v", i+1, err)
			}
		}
		if got := f.codes.latest[user.ID].FailedAttempts; got != DefaultMaxCodeAttempts {
			t.Fatalf("expected %d failed attempts, got %d", DefaultMaxCodeAttempts, got)
		}

		_, err := f.svc.VerifyEmail(context.Background(), VerifyEmailParams{Email: "warga@example.com", Code: "123456"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["code"] == "" {
			t.Fatalf("expected the correct code to be refused once locked, got %v", err)
		}
		if f.users.byID[user.ID].User.EmailVerified {
			t.Fatal("expected account to stay unverified")
		}

		if err := f.svc.ResendVerification(context.Background(), "warga@example.com"); err != nil {
			t.Fatalf("ResendVerification failed: %v", err)
		}
		if _, err := f.svc.VerifyEmail(context.Background(), VerifyEmailParams{Email: "warga@example.com", Code: "123456"}); err != nil {
			t.Fatalf("expected a fresh code to verify, got %v", err)
		}
	})
}

func TestAuthService_ResendVerification(t *testing.T) {
	t.Parallel()

	t.Run("sends a fresh code to unverified accounts", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		f.seedUser(User{ID: "user-1", Email: "warga@example.com"}, "rahasia123")

		if err := f.svc.ResendVerification(context.Background(), "WARGA@example.com"); err != nil {
			t.Fatalf("ResendVerification failed: %v", err)
		}
		if len(f.sender.sent) != 1 {
			t.Fatalf("expected one delivery, got %d", len(f.sender.sent))
		}
	})

	t.Run("ignores unknown and verified addresses", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		f.seedUser(User{ID: "user-1", Email: "done@example.com", EmailVerified: true}, "rahasia123")

		for _, email := range []string{"missing@example.com", "done@example.com"} {
			if err := f.svc.ResendVerification(context.Background(), email); err != nil {
				t.Fatalf("ResendVerification(%s) failed: %v", email, err)
			}
		}
		if len(f.sender.sent) != 0 {
			t.Fatalf("expected no deliveries, got %#v", f.sender.sent)
		}
	})
}

func TestAuthService_Login(t *testing.T) {
	t.Parallel()

	t.Run("issues tokens for valid credentials", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		f.seedUser(User{ID: "user-1", Email: "warga@example.com"}, "rahasia123")

		result, err := f.svc.Login(context.Background(), LoginParams{Email: "Warga@example.com", Password: "rahasia123"})
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if !result.Tokens.ExpiresAt.Equal(f.now.Add(15 * time.Minute)) {
			t.Fatalf("unexpected access expiry %v", result.Tokens.ExpiresAt)
		}
		if !result.Tokens.RefreshExpiresAt.Equal(f.now.Add(24 * time.Hour)) {
			t.Fatalf("unexpected refresh expiry %v", result.Tokens.RefreshExpiresAt)
		}
		if len(f.sessions.deleteCalls) != 1 {
			t.Fatalf("expected expired sessions to be pruned")
		}

		principal, err := f.svc.ValidateAccessToken(context.Background(), result.Tokens.AccessToken)
		if err != nil {
			t.Fatalf("ValidateAccessToken failed: %v", err)
		}
		if principal.UserID != "user-1" {
			t.Fatalf("unexpected principal %#v", principal)
		}
	})

	t.Run("unverified accounts may still sign in", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		f.seedUser(User{ID: "user-1", Email: "warga@example.com"}, "rahasia123")

		result, err := f.svc.Login(context.Background(), LoginParams{Email: "warga@example.com", Password: "rahasia123"})
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if result.User.EmailVerified {
			t.Fatalf("expected onboarding state to be preserved")
		}
	})

	t.Run("rejects wrong password and unknown email alike", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		f.seedUser(User{ID: "user-1", Email: "warga@example.com"}, "rahasia123")

		for _, params := range []LoginParams{
			{Email: "warga@example.com", Password: "salah-sandi"},
			{Email: "lain@example.com", Password: "rahasia123"},
			{Email: "", Password: ""},
		} {
			if _, err := f.svc.Login(context.Background(), params); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials for %#v, got %v", params, err)
			}
		}
	})

	t.Run("propagates session store failures", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		f.seedUser(User{ID: "user-1", Email: "warga@example.com"}, "rahasia123")
		expected := errors.New("disk full")
		f.sessions.createErr = expected

		_, err := f.svc.Login(context.Background(), LoginParams{Email: "warga@example.com", Password: "rahasia123"})
		if !errors.Is(err, expected) {
			t.Fatalf("expected %v, got %v", expected, err)
		}
	})
}

func TestAuthService_Refresh(t *testing.T) {
	t.Parallel()

	login := func(t *testing.T, f *authFixture) AuthResult {
		t.Helper()
		f.seedUser(User{ID: "user-1", Email: "warga@example.com"}, "rahasia123")
		result, err := f.svc.Login(context.Background(), LoginParams{Email: "warga@example.com", Password: "rahasia123"})
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		return result
	}

	t.Run("rotates refresh token", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		first := login(t, f)
		f.now = f.now.Add(20 * time.Minute)

		second, err := f.svc.Refresh(context.Background(), first.Tokens.RefreshToken)
		if err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if second.Tokens.RefreshToken == first.Tokens.RefreshToken {
			t.Fatalf("expected a rotated refresh token")
		}
		if !second.Tokens.ExpiresAt.After(first.Tokens.ExpiresAt) {
			t.Fatalf("expected a later access expiry")
		}

		if _, err := f.svc.Refresh(context.Background(), first.Tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected reuse of rotated token to fail, got %v", err)
		}
	})

	t.Run("expired refresh token ends the session", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		first := login(t, f)
		f.now = f.now.Add(25 * time.Hour)

		if _, err := f.svc.Refresh(context.Background(), first.Tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
	})

	t.Run("unknown and empty tokens end the session", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		for _, token := range []string{"", "nope"} {
			if _, err := f.svc.Refresh(context.Background(), token); !errors.Is(err, ErrSessionExpired) {
				t.Fatalf("expected ErrSessionExpired for %q, got %v", token, err)
			}
		}
	})

	t.Run("losing a concurrent rotation ends the session", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		first := login(t, f)
		f.sessions.revokeErr = persistence.ErrConflict

		if _, err := f.svc.Refresh(context.Background(), first.Tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
	})
}

func TestAuthService_Logout(t *testing.T) {
	t.Parallel()

	t.Run("revokes the session and is idempotent", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		f.seedUser(User{ID: "user-1", Email: "warga@example.com"}, "rahasia123")
		result, err := f.svc.Login(context.Background(), LoginParams{Email: "warga@example.com", Password: "rahasia123"})
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}

		for i := 0; i < 2; i++ {
			if err := f.svc.Logout(context.Background(), result.Tokens.RefreshToken); err != nil {
				t.Fatalf("Logout #%d failed: %v", i+1, err)
			}
		}
		if _, err := f.svc.Refresh(context.Background(), result.Tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected revoked token to be unusable, got %v", err)
		}
		if len(f.roles.invalidated) != 1 || f.roles.invalidated[0] != "user-1" {
			t.Fatalf("expected role cache invalidation, got %#v", f.roles.invalidated)
		}
	})

	t.Run("logout all revokes every session", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		f.seedUser(User{ID: "user-1", Email: "warga@example.com"}, "rahasia123")
		var tokens []string
		for i := 0; i < 2; i++ {
			result, err := f.svc.Login(context.Background(), LoginParams{Email: "warga@example.com", Password: "rahasia123"})
			if err != nil {
				t.Fatalf("Login failed: %v", err)
			}
			tokens = append(tokens, result.Tokens.RefreshToken)
		}

		if err := f.svc.LogoutAll(context.Background(), Principal{UserID: "user-1"}); err != nil {
			t.Fatalf("LogoutAll failed: %v", err)
		}
		for _, token := range tokens {
			if _, err := f.svc.Refresh(context.Background(), token); !errors.Is(err, ErrSessionExpired) {
				t.Fatalf("expected %s to be revoked, got %v", token, err)
			}
		}
	})

	t.Run("logout all requires a principal", func(t *testing.T) {
		t.Parallel()

		f := newAuthFixture(t)
		if err := f.svc.LogoutAll(context.Background(), Principal{}); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestAuthService_ValidateAccessToken(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t)
	f.seedUser(User{ID: "user-1", Email: "warga@example.com"}, "rahasia123")
	result, err := f.svc.Login(context.Background(), LoginParams{Email: "warga@example.com", Password: "rahasia123"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := f.svc.ValidateAccessToken(context.Background(), "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for garbage, got %v", err)
	}

	f.now = f.now.Add(16 * time.Minute)
	if _, err := f.svc.ValidateAccessToken(context.Background(), result.Tokens.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired after expiry, got %v", err)
	}
}

// credentialStoreStub implements CredentialStore for tests.
type credentialStoreStub struct {
	byID    map[string]UserCredentials
	byEmail map[string]string
	err     error
}

func newCredentialStoreStub() *credentialStoreStub {
	return &credentialStoreStub{
		byID:    make(map[string]UserCredentials),
		byEmail: make(map[string]string),
	}
}

func (c *credentialStoreStub) seed(creds UserCredentials) {
	c.byID[creds.User.ID] = creds
	c.byEmail[creds.User.Email] = creds.User.ID
}

func (c *credentialStoreStub) CreateUser(ctx context.Context, creds UserCredentials) error {
	if c.err != nil {
		return c.err
	}
	if _, exists := c.byEmail[creds.User.Email]; exists {
		return persistence.ErrDuplicate
	}
	c.seed(creds)
	return nil
}

func (c *credentialStoreStub) GetUserCredentialsByEmail(ctx context.Context, email string) (UserCredentials, error) {
	if c.err != nil {
		return UserCredentials{}, c.err
	}
	id, ok := c.byEmail[email]
	if !ok {
		return UserCredentials{}, persistence.ErrNotFound
	}
	return c.byID[id], nil
}

func (c *credentialStoreStub) GetUser(ctx context.Context, id string) (User, error) {
	if c.err != nil {
		return User{}, c.err
	}
	creds, ok := c.byID[id]
	if !ok {
		return User{}, persistence.ErrNotFound
	}
	return creds.User, nil
}

func (c *credentialStoreStub) UpdateUser(ctx context.Context, user User) error {
	creds, ok := c.byID[user.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	creds.User = user
	c.byID[user.ID] = creds
	return nil
}

// sessionRepositoryStub provides an in-memory implementation of SessionRepository for tests.
type sessionRepositoryStub struct {
	byToken map[string]Session

	createErr error
	revokeErr error

	deleteCalls []time.Time
}

func newSessionRepositoryStub() *sessionRepositoryStub {
	return &sessionRepositoryStub{byToken: make(map[string]Session)}
}

func (s *sessionRepositoryStub) CreateSession(ctx context.Context, session Session) (Session, error) {
	if s.createErr != nil {
		return Session{}, s.createErr
	}
	s.byToken[session.Token] = session
	return session, nil
}

func (s *sessionRepositoryStub) GetSession(ctx context.Context, token string) (Session, error) {
	session, ok := s.byToken[token]
	if !ok {
		return Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (s *sessionRepositoryStub) RevokeSession(ctx context.Context, token string, revokedAt time.Time) (Session, error) {
	if s.revokeErr != nil {
		return Session{}, s.revokeErr
	}
	session, ok := s.byToken[token]
	if !ok {
		return Session{}, persistence.ErrNotFound
	}
	if session.RevokedAt != nil {
		return session, persistence.ErrConflict
	}
	revoked := revokedAt.UTC()
	session.RevokedAt = &revoked
	s.byToken[token] = session
	return session, nil
}

func (s *sessionRepositoryStub) RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) (int, error) {
	count := 0
	for token, session := range s.byToken {
		if session.UserID != userID || session.RevokedAt != nil {
			continue
		}
		revoked := revokedAt.UTC()
		session.RevokedAt = &revoked
		s.byToken[token] = session
		count++
	}
	return count, nil
}

func (s *sessionRepositoryStub) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	s.deleteCalls = append(s.deleteCalls, reference)
	for token, session := range s.byToken {
		if !session.ExpiresAt.After(reference) {
			delete(s.byToken, token)
		}
	}
	return nil
}

type codeRepositoryStub struct {
	latest     map[string]VerificationCode
	consumeErr error
}

func newCodeRepositoryStub() *codeRepositoryStub {
	return &codeRepositoryStub{latest: make(map[string]VerificationCode)}
}

func (c *codeRepositoryStub) CreateCode(ctx context.Context, code VerificationCode) error {
	c.latest[code.UserID] = code
	return nil
}

func (c *codeRepositoryStub) LatestCode(ctx context.Context, userID string) (VerificationCode, error) {
	code, ok := c.latest[userID]
	if !ok {
		return VerificationCode{}, persistence.ErrNotFound
	}
	return code, nil
}

func (c *codeRepositoryStub) ConsumeCode(ctx context.Context, id string, consumedAt time.Time) error {
	if c.consumeErr != nil {
		return c.consumeErr
	}
	for userID, code := range c.latest {
		if code.ID != id {
			continue
		}
		if code.ConsumedAt != nil {
			return persistence.ErrConflict
		}
		code.ConsumedAt = &consumedAt
		c.latest[userID] = code
		return nil
	}
	return persistence.ErrNotFound
}

func (c *codeRepositoryStub) RecordFailedAttempt(ctx context.Context, id string, limit int, at time.Time) (int, error) {
	for userID, code := range c.latest {
		if code.ID != id {
			continue
		}
		if code.ConsumedAt != nil {
			return 0, persistence.ErrConflict
		}
		code.FailedAttempts++
		if code.FailedAttempts >= limit {
			code.ConsumedAt = &at
		}
		c.latest[userID] = code
		return code.FailedAttempts, nil
	}
	return 0, persistence.ErrNotFound
}

type codeSenderStub struct {
	sent []string
}

func (c *codeSenderStub) SendVerificationCode(ctx context.Context, email, code string) error {
	c.sent = append(c.sent, email+":"+code)
	return nil
}

type invalidatorStub struct {
	invalidated []string
}

func (i *invalidatorStub) Invalidate(userID string) {
	i.invalidated = append(i.invalidated, userID)
}
