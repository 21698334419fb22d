package application

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/neighborhood-portal/internal/persistence"
)

// CredentialStore exposes the account operations required by the auth service.
type CredentialStore interface {
	CreateUser(ctx context.Context, credentials UserCredentials) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserCredentialsByEmail(ctx context.Context, email string) (UserCredentials, error)
	UpdateUser(ctx context.Context, user User) error
}

// SessionRepository captures the persistence interactions for refresh sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, token string) (Session, error)
	RevokeSession(ctx context.Context, token string, revokedAt time.Time) (Session, error)
	RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) (int, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}

// VerificationCodeRepository stores hashed email verification codes.
type VerificationCodeRepository interface {
	CreateCode(ctx context.Context, code VerificationCode) error
	LatestCode(ctx context.Context, userID string) (VerificationCode, error)
	ConsumeCode(ctx context.Context, id string, consumedAt time.Time) error
	RecordFailedAttempt(ctx context.Context, id string, limit int, at time.Time) (int, error)
}

// CodeSender delivers a plaintext verification code to the resident.
type CodeSender interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// RoleInvalidator drops cached role data for a user.
type RoleInvalidator interface {
	Invalidate(userID string)
}

// AuthDependencies wires an AuthService. Zero-valued optional fields take
// production defaults.
type AuthDependencies struct {
	Users          CredentialStore
	Sessions       SessionRepository
	Codes          VerificationCodeRepository
	Sender         CodeSender
	Tokens         *TokenIssuer
	Roles          RoleInvalidator
	HashPassword   SecretHasher
	HashCode       SecretHasher
	Verify         SecretVerifier
	IDGenerator    func() string
	TokenGenerator func() string
	CodeGenerator  func() string
	Now            func() time.Time
	RefreshTTL     time.Duration
	CodeTTL        time.Duration
	Logger         *slog.Logger

	// MaxCodeAttempts is how many wrong guesses consume a verification code.
	MaxCodeAttempts int
}

// DefaultMaxCodeAttempts bounds guesses against one six-digit code.
const DefaultMaxCodeAttempts = 5

// AuthService coordinates registration, email verification, login, refresh
// token rotation, and logout.
type AuthService struct {
	users           CredentialStore
	sessions        SessionRepository
	codes           VerificationCodeRepository
	sender          CodeSender
	tokens          *TokenIssuer
	roles           RoleInvalidator
	hashPassword    SecretHasher
	hashCode        SecretHasher
	verify          SecretVerifier
	idGenerator     func() string
	tokenGenerator  func() string
	codeGenerator   func() string
	now             func() time.Time
	refreshTTL      time.Duration
	codeTTL         time.Duration
	maxCodeAttempts int
	logger          *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(deps AuthDependencies) *AuthService {
	if deps.HashPassword == nil {
		deps.HashPassword = NewArgon2idHasher(PasswordArgon2idParams)
	}
	if deps.HashCode == nil {
		deps.HashCode = NewArgon2idHasher(CodeArgon2idParams)
	}
	if deps.Verify == nil {
		deps.Verify = VerifySecret
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "" }
	}
	if deps.TokenGenerator == nil {
		deps.TokenGenerator = deps.IDGenerator
	}
	if deps.CodeGenerator == nil {
		deps.CodeGenerator = randomCode
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RefreshTTL <= 0 {
		deps.RefreshTTL = 14 * 24 * time.Hour
	}
	if deps.CodeTTL <= 0 {
		deps.CodeTTL = 15 * time.Minute
	}
	if deps.MaxCodeAttempts <= 0 {
		deps.MaxCodeAttempts = DefaultMaxCodeAttempts
	}
	return &AuthService{
		users:           deps.Users,
		sessions:        deps.Sessions,
		codes:           deps.Codes,
		sender:          deps.Sender,
		tokens:          deps.Tokens,
		roles:           deps.Roles,
		hashPassword:    deps.HashPassword,
		hashCode:        deps.HashCode,
		verify:          deps.Verify,
		idGenerator:     deps.IDGenerator,
		tokenGenerator:  deps.TokenGenerator,
		codeGenerator:   deps.CodeGenerator,
		now:             deps.Now,
		refreshTTL:      deps.RefreshTTL,
		codeTTL:         deps.CodeTTL,
		maxCodeAttempts: deps.MaxCodeAttempts,
		logger:          defaultLogger(deps.Logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// Register creates an unverified account and emails a verification code.
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (user User, err error) {
	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "Register", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "registration failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "account registered", "user_id", user.ID)
	}()

	vErr := &ValidationError{}
	vErr.merge(validateEmail(email))
	vErr.merge(validatePassword(params.Password))
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var hash string
	hash, err = s.hashPassword(params.Password)
	if err != nil {
		return
	}

	now := s.now()
	user = User{ID: s.idGenerator(), Email: email, CreatedAt: now, UpdatedAt: now}
	if err = s.users.CreateUser(ctx, UserCredentials{User: user, PasswordHash: hash}); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			err = fieldError("email", "is already registered")
		} else {
			err = mapRepoError(err)
		}
		user = User{}
		return
	}

	if err = s.issueCode(ctx, user); err != nil {
		user = User{}
	}
	return
}

// ResendVerification issues a fresh code for an unverified account. Unknown
// and already verified addresses are ignored without error.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	logger := s.loggerWith(ctx, "ResendVerification", "email", email)

	creds, err := s.users.GetUserCredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			logger.InfoContext(ctx, "verification resend skipped", "cause", "unknown_email")
			return nil
		}
		logger.ErrorContext(ctx, "verification resend failed", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	if creds.User.EmailVerified {
		logger.InfoContext(ctx, "verification resend skipped", "cause", "already_verified")
		return nil
	}
	if err := s.issueCode(ctx, creds.User); err != nil {
		logger.ErrorContext(ctx, "verification resend failed", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "verification code resent", "user_id", creds.User.ID)
	return nil
}

// VerifyEmail consumes the latest code and signs the resident in.
func (s *AuthService) VerifyEmail(ctx context.Context, params VerifyEmailParams) (result AuthResult, err error) {
	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "VerifyEmail", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "email verification failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "email verified", "user_id", result.User.ID)
	}()

	invalidCode := fieldError("code", "is invalid or expired")
	code := strings.TrimSpace(params.Code)
	if email == "" || code == "" {
		err = invalidCode
		return
	}

	var creds UserCredentials
	creds, err = s.users.GetUserCredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			err = invalidCode
		}
		return
	}
	user := creds.User
	if user.EmailVerified {
		err = fieldError("email", "is already verified")
		return
	}

	var stored VerificationCode
	stored, err = s.codes.LatestCode(ctx, user.ID)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			err = invalidCode
		}
		return
	}
	now := s.now()
	if stored.ConsumedAt != nil || !now.Before(stored.ExpiresAt) {
		err = invalidCode
		return
	}
	if stored.FailedAttempts >= s.maxCodeAttempts {
		err = invalidCode
		return
	}
	if verifyErr := s.verify(stored.CodeHash, code); verifyErr != nil {
		attempts, recordErr := s.codes.RecordFailedAttempt(ctx, stored.ID, s.maxCodeAttempts, now)
		if recordErr != nil && !errors.Is(recordErr, persistence.ErrConflict) {
			err = recordErr
			return
		}
		if attempts >= s.maxCodeAttempts {
			logger.WarnContext(ctx, "verification code locked", "user_id", user.ID, "attempts", attempts)
		}
		err = invalidCode
		return
	}
	if err = s.codes.ConsumeCode(ctx, stored.ID, now); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			err = invalidCode
		}
		return
	}

	user.EmailVerified = true
	user.UpdatedAt = now
	if err = s.users.UpdateUser(ctx, user); err != nil {
		err = mapRepoError(err)
		return
	}

	result, err = s.signIn(ctx, user)
	return
}

// Login validates credentials and issues a token pair.
func (s *AuthService) Login(ctx context.Context, params LoginParams) (result AuthResult, err error) {
	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "Login", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "login failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "login succeeded", "user_id", result.User.ID)
	}()

	if email == "" || params.Password == "" {
		err = ErrInvalidCredentials
		return
	}

	var creds UserCredentials
	creds, err = s.users.GetUserCredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			err = ErrInvalidCredentials
		}
		return
	}
	if verifyErr := s.verify(creds.PasswordHash, params.Password); verifyErr != nil {
		err = ErrInvalidCredentials
		return
	}

	if pruneErr := s.sessions.DeleteExpiredSessions(ctx, s.now()); pruneErr != nil {
		logger.WarnContext(ctx, "failed to prune expired sessions", "error", pruneErr)
	}
	result, err = s.signIn(ctx, creds.User)
	return
}

// Refresh rotates a refresh token. Unknown, revoked, reused, and expired
// tokens all yield ErrSessionExpired.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (result AuthResult, err error) {
	token := strings.TrimSpace(refreshToken)
	logger := s.loggerWith(ctx, "Refresh", "token_provided", token != "")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "token refresh failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "token refreshed", "user_id", result.User.ID)
	}()

	if token == "" {
		err = ErrSessionExpired
		return
	}

	var session Session
	session, err = s.sessions.GetSession(ctx, token)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			err = ErrSessionExpired
		}
		return
	}
	now := s.now()
	if session.RevokedAt != nil || !now.Before(session.ExpiresAt) {
		err = ErrSessionExpired
		return
	}

	if _, err = s.sessions.RevokeSession(ctx, token, now); err != nil {
		switch mapped := mapRepoError(err); {
		case errors.Is(mapped, ErrNotFound), errors.Is(mapped, ErrInvalidTransition):
			err = ErrSessionExpired
		}
		return
	}

	var user User
	user, err = s.users.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(mapRepoError(err), ErrNotFound) {
			err = ErrSessionExpired
		}
		return
	}
	result, err = s.signIn(ctx, user)
	return
}

// Logout revokes one refresh token. Unknown or already revoked tokens are
// accepted so that logging out twice is harmless.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	token := strings.TrimSpace(refreshToken)
	logger := s.loggerWith(ctx, "Logout", "token_provided", token != "")
	if token == "" {
		logger.InfoContext(ctx, "logout without refresh token")
		return nil
	}

	session, err := s.sessions.RevokeSession(ctx, token, s.now())
	if err != nil {
		mapped := mapRepoError(err)
		if errors.Is(mapped, ErrNotFound) || errors.Is(mapped, ErrInvalidTransition) {
			logger.InfoContext(ctx, "logout of inactive session")
			return nil
		}
		logger.ErrorContext(ctx, "logout failed", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	if s.roles != nil {
		s.roles.Invalidate(session.UserID)
	}
	logger.InfoContext(ctx, "session revoked", "user_id", session.UserID, "session_id", session.ID)
	return nil
}

// LogoutAll revokes every refresh session of the principal.
func (s *AuthService) LogoutAll(ctx context.Context, principal Principal) error {
	logger := s.loggerWith(ctx, "LogoutAll", "user_id", principal.UserID)
	if strings.TrimSpace(principal.UserID) == "" {
		return ErrUnauthorized
	}
	count, err := s.sessions.RevokeUserSessions(ctx, principal.UserID, s.now())
	if err != nil {
		logger.ErrorContext(ctx, "logout-all failed", "error", err, "error_kind", ErrorKind(err))
		return mapRepoError(err)
	}
	if s.roles != nil {
		s.roles.Invalidate(principal.UserID)
	}
	logger.InfoContext(ctx, "all sessions revoked", "revoked", count)
	return nil
}

// ValidateAccessToken verifies an access token and returns its principal.
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (Principal, error) {
	if s == nil || s.tokens == nil {
		return Principal{}, fmt.Errorf("token issuer not configured")
	}
	principal, err := s.tokens.Parse(token)
	if err != nil {
		s.loggerWith(ctx, "ValidateAccessToken").DebugContext(ctx, "access token rejected", "error_kind", ErrorKind(err))
		return Principal{}, err
	}
	return principal, nil
}

func (s *AuthService) signIn(ctx context.Context, user User) (AuthResult, error) {
	access, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return AuthResult{}, err
	}
	now := s.now()
	session, err := s.sessions.CreateSession(ctx, Session{
		ID:        s.idGenerator(),
		UserID:    user.ID,
		Token:     s.tokenGenerator(),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return AuthResult{}, mapRepoError(err)
	}
	return AuthResult{
		User: user,
		Tokens: TokenPair{
			AccessToken:      access,
			RefreshToken:     session.Token,
			ExpiresAt:        expiresAt,
			RefreshExpiresAt: session.ExpiresAt,
		},
	}, nil
}

func (s *AuthService) issueCode(ctx context.Context, user User) error {
	code := s.codeGenerator()
	hash, err := s.hashCode(code)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.codes.CreateCode(ctx, VerificationCode{
		ID:        s.idGenerator(),
		UserID:    user.ID,
		CodeHash:  hash,
		ExpiresAt: now.Add(s.codeTTL),
		CreatedAt: now,
	}); err != nil {
		return mapRepoError(err)
	}
	if s.sender == nil {
		return nil
	}
	return s.sender.SendVerificationCode(ctx, user.Email, code)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) *ValidationError {
	if email == "" {
		return fieldError("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fieldError("email", "must be a valid address")
	}
	return nil
}

func validatePassword(password string) *ValidationError {
	switch n := utf8.RuneCountInString(password); {
	case n < 8:
		return fieldError("password", "must be at least 8 characters")
	case n > 128:
		return fieldError("password", "must be at most 128 characters")
	}
	return nil
}

// randomCode returns a six digit numeric code from crypto/rand.
func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return fmt.Sprintf("%06d", time.Now().UnixNano()%1_000_000)
	}
	return fmt.Sprintf("%06d", n.Int64())
}
