package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
	"github.com/example/neighborhood-portal/internal/application"
)

// TestJWTSecret is long enough to pass configuration validation.
const TestJWTSecret = "test-secret-test-secret-test-secret"

// FastArgon2idParams keeps hashing cheap in tests.
var FastArgon2idParams = application.Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

func (f *ServiceFactory) ids(override func() string) func() string {
	if override != nil {
		return override
	}
	return f.IDGenerator.NextFunc()
}

func (f *ServiceFactory) now(override func() time.Time) func() time.Time {
	if override != nil {
		return override
	}
	return f.Clock.NowFunc()
}

// RoleServiceDeps captures dependencies for constructing a role service.
type RoleServiceDeps struct {
	Roles       application.RoleRepository
	Users       application.UserReader
	Directory   application.NeighborhoodDirectory
	CacheTTL    time.Duration
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewRoleService builds a role service. A zero CacheTTL disables caching.
func (f *ServiceFactory) NewRoleService(deps RoleServiceDeps) *application.RoleService {
	return application.NewRoleServiceWithLogger(
		deps.Roles,
		deps.Users,
		deps.Directory,
		deps.CacheTTL,
		f.ids(deps.IDGenerator),
		f.now(deps.Now),
		deps.Logger,
	)
}

// ProfileServiceDeps captures dependencies for constructing a profile service.
type ProfileServiceDeps struct {
	Users     application.ProfileRepository
	Directory application.NeighborhoodDirectory
	Now       func() time.Time
	Logger    *slog.Logger
}

// NewProfileService builds a profile service.
func (f *ServiceFactory) NewProfileService(deps ProfileServiceDeps) *application.ProfileService {
	return application.NewProfileServiceWithLogger(deps.Users, deps.Directory, f.now(deps.Now), deps.Logger)
}

// ApprovalServiceDeps captures dependencies for constructing an approval service.
type ApprovalServiceDeps struct {
	Requests    application.ApprovalRepository
	Categories  application.CategoryRepository
	Users       application.UserReader
	Roles       access.RoleSource
	Observer    application.DecisionObserver
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewApprovalService builds an approval service.
func (f *ServiceFactory) NewApprovalService(deps ApprovalServiceDeps) *application.ApprovalService {
	return application.NewApprovalServiceWithLogger(
		deps.Requests,
		deps.Categories,
		deps.Users,
		deps.Roles,
		deps.Observer,
		f.ids(deps.IDGenerator),
		f.now(deps.Now),
		deps.Logger,
	)
}

// NewTokenIssuer returns an issuer signing with TestJWTSecret on the factory clock.
func (f *ServiceFactory) NewTokenIssuer(ttl time.Duration) *application.TokenIssuer {
	return application.NewTokenIssuer(TestJWTSecret, "portal-test", ttl, f.Clock.NowFunc(), f.IDGenerator.NextFunc())
}

// NewAuthService builds an auth service. Unset hashers use FastArgon2idParams,
// and unset clocks, generators, and token issuers come from the factory.
func (f *ServiceFactory) NewAuthService(deps application.AuthDependencies) *application.AuthService {
	if deps.HashPassword == nil {
		deps.HashPassword = application.NewArgon2idHasher(FastArgon2idParams)
	}
	if deps.HashCode == nil {
		deps.HashCode = application.NewArgon2idHasher(FastArgon2idParams)
	}
	deps.IDGenerator = f.ids(deps.IDGenerator)
	deps.Now = f.now(deps.Now)
	if deps.Tokens == nil {
		deps.Tokens = f.NewTokenIssuer(15 * time.Minute)
	}
	return application.NewAuthService(deps)
}
