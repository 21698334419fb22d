package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the portal API server.
type Config struct {
	HTTPPort            int
	SQLiteDSN           string
	JWTSecret           string
	JWTIssuer           string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	VerificationCodeTTL time.Duration
	RoleCacheTTL        time.Duration
	LoginRatePerMinute  int
	LoginBurst          int
	BootstrapAdminEmail string
	TrustedProxies      []*net.IPNet
	LogLevel            string
	LogFormat           string
}

// ClientConfig captures the settings used by the portalctl command line client.
type ClientConfig struct {
	APIBaseURL       string
	RequestTimeout   time.Duration
	MonitorInterval  time.Duration
	WarningThreshold time.Duration
	GraceWindow      time.Duration
	LogLevel         string
	LogFormat        string
}

// Load parses server configuration values from the current process environment.
//
// Optional fields fall back to defaults; every missing or malformed variable is
// reported in a single error so operators can fix them in one pass.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:            8080,
		SQLiteDSN:           "portal.db",
		JWTIssuer:           "neighborhood-portal",
		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     14 * 24 * time.Hour,
		VerificationCodeTTL: 15 * time.Minute,
		RoleCacheTTL:        time.Minute,
		LoginRatePerMinute:  10,
		LoginBurst:          5,
		LogLevel:            "info",
		LogFormat:           "json",
	}

	env := newEnvReader()

	env.positiveInt("PORTAL_HTTP_PORT", &cfg.HTTPPort)
	env.str("PORTAL_SQLITE_DSN", &cfg.SQLiteDSN)
	env.required("PORTAL_JWT_SECRET", &cfg.JWTSecret)
	env.str("PORTAL_JWT_ISSUER", &cfg.JWTIssuer)
	env.duration("PORTAL_ACCESS_TOKEN_TTL", &cfg.AccessTokenTTL)
	env.duration("PORTAL_REFRESH_TOKEN_TTL", &cfg.RefreshTokenTTL)
	env.duration("PORTAL_VERIFICATION_CODE_TTL", &cfg.VerificationCodeTTL)
	env.duration("PORTAL_ROLE_CACHE_TTL", &cfg.RoleCacheTTL)
	env.positiveInt("PORTAL_LOGIN_RATE_PER_MINUTE", &cfg.LoginRatePerMinute)
	env.positiveInt("PORTAL_LOGIN_BURST", &cfg.LoginBurst)
	env.str("PORTAL_BOOTSTRAP_ADMIN_EMAIL", &cfg.BootstrapAdminEmail)
	env.cidrs("PORTAL_TRUSTED_PROXIES", &cfg.TrustedProxies)
	env.str("PORTAL_LOG_LEVEL", &cfg.LogLevel)
	env.str("PORTAL_LOG_FORMAT", &cfg.LogFormat)

	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		env.invalid = append(env.invalid, "PORTAL_JWT_SECRET")
	}

	if err := env.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadClient parses client configuration values from the current process environment.
func LoadClient() (ClientConfig, error) {
	cfg := ClientConfig{
		APIBaseURL:       "http://localhost:8080",
		RequestTimeout:   10 * time.Second,
		MonitorInterval:  30 * time.Second,
		WarningThreshold: 5 * time.Minute,
		GraceWindow:      30 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}

	env := newEnvReader()

	env.str("PORTAL_API_URL", &cfg.APIBaseURL)
	env.duration("PORTAL_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	env.duration("PORTAL_MONITOR_INTERVAL", &cfg.MonitorInterval)
	env.duration("PORTAL_SESSION_WARNING_THRESHOLD", &cfg.WarningThreshold)
	env.duration("PORTAL_SESSION_GRACE_WINDOW", &cfg.GraceWindow)
	env.str("PORTAL_LOG_LEVEL", &cfg.LogLevel)
	env.str("PORTAL_LOG_FORMAT", &cfg.LogFormat)

	if !strings.HasPrefix(cfg.APIBaseURL, "http://") && !strings.HasPrefix(cfg.APIBaseURL, "https://") {
		env.invalid = append(env.invalid, "PORTAL_API_URL")
	}

	if err := env.err(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

type envReader struct {
	missing []string
	invalid []string
}

func newEnvReader() *envReader {
	return &envReader{missing: make([]string, 0, 1), invalid: make([]string, 0, 2)}
}

func (e *envReader) str(key string, dst *string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func (e *envReader) required(key string, dst *string) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		e.missing = append(e.missing, key)
		return
	}
	*dst = value
}

func (e *envReader) positiveInt(key string, dst *int) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		e.invalid = append(e.invalid, key)
		return
	}
	*dst = parsed
}

func (e *envReader) duration(key string, dst *time.Duration) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		e.invalid = append(e.invalid, key)
		return
	}
	*dst = parsed
}

// cidrs parses a comma separated list of networks. A bare address is taken
// as a single-host network.
func (e *envReader) cidrs(key string, dst *[]*net.IPNet) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	var parsed []*net.IPNet
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			ip := net.ParseIP(item)
			if ip == nil {
				e.invalid = append(e.invalid, key)
				return
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			parsed = append(parsed, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(item)
		if err != nil {
			e.invalid = append(e.invalid, key)
			return
		}
		parsed = append(parsed, network)
	}
	*dst = parsed
}

func (e *envReader) err() error {
	if len(e.missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %s", strings.Join(e.missing, ", "))
	}
	if len(e.invalid) > 0 {
		return fmt.Errorf("environment variables have invalid values: %s", strings.Join(e.invalid, ", "))
	}
	return nil
}
