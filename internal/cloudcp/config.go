package cloudcp

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rcourtman/clubcloud/internal/cloudcp/events"
	"github.com/rcourtman/clubcloud/internal/cloudcp/onboarding"
	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

const (
	DirectoryBackendSQLite = "sqlite"
	DirectoryBackendRedis  = "redis"
)

// CPConfig holds all configuration for the control plane.
type CPConfig struct {
	DataDir             string
	BindAddress         string
	Port                int
	AdminKey            string
	BaseURL             string
	TenantDomain        string // clubs are served at <subdomain>.<TenantDomain>
	PublicStatus        bool
	StripeWebhookSecret string
	StripeAPIKey        string
	ResendAPIKey        string // Resend API key (optional, if empty emails are logged)
	EmailFrom           string

	DBDriver    registry.Dialect
	DatabaseURL string

	DirectoryBackend string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	KafkaBrokers []string
	KafkaTopic   string

	SignupMode     onboarding.Mode
	SessionTTL     time.Duration
	BillingTimeout time.Duration

	OrphanSweepInterval time.Duration
	OrphanSweepGrace    time.Duration
	OrphanSweepDelete   bool
	PendingPollInterval time.Duration
	RouteCheckInterval  time.Duration
	RouteRepair         bool
}

// ControlPlaneDir returns the directory for control plane's own data (registry DB, etc).
func (c *CPConfig) ControlPlaneDir() string {
	return filepath.Join(c.DataDir, "control-plane")
}

// IdentityDir returns the directory holding the credential store.
func (c *CPConfig) IdentityDir() string {
	return filepath.Join(c.DataDir, "identity")
}

// DirectoryDir returns the directory holding the SQLite tenant directory.
func (c *CPConfig) DirectoryDir() string {
	return filepath.Join(c.DataDir, "directory")
}

// ResumeLinkDir returns the directory holding signup resume link tokens.
func (c *CPConfig) ResumeLinkDir() string {
	return filepath.Join(c.DataDir, "resume-links")
}

// OnboardingConfig derives the signup flow settings.
func (c *CPConfig) OnboardingConfig() (onboarding.Config, error) {
	oc, err := onboarding.ConfigForMode(c.SignupMode, c.BaseURL)
	if err != nil {
		return onboarding.Config{}, err
	}
	oc.SessionTTL = c.SessionTTL
	oc.BillingTimeout = c.BillingTimeout
	return oc, nil
}

// LoadConfig loads control plane configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*CPConfig, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("CC_PORT", 8443)
	if err != nil {
		return nil, err
	}
	redisDB, err := envOrDefaultInt("CC_REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := envOrDefaultDuration("CC_SIGNUP_SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	billingTimeout, err := envOrDefaultDuration("CC_BILLING_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := envOrDefaultDuration("CC_ORPHAN_SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	sweepGrace, err := envOrDefaultDuration("CC_ORPHAN_SWEEP_GRACE", time.Hour)
	if err != nil {
		return nil, err
	}
	sweepDelete, err := envOrDefaultBool("CC_ORPHAN_SWEEP_DELETE", false)
	if err != nil {
		return nil, err
	}
	pollInterval, err := envOrDefaultDuration("CC_PENDING_POLL_INTERVAL", 2*time.Minute)
	if err != nil {
		return nil, err
	}
	routeInterval, err := envOrDefaultDuration("CC_ROUTE_CHECK_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	routeRepair, err := envOrDefaultBool("CC_ROUTE_REPAIR", true)
	if err != nil {
		return nil, err
	}
	publicStatus, err := envOrDefaultBool("CC_PUBLIC_STATUS", false)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimSpace(os.Getenv("CC_BASE_URL"))
	cfg := &CPConfig{
		DataDir:             envOrDefault("CC_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("CC_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("CC_ADMIN_KEY")),
		BaseURL:             baseURL,
		TenantDomain:        envOrDefault("CC_TENANT_DOMAIN", baseDomainFromURL(baseURL)),
		PublicStatus:        publicStatus,
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		ResendAPIKey:        strings.TrimSpace(os.Getenv("RESEND_API_KEY")),
		EmailFrom:           envOrDefault("CC_EMAIL_FROM", "noreply@clubcloud.app"),

		DBDriver:    registry.Dialect(strings.ToLower(envOrDefault("CC_DB_DRIVER", string(registry.DialectSQLite)))),
		DatabaseURL: strings.TrimSpace(os.Getenv("CC_DATABASE_URL")),

		DirectoryBackend: strings.ToLower(envOrDefault("CC_DIRECTORY_BACKEND", DirectoryBackendSQLite)),
		RedisAddr:        envOrDefault("CC_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:    os.Getenv("CC_REDIS_PASSWORD"),
		RedisDB:          redisDB,

		KafkaBrokers: events.ParseBrokers(os.Getenv("CC_KAFKA_BROKERS")),
		KafkaTopic:   envOrDefault("CC_KAFKA_TOPIC", "clubcloud.tenant-lifecycle"),

		SignupMode:     onboarding.Mode(strings.ToLower(envOrDefault("CC_SIGNUP_MODE", string(onboarding.ModeCurrent)))),
		SessionTTL:     sessionTTL,
		BillingTimeout: billingTimeout,

		OrphanSweepInterval: sweepInterval,
		OrphanSweepGrace:    sweepGrace,
		OrphanSweepDelete:   sweepDelete,
		PendingPollInterval: pollInterval,
		RouteCheckInterval:  routeInterval,
		RouteRepair:         routeRepair,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate control plane config: %w", err)
	}
	return cfg, nil
}

func (c *CPConfig) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "CC_ADMIN_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "CC_BASE_URL")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.DBDriver == registry.DialectPostgres && c.DatabaseURL == "" {
		missing = append(missing, "CC_DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("CC_PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.DBDriver {
	case registry.DialectSQLite, registry.DialectPostgres:
	default:
		return fmt.Errorf("CC_DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	switch c.DirectoryBackend {
	case DirectoryBackendSQLite, DirectoryBackendRedis:
	default:
		return fmt.Errorf("CC_DIRECTORY_BACKEND must be sqlite or redis, got %q", c.DirectoryBackend)
	}
	switch c.SignupMode {
	case onboarding.ModeCurrent, onboarding.ModeEarly:
	default:
		return fmt.Errorf("CC_SIGNUP_MODE must be current or early, got %q", c.SignupMode)
	}
	for name, d := range map[string]time.Duration{
		"CC_SIGNUP_SESSION_TTL":    c.SessionTTL,
		"CC_BILLING_TIMEOUT":       c.BillingTimeout,
		"CC_ORPHAN_SWEEP_INTERVAL": c.OrphanSweepInterval,
		"CC_PENDING_POLL_INTERVAL": c.PendingPollInterval,
		"CC_ROUTE_CHECK_INTERVAL":  c.RouteCheckInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0, got %s", name, d)
		}
	}
	if c.OrphanSweepGrace < 0 {
		return fmt.Errorf("CC_ORPHAN_SWEEP_GRACE must not be negative, got %s", c.OrphanSweepGrace)
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("CC_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("CC_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("CC_BASE_URL must include a host")
	}
	return nil
}

// baseDomainFromURL extracts the host of a URL like "https://clubcloud.app:8443/x".
// A missing scheme is tolerated.
func baseDomainFromURL(baseURL string) string {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a duration like 30s or 24h: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
