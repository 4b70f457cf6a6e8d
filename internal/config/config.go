// Package config provides centralized configuration management for the
// visual streaming core. Configuration is loaded from environment variables
// with sensible defaults. Required configuration that is missing will cause
// the application to fail fast with helpful error messages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BrowserRunner selects how Session Manager obtains a BrowserSession.
type BrowserRunner string

const (
	BrowserRunnerLocal      BrowserRunner = "local"
	BrowserRunnerKubernetes BrowserRunner = "kubernetes"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Port        int
	DatabaseURL string
	Environment string

	// Browser runner configuration
	BrowserRunner   BrowserRunner
	K8sNamespace    string
	K8sKubeconfig   string
	BrowserPodImage string

	// Event Streamer configuration (spec.md §6)
	EventBufferSize      int
	ClientWriteQueue     int
	ClientReadyMaxWait   time.Duration
	ControlRatePerSec    float64
	ControlMaxDuration   time.Duration
	CookieVerifyTTLHours int
	AutoSaveSessionState bool
	FeatureUseCookies    bool

	// Crypto envelope configuration (C1)
	CookieKID             string
	CookiePublicKeyPath   string
	CookiePrivateKeyPath  string

	// Storage-state priority loader fallbacks (C2)
	StorageStateFileDir    string
	StorageStateSharedFile string
	StorageStateEnvBlob    string
	StorageStateS3Bucket   string
	StorageStateS3Region   string
	StorageStateS3Prefix   string

	// Session lifecycle
	SessionTimeout  time.Duration
	CleanupInterval time.Duration

	// Bearer-token verification for the HTTP façade (thin collaborator, see
	// internal/httpapi.Authenticator)
	JWTPublicKeyPath string
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Default values, mirroring the table in spec.md §6.
const (
	DefaultPort                 = 8080
	DefaultDatabaseURL           = "sqlite://visualstream.db"
	DefaultEnvironment           = "development"
	DefaultBrowserRunner         = BrowserRunnerLocal
	DefaultEventBufferSize       = 1000
	DefaultClientWriteQueue      = 256
	DefaultClientReadyMaxWait    = 30 * time.Second
	DefaultControlRatePerSec     = 100
	DefaultControlMaxDuration    = 300 * time.Second
	DefaultCookieVerifyTTLHours  = 24
	DefaultAutoSaveSessionState  = true
	DefaultFeatureUseCookies     = false
	DefaultSessionTimeout        = 2 * time.Hour
	DefaultCleanupInterval       = 5 * time.Minute
)

// Load reads configuration from environment variables and returns a Config.
// It applies defaults for optional values and validates the configuration.
// Returns an error if validation fails.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 DefaultPort,
		DatabaseURL:          DefaultDatabaseURL,
		Environment:          DefaultEnvironment,
		BrowserRunner:        DefaultBrowserRunner,
		EventBufferSize:      DefaultEventBufferSize,
		ClientWriteQueue:     DefaultClientWriteQueue,
		ClientReadyMaxWait:   DefaultClientReadyMaxWait,
		ControlRatePerSec:    DefaultControlRatePerSec,
		ControlMaxDuration:   DefaultControlMaxDuration,
		CookieVerifyTTLHours: DefaultCookieVerifyTTLHours,
		AutoSaveSessionState: DefaultAutoSaveSessionState,
		FeatureUseCookies:    DefaultFeatureUseCookies,
		SessionTimeout:       DefaultSessionTimeout,
		CleanupInterval:      DefaultCleanupInterval,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	var parseErrors ValidationErrors

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			parseErrors = append(parseErrors, ValidationError{Field: "PORT", Message: fmt.Sprintf("invalid port number: %q", v)})
		} else {
			c.Port = port
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}

	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}

	if v := os.Getenv("BROWSER_RUNNER"); v != "" {
		c.BrowserRunner = BrowserRunner(v)
	}
	c.K8sNamespace = os.Getenv("K8S_NAMESPACE")
	c.K8sKubeconfig = os.Getenv("K8S_KUBECONFIG")
	c.BrowserPodImage = os.Getenv("BROWSER_POD_IMAGE")

	if v := os.Getenv("EVENT_BUFFER_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{Field: "EVENT_BUFFER_SIZE", Message: fmt.Sprintf("must be a positive integer: %q", v)})
		} else {
			c.EventBufferSize = n
		}
	}

	if v := os.Getenv("CLIENT_WRITE_QUEUE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{Field: "CLIENT_WRITE_QUEUE", Message: fmt.Sprintf("must be a positive integer: %q", v)})
		} else {
			c.ClientWriteQueue = n
		}
	}

	if v := os.Getenv("CONTROL_RATE_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			parseErrors = append(parseErrors, ValidationError{Field: "CONTROL_RATE_PER_SEC", Message: fmt.Sprintf("must be a positive number: %q", v)})
		} else {
			c.ControlRatePerSec = f
		}
	}

	if v := os.Getenv("CONTROL_MAX_DURATION_S"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{Field: "CONTROL_MAX_DURATION_S", Message: fmt.Sprintf("must be a positive integer: %q", v)})
		} else {
			c.ControlMaxDuration = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("COOKIE_VERIFY_TTL_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{Field: "COOKIE_VERIFY_TTL_HOURS", Message: fmt.Sprintf("must be a positive integer: %q", v)})
		} else {
			c.CookieVerifyTTLHours = n
		}
	}

	if v := os.Getenv("AUTO_SAVE_SESSION_STATE"); v != "" {
		c.AutoSaveSessionState = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("FEATURE_USE_COOKIES"); v != "" {
		c.FeatureUseCookies = strings.EqualFold(v, "true") || v == "1"
	}

	c.CookieKID = os.Getenv("COOKIE_KID")
	c.CookiePublicKeyPath = os.Getenv("COOKIE_PUBLIC_KEY_PATH")
	c.CookiePrivateKeyPath = os.Getenv("COOKIE_PRIVATE_KEY_PATH")

	c.StorageStateFileDir = os.Getenv("STORAGE_STATE_FILE_DIR")
	c.StorageStateSharedFile = os.Getenv("STORAGE_STATE_SHARED_FILE")
	c.StorageStateEnvBlob = os.Getenv("STORAGE_STATE_ENV_BLOB")
	c.StorageStateS3Bucket = os.Getenv("STORAGE_STATE_S3_BUCKET")
	c.StorageStateS3Region = os.Getenv("STORAGE_STATE_S3_REGION")
	c.StorageStateS3Prefix = os.Getenv("STORAGE_STATE_S3_PREFIX")

	if v := os.Getenv("SESSION_TIMEOUT_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{Field: "SESSION_TIMEOUT_MINUTES", Message: fmt.Sprintf("must be a positive integer: %q", v)})
		} else {
			c.SessionTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("SESSION_CLEANUP_INTERVAL_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			parseErrors = append(parseErrors, ValidationError{Field: "SESSION_CLEANUP_INTERVAL_MINUTES", Message: fmt.Sprintf("must be a positive integer: %q", v)})
		} else {
			c.CleanupInterval = time.Duration(n) * time.Minute
		}
	}

	c.JWTPublicKeyPath = os.Getenv("JWT_PUBLIC_KEY_PATH")

	if len(parseErrors) > 0 {
		return parseErrors
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{Field: "PORT", Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port)})
	}

	if c.DatabaseURL == "" {
		errs = append(errs, ValidationError{Field: "DATABASE_URL", Message: "database URL cannot be empty"})
	}

	if c.BrowserRunner != BrowserRunnerLocal && c.BrowserRunner != BrowserRunnerKubernetes {
		errs = append(errs, ValidationError{Field: "BROWSER_RUNNER", Message: fmt.Sprintf("unknown browser runner: %q (must be %q or %q)", c.BrowserRunner, BrowserRunnerLocal, BrowserRunnerKubernetes)})
	}

	if c.BrowserRunner == BrowserRunnerKubernetes && c.BrowserPodImage == "" {
		errs = append(errs, ValidationError{Field: "BROWSER_POD_IMAGE", Message: "required when BROWSER_RUNNER=kubernetes"})
	}

	if c.FeatureUseCookies && (c.CookiePublicKeyPath == "" || c.CookiePrivateKeyPath == "" || c.CookieKID == "") {
		errs = append(errs, ValidationError{Field: "COOKIE_KID", Message: "COOKIE_KID, COOKIE_PUBLIC_KEY_PATH and COOKIE_PRIVATE_KEY_PATH are required when FEATURE_USE_COOKIES=true"})
	}

	return errs
}

// MustLoad loads configuration and panics if it fails.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load configuration\n\n%s\n", err)
		os.Exit(1)
	}
	return cfg
}

// LoadWithFlags loads configuration from environment variables, then applies
// command-line flag overrides for the flags the binary exposes.
func LoadWithFlags(port int, databaseURL string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if port != 0 && port != DefaultPort {
		cfg.Port = port
	}
	if databaseURL != "" && databaseURL != DefaultDatabaseURL {
		cfg.DatabaseURL = databaseURL
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}

	return cfg, nil
}
