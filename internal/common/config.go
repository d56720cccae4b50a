package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that decodes from TOML strings like "90s" or
// "5m" via time.ParseDuration.
type Duration time.Duration

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig  `toml:"logging"`
	Storage     StorageConfig  `toml:"storage"`
	Browser     BrowserConfig  `toml:"browser"`
	Auth        AuthConfig     `toml:"auth"`
	Validity    ValidityConfig `toml:"validity"`
	Batch       BatchConfig    `toml:"batch"`
	Secrets     SecretsConfig  `toml:"secrets"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// BrowserConfig controls the headless browser workers
type BrowserConfig struct {
	PoolSize       int      `toml:"pool_size" validate:"min=0,max=10"` // 0 = derive from CPU count, clamped to [4,10]
	UserAgent      string   `toml:"user_agent"`
	Headless       bool     `toml:"headless"`
	DisableGPU     bool     `toml:"disable_gpu"`
	NoSandbox      bool     `toml:"no_sandbox"`
	NavTimeout     Duration `toml:"nav_timeout"`    // Per-navigation timeout
	SettleWait     Duration `toml:"settle_wait"`    // Wait after form submission before inspecting the page
	SubmitTimeout  Duration `toml:"submit_timeout"` // Ceiling for a queued task to be dispatched and finish
	StartupTimeout Duration `toml:"startup_timeout"`
}

// AuthConfig describes the interactive login flow against the target site
type AuthConfig struct {
	LoginURL          string   `toml:"login_url" validate:"required,url"`
	IdentitySelector  string   `toml:"identity_selector"`  // Input for the username/email field
	SecretSelector    string   `toml:"secret_selector"`    // Input for the password field
	SubmitSelector    string   `toml:"submit_selector"`    // Login form submit button
	ChallengeSelector string   `toml:"challenge_selector"` // Input for the verification code field
	ChallengeSubmit   string   `toml:"challenge_submit"`   // Challenge form submit button
	SessionTTL        Duration `toml:"session_ttl"`        // Lifetime of a pending challenge session
	SweepInterval     Duration `toml:"sweep_interval"`     // Expired-session sweep cadence, must be <= session_ttl
	ChallengeURLs     []string `toml:"challenge_urls"`     // Extra URL fragments that mark a challenge page
	ChallengeMarkers  []string `toml:"challenge_markers"`  // Extra page-text markers that mark a challenge page
}

// ProbeConfig is one live validity probe against the target site
type ProbeConfig struct {
	Path           string `toml:"path" validate:"required"`
	ExpectStatuses []int  `toml:"expect_statuses"` // Empty = any 2xx; 403 may be listed where it still proves auth
	Required       bool   `toml:"required"`        // A required probe failing invalidates the artifact
}

// ValidityConfig controls the credential validity subsystem
type ValidityConfig struct {
	FreshnessWindow Duration      `toml:"freshness_window"` // Assume valid without probing inside this window
	ProbeTimeout    Duration      `toml:"probe_timeout"`
	Probes          []ProbeConfig `toml:"probes"`
	LoginSurfaces   []string      `toml:"login_surfaces"` // URL fragments that identify a login redirect
	Schedule        string        `toml:"schedule"`       // Cron schedule for the background revalidation sweep, empty = disabled
}

// BatchConfig controls the batch orchestrator and rate-limited invoker
type BatchConfig struct {
	Concurrency    int      `toml:"concurrency" validate:"min=1"`   // Items processed per group
	MaxInFlight    int      `toml:"max_in_flight" validate:"min=1"` // Rate limiter capacity gate
	MinInterval    Duration `toml:"min_interval"`                   // Minimum spacing between dispatched calls
	MaxRetries     int      `toml:"max_retries" validate:"min=0"`   // Retry attempts beyond the first call
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// SecretsConfig holds the artifact encryption key
type SecretsConfig struct {
	// Key is the hex-encoded 32-byte AES-256 key used to seal artifacts at
	// rest. Usually supplied via COLLIGO_SECRETS_KEY rather than the file.
	Key string `toml:"key"`
}

// NewDefaultConfig returns the default configuration
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/colligo",
				ResetOnStartup: false,
			},
		},
		Browser: BrowserConfig{
			PoolSize:       0, // derived from CPU count
			UserAgent:      "Colligo/1.0",
			Headless:       true,
			DisableGPU:     true,
			NoSandbox:      false,
			NavTimeout:     Duration(60 * time.Second),
			SettleWait:     Duration(3 * time.Second),
			SubmitTimeout:  Duration(5 * time.Minute),
			StartupTimeout: Duration(30 * time.Second),
		},
		Auth: AuthConfig{
			IdentitySelector:  `input[name="username"]`,
			SecretSelector:    `input[name="password"]`,
			SubmitSelector:    `button[type="submit"]`,
			ChallengeSelector: `input[name="code"]`,
			ChallengeSubmit:   `button[type="submit"]`,
			SessionTTL:        Duration(5 * time.Minute),
			SweepInterval:     Duration(time.Minute),
		},
		Validity: ValidityConfig{
			FreshnessWindow: Duration(5 * time.Minute),
			ProbeTimeout:    Duration(15 * time.Second),
			LoginSurfaces:   []string{"/login", "/signin", "/auth"},
		},
		Batch: BatchConfig{
			Concurrency:    5,
			MaxInFlight:    3,
			MinInterval:    Duration(500 * time.Millisecond),
			MaxRetries:     3,
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if badgerPath := os.Getenv("COLLIGO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if loginURL := os.Getenv("COLLIGO_LOGIN_URL"); loginURL != "" {
		config.Auth.LoginURL = loginURL
	}

	if poolSize := os.Getenv("COLLIGO_BROWSER_POOL_SIZE"); poolSize != "" {
		if n, err := strconv.Atoi(poolSize); err == nil {
			config.Browser.PoolSize = n
		}
	}

	if ttl := os.Getenv("COLLIGO_SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Auth.SessionTTL = Duration(d)
		}
	}

	if key := os.Getenv("COLLIGO_SECRETS_KEY"); key != "" {
		config.Secrets.Key = key
	}
}

// Validate checks structural constraints plus the cross-field invariants the
// tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Auth.SweepInterval > c.Auth.SessionTTL {
		return fmt.Errorf("auth.sweep_interval (%s) must not exceed auth.session_ttl (%s)",
			c.Auth.SweepInterval, c.Auth.SessionTTL)
	}
	if c.Batch.InitialBackoff > c.Batch.MaxBackoff {
		return fmt.Errorf("batch.initial_backoff (%s) must not exceed batch.max_backoff (%s)",
			c.Batch.InitialBackoff, c.Batch.MaxBackoff)
	}

	return nil
}
