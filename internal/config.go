package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/examvault/internal/audit"
	"github.com/starford/examvault/internal/ledger"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Blobs   BlobsConfig       `yaml:"blobs"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Ledger  LedgerConfig      `yaml:"ledger"`
	Gate    GateConfig        `yaml:"gate"`
	Release ReleaseConfig     `yaml:"release"`
	Auth    AuthConfig        `yaml:"auth"`
	Audit   AuditConfig       `yaml:"audit"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Blobs, &c.SQLite, &c.Ledger, &c.Release, &c.Auth, &c.Audit,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// BlobsConfig holds the directory where raw uploads wait for encryption.
type BlobsConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the blob configuration.
func (c *BlobsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// LedgerConfig holds proof-of-work and append settings.
type LedgerConfig struct {
	Difficulty    int           `yaml:"difficulty"`
	MineTimeout   time.Duration `yaml:"mine_timeout"`
	AppendRetries int           `yaml:"append_retries"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Difficulty, validation.Required, validation.Min(1), validation.Max(8)),
		validation.Field(&c.MineTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.AppendRetries, validation.Min(0), validation.Max(100)),
	)
}

// GateConfig holds the hex-encoded 32-byte master key.
//
// The key is deliberately not validated here: a missing or malformed key
// is reported by the first encrypt or decrypt, and by /health/ready.
type GateConfig struct {
	Key string `yaml:"key"`
}

// ReleaseConfig holds the time zone in which release days are evaluated.
type ReleaseConfig struct {
	Timezone string `yaml:"timezone"`
}

// Validate validates the release configuration.
func (c *ReleaseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timezone, validation.Required, validation.By(func(any) error {
			_, err := time.LoadLocation(c.Timezone)
			return err
		})),
	)
}

// Location returns the configured time zone.
func (c *ReleaseConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//
// Ledger rebuild always requires Token, whatever the mode.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// AuditConfig controls the store watcher.
type AuditConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the audit configuration.
func (c *AuditConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Blobs: BlobsConfig{
			Path: "./data/blobs",
		},
		SQLite: SQLiteConfig{
			Path: "./data/examvault.db",
		},
		Ledger: LedgerConfig{
			Difficulty:    ledger.DefaultDifficulty,
			MineTimeout:   ledger.DefaultMineTimeout,
			AppendRetries: ledger.DefaultAppendRetries,
		},
		Release: ReleaseConfig{
			Timezone: "UTC",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Audit: AuditConfig{
			Enabled:  true,
			Debounce: audit.DefaultDebounce,
		},
	}
}
