package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/appcatalog/internal/schedule"
	"github.com/starford/appcatalog/internal/syncer"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Source kinds.
const (
	SourceKindHTTP = "http"
	SourceKindDir  = "dir"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
	Sync   SyncConfig        `yaml:"sync"`
	Cache  CacheConfig       `yaml:"cache"`
	// References are upserted into the catalog on startup.
	References ReferencesConfig `yaml:"references"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.References.Validate(); err != nil {
		return fmt.Errorf("references: %w", err)
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

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
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

// SyncConfig controls catalog synchronization.
type SyncConfig struct {
	Source SourceConfig `yaml:"source"`
	// Timeout bounds a whole run.
	Timeout time.Duration `yaml:"timeout"`
	// RecordTimeout bounds the write of one record.
	RecordTimeout time.Duration `yaml:"record_timeout"`
	// Concurrency bounds concurrent record writes.
	Concurrency int `yaml:"concurrency"`
	// Schedule is a five-field cron expression; empty disables scheduled runs.
	Schedule  string      `yaml:"schedule"`
	OnStartup bool        `yaml:"on_startup"`
	Owner     OwnerConfig `yaml:"owner"`
	// Watch triggers a run when a manifest directory changes.
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RecordTimeout, validation.Min(100*time.Millisecond)),
		validation.Field(&c.Concurrency, validation.Min(1), validation.Max(256)),
		validation.Field(&c.Schedule, validation.By(func(any) error {
			if c.Schedule == "" {
				return nil
			}
			return schedule.Validate(c.Schedule)
		})),
	); err != nil {
		return err
	}
	if c.Watch && c.Source.Kind != SourceKindDir {
		return fmt.Errorf("watch requires source kind %q", SourceKindDir)
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Owner.Validate(); err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	return nil
}

// SourceConfig selects and configures the catalog source.
type SourceConfig struct {
	Kind string `yaml:"kind"`
	// Lenient drops invalid records instead of failing the run.
	Lenient bool `yaml:"lenient"`

	// HTTP feed.
	URL               string            `yaml:"url"`
	RecordsPath       string            `yaml:"records_path"`
	NextPath          string            `yaml:"next_path"`
	MaxPages          int               `yaml:"max_pages"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	Headers           map[string]string `yaml:"headers"`
	RequestTimeout    time.Duration     `yaml:"request_timeout"`

	// Manifest directory.
	Dir string `yaml:"dir"`
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(SourceKindHTTP, SourceKindDir)),
		validation.Field(&c.URL, validation.When(c.Kind == SourceKindHTTP, validation.Required, is.URL)),
		validation.Field(&c.Dir, validation.When(c.Kind == SourceKindDir, validation.Required)),
		validation.Field(&c.MaxPages, validation.Min(0)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
	)
}

// OwnerConfig selects the developer assigned to newly added apps.
type OwnerConfig struct {
	Policy      string `yaml:"policy"`
	DeveloperID string `yaml:"developer_id"`
}

// Validate validates the owner configuration.
func (c *OwnerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Policy, validation.Required, validation.In(
			string(syncer.OwnerFirstVerified),
			string(syncer.OwnerFixed),
			string(syncer.OwnerVendor),
			string(syncer.OwnerUnassigned),
		)),
		validation.Field(&c.DeveloperID, validation.When(c.Policy == string(syncer.OwnerFixed), validation.Required)),
	)
}

// CacheConfig configures the reference lookup cache.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(CacheBackendMemory, CacheBackendRedis)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
	); err != nil {
		return err
	}
	if c.Backend == CacheBackendRedis {
		return validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.Addr, validation.Required),
			validation.Field(&c.Redis.DB, validation.Min(0)),
		)
	}
	return nil
}

// ReferencesConfig seeds categories and developers.
type ReferencesConfig struct {
	Categories []CategoryRef  `yaml:"categories"`
	Developers []DeveloperRef `yaml:"developers"`
}

// CategoryRef is a configured category.
type CategoryRef struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	ParentID string `yaml:"parent_id"`
}

// DeveloperRef is a configured developer.
type DeveloperRef struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Verified bool   `yaml:"verified"`
}

// Validate validates the reference seed.
func (c *ReferencesConfig) Validate() error {
	for i := range c.Categories {
		ref := &c.Categories[i]
		if err := validation.ValidateStruct(ref,
			validation.Field(&ref.ID, validation.Required),
			validation.Field(&ref.Name, validation.Required),
		); err != nil {
			return fmt.Errorf("category %d: %w", i, err)
		}
	}
	for i := range c.Developers {
		ref := &c.Developers[i]
		if err := validation.ValidateStruct(ref,
			validation.Field(&ref.ID, validation.Required),
			validation.Field(&ref.Name, validation.Required),
		); err != nil {
			return fmt.Errorf("developer %d: %w", i, err)
		}
	}
	return nil
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
		SQLite: SQLiteConfig{
			Path: "./appcatalog.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Sync: SyncConfig{
			Source: SourceConfig{
				Kind:        SourceKindDir,
				Dir:         "./manifests",
				RecordsPath: "apps",
				MaxPages:    100,
			},
			Timeout:       syncer.DefaultTimeout,
			RecordTimeout: syncer.DefaultRecordTimeout,
			Concurrency:   syncer.DefaultConcurrency,
			Schedule:      "0 3 * * *",
			Owner: OwnerConfig{
				Policy: string(syncer.OwnerFirstVerified),
			},
			Debounce: 2 * time.Second,
		},
		Cache: CacheConfig{
			Backend: CacheBackendMemory,
			TTL:     5 * time.Minute,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "appcatalog:",
			},
		},
	}
}
