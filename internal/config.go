package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/docbroker/docbroker/internal/auth"
)

// Registry backends.
const (
	RegistryBackendMemory = "memory"
	RegistryBackendSQLite = "sqlite"
)

// Storage backends.
const (
	StorageBackendFS  = "fs"
	StorageBackendS3  = "s3"
	StorageBackendGCS = "gcs"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Auth     AuthConfig        `yaml:"auth"`
	Registry RegistryConfig    `yaml:"registry"`
	Uploads  UploadsConfig     `yaml:"uploads"`
	Storage  StorageConfig     `yaml:"storage"`
	CORS     CORSConfig        `yaml:"cors"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := c.Uploads.Validate(); err != nil {
		return fmt.Errorf("uploads: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
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
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ReadHeaderTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.ShutdownTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// AuthConfig holds credential authority settings.
//
// EditorSecret is the secret shared with the document engine. When empty
// the access secret is used for both token kinds; audiences still keep
// them apart.
type AuthConfig struct {
	AccessSecret string        `yaml:"access_secret"`
	AccessTTL    time.Duration `yaml:"access_ttl"`
	EditorSecret string        `yaml:"editor_secret"`
	EditorTTL    time.Duration `yaml:"editor_ttl"`
	Users        []auth.User   `yaml:"users"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.AccessSecret, validation.Required.Error("is required (set JWT_SECRET)")),
		validation.Field(&c.AccessTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.EditorTTL, validation.Required, validation.Min(time.Second), validation.Max(time.Hour)),
		validation.Field(&c.Users, validation.Required),
	); err != nil {
		return err
	}
	if c.EditorTTL >= c.AccessTTL {
		return errors.New("editor_ttl must be shorter than access_ttl")
	}
	return nil
}

// EditorKey returns the secret used for editor session tokens.
func (c *AuthConfig) EditorKey() string {
	if c.EditorSecret != "" {
		return c.EditorSecret
	}
	return c.AccessSecret
}

// RegistryConfig holds document identity registry settings.
type RegistryConfig struct {
	KeySecret     string        `yaml:"key_secret"`
	Backend       string        `yaml:"backend"`
	SQLitePath    string        `yaml:"sqlite_path"`
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Validate validates the registry configuration.
func (c *RegistryConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = RegistryBackendMemory
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.KeySecret, validation.Required.Error("is required (set DOC_KEY_SECRET)")),
		validation.Field(&c.Backend, validation.Required, validation.In(RegistryBackendMemory, RegistryBackendSQLite)),
		validation.Field(&c.SQLitePath, validation.When(c.Backend == RegistryBackendSQLite, validation.Required)),
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxEntries, validation.Min(0)),
		validation.Field(&c.SweepInterval, validation.When(c.TTL > 0 || c.MaxEntries > 0,
			validation.Required, validation.Min(time.Second))),
	)
}

// UploadsConfig holds upload admission settings.
type UploadsConfig struct {
	Dir               string   `yaml:"dir"`
	MaxBytes          int64    `yaml:"max_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	DefaultExtension  string   `yaml:"default_extension"`
	PublicBaseURL     string   `yaml:"public_base_url"`
	Watch             bool     `yaml:"watch"`
}

// Validate validates the uploads configuration.
func (c *UploadsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.MaxBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.AllowedExtensions, validation.Required),
		validation.Field(&c.DefaultExtension, validation.Required),
	)
}

// StorageConfig selects where uploaded content lives.
type StorageConfig struct {
	Backend string          `yaml:"backend"`
	S3      S3StorageConfig `yaml:"s3"`
	GCS     GCSStorageConfig `yaml:"gcs"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = StorageBackendFS
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(StorageBackendFS, StorageBackendS3, StorageBackendGCS)),
	); err != nil {
		return err
	}
	switch c.Backend {
	case StorageBackendS3:
		return c.S3.Validate()
	case StorageBackendGCS:
		return c.GCS.Validate()
	}
	return nil
}

// S3StorageConfig holds S3-compatible object storage settings.
type S3StorageConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
}

// Validate validates the S3 configuration.
func (c *S3StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.Region, validation.Required),
		validation.Field(&c.SecretKey, validation.When(c.AccessKey != "", validation.Required)),
	)
}

// GCSStorageConfig holds Google Cloud Storage settings.
type GCSStorageConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

// Validate validates the GCS configuration.
func (c *GCSStorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Bucket, validation.Required),
	)
}

// CORSConfig holds cross-origin settings for the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// NewDefaultConfig returns a new Config with sensible default values.
// Secrets and the public base URL are taken from the environment so the
// service can run without a config file.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:              5174,
				ReadHeaderTimeout: 10 * time.Second,
				ShutdownTimeout:   10 * time.Second,
			},
		},
		Auth: AuthConfig{
			AccessSecret: os.Getenv("JWT_SECRET"),
			AccessTTL:    24 * time.Hour,
			EditorTTL:    5 * time.Minute,
			Users: []auth.User{
				{ID: 1, Username: "admin", Name: "Administrator", Email: "admin@example.com", Password: "admin123"},
				{ID: 2, Username: "editor", Name: "Document Editor", Email: "editor@example.com", Password: "editor123"},
				{ID: 3, Username: "viewer", Name: "Document Viewer", Email: "viewer@example.com", Password: "viewer123"},
			},
		},
		Registry: RegistryConfig{
			KeySecret:     os.Getenv("DOC_KEY_SECRET"),
			Backend:       RegistryBackendMemory,
			SQLitePath:    ":memory:",
			TTL:           72 * time.Hour,
			MaxEntries:    10000,
			SweepInterval: 10 * time.Minute,
		},
		Uploads: UploadsConfig{
			Dir:               "./uploads",
			MaxBytes:          125 * 1024 * 1024,
			AllowedExtensions: []string{".doc", ".docx"},
			DefaultExtension:  ".docx",
			PublicBaseURL:     os.Getenv("PUBLIC_BASE_URL"),
		},
		Storage: StorageConfig{
			Backend: StorageBackendFS,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}
