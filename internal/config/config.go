package config

import (
	"fmt"
	"path/filepath"
	"time"
)

type Config struct {
	Server   ServerConfig
	API      APIConfig
	Storage  StorageConfig
	Security SecurityConfig
	Log      LogConfig
	Upstream UpstreamConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	FastAPIPort      int
	MaxContentLength int
}

type APIConfig struct {
	DefaultModel    string
	DefaultProvider string
	DefaultKeyword  string
}

type StorageConfig struct {
	DataDir       string
	ProvidersFile string
}

type SecurityConfig struct {
	PasswordMinLength int
}

type LogConfig struct {
	Level       string
	Development bool
}

type UpstreamConfig struct {
	Timeout    string
	MaxRetries int
	RetryWait  string
	RateLimit  float64 // requests per second; 0 disables limiting
}

// AllowedCookieExtensions lists the extensions accepted for the cookie file upload.
var AllowedCookieExtensions = []string{"json"}

// GenericModels are offered for the Auto provider.
var GenericModels = []string{"gpt-4", "gpt-4o", "gpt-4o-mini"}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             5500,
			FastAPIPort:      1336,
			MaxContentLength: 16 << 20,
		},
		API: APIConfig{
			DefaultModel:    "gpt-4",
			DefaultProvider: "Auto",
			DefaultKeyword:  "text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Security: SecurityConfig{
			PasswordMinLength: 8,
		},
		Log: LogConfig{
			Level: "info",
		},
		Upstream: UpstreamConfig{
			Timeout:    "60s",
			MaxRetries: 3,
			RetryWait:  "2s",
		},
	}
}

// Defaults returns the compiled defaults without consulting any backend.
func Defaults() Config {
	return defaults()
}

// DatabasePath is the SQLite file holding settings and users.
func (c StorageConfig) DatabasePath() string { return filepath.Join(c.DataDir, "settings.db") }

// ProxiesPath is the flat JSON proxy list.
func (c StorageConfig) ProxiesPath() string { return filepath.Join(c.DataDir, "proxies.json") }

// CookiesPath is the default cookie file location.
func (c StorageConfig) CookiesPath() string { return filepath.Join(c.DataDir, "cookies.json") }

// UploadDir is where uploaded cookie files are written.
func (c StorageConfig) UploadDir() string { return filepath.Join(c.DataDir, "uploads") }

// TimeoutDuration parses Timeout, falling back to 60s.
func (c UpstreamConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 60*time.Second)
}

// RetryWaitDuration parses RetryWait, falling back to 2s.
func (c UpstreamConfig) RetryWaitDuration() time.Duration {
	return parseDurationOr(c.RetryWait, 2*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads configuration from the JSON config file backend, a .env file in
// the working directory, and environment variables.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/freegpt/config.json.
// Environment variables (FREEGPT_*) override backend values, and values from
// .env only fill variables that are not already set.
func Load() (Config, error) {
	loadDotEnv(".env")
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.FastAPIPort < 1 || cfg.Server.FastAPIPort > 65535 {
		return fmt.Errorf("invalid config: server.fast_api_port %d out of range", cfg.Server.FastAPIPort)
	}
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("invalid config: storage.data_dir is empty")
	}
	if cfg.Security.PasswordMinLength < 1 {
		return fmt.Errorf("invalid config: security.password_min_length must be positive")
	}
	return nil
}
