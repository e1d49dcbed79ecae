package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration. Secrets never live here; the
// remote password is looked up in the credential store under the key id
// derived from the remote settings.
type Config struct {
	CacheDir       string       `mapstructure:"cache_dir"`
	CatalogDir     string       `mapstructure:"catalog_dir"` // optional watched directory of dataset YAML files
	Remote         RemoteConfig `mapstructure:"remote" validate:"required"`
	Sync           SyncConfig   `mapstructure:"sync"`
	IgnorePatterns []string     `mapstructure:"ignore_patterns"`
}

// RemoteConfig identifies the remote library and how to authenticate
// against it.
type RemoteConfig struct {
	Backend    string `mapstructure:"backend" validate:"required,oneof=webdav filesystem"`
	Endpoint   string `mapstructure:"endpoint" validate:"required_if=Backend webdav,omitempty,https_url"`
	Library    string `mapstructure:"library" validate:"required"`
	AuthMethod string `mapstructure:"auth_method" validate:"oneof=basic"`
	Username   string `mapstructure:"username"`
	Root       string `mapstructure:"root" validate:"required_if=Backend filesystem"` // filesystem backend only
}

// SyncConfig holds sync behavior settings.
type SyncConfig struct {
	IntervalMinutes  int `mapstructure:"interval_minutes"`
	ReadRetries      int `mapstructure:"read_retries"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms"`
	OutboxRetryCap   int `mapstructure:"outbox_retry_cap"`
	DebounceMs       int `mapstructure:"debounce_ms"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Backend:    "webdav",
			AuthMethod: "basic",
		},
		Sync: SyncConfig{
			IntervalMinutes:  5,
			ReadRetries:      3,
			RetryBaseDelayMs: 500,
			OutboxRetryCap:   10,
			DebounceMs:       2000,
		},
		IgnorePatterns: []string{
			".git/**",
			"**/.DS_Store",
			"**/*.tmp",
			"**/*~",
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("remote.backend", defaults.Remote.Backend)
	v.SetDefault("remote.auth_method", defaults.Remote.AuthMethod)
	v.SetDefault("sync.interval_minutes", defaults.Sync.IntervalMinutes)
	v.SetDefault("sync.read_retries", defaults.Sync.ReadRetries)
	v.SetDefault("sync.retry_base_delay_ms", defaults.Sync.RetryBaseDelayMs)
	v.SetDefault("sync.outbox_retry_cap", defaults.Sync.OutboxRetryCap)
	v.SetDefault("sync.debounce_ms", defaults.Sync.DebounceMs)
	v.SetDefault("ignore_patterns", defaults.IgnorePatterns)

	// Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	// Enable environment variable substitution
	v.AutomaticEnv()
	v.SetEnvPrefix("DATASHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is okay if we have environment variables
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand paths and fill the cache dir default
	cfg.CatalogDir = expandPath(cfg.CatalogDir)
	cfg.Remote.Root = expandPath(cfg.Remote.Root)
	if cfg.CacheDir == "" {
		dir, err := defaultCacheDir()
		if err != nil {
			return nil, err
		}
		cfg.CacheDir = dir
	} else {
		cfg.CacheDir = expandPath(cfg.CacheDir)
	}

	// Validate
	validate := validator.New()

	// HTTPS is mandatory for the WebDAV endpoint; plain http must be
	// rejected before anything reaches the network layer.
	validate.RegisterValidation("https_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		return u.Scheme == "https" && u.Host != ""
	})

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// IndexPath returns the path of the local index database.
func (c *Config) IndexPath() string {
	return filepath.Join(c.CacheDir, "index.db")
}

// getConfigDir returns the appropriate config directory for the OS
func getConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "datashelf")
		}
		return filepath.Join(os.Getenv("USERPROFILE"), ".config", "datashelf")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, "datashelf")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "datashelf")
	}
}

// GetConfigFilePath returns the default config file location, creating the
// directory as needed. Used by the setup command.
func GetConfigFilePath() (string, error) {
	dir := getConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// defaultCacheDir returns the directory for the local index, creating it
// as needed.
func defaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	dir := filepath.Join(base, "datashelf")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	return dir, nil
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return os.ExpandEnv(path)
}
