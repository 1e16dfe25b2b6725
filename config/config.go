// ABOUTME: Device configuration: gateway credentials, session, store path, and tunables
// ABOUTME: Stored as JSON under the XDG data directory with VENDAS_* environment overrides
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/harperreed/vendas/models"
	"github.com/joho/godotenv"
)

// Defaults applied to missing fields.
const (
	DefaultGatewayURL    = "http://127.0.0.1:8080"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultListenAddr    = "127.0.0.1:8765"
	DefaultSubmitTimeout = 20
	DefaultFetchTimeout  = 60
	DefaultProbeInterval = 30
	DefaultRetentionDays = 30
	configFileName       = "config.json"
	storeDirName         = "store"
	appDirName           = "vendas"
)

// Config holds everything a device needs to run the sync layer.
type Config struct {
	GatewayURL string         `json:"gateway_url"`
	Token      string         `json:"token,omitempty"`
	Session    models.Session `json:"session"`
	StorePath  string         `json:"store_path"`
	LogLevel   string         `json:"log_level"`
	LogFormat  string         `json:"log_format"`
	ListenAddr string         `json:"listen_addr"`

	// Durations are whole seconds.
	SubmitTimeoutSeconds int `json:"submit_timeout_seconds"`
	FetchTimeoutSeconds  int `json:"fetch_timeout_seconds"`
	ProbeIntervalSeconds int `json:"probe_interval_seconds"`
	RetentionDays        int `json:"retention_days"`
}

// Dir returns the XDG data directory of the application.
func Dir() string {
	return filepath.Join(xdg.DataHome, appDirName)
}

// Path returns the config file location.
func Path() string {
	return filepath.Join(Dir(), configFileName)
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the config file, applies .env and VENDAS_* overrides, and fills
// defaults. A missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom is Load for an explicit file path.
func LoadFrom(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GatewayURL == "" {
		c.GatewayURL = DefaultGatewayURL
	}
	if c.StorePath == "" {
		c.StorePath = filepath.Join(Dir(), storeDirName)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.SubmitTimeoutSeconds <= 0 {
		c.SubmitTimeoutSeconds = DefaultSubmitTimeout
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = DefaultFetchTimeout
	}
	if c.ProbeIntervalSeconds <= 0 {
		c.ProbeIntervalSeconds = DefaultProbeInterval
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
}

// applyEnvOverrides applies VENDAS_* variables on top of file values:
//   - VENDAS_GATEWAY_URL, VENDAS_TOKEN, VENDAS_STORE_PATH
//   - VENDAS_LOG_LEVEL, VENDAS_LOG_FORMAT, VENDAS_LISTEN_ADDR
//   - VENDAS_USER_ID, VENDAS_COMPANY_ID, VENDAS_ROLE, VENDAS_SELLER_CODE
//   - VENDAS_SUBMIT_TIMEOUT, VENDAS_FETCH_TIMEOUT, VENDAS_PROBE_INTERVAL (seconds)
//   - VENDAS_RETENTION_DAYS
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"VENDAS_GATEWAY_URL": &cfg.GatewayURL,
		"VENDAS_TOKEN":       &cfg.Token,
		"VENDAS_STORE_PATH":  &cfg.StorePath,
		"VENDAS_LOG_LEVEL":   &cfg.LogLevel,
		"VENDAS_LOG_FORMAT":  &cfg.LogFormat,
		"VENDAS_LISTEN_ADDR": &cfg.ListenAddr,
		"VENDAS_USER_ID":     &cfg.Session.UserID,
		"VENDAS_COMPANY_ID":  &cfg.Session.CompanyID,
		"VENDAS_ROLE":        &cfg.Session.Role,
		"VENDAS_SELLER_CODE": &cfg.Session.SellerCode,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"VENDAS_SUBMIT_TIMEOUT": &cfg.SubmitTimeoutSeconds,
		"VENDAS_FETCH_TIMEOUT":  &cfg.FetchTimeoutSeconds,
		"VENDAS_PROBE_INTERVAL": &cfg.ProbeIntervalSeconds,
		"VENDAS_RETENTION_DAYS": &cfg.RetentionDays,
	}
	for name, dst := range ints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		*dst = n
	}
	return nil
}

// Save writes the config file with owner-only permissions.
func Save(cfg *Config) error {
	return SaveTo(Path(), cfg)
}

// SaveTo is Save for an explicit file path.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// HasSession reports whether a seller session is configured.
func (c *Config) HasSession() bool {
	return c.Session.UserID != "" && c.Session.CompanyID != ""
}

func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSeconds) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// Retention is how long confirmed orders are kept before purge.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
