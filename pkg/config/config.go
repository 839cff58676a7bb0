// Package config loads the YAML configuration shared by the skadi CLI and
// HTTP server.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/ssargent/skadidb/pkg/data"
	"github.com/ssargent/skadidb/pkg/status"
	"github.com/ssargent/skadidb/pkg/store"
)

// Config represents the SkadiDB configuration
type Config struct {
	DataDir  string   `yaml:"data_dir"`
	Port     int      `yaml:"port"`
	Bind     string   `yaml:"bind"`
	Store    Store    `yaml:"store"`
	Security Security `yaml:"security"`
	Logging  Logging  `yaml:"logging"`
}

// Store holds the instance settings. Sizes are human readable ("64MiB",
// "1 GB"); empty optional sizes fall back to the store defaults.
type Store struct {
	KeySize          int    `yaml:"key_size"`
	CacheSize        string `yaml:"cache_size"`
	DiskSize         string `yaml:"disk_size"`
	PageSize         string `yaml:"page_size,omitempty"`
	ExtentSize       string `yaml:"extent_size,omitempty"`
	MemtableCapacity string `yaml:"memtable_capacity,omitempty"`
	ShmemSize        string `yaml:"shmem_size,omitempty"`
	MaxThreads       int    `yaml:"max_threads,omitempty"`
	UseLog           bool   `yaml:"use_log"`
	UseStats         bool   `yaml:"use_stats"`
	UseShmem         bool   `yaml:"use_shmem"`
	CheckKeyRange    bool   `yaml:"check_key_range"`
}

// Security contains security-related configuration
type Security struct {
	ClientAPIKey string `yaml:"client_api_key"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Port:    8080,
		Bind:    "127.0.0.1",
		Store: Store{
			KeySize:   64,
			CacheSize: "64MiB",
			DiskSize:  "1GiB",
			UseLog:    true,
			UseStats:  true,
		},
		Security: Security{
			ClientAPIKey: "auto",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from the specified path
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errors.Wrapf(status.ErrNotFound, "config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, errors.Wrap(err, "invalid config path")
		}
		configPath = absPath
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	raw, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// 0600: the file carries the API key.
	if err := os.WriteFile(configPath, raw, 0600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// GenerateSecureKey generates a cryptographically secure random key
func GenerateSecureKey(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate secure key")
	}
	return hex.EncodeToString(b), nil
}

// BootstrapConfig writes a default configuration with a generated API key.
func BootstrapConfig(configPath string, dataDir string) (*Config, error) {
	config := DefaultConfig()
	if dataDir != "" {
		config.DataDir = dataDir
	}

	clientAPIKey, err := GenerateSecureKey(32)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate client API key")
	}
	config.Security.ClientAPIKey = clientAPIKey

	if err := SaveConfig(config, configPath); err != nil {
		return nil, errors.Wrap(err, "failed to save bootstrap config")
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./skadi.yaml"
	}

	// ~/.config/skadi/config.yaml on Linux and macOS
	return filepath.Join(homeDir, ".config", "skadi", "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}

// ParseSize parses a human readable byte size. An empty string is zero.
func ParseSize(field, s string) (uint64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, status.InvalidArgumentf("invalid %s %q: %v", field, s, err)
	}
	return n, nil
}

// StoreConfig builds the instance configuration for DataDir using the
// lexicographic key config. Fields left zero take the store defaults.
func (c *Config) StoreConfig(logger *slog.Logger) (store.Config, error) {
	var err error
	size := func(field, value string) uint64 {
		if err != nil {
			return 0
		}
		var n uint64
		n, err = ParseSize(field, value)
		return n
	}

	sc := store.Config{
		Path:             c.DataDir,
		Data:             data.NewLex(c.Store.KeySize),
		CacheSize:        size("cache_size", c.Store.CacheSize),
		DiskSize:         size("disk_size", c.Store.DiskSize),
		PageSize:         int(size("page_size", c.Store.PageSize)),
		ExtentSize:       int(size("extent_size", c.Store.ExtentSize)),
		MemtableCapacity: size("memtable_capacity", c.Store.MemtableCapacity),
		ShmemSize:        int(size("shmem_size", c.Store.ShmemSize)),
		MaxThreads:       c.Store.MaxThreads,
		UseLog:           c.Store.UseLog,
		UseStats:         c.Store.UseStats,
		UseShmem:         c.Store.UseShmem,
		CheckKeyRange:    c.Store.CheckKeyRange,
		Logger:           logger,
	}
	if err != nil {
		return store.Config{}, err
	}
	return sc, nil
}

// NewLogger builds the slog logger described by the logging section.
func (l Logging) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if l.Level != "" {
		if err := level.UnmarshalText([]byte(l.Level)); err != nil {
			return nil, status.InvalidArgumentf("invalid log level %q", l.Level)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(l.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, status.InvalidArgumentf("invalid log format %q", l.Format)
	}
}
