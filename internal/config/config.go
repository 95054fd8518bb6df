// Package config loads the vdisk CLI configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags bound by the caller
//  2. Environment variables (VDISK_*)
//  3. Configuration file (YAML)
//  4. Default values
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jbweber/vdisk/internal/libvirt"
	"github.com/jbweber/vdisk/internal/storage"
	"github.com/jbweber/vdisk/internal/vdisk"
)

// Backend names.
const (
	BackendAuto     = "auto"
	BackendLibvirt  = "libvirt"
	BackendVirtDisk = "virtdisk"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VDISK"

// Config is the complete vdisk configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`

	// Backend selects the host virtual disk service: virtdisk on Windows,
	// libvirt elsewhere. auto picks by platform.
	Backend string `mapstructure:"backend" validate:"required,oneof=auto libvirt virtdisk"`

	Libvirt LibvirtConfig `mapstructure:"libvirt"`

	Metadata MetadataConfig `mapstructure:"metadata"`

	Operations OperationsConfig `mapstructure:"operations"`

	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// ResolvedBackend returns the backend to use on this host.
func (c *Config) ResolvedBackend() string {
	if c.Backend != BackendAuto {
		return c.Backend
	}
	if runtime.GOOS == "windows" {
		return BackendVirtDisk
	}
	return BackendLibvirt
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is the minimum level to output, normalized to lowercase.
	Level string `mapstructure:"level" validate:"required,oneof=trace debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// LibvirtConfig configures the libvirt backend.
type LibvirtConfig struct {
	Socket  string        `mapstructure:"socket" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// Pool is the storage pool holding every image.
	Pool string `mapstructure:"pool" validate:"required"`
	// PoolPath is the directory of Pool when it has to be created.
	PoolPath string `mapstructure:"pool_path" validate:"required"`
}

// Options returns the connection options for the libvirt client.
func (c LibvirtConfig) Options() libvirt.Options {
	return libvirt.Options{Socket: c.Socket, Timeout: c.Timeout}
}

// MetadataConfig configures the metadata sidecar of the libvirt backend.
type MetadataConfig struct {
	// Path is the badger directory.
	Path string `mapstructure:"path" validate:"required_if=InMemory false"`
	// InMemory discards metadata on exit.
	InMemory bool `mapstructure:"in_memory"`
}

// OperationsConfig tunes asynchronous operations.
type OperationsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// DefaultsConfig holds CLI defaults. Zero sizes select the host default.
type DefaultsConfig struct {
	DiskType           string `mapstructure:"disk_type" validate:"oneof=fixed dynamic differencing"`
	Output             string `mapstructure:"output" validate:"oneof=table yaml json"`
	BlockSize          uint32 `mapstructure:"block_size"`
	LogicalSectorSize  uint32 `mapstructure:"logical_sector_size" validate:"omitempty,oneof=512 4096"`
	PhysicalSectorSize uint32 `mapstructure:"physical_sector_size" validate:"omitempty,oneof=512 4096"`
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Backend: BackendAuto,
		Libvirt: LibvirtConfig{
			Socket:   libvirt.DefaultSocket,
			Timeout:  libvirt.DefaultTimeout,
			Pool:     storage.DefaultPool,
			PoolPath: storage.DefaultPoolPath,
		},
		Metadata: MetadataConfig{
			Path: "/var/lib/vdisk/metadata",
		},
		Operations: OperationsConfig{
			PollInterval: vdisk.DefaultPollInterval,
		},
		Defaults: DefaultsConfig{
			DiskType: "dynamic",
			Output:   "table",
		},
	}
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath searches the default location; a missing file is
// not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	return LoadWith(v, configPath)
}

// LoadWith is Load on a caller-provided viper instance, so that command
// flags bound to v take precedence.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	Normalize(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper registers defaults, environment variables and the config file.
// Every key gets a default so that AutomaticEnv can override it.
func setupViper(v *viper.Viper, configPath string) {
	d := Default()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("libvirt.socket", d.Libvirt.Socket)
	v.SetDefault("libvirt.timeout", d.Libvirt.Timeout)
	v.SetDefault("libvirt.pool", d.Libvirt.Pool)
	v.SetDefault("libvirt.pool_path", d.Libvirt.PoolPath)
	v.SetDefault("metadata.path", d.Metadata.Path)
	v.SetDefault("metadata.in_memory", d.Metadata.InMemory)
	v.SetDefault("operations.poll_interval", d.Operations.PollInterval)
	v.SetDefault("defaults.disk_type", d.Defaults.DiskType)
	v.SetDefault("defaults.output", d.Defaults.Output)
	v.SetDefault("defaults.block_size", d.Defaults.BlockSize)
	v.SetDefault("defaults.logical_sector_size", d.Defaults.LogicalSectorSize)
	v.SetDefault("defaults.physical_sector_size", d.Defaults.PhysicalSectorSize)

	// Example: VDISK_LIBVIRT_POOL_PATH=/srv/vdisk
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(ConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Normalize lowercases enumerated values.
func Normalize(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.Defaults.DiskType = strings.ToLower(strings.TrimSpace(cfg.Defaults.DiskType))
	cfg.Defaults.Output = strings.ToLower(strings.TrimSpace(cfg.Defaults.Output))
}

// ConfigDir returns $XDG_CONFIG_HOME/vdisk, ~/.config/vdisk, or "." when
// the home directory is unknown.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vdisk")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "vdisk")
}

// DefaultConfigPath returns the configuration file searched by Load.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
