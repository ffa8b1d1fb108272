package config

import (
	"fmt"
	"strings"

	"github.com/fly-io/poolimport/pkg/poolfs"
	"github.com/fly-io/poolimport/pkg/staging"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// State paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`
	IntentPath string `mapstructure:"intent-path"`

	// Staging
	StagingBackend string `mapstructure:"staging-backend"`
	BadgerPath     string `mapstructure:"badger-path"`

	// Pool layout
	StorageRoot  string `mapstructure:"storage-root"`
	VFSDir       string `mapstructure:"vfs-dir"`
	OpaqueDir    string `mapstructure:"opaque-dir"`
	VirtualPath  string `mapstructure:"virtual-path"`
	PoolCapacity int    `mapstructure:"pool-capacity"`

	// S3 configuration
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`

	// Working directory for downloads
	WorkDir string `mapstructure:"work-dir"`

	// Security limits
	MaxImageSize int64 `mapstructure:"max-image-size"`

	// Restart
	RestartCommand []string `mapstructure:"restart-command"`

	MetricsFile string `mapstructure:"metrics-file"`
}

// SetDefaults registers default values for every key.
func SetDefaults() {
	viper.SetDefault("sqlite-path", ".artifacts/poolimport.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("intent-path", ".artifacts/intent.yaml")
	viper.SetDefault("staging-backend", staging.BackendSQLite)
	viper.SetDefault("badger-path", ".artifacts/staging")
	viper.SetDefault("storage-root", ".artifacts/root")
	viper.SetDefault("vfs-dir", poolfs.DefaultLayout().VFSDir)
	viper.SetDefault("opaque-dir", poolfs.DefaultLayout().OpaqueDir)
	viper.SetDefault("virtual-path", poolfs.DefaultLayout().VirtualPath)
	viper.SetDefault("pool-capacity", poolfs.DefaultCapacity)
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("work-dir", "/tmp/poolimport")
	viper.SetDefault("max-image-size", 1024*1024*1024)
	viper.SetDefault("restart-command", []string{})
	viper.SetDefault("metrics-file", "")
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	SetDefaults()

	// Environment variables (POOLIMPORT_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("POOLIMPORT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.poolimport")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Layout returns the pool layout described by the configuration.
func (c *Config) Layout() poolfs.Layout {
	return poolfs.Layout{
		VFSDir:      c.VFSDir,
		OpaqueDir:   c.OpaqueDir,
		VirtualPath: c.VirtualPath,
		Capacity:    c.PoolCapacity,
	}
}

// StagingOptions returns the options for opening the staging store.
func (c *Config) StagingOptions() staging.Options {
	return staging.Options{
		Backend:    c.StagingBackend,
		SQLitePath: c.SQLitePath,
		BadgerPath: c.BadgerPath,
	}
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.IntentPath == "" {
		return fmt.Errorf("intent-path cannot be empty")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("storage-root cannot be empty")
	}
	switch c.StagingBackend {
	case staging.BackendSQLite:
	case staging.BackendBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("badger-path cannot be empty with the badger backend")
		}
	default:
		return fmt.Errorf("unknown staging-backend %q", c.StagingBackend)
	}
	if c.PoolCapacity < 1 {
		return fmt.Errorf("pool-capacity must be at least 1")
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	return c.Layout().Validate()
}
