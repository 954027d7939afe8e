package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// PoolConfig defines the universe of allocatable client addresses: Size
// consecutive IPv4 addresses starting at Start.
type PoolConfig struct {
	Start string `mapstructure:"start"`
	Size  int    `mapstructure:"size"`
}

type CredentialConfig struct {
	// Download URL template. Must contain {requester} and {credential_id}.
	DownloadURL string `mapstructure:"download_url"`
}

type ScriptsConfig struct {
	// Script invoked as: make_key <requester> <credential_id>
	MakeKey string `mapstructure:"make_key"`
	// Script invoked as: update_access <requester> <ip> [target...]
	UpdateAccess string `mapstructure:"update_access"`
}

type NotifyConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// Channel addresses allowed to approve, decline and revoke.
	Approvers []string `mapstructure:"approvers"`

	// Service catalog: name -> human-readable description.
	Services map[string]string `mapstructure:"services"`

	Pool       PoolConfig       `mapstructure:"pool"`
	Credential CredentialConfig `mapstructure:"credential"`
	Scripts    ScriptsConfig    `mapstructure:"scripts"`
	Notify     NotifyConfig     `mapstructure:"notify"`

	HTTP HTTPConfig `mapstructure:"http"`
	// Comma separated list of allowed CIDR networks for the ops API.
	// Empty means allow all.
	AllowedNetworks string `mapstructure:"allowed_networks"`

	Storage Storage `mapstructure:"storage"`
}

func (c *Config) IsApprover(identity string) bool {
	for _, a := range c.Approvers {
		if a == identity {
			return true
		}
	}
	return false
}

// Validate checks the fields the workflow cannot run without. Called once
// at startup; the rest of the program assumes a valid config.
func (c *Config) Validate() error {
	if len(c.Approvers) == 0 {
		return fmt.Errorf("at least one approver must be configured")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("service catalog is empty")
	}
	if c.Pool.Start == "" || c.Pool.Size < 1 {
		return fmt.Errorf("ip pool misconfigured: start=%q size=%d", c.Pool.Start, c.Pool.Size)
	}
	for _, placeholder := range []string{"{requester}", "{credential_id}"} {
		if !strings.Contains(c.Credential.DownloadURL, placeholder) {
			return fmt.Errorf("credential.download_url missing %s placeholder", placeholder)
		}
	}
	return nil
}

func getConfigPath() string {
	// Docker containers mount the instance folder at /app/instance.
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "/app/instance"
	}
	return "./instance"
}

// LoadConfig reads configuration from an optional config file plus
// environment variables and returns a validated Config.
func LoadConfig(configFile ...string) (*Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(getConfigPath())
	v.AddConfigPath(".")

	if len(configFile) > 0 {
		for _, path := range configFile {
			v.SetConfigFile(path)
		}
	}

	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		slog.Warn("No config file found, using defaults and environment")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Convert relative sqlite path to the instance folder
	if cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path == ":memory:" {
			// In-memory database, do nothing
		} else if !os.IsPathSeparator(cfg.Storage.SQLite.Path[0]) {
			cfg.Storage.SQLite.Path = fmt.Sprintf("%s/%s", getConfigPath(), cfg.Storage.SQLite.Path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
