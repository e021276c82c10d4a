package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/locsim/ddfetch/internal/fetchers"
	"github.com/locsim/ddfetch/internal/fetchers/gdrive"
	"github.com/locsim/ddfetch/internal/fetchers/gitrepo"
	"github.com/locsim/ddfetch/internal/fetchers/s3"
	"github.com/locsim/ddfetch/internal/utils"
	"gopkg.in/yaml.v3"
)

// Config defines configuration for the ddfetch CLI.
type Config struct {
	SupportDir string `yaml:"support_dir"`
	// DefinitionsFile overrides <support_dir>/DeveloperDiskImages.json.
	DefinitionsFile string       `yaml:"definitions_file"`
	DefinitionsURL  string       `yaml:"definitions_url"`
	Workers         int          `yaml:"workers"`
	HTTP            HTTPConfig   `yaml:"http"`
	S3              S3Config     `yaml:"s3"`
	GDrive          GDriveConfig `yaml:"gdrive"`
	Git             GitConfig    `yaml:"git"`
}

type HTTPConfig struct {
	Timeout          time.Duration     `yaml:"timeout"`
	KeepAliveTimeout time.Duration     `yaml:"keep_alive_timeout"`
	UserAgent        string            `yaml:"user_agent"`
	Proxy            string            `yaml:"proxy"`
	ProxyUsername    string            `yaml:"proxy_username"`
	ProxyPassword    string            `yaml:"proxy_password"`
	Headers          map[string]string `yaml:"headers"`
}

type S3Config struct {
	Profile     string `yaml:"profile"`
	Region      string `yaml:"region"`
	Concurrency int    `yaml:"concurrency"`
}

type GDriveConfig struct {
	Credentials string `yaml:"credentials"`
	APIKey      string `yaml:"api_key"`
}

type GitConfig struct {
	Token string `yaml:"token"`
	Depth int    `yaml:"depth"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		SupportDir: DefaultSupportDir(),
		Workers:    2,
		HTTP: HTTPConfig{
			Timeout:          3 * time.Minute,
			KeepAliveTimeout: 90 * time.Second,
			UserAgent:        utils.ToolUserAgent,
		},
		S3:  S3Config{Concurrency: 5},
		Git: GitConfig{Depth: 1},
	}
}

// DefaultSupportDir is ddfetch below the user config directory.
func DefaultSupportDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".ddfetch"
	}
	return filepath.Join(dir, "ddfetch")
}

// DefaultPath is the config file read when --config is not given.
func DefaultPath() string {
	return filepath.Join(DefaultSupportDir(), "config.yaml")
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from DDFETCH_ environment variables.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("DDFETCH_SUPPORT_DIR"); v != "" {
		c.SupportDir = v
	}
	if v := os.Getenv("DDFETCH_DEFINITIONS_URL"); v != "" {
		c.DefinitionsURL = v
	}
	if v := os.Getenv("DDFETCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DDFETCH_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("DDFETCH_GDRIVE_API_KEY"); v != "" {
		c.GDrive.APIKey = v
	}
	if v := os.Getenv("DDFETCH_GIT_TOKEN"); v != "" {
		c.Git.Token = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.SupportDir == "" {
		return errors.New("config: support_dir is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.HTTP.Timeout < 0 || c.HTTP.KeepAliveTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if c.Git.Depth < 0 {
		return errors.New("config: git depth must not be negative")
	}
	if c.GDrive.Credentials != "" && c.GDrive.APIKey != "" {
		return errors.New("config: only one of gdrive credentials or api_key can be set")
	}
	return nil
}

// DefinitionsPath is where the download definitions are read from.
func (c *Config) DefinitionsPath() string {
	if c.DefinitionsFile != "" {
		return c.DefinitionsFile
	}
	return filepath.Join(c.SupportDir, "DeveloperDiskImages.json")
}

func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:       c.HTTP.Timeout,
		KATimeout:     c.HTTP.KeepAliveTimeout,
		ProxyURL:      c.HTTP.Proxy,
		ProxyUsername: c.HTTP.ProxyUsername,
		ProxyPassword: c.HTTP.ProxyPassword,
		UserAgent:     c.HTTP.UserAgent,
		Headers:       c.HTTP.Headers,
	}
}

// FetcherOptions configures every transport from c.
func (c *Config) FetcherOptions() fetchers.Options {
	return fetchers.Options{
		HTTP:   c.HTTPClientConfig(),
		S3:     s3.Options{Profile: c.S3.Profile, Region: c.S3.Region, Concurrency: c.S3.Concurrency},
		GDrive: gdrive.Options{CredentialsFile: c.GDrive.Credentials, APIKey: c.GDrive.APIKey},
		Git:    gitrepo.Options{Token: c.Git.Token, Depth: c.Git.Depth},
	}
}
