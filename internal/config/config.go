// Package config loads application configuration from an optional YAML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "REPOFEED_"

// Config holds the application configuration.
type Config struct {
	GitHubToken  string `yaml:"github_token"`
	GitHubUser   string `yaml:"github_user"`
	GitHubAPIURL string `yaml:"github_api_url"`

	ListenAddr      string        `yaml:"listen_addr"`
	DBPath          string        `yaml:"db_path"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	ReachabilityAddr    string        `yaml:"reachability_addr"`
	ReachabilityTimeout time.Duration `yaml:"reachability_timeout"`
	// Offline forces every reachability check to fail.
	Offline bool `yaml:"offline"`

	MinWorkers      int           `yaml:"min_workers"`
	MaxWorkers      int           `yaml:"max_workers"`
	LoadFactor      int           `yaml:"load_factor"`
	WorkerKeepAlive time.Duration `yaml:"worker_keep_alive"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		GitHubUser:          "RoRoche",
		ListenAddr:          "127.0.0.1:8080",
		DBPath:              "repofeed.db",
		ReachabilityAddr:    "api.github.com:443",
		ReachabilityTimeout: 2 * time.Second,
		MinWorkers:          1,
		MaxWorkers:          3,
		LoadFactor:          3,
		WorkerKeepAlive:     120 * time.Second,
	}
}

// HasGitHubToken returns true when requests will be authenticated.
func (c *Config) HasGitHubToken() bool {
	return c.GitHubToken != ""
}

// Load builds a Config from defaults, then the YAML file named by
// REPOFEED_CONFIG if set, then REPOFEED_ environment variables.
// The GitHub token is optional; without it requests are anonymous and subject
// to the lower unauthenticated rate limit.
func Load() (*Config, error) {
	cfg := Default()

	if path, ok := os.LookupEnv(envPrefix + "CONFIG"); ok && path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	lookupString("GITHUB_TOKEN", &cfg.GitHubToken)
	lookupString("GITHUB_USER", &cfg.GitHubUser)
	lookupString("GITHUB_API_URL", &cfg.GitHubAPIURL)
	lookupString("LISTEN_ADDR", &cfg.ListenAddr)
	lookupString("DB_PATH", &cfg.DBPath)
	lookupString("REACHABILITY_ADDR", &cfg.ReachabilityAddr)

	var errs []error
	errs = append(errs,
		lookupDuration("REFRESH_INTERVAL", &cfg.RefreshInterval),
		lookupDuration("REACHABILITY_TIMEOUT", &cfg.ReachabilityTimeout),
		lookupDuration("WORKER_KEEP_ALIVE", &cfg.WorkerKeepAlive),
		lookupBool("OFFLINE", &cfg.Offline),
		lookupInt("MIN_WORKERS", &cfg.MinWorkers),
		lookupInt("MAX_WORKERS", &cfg.MaxWorkers),
		lookupInt("LOAD_FACTOR", &cfg.LoadFactor),
	)
	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.GitHubUser) == "" {
		return fmt.Errorf("%sGITHUB_USER must not be empty", envPrefix)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("%sREFRESH_INTERVAL must not be negative, got %s", envPrefix, c.RefreshInterval)
	}
	if c.ReachabilityTimeout <= 0 {
		return fmt.Errorf("%sREACHABILITY_TIMEOUT must be positive, got %s", envPrefix, c.ReachabilityTimeout)
	}
	return nil
}

func lookupString(key string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = v
	}
}

func lookupDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s has invalid duration %q: %w", envPrefix, key, v, err)
	}
	*dst = parsed
	return nil
}

func lookupInt(key string, dst *int) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s has invalid integer %q: %w", envPrefix, key, v, err)
	}
	*dst = parsed
	return nil
}

func lookupBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s has invalid boolean %q: %w", envPrefix, key, v, err)
	}
	*dst = parsed
	return nil
}
