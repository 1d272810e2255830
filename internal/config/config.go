// Package config handles configuration loading and validation for storeaudit.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/storeaudit/storeaudit/pkg/bytesize"
	"gopkg.in/yaml.v3"
)

// MetricsConfig selects the counter family that carries per-resource object counts.
type MetricsConfig struct {
	Family string `yaml:"family"` // Series name, e.g. apiserver_storage_objects
	Path   string `yaml:"path"`   // Raw API path serving the exposition text
}

// EtcdConfig locates the storage engine members inside the cluster.
type EtcdConfig struct {
	Namespace string `yaml:"namespace"`
	Selector  string `yaml:"selector"`  // Label selector for member pods
	Container string `yaml:"container"` // Container that ships etcdctl with client certs wired
	KeyRoot   string `yaml:"key_root"`  // Root of the keys-only listing
}

// Thresholds holds the policy limits used when flagging storage endpoints.
type Thresholds struct {
	HighFragmentationPercent int           `yaml:"high_fragmentation_percent"`
	CriticalDBSize           bytesize.Size `yaml:"critical_db_size"`
}

// ForensicConfig holds settings for the full-catalog scan.
type ForensicConfig struct {
	Throttle       string `yaml:"throttle"`        // Pause after each measurement (default: "1s")
	MeasureTimeout string `yaml:"measure_timeout"` // Upper bound for one range read (default: "5m")
	Token          string `yaml:"token"`           // Acknowledgment the operator must type
}

// TrailConfig selects where the operator action trail is kept. The trail
// records the session, every confirmation decision and every bulk read.
type TrailConfig struct {
	File    string            `yaml:"file"`             // JSON lines file, appended to
	LokiURL string            `yaml:"loki_url"`         // Loki base URL, e.g. http://loki:3100
	Labels  map[string]string `yaml:"labels,omitempty"` // Extra Loki stream labels
}

// Config is the on-disk configuration of storeaudit.
type Config struct {
	Kubectl        string         `yaml:"kubectl"`
	RequestTimeout string         `yaml:"request_timeout"`
	ConfirmToken   string         `yaml:"confirm_token"`
	Top            int            `yaml:"top"`
	Metrics        MetricsConfig  `yaml:"metrics"`
	Etcd           EtcdConfig     `yaml:"etcd"`
	Thresholds     Thresholds     `yaml:"thresholds"`
	Forensic       ForensicConfig `yaml:"forensic"`
	Trail          TrailConfig    `yaml:"trail"`
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".storeaudit", "config.yaml"), nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file and applies defaults.
// A missing file is not an error: the defaults are returned instead.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// defaultCriticalDBSize is the etcd backend size past which a member is critical.
const defaultCriticalDBSize = "1500MB"

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

func (c *Config) applyDefaults() {
	if c.Kubectl == "" {
		c.Kubectl = "oc"
	}
	c.Kubectl = expandHome(c.Kubectl)
	c.Trail.File = expandHome(c.Trail.File)
	if c.RequestTimeout == "" {
		c.RequestTimeout = "60s"
	}
	if c.ConfirmToken == "" {
		c.ConfirmToken = "yes"
	}
	if c.Top == 0 {
		c.Top = 20
	}
	if c.Metrics.Family == "" {
		c.Metrics.Family = "apiserver_storage_objects"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Etcd.Namespace == "" {
		c.Etcd.Namespace = "openshift-etcd"
	}
	if c.Etcd.Selector == "" {
		c.Etcd.Selector = "app=etcd"
	}
	if c.Etcd.Container == "" {
		c.Etcd.Container = "etcdctl"
	}
	if c.Etcd.KeyRoot == "" {
		c.Etcd.KeyRoot = "/"
	}
	if c.Thresholds.HighFragmentationPercent == 0 {
		c.Thresholds.HighFragmentationPercent = 45
	}
	if c.Thresholds.CriticalDBSize == 0 {
		c.Thresholds.CriticalDBSize = bytesize.Size(bytesize.MustParse(defaultCriticalDBSize))
	}
	if c.Forensic.Throttle == "" {
		c.Forensic.Throttle = "1s"
	}
	if c.Forensic.MeasureTimeout == "" {
		c.Forensic.MeasureTimeout = "5m"
	}
	if c.Forensic.Token == "" {
		c.Forensic.Token = "forensic"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Top < 0 {
		return fmt.Errorf("top must not be negative")
	}
	if c.Thresholds.HighFragmentationPercent < 1 || c.Thresholds.HighFragmentationPercent > 100 {
		return fmt.Errorf("thresholds.high_fragmentation_percent must be between 1 and 100")
	}
	if c.Thresholds.CriticalDBSize < 0 {
		return fmt.Errorf("thresholds.critical_db_size must not be negative")
	}
	if strings.TrimSpace(c.ConfirmToken) == "" {
		return fmt.Errorf("confirm_token is required")
	}
	if strings.TrimSpace(c.Forensic.Token) == "" {
		return fmt.Errorf("forensic.token is required")
	}
	if !strings.HasPrefix(c.Etcd.KeyRoot, "/") {
		return fmt.Errorf("etcd.key_root must start with /")
	}
	if u := c.Trail.LokiURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("trail.loki_url must be an http(s) URL")
	}

	durations := []struct {
		name  string
		value string
	}{
		{"request_timeout", c.RequestTimeout},
		{"forensic.throttle", c.Forensic.Throttle},
		{"forensic.measure_timeout", c.Forensic.MeasureTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}
	return nil
}

// RequestTimeoutDuration returns the per-command timeout for short control-plane calls.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(c.RequestTimeout, 60*time.Second)
}

// ThrottleDuration returns the pause inserted after each forensic measurement.
func (c *Config) ThrottleDuration() time.Duration {
	return parseDurationOr(c.Forensic.Throttle, time.Second)
}

// MeasureTimeoutDuration returns the upper bound for a single exact measurement.
func (c *Config) MeasureTimeoutDuration() time.Duration {
	return parseDurationOr(c.Forensic.MeasureTimeout, 5*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Write stores the configuration as YAML at path, creating parent directories.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := "# storeaudit configuration - every key is optional\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
