package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/storeaudit/storeaudit/pkg/bytesize"
	"github.com/storeaudit/storeaudit/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := `
kubectl: kubectl
request_timeout: 30s
top: 50
metrics:
  family: etcd_object_counts
etcd:
  namespace: kube-system
  selector: component=etcd
  container: etcd
thresholds:
  high_fragmentation_percent: 60
  critical_db_size: 2Gi
forensic:
  throttle: 250ms
  token: scan
`
	path := testutil.TempFile(t, dir, "config.yaml", content)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "kubectl", cfg.Kubectl)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeoutDuration())
	assert.Equal(t, 50, cfg.Top)
	assert.Equal(t, "etcd_object_counts", cfg.Metrics.Family)
	assert.Equal(t, "kube-system", cfg.Etcd.Namespace)
	assert.Equal(t, "component=etcd", cfg.Etcd.Selector)
	assert.Equal(t, "etcd", cfg.Etcd.Container)
	assert.Equal(t, 60, cfg.Thresholds.HighFragmentationPercent)
	assert.Equal(t, 2*bytesize.GB, cfg.Thresholds.CriticalDBSize.Bytes())
	assert.Equal(t, 250*time.Millisecond, cfg.ThrottleDuration())
	assert.Equal(t, "scan", cfg.Forensic.Token)
}

func TestLoad_Defaults(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "config.yaml", "top: 5\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Top)
	assert.Equal(t, "oc", cfg.Kubectl)
	assert.Equal(t, "apiserver_storage_objects", cfg.Metrics.Family)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "openshift-etcd", cfg.Etcd.Namespace)
	assert.Equal(t, "/", cfg.Etcd.KeyRoot)
	assert.Equal(t, 45, cfg.Thresholds.HighFragmentationPercent)
	assert.Equal(t, 1500*bytesize.MB, cfg.Thresholds.CriticalDBSize.Bytes())
	assert.Equal(t, time.Second, cfg.ThrottleDuration())
	assert.Equal(t, 5*time.Minute, cfg.MeasureTimeoutDuration())
	assert.Equal(t, "yes", cfg.ConfirmToken)
	assert.Equal(t, "forensic", cfg.Forensic.Token)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := testutil.TempFile(t, t.TempDir(), "config.yaml", "kubectl: ~/bin/oc\ntrail:\n  file: ~/.storeaudit/trail.jsonl\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "bin", "oc"), cfg.Kubectl)
	assert.Equal(t, filepath.Join(home, ".storeaudit", "trail.jsonl"), cfg.Trail.File)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "config.yaml", "etcd: [invalid yaml\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"negative top", func(c *Config) { c.Top = -1 }, "top must not be negative"},
		{"fragmentation above 100", func(c *Config) { c.Thresholds.HighFragmentationPercent = 101 }, "high_fragmentation_percent"},
		{"blank confirm token", func(c *Config) { c.ConfirmToken = "  " }, "confirm_token is required"},
		{"blank forensic token", func(c *Config) { c.Forensic.Token = " " }, "forensic.token is required"},
		{"relative key root", func(c *Config) { c.Etcd.KeyRoot = "kubernetes.io" }, "key_root"},
		{"bad throttle", func(c *Config) { c.Forensic.Throttle = "soon" }, "invalid forensic.throttle"},
		{"negative timeout", func(c *Config) { c.RequestTimeout = "-1s" }, "request_timeout must not be negative"},
		{"loki url without scheme", func(c *Config) { c.Trail.LokiURL = "loki:3100" }, "trail.loki_url"},
		{"loki url", func(c *Config) { c.Trail.LokiURL = "http://loki:3100" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Top = 7
	cfg.Trail = TrailConfig{File: "/var/log/storeaudit.jsonl", LokiURL: "http://loki:3100", Labels: map[string]string{"cluster": "prod"}}
	require.NoError(t, Write(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestResolveMode(t *testing.T) {
	tests := []struct {
		name  string
		flags ModeFlags
		want  Mode
	}{
		{"nothing selected", ModeFlags{}, ModeSummary},
		{"size only", ModeFlags{Size: true}, ModeEstimate},
		{"exact beats size", ModeFlags{Size: true, Exact: "secrets"}, ModeExact},
		{"forensic beats exact", ModeFlags{Exact: "secrets", Forensic: true}, ModeForensic},
		{"forensic beats everything", ModeFlags{Size: true, Exact: "cm", Forensic: true}, ModeForensic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveMode(tt.flags))
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, Options{Mode: ModeSummary}.Validate())
	assert.NoError(t, Options{Mode: ModeExact, Resource: "secrets", Output: OutputJSON}.Validate())
	assert.Error(t, Options{Mode: ModeExact}.Validate())
	assert.Error(t, Options{Mode: "bogus"}.Validate())
	assert.Error(t, Options{Mode: ModeSummary, Top: -3}.Validate())
	assert.Error(t, Options{Mode: ModeSummary, Output: "xml"}.Validate())
}
