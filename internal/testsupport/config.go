package testsupport

import (
	"path/filepath"
	"testing"

	"nori/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a unique temp home per test. Source
// sessions live under <home>/projects and timings are shortened so daemon
// tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.Home = base
	cfgVal.Paths.SourceRoot = filepath.Join(base, "projects")
	cfgVal.Watch.PollIntervalMS = 20
	cfgVal.Watch.DebounceMS = 10
	cfgVal.Watch.ScanIntervalMS = 50
	cfgVal.Upload.BaseURL = "http://127.0.0.1:0"
	cfgVal.Upload.APIToken = ""
	cfgVal.Upload.OrgID = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithOrgID sets the configured upload destination.
func WithOrgID(orgID string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.OrgID = orgID
	}
}

// WithUploadURL points the upload client at baseURL, typically an httptest
// server.
func WithUploadURL(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.BaseURL = baseURL
	}
}

// WithWatchMode selects the poll or native watcher.
func WithWatchMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.Mode = mode
	}
}

// WithThresholds overrides the stale and expiry ages in milliseconds.
func WithThresholds(staleMS, expireMS int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.StaleThresholdMS = staleMS
		b.cfg.Watch.ExpireThresholdMS = expireMS
	}
}

// BaseDir returns the temp home backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.Home
}
