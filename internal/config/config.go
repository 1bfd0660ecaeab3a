package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"nori/internal/paths"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	Home       string `toml:"home"`
	SourceRoot string `toml:"source_root"`
}

// Watch contains configuration for the capture daemon timing.
type Watch struct {
	Agent                 string `toml:"agent"`
	Mode                  string `toml:"mode"`
	PollIntervalMS        int    `toml:"poll_interval_ms"`
	DebounceMS            int    `toml:"debounce_ms"`
	ScanIntervalMS        int    `toml:"scan_interval_ms"`
	StaleThresholdMS      int    `toml:"stale_threshold_ms"`
	ExpireThresholdMS     int    `toml:"expire_threshold_ms"`
	MaxValidationFailures int    `toml:"max_validation_failures"`
}

// Upload contains configuration for the remote transcript endpoint.
type Upload struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	OrgID          string `toml:"org_id"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for nori watch.
//
// Configuration sections by subsystem:
//   - Paths: home directory and agent session root
//   - Watch: agent selection, watcher mode, debounce and scan thresholds
//   - Upload: remote endpoint, credentials, and default destination
//   - Logging: log format, level, and retention
type Config struct {
	Paths   Paths   `toml:"paths"`
	Watch   Watch   `toml:"watch"`
	Upload  Upload  `toml:"upload"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = defaultConfigPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", expanded)
	}
	return expanded, true, nil
}

// Layout returns the well-known file locations derived from the home directory.
func (c *Config) Layout() paths.Layout {
	return paths.New(c.Paths.Home)
}

// SourceRoot returns the directory the agent writes session files into.
func (c *Config) SourceRoot() (string, error) {
	if strings.TrimSpace(c.Paths.SourceRoot) != "" {
		return c.Paths.SourceRoot, nil
	}
	return c.Layout().SourceRoot(c.Watch.Agent)
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	layout := c.Layout()
	for _, dir := range []string{layout.AppDir(), layout.CacheRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval returns how often the polling watcher rescans the source root.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollIntervalMS) * time.Millisecond
}

// DebounceWindow returns the minimum spacing between two copies of one path.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// ScanInterval returns the cache scan period.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Watch.ScanIntervalMS) * time.Millisecond
}

// StaleThreshold returns the idle age after which a transcript is uploaded.
func (c *Config) StaleThreshold() time.Duration {
	return time.Duration(c.Watch.StaleThresholdMS) * time.Millisecond
}

// ExpireThreshold returns the age after which a cached transcript is deleted.
func (c *Config) ExpireThreshold() time.Duration {
	return time.Duration(c.Watch.ExpireThresholdMS) * time.Millisecond
}

// UploadTimeout returns the per-request timeout for the upload client.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Upload.RequestTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
