package config

import (
	"errors"
	"fmt"
	"net/url"

	"nori/internal/paths"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWatch() error {
	if c.Paths.SourceRoot == "" && !paths.KnownAgent(c.Watch.Agent) {
		return fmt.Errorf("watch.agent %q is not supported (known: %v); set paths.source_root to watch a custom directory", c.Watch.Agent, paths.Agents())
	}
	switch c.Watch.Mode {
	case WatchModePoll, WatchModeNative:
	default:
		return fmt.Errorf("watch.mode: unsupported value %q (expected %q or %q)", c.Watch.Mode, WatchModePoll, WatchModeNative)
	}
	if err := ensurePositiveMap(map[string]int{
		"watch.poll_interval_ms":    c.Watch.PollIntervalMS,
		"watch.debounce_ms":         c.Watch.DebounceMS,
		"watch.scan_interval_ms":    c.Watch.ScanIntervalMS,
		"watch.stale_threshold_ms":  c.Watch.StaleThresholdMS,
		"watch.expire_threshold_ms": c.Watch.ExpireThresholdMS,
	}); err != nil {
		return err
	}
	if c.Watch.ExpireThresholdMS <= c.Watch.StaleThresholdMS {
		return errors.New("watch.expire_threshold_ms must be greater than watch.stale_threshold_ms")
	}
	if c.Watch.MaxValidationFailures < 0 {
		return errors.New("watch.max_validation_failures must not be negative")
	}
	return nil
}

func (c *Config) validateUpload() error {
	parsed, err := url.Parse(c.Upload.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("upload.base_url %q must be an absolute URL", c.Upload.BaseURL)
	}
	if c.Upload.RequestTimeout <= 0 {
		return errors.New("upload.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "json", "console", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
