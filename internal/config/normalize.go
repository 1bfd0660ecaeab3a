package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWatch()
	c.normalizeUpload()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.Home) == "" {
		c.Paths.Home = defaultHome
	}
	if c.Paths.Home, err = expandPath(c.Paths.Home); err != nil {
		return fmt.Errorf("paths.home: %w", err)
	}
	if c.Paths.SourceRoot, err = expandPath(strings.TrimSpace(c.Paths.SourceRoot)); err != nil {
		return fmt.Errorf("paths.source_root: %w", err)
	}
	return nil
}

func (c *Config) normalizeWatch() {
	c.Watch.Agent = strings.ToLower(strings.TrimSpace(c.Watch.Agent))
	if c.Watch.Agent == "" {
		c.Watch.Agent = defaultAgent
	}
	c.Watch.Mode = strings.ToLower(strings.TrimSpace(c.Watch.Mode))
	if c.Watch.Mode == "" {
		c.Watch.Mode = defaultWatchMode
	}
}

func (c *Config) normalizeUpload() {
	c.Upload.BaseURL = strings.TrimRight(strings.TrimSpace(c.Upload.BaseURL), "/")
	if c.Upload.BaseURL == "" {
		c.Upload.BaseURL = defaultUploadBaseURL
	}
	c.Upload.APIToken = strings.TrimSpace(c.Upload.APIToken)
	if c.Upload.APIToken == "" {
		if value, ok := os.LookupEnv("NORI_API_TOKEN"); ok {
			c.Upload.APIToken = strings.TrimSpace(value)
		}
	}
	c.Upload.OrgID = strings.TrimSpace(c.Upload.OrgID)
	if c.Upload.OrgID == "" {
		if value, ok := os.LookupEnv("NORI_ORG_ID"); ok {
			c.Upload.OrgID = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
