package config

import "nori/internal/paths"

const (
	defaultConfigPath            = "~/.config/nori/config.toml"
	defaultHome                  = "~"
	defaultAgent                 = paths.AgentClaudeCode
	defaultWatchMode             = WatchModePoll
	defaultPollIntervalMS        = 1000
	defaultDebounceMS            = 500
	defaultScanIntervalMS        = 10_000
	defaultStaleThresholdMS      = 30_000
	defaultExpireThresholdMS     = 24 * 60 * 60 * 1000
	defaultMaxValidationFailures = 5
	defaultUploadBaseURL         = "https://api.nori.dev/v1"
	defaultUploadRequestTimeout  = 60
	defaultLogFormat             = "json"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 14
)

// Watcher modes.
const (
	WatchModePoll   = "poll"
	WatchModeNative = "native"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			Home: defaultHome,
		},
		Watch: Watch{
			Agent:                 defaultAgent,
			Mode:                  defaultWatchMode,
			PollIntervalMS:        defaultPollIntervalMS,
			DebounceMS:            defaultDebounceMS,
			ScanIntervalMS:        defaultScanIntervalMS,
			StaleThresholdMS:      defaultStaleThresholdMS,
			ExpireThresholdMS:     defaultExpireThresholdMS,
			MaxValidationFailures: defaultMaxValidationFailures,
		},
		Upload: Upload{
			BaseURL:        defaultUploadBaseURL,
			RequestTimeout: defaultUploadRequestTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
