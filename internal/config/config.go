package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Default values, mirrored by applyDefaults.
const (
	DefaultMaxHistoryPairs    = 10
	DefaultMaxCharacters      = 20000
	DefaultMaxTokens          = 4000
	DefaultMaxFunctionCalls   = 5
	DefaultToolResultMaxChars = 4000
	DefaultCollection         = "chat_memory"
	DefaultK                  = 3
	DefaultWorkers            = 4
	DefaultSummaryMaxChars    = 1000
	DefaultTimeoutSeconds     = 60
	DefaultMaxRetries         = 2
	DefaultServerAddr         = "127.0.0.1:18790"
	DefaultSessionIdleMinutes = 60
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}
