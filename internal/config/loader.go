package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Server.Token = expandEnvVars(cfg.Server.Token)
	cfg.Memory.PostgresURL = expandEnvVars(cfg.Memory.PostgresURL)
	for name, provider := range cfg.Models.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		provider.BaseURL = expandEnvVars(provider.BaseURL)
		cfg.Models.Providers[name] = provider
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.History.MaxHistoryPairs == 0 {
		cfg.History.MaxHistoryPairs = DefaultMaxHistoryPairs
	}
	if cfg.History.MaxCharacters == 0 {
		cfg.History.MaxCharacters = DefaultMaxCharacters
	}
	if cfg.History.MaxTokens == 0 {
		cfg.History.MaxTokens = DefaultMaxTokens
	}
	if cfg.History.TokenizerModel == "" {
		cfg.History.TokenizerModel = "gpt-4o-mini"
	}
	if cfg.Agent.MaxFunctionCalls == 0 {
		cfg.Agent.MaxFunctionCalls = DefaultMaxFunctionCalls
	}
	if cfg.Agent.ToolResultMaxChars == 0 {
		cfg.Agent.ToolResultMaxChars = DefaultToolResultMaxChars
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "Recall"
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "sqlite"
	}
	if cfg.Memory.CollectionName == "" {
		cfg.Memory.CollectionName = DefaultCollection
	}
	if cfg.Memory.K == 0 {
		cfg.Memory.K = DefaultK
	}
	if cfg.Memory.Workers == 0 {
		cfg.Memory.Workers = DefaultWorkers
	}
	if cfg.Memory.SummaryMaxChars == 0 {
		cfg.Memory.SummaryMaxChars = DefaultSummaryMaxChars
	}
	if cfg.Models.TimeoutSeconds == 0 {
		cfg.Models.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.Models.MaxRetries == 0 {
		cfg.Models.MaxRetries = DefaultMaxRetries
	}
	if cfg.Memory.EmbeddingModel == "" && cfg.Models.Roles.Embedding.Model != "" {
		cfg.Memory.EmbeddingModel = cfg.Models.Roles.Embedding.Model
	}
	if cfg.Models.Roles.Embedding.Model == "" && cfg.Memory.EmbeddingModel != "" {
		cfg.Models.Roles.Embedding.Model = cfg.Memory.EmbeddingModel
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Server.SessionIdleMinutes == 0 {
		cfg.Server.SessionIdleMinutes = DefaultSessionIdleMinutes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// applyEnvOverrides reads RECALL_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt("RECALL_MAX_HISTORY_PAIRS", &cfg.History.MaxHistoryPairs)
	setInt("RECALL_MAX_CHARACTERS", &cfg.History.MaxCharacters)
	setInt("RECALL_MAX_TOKENS", &cfg.History.MaxTokens)
	setInt("RECALL_MAX_FUNCTION_CALLS", &cfg.Agent.MaxFunctionCalls)
	setInt("RECALL_MEMORY_K", &cfg.Memory.K)
	setInt("RECALL_SESSION_IDLE_MINUTES", &cfg.Server.SessionIdleMinutes)

	if v := os.Getenv("RECALL_MEMORY_BACKEND"); v != "" {
		cfg.Memory.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RECALL_POSTGRES_URL"); v != "" {
		cfg.Memory.PostgresURL = v
	}
	if v := os.Getenv("RECALL_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RECALL_SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RECALL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
}
