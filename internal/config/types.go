package config

// Config is the root configuration for recall.
type Config struct {
	History HistoryConfig `yaml:"history,omitempty"`
	Agent   AgentConfig   `yaml:"agent,omitempty"`
	Memory  MemoryConfig  `yaml:"memory,omitempty"`
	Models  ModelsConfig  `yaml:"models,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Server  ServerConfig  `yaml:"server,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// HistoryConfig bounds the live conversation kept in the prompt.
type HistoryConfig struct {
	MaxHistoryPairs int    `yaml:"maxHistoryPairs,omitempty"`
	MaxCharacters   int    `yaml:"maxCharacters,omitempty"`
	MaxTokens       int    `yaml:"maxTokens,omitempty"`
	TokenizerModel  string `yaml:"tokenizerModel,omitempty"` // tiktoken model name used for counting
}

// AgentConfig controls the tool-calling loop.
type AgentConfig struct {
	MaxFunctionCalls   int    `yaml:"maxFunctionCalls,omitempty"`
	ToolResultMaxChars int    `yaml:"toolResultMaxChars,omitempty"` // longer tool results are summarized
	Name               string `yaml:"name,omitempty"`
	SystemPrompt       string `yaml:"systemPrompt,omitempty"`
}

// MemoryConfig configures the vector memory store.
type MemoryConfig struct {
	Backend         string  `yaml:"backend,omitempty"` // "memory" | "sqlite" | "postgres"
	CollectionName  string  `yaml:"collectionName,omitempty"`
	EmbeddingModel  string  `yaml:"embeddingModel,omitempty"`
	K               int     `yaml:"k,omitempty"`
	MinScore        float64 `yaml:"minScore,omitempty"`
	Workers         int     `yaml:"workers,omitempty"` // concurrent embeddings during bulk inserts
	PostgresURL     string  `yaml:"postgresUrl,omitempty"`
	SummaryMaxChars int     `yaml:"summaryMaxChars,omitempty"` // truncation fallback length
}

// ModelsConfig defines model providers and the role each model plays.
type ModelsConfig struct {
	Providers      map[string]ModelProviderEntry `yaml:"providers,omitempty"`
	Roles          RolesConfig                   `yaml:"roles,omitempty"`
	TimeoutSeconds int                           `yaml:"timeoutSeconds,omitempty"`
	MaxRetries     int                           `yaml:"maxRetries,omitempty"`
}

// ModelProviderEntry defines a model provider.
type ModelProviderEntry struct {
	Type    string   `yaml:"type"` // "anthropic" | "gemini" | "openai" | "ollama"
	BaseURL string   `yaml:"baseUrl,omitempty"`
	APIKey  string   `yaml:"apiKey,omitempty"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// RolesConfig assigns a model to each gateway role.
type RolesConfig struct {
	Chat      RoleEntry `yaml:"chat,omitempty"`
	Summary   RoleEntry `yaml:"summary,omitempty"`
	Embedding RoleEntry `yaml:"embedding,omitempty"`
	Agent     RoleEntry `yaml:"agent,omitempty"`
}

// RoleEntry selects a provider and model plus default hyperparameters.
type RoleEntry struct {
	Provider    string   `yaml:"provider,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Fallbacks   []string `yaml:"fallbacks,omitempty"` // "provider" or "provider/model", tried in order on retryable errors
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket server.
type ServerConfig struct {
	Addr           string   `yaml:"addr,omitempty"`
	Token          string   `yaml:"token,omitempty"` // bearer token; empty disables auth
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
	TLSCertPath    string   `yaml:"tlsCertPath,omitempty"`
	TLSKeyPath     string   `yaml:"tlsKeyPath,omitempty"`

	SessionIdleMinutes int `yaml:"sessionIdleMinutes,omitempty"` // live sessions unused this long are ended
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Format string `yaml:"format,omitempty"` // "console" | "json"
}
