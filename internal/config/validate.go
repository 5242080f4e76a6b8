package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/soyeahso/recall/internal/logging"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// History limits
	positive := []struct {
		path string
		val  int
	}{
		{"history.maxHistoryPairs", cfg.History.MaxHistoryPairs},
		{"history.maxCharacters", cfg.History.MaxCharacters},
		{"history.maxTokens", cfg.History.MaxTokens},
		{"agent.maxFunctionCalls", cfg.Agent.MaxFunctionCalls},
		{"memory.k", cfg.Memory.K},
		{"memory.workers", cfg.Memory.Workers},
		{"server.sessionIdleMinutes", cfg.Server.SessionIdleMinutes},
	}
	for _, p := range positive {
		if p.val < 0 {
			issues = append(issues, ValidationIssue{
				Path:    p.path,
				Message: fmt.Sprintf("must not be negative, got %d", p.val),
			})
		}
	}

	if cfg.Memory.MinScore < -1 || cfg.Memory.MinScore > 1 {
		issues = append(issues, ValidationIssue{
			Path:    "memory.minScore",
			Message: fmt.Sprintf("must be within [-1, 1], got %v", cfg.Memory.MinScore),
		})
	}

	// Memory backend
	validBackends := []string{"memory", "sqlite", "postgres"}
	if cfg.Memory.Backend != "" && !slices.Contains(validBackends, cfg.Memory.Backend) {
		issues = append(issues, ValidationIssue{
			Path:    "memory.backend",
			Message: fmt.Sprintf("must be one of %v, got %q", validBackends, cfg.Memory.Backend),
		})
	}
	if cfg.Memory.Backend == "postgres" && cfg.Memory.PostgresURL == "" {
		issues = append(issues, ValidationIssue{
			Path:    "memory.postgresUrl",
			Message: "required when memory.backend is postgres",
		})
	}

	// Providers
	validTypes := []string{"anthropic", "gemini", "openai", "ollama"}
	for name, p := range cfg.Models.Providers {
		if !slices.Contains(validTypes, p.Type) {
			issues = append(issues, ValidationIssue{
				Path:    "models.providers." + name + ".type",
				Message: fmt.Sprintf("must be one of %v, got %q", validTypes, p.Type),
			})
			continue
		}
		if p.Type != "ollama" && p.APIKey == "" {
			issues = append(issues, ValidationIssue{
				Path:    "models.providers." + name + ".apiKey",
				Message: "required (except for ollama)",
			})
		}
	}

	// Roles must reference configured providers
	roles := map[string]RoleEntry{
		"chat":      cfg.Models.Roles.Chat,
		"summary":   cfg.Models.Roles.Summary,
		"embedding": cfg.Models.Roles.Embedding,
		"agent":     cfg.Models.Roles.Agent,
	}
	for _, role := range []string{"chat", "summary", "embedding", "agent"} {
		r := roles[role]
		refs := append([]string{r.Provider}, r.Fallbacks...)
		for _, ref := range refs {
			if ref == "" {
				continue
			}
			// fallbacks may name a model as "provider/model"
			ref, _, _ = strings.Cut(ref, "/")
			if _, ok := cfg.Models.Providers[ref]; !ok {
				issues = append(issues, ValidationIssue{
					Path:    "models.roles." + role,
					Message: fmt.Sprintf("unknown provider %q", ref),
				})
			}
		}
		if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
			issues = append(issues, ValidationIssue{
				Path:    "models.roles." + role + ".temperature",
				Message: fmt.Sprintf("must be within [0, 2], got %v", *r.Temperature),
			})
		}
	}
	if p, ok := cfg.Models.Providers[cfg.Models.Roles.Embedding.Provider]; ok && p.Type == "anthropic" {
		issues = append(issues, ValidationIssue{
			Path:    "models.roles.embedding",
			Message: "anthropic provider does not offer embeddings",
		})
	}

	if cfg.Logging.Level != "" && !slices.Contains(logging.Levels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", logging.Levels, cfg.Logging.Level),
		})
	}
	if cfg.Logging.Format != "" && !slices.Contains(logging.Formats, cfg.Logging.Format) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.format",
			Message: fmt.Sprintf("must be one of %v, got %q", logging.Formats, cfg.Logging.Format),
		})
	}

	return issues
}
