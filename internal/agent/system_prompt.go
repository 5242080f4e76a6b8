package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/recall/internal/llm"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	AgentName   string
	Tools       []llm.ToolDefinition
	ExtraPrompt string
	Now         time.Time
}

// BuildSystemPrompt constructs the base system prompt for the agent role.
// The user's profile is appended per turn by the retrieval context.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	name := cfg.AgentName
	if name == "" {
		name = "Recall"
	}
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}

	fmt.Fprintf(&b, "You are %s, a helpful assistant with persistent memory. ", name)
	b.WriteString("Maintain conversation continuity, provide accurate responses, and reference past interactions when relevant.\n\n")
	fmt.Fprintf(&b, "Current date: %s\n", now.Format("2006-01-02"))

	if len(cfg.Tools) > 0 {
		b.WriteString("\n## Available Tools\n\n")
		b.WriteString("You can call a tool by outputting a fenced code block with the language tag `tool_call`:\n\n")
		b.WriteString("```tool_call\n{\"tool\": \"tool_name\", \"input\": {\"param\": \"value\"}}\n```\n\n")
		b.WriteString("After a tool is executed, the result will be provided. You may call several tools before giving your final response.\n\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&b, "### %s\n%s\n", t.Name, t.Description)
			if t.InputSchema != "" {
				fmt.Fprintf(&b, "Input schema: %s\n", compactSchema(t.InputSchema))
			}
			b.WriteString("\n")
		}
	}

	if cfg.ExtraPrompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	return b.String()
}

func compactSchema(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
