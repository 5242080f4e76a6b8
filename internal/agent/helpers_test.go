package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.Nop()
}

// scriptedCaller answers agent-role calls from a script and summary-role
// calls with a fixed digest.
type scriptedCaller struct {
	mu         sync.Mutex
	agent      func(n int, msgs []llm.Message) (*llm.CompletionResponse, error)
	summary    func(msgs []llm.Message) (*llm.CompletionResponse, error)
	agentCalls int
	lastMsgs   []llm.Message
}

func (c *scriptedCaller) Call(_ context.Context, role llm.ModelRole, msgs []llm.Message, _ ...llm.CallOption) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if role == llm.SummaryRole {
		if c.summary != nil {
			return c.summary(msgs)
		}
		return &llm.CompletionResponse{Content: "summary"}, nil
	}
	n := c.agentCalls
	c.agentCalls++
	c.lastMsgs = append([]llm.Message(nil), msgs...)
	return c.agent(n, msgs)
}

func (c *scriptedCaller) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentCalls
}

func (c *scriptedCaller) last() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMsgs
}

func answer(text string) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: text, Model: "mock-model", Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func echoCall(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: fmt.Sprintf("```tool_call\n{\"tool\": \"echo\", \"input\": {\"text\": %q}}\n```", text),
	}
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echoes input" }
func (echoTool) InputSchema() string {
	return `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"],"additionalProperties":false}`
}
func (echoTool) Execute(_ context.Context, args map[string]any) (string, error) {
	return args["text"].(string), nil
}

type failingTool struct{}

func (failingTool) Name() string        { return "explode" }
func (failingTool) Description() string { return "Always fails" }
func (failingTool) InputSchema() string { return `{"type":"object"}` }
func (failingTool) Execute(context.Context, map[string]any) (string, error) {
	return "", errors.New("kaboom")
}

func testTools(t *testing.T, tools ...Tool) *ToolRegistry {
	t.Helper()
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(echoTool{}))
	for _, tool := range tools {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}

// lettersEmbedder embeds text as letter frequencies.
type lettersEmbedder struct{}

func (lettersEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}
