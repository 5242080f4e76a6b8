package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/metrics"
)

var userMsg = []llm.Message{{Role: llm.RoleUser, Content: "hello"}}

func TestOrchestrator_AnswerWithoutTools(t *testing.T) {
	caller := &scriptedCaller{agent: func(int, []llm.Message) (*llm.CompletionResponse, error) {
		return answer("Hi there!")
	}}
	o := NewOrchestrator(caller, testTools(t), OrchestratorConfig{MaxFunctionCalls: 3}, nil, nil, silentLog())

	out, err := o.Run(context.Background(), Request{System: "sys", Messages: userMsg})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", out.Answer)
	assert.Equal(t, 1, out.Iterations)
	assert.Empty(t, out.Calls)
	assert.Equal(t, "mock-model", out.Model)
	assert.Equal(t, 10, out.Usage.InputTokens)
}

func TestOrchestrator_ExecutesToolAndFeedsResult(t *testing.T) {
	caller := &scriptedCaller{agent: func(n int, _ []llm.Message) (*llm.CompletionResponse, error) {
		if n == 0 {
			return echoCall("ping"), nil
		}
		return answer("The tool said ping.")
	}}
	o := NewOrchestrator(caller, testTools(t), OrchestratorConfig{MaxFunctionCalls: 3}, nil, nil, silentLog())

	out, err := o.Run(context.Background(), Request{Messages: userMsg})
	require.NoError(t, err)
	assert.Equal(t, "The tool said ping.", out.Answer)
	assert.Equal(t, 2, out.Iterations)
	require.Len(t, out.Calls, 1)
	assert.True(t, out.Calls[0].OK)
	assert.Equal(t, 0, out.Calls[0].Call.CallIndex)

	msgs := caller.last()
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, llm.RoleUser, msgs[2].Role)
	assert.Equal(t, "Function call successful.\nFunction: echo\nResult: ping", msgs[2].Content)
}

func TestOrchestrator_BudgetExhausted(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	caller := &scriptedCaller{agent: func(int, []llm.Message) (*llm.CompletionResponse, error) {
		return echoCall("again"), nil
	}}
	o := NewOrchestrator(caller, testTools(t), OrchestratorConfig{MaxFunctionCalls: 3}, nil, m, silentLog())

	out, err := o.Run(context.Background(), Request{Messages: userMsg})
	var be *BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 3, be.Limit)

	require.NotNil(t, out)
	assert.True(t, out.Exhausted)
	assert.Equal(t, BudgetMessage, out.Answer)
	assert.Equal(t, 4, out.Iterations)
	require.Len(t, out.Calls, 3)
	for i, c := range out.Calls {
		assert.Equal(t, i, c.Call.CallIndex)
		assert.Less(t, c.Call.CallIndex, 3)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BudgetExhausted))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("echo", "ok")))
}

func TestOrchestrator_BudgetKeepsPartialText(t *testing.T) {
	caller := &scriptedCaller{agent: func(int, []llm.Message) (*llm.CompletionResponse, error) {
		resp := echoCall("x")
		resp.Content = "Partial thoughts so far.\n\n" + resp.Content
		return resp, nil
	}}
	o := NewOrchestrator(caller, testTools(t), OrchestratorConfig{MaxFunctionCalls: 1}, nil, nil, silentLog())

	out, err := o.Run(context.Background(), Request{Messages: userMsg})
	var be *BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "Partial thoughts so far.", out.Answer)
}

func TestOrchestrator_BatchCappedAtBudget(t *testing.T) {
	caller := &scriptedCaller{agent: func(n int, _ []llm.Message) (*llm.CompletionResponse, error) {
		if n == 0 {
			var parts []string
			for _, s := range []string{"a", "b", "c", "d"} {
				parts = append(parts, echoCall(s).Content)
			}
			return &llm.CompletionResponse{Content: strings.Join(parts, "\n")}, nil
		}
		return answer("done")
	}}
	o := NewOrchestrator(caller, testTools(t), OrchestratorConfig{MaxFunctionCalls: 3}, nil, nil, silentLog())

	out, err := o.Run(context.Background(), Request{Messages: userMsg})
	require.NoError(t, err)
	assert.Equal(t, "done", out.Answer)
	require.Len(t, out.Calls, 3)
	assert.Equal(t, "c", out.Calls[2].Output)

	// the dropped fourth call is reported back instead of vanishing
	msgs := caller.last()
	results := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleUser, results.Role)
	assert.Equal(t, 3, strings.Count(results.Content, statusSuccess))
	assert.Equal(t, 1, strings.Count(results.Content, statusFailure))
	assert.Contains(t, results.Content, SkippedCallMessage)
}

func TestOrchestrator_FailuresConsumeBudget(t *testing.T) {
	m := metrics.New("test", prometheus.NewRegistry())
	caller := &scriptedCaller{agent: func(n int, _ []llm.Message) (*llm.CompletionResponse, error) {
		switch n {
		case 0:
			return &llm.CompletionResponse{Content: `{"function": "nope", "arguments": {}}`}, nil
		case 1:
			return &llm.CompletionResponse{Content: `{"function": "echo", "arguments": {"wrong": 1}}`}, nil
		case 2:
			return &llm.CompletionResponse{Content: `{"function": "explode", "arguments": {}}`}, nil
		}
		return answer("gave up")
	}}
	o := NewOrchestrator(caller, testTools(t, failingTool{}), OrchestratorConfig{MaxFunctionCalls: 5}, nil, m, silentLog())

	out, err := o.Run(context.Background(), Request{Messages: userMsg})
	require.NoError(t, err)
	assert.Equal(t, "gave up", out.Answer)
	require.Len(t, out.Calls, 3)
	for _, c := range out.Calls {
		assert.False(t, c.OK)
		assert.NotEmpty(t, c.Error)
	}
	assert.Contains(t, out.Calls[0].Error, "unknown tool")
	assert.Contains(t, out.Calls[2].Error, "kaboom")

	last := caller.last()
	assert.True(t, strings.HasPrefix(last[len(last)-1].Content, "Function call failed."))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("nope", "unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("echo", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("explode", "error")))
}

func TestOrchestrator_NativeToolCalls(t *testing.T) {
	caller := &scriptedCaller{agent: func(n int, _ []llm.Message) (*llm.CompletionResponse, error) {
		if n == 0 {
			return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "1", Name: "echo", Input: `{"text":"native"}`}}}, nil
		}
		return answer("ok")
	}}
	o := NewOrchestrator(caller, testTools(t), OrchestratorConfig{}, nil, nil, silentLog())

	out, err := o.Run(context.Background(), Request{Messages: userMsg})
	require.NoError(t, err)
	require.Len(t, out.Calls, 1)
	assert.Equal(t, "native", out.Calls[0].Output)

	// the assistant turn carries a readable rendering of the native call
	msgs := caller.last()
	assert.Contains(t, msgs[1].Content, `"tool": "echo"`)
}

type fakeCondenser struct{ calls int }

func (c *fakeCondenser) SummarizeText(context.Context, string) string {
	c.calls++
	return "condensed"
}

func TestOrchestrator_CondensesLargeResults(t *testing.T) {
	long := strings.Repeat("word ", 50)
	caller := &scriptedCaller{agent: func(n int, _ []llm.Message) (*llm.CompletionResponse, error) {
		if n == 0 {
			return echoCall(long), nil
		}
		return answer("ok")
	}}
	cond := &fakeCondenser{}
	o := NewOrchestrator(caller, testTools(t), OrchestratorConfig{ResultMaxChars: 20}, cond, nil, silentLog())

	out, err := o.Run(context.Background(), Request{Messages: userMsg})
	require.NoError(t, err)
	assert.Equal(t, 1, cond.calls)
	assert.Equal(t, "condensed", out.Calls[0].Output)
}

type cancelTool struct{ cancel context.CancelFunc }

func (cancelTool) Name() string        { return "stop" }
func (cancelTool) Description() string { return "cancels the run" }
func (cancelTool) InputSchema() string { return `{"type":"object"}` }
func (c cancelTool) Execute(context.Context, map[string]any) (string, error) {
	c.cancel()
	return "stopped", nil
}

func TestOrchestrator_CancelBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caller := &scriptedCaller{agent: func(int, []llm.Message) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: `{"function": "stop", "arguments": {}}`}, nil
	}}
	o := NewOrchestrator(caller, testTools(t, cancelTool{cancel: cancel}), OrchestratorConfig{}, nil, nil, silentLog())

	out, err := o.Run(ctx, Request{Messages: userMsg})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, caller.calls())
	require.Len(t, out.Calls, 1)
	assert.True(t, out.Calls[0].OK, "the in-flight tool call completes")
}

func TestOrchestrator_GatewayError(t *testing.T) {
	upstream := &llm.UpstreamError{Role: string(llm.AgentRole), Attempts: 3, Transient: true, Err: errors.New("overloaded")}
	caller := &scriptedCaller{agent: func(int, []llm.Message) (*llm.CompletionResponse, error) {
		return nil, upstream
	}}
	o := NewOrchestrator(caller, testTools(t), OrchestratorConfig{}, nil, nil, silentLog())

	_, err := o.Run(context.Background(), Request{Messages: userMsg})
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}

func TestFormatToolResults(t *testing.T) {
	got := formatToolResults([]ExecutedCall{
		{Call: domain.ToolCall{Name: "a"}, OK: true, Output: "1"},
		{Call: domain.ToolCall{Name: "b"}, Error: "bad"},
	})
	assert.Equal(t, "Function call successful.\nFunction: a\nResult: 1\n\nFunction call failed.\nFunction: b\nResult: bad", got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_model", AwaitingModel.String())
	assert.Equal(t, "executing_tool", ExecutingTool.String())
	assert.Equal(t, "done", Done.String())
}
