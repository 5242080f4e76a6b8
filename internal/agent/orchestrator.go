package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/recall/internal/domain"
	"github.com/soyeahso/recall/internal/llm"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/soyeahso/recall/internal/metrics"
	"github.com/soyeahso/recall/internal/tokens"
)

// BudgetMessage is the answer given when the call budget runs out before
// the model produced any text of its own.
const BudgetMessage = "I've reached the maximum number of function calls for this conversation."

// SkippedCallMessage is the failed result reported for a call requested
// past the budget within one batch.
const SkippedCallMessage = "function call budget exhausted, call not executed"

const (
	statusSuccess = "Function call successful."
	statusFailure = "Function call failed."
)

// State is a position in the tool-calling loop.
type State int

const (
	AwaitingModel State = iota
	ExecutingTool
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingModel:
		return "awaiting_model"
	case ExecutingTool:
		return "executing_tool"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Caller is the slice of the model gateway the orchestrator needs.
type Caller interface {
	Call(ctx context.Context, role llm.ModelRole, msgs []llm.Message, opts ...llm.CallOption) (*llm.CompletionResponse, error)
}

// Condenser shortens oversized tool results.
type Condenser interface {
	SummarizeText(ctx context.Context, text string) string
}

// BudgetExceededError is returned with a partial Outcome when the model
// keeps requesting tools after the budget is spent.
type BudgetExceededError struct {
	Limit int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("function call budget of %d exhausted", e.Limit)
}

// OrchestratorConfig bounds one agent loop.
type OrchestratorConfig struct {
	MaxFunctionCalls int
	ResultMaxChars   int // results longer than this are condensed; 0 disables
}

// Request is one run of the loop.
type Request struct {
	System   string
	Messages []llm.Message
	Options  []llm.CallOption
}

// ExecutedCall records one tool invocation and its result.
type ExecutedCall struct {
	Call   domain.ToolCall `json:"call"`
	OK     bool            `json:"ok"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Outcome is the result of a run.
type Outcome struct {
	Answer     string         `json:"answer"`
	Calls      []ExecutedCall `json:"calls,omitempty"`
	Iterations int            `json:"iterations"`
	Exhausted  bool           `json:"exhausted,omitempty"`
	Model      string         `json:"model,omitempty"`
	Usage      llm.Usage      `json:"usage"`
}

// Orchestrator runs the bounded tool-calling loop.
type Orchestrator struct {
	caller    Caller
	tools     *ToolRegistry
	cfg       OrchestratorConfig
	condenser Condenser
	metrics   *metrics.Metrics
	log       *logging.Logger
}

// NewOrchestrator creates an Orchestrator. condenser may be nil.
func NewOrchestrator(caller Caller, tools *ToolRegistry, cfg OrchestratorConfig, condenser Condenser, m *metrics.Metrics, log *logging.Logger) *Orchestrator {
	if cfg.MaxFunctionCalls <= 0 {
		cfg.MaxFunctionCalls = 5
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Orchestrator{
		caller:    caller,
		tools:     tools,
		cfg:       cfg,
		condenser: condenser,
		metrics:   m,
		log:       log.Sub("agent"),
	}
}

// Tools returns the registry the orchestrator executes from.
func (o *Orchestrator) Tools() *ToolRegistry { return o.tools }

// Run drives the loop until the model answers without requesting tools.
// Cancellation is observed between iterations only. When the model asks
// for a tool after MaxFunctionCalls calls have run, Run returns the
// partial Outcome together with a *BudgetExceededError.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	msgs := append([]llm.Message(nil), req.Messages...)
	opts := make([]llm.CallOption, 0, len(req.Options)+2)
	if req.System != "" {
		opts = append(opts, llm.WithSystem(req.System))
	}
	if defs := o.tools.Definitions(); len(defs) > 0 {
		opts = append(opts, llm.WithTools(defs))
	}
	opts = append(opts, req.Options...)

	out := &Outcome{}
	state := AwaitingModel
	var pending []parsedCall

	for state != Done {
		switch state {
		case AwaitingModel:
			if err := ctx.Err(); err != nil {
				return out, err
			}
			out.Iterations++
			resp, err := o.caller.Call(ctx, llm.AgentRole, msgs, opts...)
			if err != nil {
				return out, fmt.Errorf("agent call: %w", err)
			}
			out.Model = resp.Model
			out.Usage.InputTokens += resp.Usage.InputTokens
			out.Usage.OutputTokens += resp.Usage.OutputTokens

			calls, text := parseResponse(resp)
			if len(calls) == 0 {
				out.Answer = text
				if out.Answer == "" {
					out.Answer = strings.TrimSpace(resp.Content)
				}
				state = Done
				continue
			}

			if len(out.Calls) >= o.cfg.MaxFunctionCalls {
				out.Exhausted = true
				out.Answer = text
				if out.Answer == "" {
					out.Answer = BudgetMessage
				}
				o.metrics.ObserveBudgetExhausted()
				o.log.Warn().
					Int("limit", o.cfg.MaxFunctionCalls).
					Int("requested", len(calls)).
					Msg("function call budget exhausted")
				return out, &BudgetExceededError{Limit: o.cfg.MaxFunctionCalls}
			}

			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: assistantContent(resp.Content, calls)})
			pending = calls
			state = ExecutingTool

		case ExecutingTool:
			results := make([]ExecutedCall, 0, len(pending))
			for _, pc := range pending {
				if len(out.Calls) >= o.cfg.MaxFunctionCalls {
					// reported to the model but not counted as executed
					o.log.Debug().Str("tool", pc.Name).Msg("skipping call over budget")
					results = append(results, ExecutedCall{
						Call:  domain.ToolCall{Name: pc.Name, Arguments: pc.Args, CallIndex: len(out.Calls)},
						Error: SkippedCallMessage,
					})
					continue
				}
				ec := o.execute(ctx, pc, len(out.Calls))
				out.Calls = append(out.Calls, ec)
				results = append(results, ec)
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: formatToolResults(results)})
			pending = nil
			state = AwaitingModel
		}
	}

	o.log.Debug().
		Int("iterations", out.Iterations).
		Int("calls", len(out.Calls)).
		Msg("agent loop done")
	return out, nil
}

// execute runs one call. Unknown tools and bad arguments become failed
// results rather than errors.
func (o *Orchestrator) execute(ctx context.Context, pc parsedCall, index int) ExecutedCall {
	ec := ExecutedCall{Call: domain.ToolCall{Name: pc.Name, Arguments: pc.Args, CallIndex: index}}

	tool, ok := o.tools.Get(pc.Name)
	if !ok {
		ec.Error = fmt.Sprintf("unknown tool %q", pc.Name)
		o.metrics.ObserveToolCall(pc.Name, "unknown")
		o.log.Warn().Str("tool", pc.Name).Int("callIndex", index).Msg("model requested unknown tool")
		return ec
	}

	if err := o.tools.Validate(pc.Name, pc.Args); err != nil {
		ec.Error = err.Error()
		o.metrics.ObserveToolCall(pc.Name, "invalid")
		o.log.Warn().Err(err).Str("tool", pc.Name).Int("callIndex", index).Msg("tool arguments rejected")
		return ec
	}

	o.log.Debug().Str("tool", pc.Name).Int("callIndex", index).Msg("executing tool")
	output, err := tool.Execute(ctx, pc.Args)
	if err != nil {
		ec.Error = err.Error()
		o.metrics.ObserveToolCall(pc.Name, "error")
		o.log.Debug().Err(err).Str("tool", pc.Name).Msg("tool failed")
		return ec
	}

	if o.cfg.ResultMaxChars > 0 && o.condenser != nil && tokens.Chars(output) > o.cfg.ResultMaxChars {
		o.log.Debug().Str("tool", pc.Name).Int("chars", tokens.Chars(output)).Msg("condensing tool result")
		output = o.condenser.SummarizeText(ctx, output)
	}

	ec.OK = true
	ec.Output = output
	o.metrics.ObserveToolCall(pc.Name, "ok")
	return ec
}

func assistantContent(content string, calls []parsedCall) string {
	if strings.TrimSpace(content) != "" {
		return content
	}
	rendered := make([]string, len(calls))
	for i, c := range calls {
		rendered[i] = renderCall(c)
	}
	return strings.Join(rendered, "\n")
}

// formatToolResults renders results as the single user message fed back
// to the model.
func formatToolResults(results []ExecutedCall) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if r.OK {
			b.WriteString(statusSuccess)
			fmt.Fprintf(&b, "\nFunction: %s\nResult: %s", r.Call.Name, r.Output)
		} else {
			b.WriteString(statusFailure)
			fmt.Fprintf(&b, "\nFunction: %s\nResult: %s", r.Call.Name, r.Error)
		}
	}
	return b.String()
}
