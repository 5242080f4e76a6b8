package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/soyeahso/recall/internal/llm"
)

// parsedCall is a tool invocation extracted from a model response.
type parsedCall struct {
	Name string
	Args map[string]any
}

// wireCall covers both accepted text formats:
//
//	{"tool": "name", "input": {...}}
//	{"function": "name", "arguments": {...}}
type wireCall struct {
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input"`
	Function  string          `json:"function"`
	Arguments json.RawMessage `json:"arguments"`
}

// fencedCallRe matches ```tool_call / ```json / bare ``` blocks holding a
// single JSON object.
var fencedCallRe = regexp.MustCompile("(?s)```(?:tool_call|json)?[ \\t]*\\n?\\s*(\\{.*?\\})\\s*```")

// xmlFuncCallRe matches <function_calls>...</function_calls> XML blocks in model output.
var xmlFuncCallRe = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)

// whitespaceLineRe matches lines containing only horizontal whitespace.
var whitespaceLineRe = regexp.MustCompile(`(?m)^[ \t]+$`)

// blankLineCollapseRe collapses 3+ consecutive newlines to a single blank line.
var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// parseResponse returns the tool calls in resp and the response text with
// the call syntax removed. Native tool calls take precedence.
func parseResponse(resp *llm.CompletionResponse) ([]parsedCall, string) {
	calls, text := parseToolCalls(resp.Content)
	if len(resp.ToolCalls) == 0 {
		return calls, text
	}
	native := make([]parsedCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		native = append(native, parsedCall{Name: tc.Name, Args: decodeArgs([]byte(tc.Input))})
	}
	return native, text
}

// parseToolCalls extracts calls from fenced blocks, or from a response that
// is nothing but a call object.
func parseToolCalls(text string) ([]parsedCall, string) {
	var calls []parsedCall
	stripped := fencedCallRe.ReplaceAllStringFunc(text, func(block string) string {
		m := fencedCallRe.FindStringSubmatch(block)
		if c, ok := decodeCall(m[1]); ok {
			calls = append(calls, c)
			return "\n\n"
		}
		return block
	})

	if len(calls) == 0 {
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			if c, ok := decodeCall(trimmed); ok {
				return []parsedCall{c}, ""
			}
		}
	}
	return calls, stripToolCalls(stripped)
}

func decodeCall(raw string) (parsedCall, bool) {
	var w wireCall
	if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &w); err != nil {
		return parsedCall{}, false
	}
	switch {
	case w.Tool != "":
		return parsedCall{Name: w.Tool, Args: decodeArgs(w.Input)}, true
	case w.Function != "":
		return parsedCall{Name: w.Function, Args: decodeArgs(w.Arguments)}, true
	}
	return parsedCall{}, false
}

// decodeArgs accepts an object, a JSON string holding an object, or nothing.
// Anything else yields nil, which schema validation then rejects if the
// tool requires arguments.
func decodeArgs(raw []byte) map[string]any {
	raw = jsonc.ToJSON(raw)
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if err := json.Unmarshal(jsonc.ToJSON([]byte(s)), &args); err == nil {
			return args
		}
	}
	return nil
}

// stripToolCalls removes leftover call syntax and whitespace artifacts.
func stripToolCalls(text string) string {
	cleaned := xmlFuncCallRe.ReplaceAllString(text, "\n\n")
	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// renderCall writes a call back in the fenced format, for assistant turns
// that carried only native calls.
func renderCall(c parsedCall) string {
	args, _ := json.Marshal(c.Args)
	if c.Args == nil {
		args = []byte("{}")
	}
	return fmt.Sprintf("```tool_call\n{\"tool\": %q, \"input\": %s}\n```", c.Name, args)
}
