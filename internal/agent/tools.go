package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/soyeahso/recall/internal/llm"
)

// Tool is a capability the agent can invoke during a conversation.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// InputSchema returns the JSON Schema for the tool's arguments.
	InputSchema() string

	// Execute runs the tool with validated arguments.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Resolved
}

// ToolRegistry holds available tools and their compiled schemas.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]registeredTool)}
}

// Register adds a tool. The input schema must be valid JSON Schema.
func (r *ToolRegistry) Register(t Tool) error {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(t.InputSchema()), &s); err != nil {
		return fmt.Errorf("tool %s: parse schema: %w", t.Name(), err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return fmt.Errorf("tool %s: resolve schema: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name()]; dup {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.tools[t.Name()] = registeredTool{tool: t, schema: resolved}
	return nil
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	return rt.tool, ok
}

// Validate checks args against the named tool's schema.
func (r *ToolRegistry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := rt.schema.Validate(args); err != nil {
		return &ValidationError{Tool: name, Err: err}
	}
	return nil
}

// Definitions returns model-ready tool definitions sorted by name.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, rt := range r.tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        rt.tool.Name(),
			Description: rt.tool.Description(),
			InputSchema: rt.tool.InputSchema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
