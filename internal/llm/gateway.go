package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/soyeahso/recall/internal/config"
	"github.com/soyeahso/recall/internal/logging"
	"github.com/soyeahso/recall/internal/metrics"
)

// ModelRole names the purpose a model is called for.
type ModelRole string

const (
	ChatRole      ModelRole = "chat"
	SummaryRole   ModelRole = "summary"
	EmbeddingRole ModelRole = "embedding"
	AgentRole     ModelRole = "agent"
)

// RoleConfig selects the provider and model for one role.
// Fallbacks are provider names, optionally "provider/model".
type RoleConfig struct {
	Provider    string
	Model       string
	Fallbacks   []string
	Temperature *float64
	MaxTokens   int
}

// GatewayConfig controls retry and timeout behavior.
type GatewayConfig struct {
	Roles          map[ModelRole]RoleConfig
	Timeout        time.Duration // per attempt
	MaxRetries     int           // extra attempts after the first
	InitialBackoff time.Duration
}

// GatewayConfigFrom converts the models section of the config file.
func GatewayConfigFrom(cfg config.ModelsConfig) GatewayConfig {
	conv := func(e config.RoleEntry) RoleConfig {
		return RoleConfig{
			Provider:    e.Provider,
			Model:       e.Model,
			Fallbacks:   e.Fallbacks,
			Temperature: e.Temperature,
			MaxTokens:   e.MaxTokens,
		}
	}
	gc := GatewayConfig{
		Roles: map[ModelRole]RoleConfig{
			ChatRole:      conv(cfg.Roles.Chat),
			SummaryRole:   conv(cfg.Roles.Summary),
			EmbeddingRole: conv(cfg.Roles.Embedding),
			AgentRole:     conv(cfg.Roles.Agent),
		},
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxRetries: cfg.MaxRetries,
	}
	// Summary and agent default to the chat model when not configured.
	for _, role := range []ModelRole{SummaryRole, AgentRole} {
		if gc.Roles[role].Provider == "" {
			gc.Roles[role] = gc.Roles[ChatRole]
		}
	}
	return gc
}

// CallOption adjusts a single Gateway call.
type CallOption func(*callOptions)

type callOptions struct {
	temperature *float64
	maxTokens   int
	system      string
	model       string
	tools       []ToolDefinition
}

func WithTemperature(t float64) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}

func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) { o.maxTokens = n }
}

func WithSystem(s string) CallOption {
	return func(o *callOptions) { o.system = s }
}

// WithModel overrides the role's primary model.
func WithModel(m string) CallOption {
	return func(o *callOptions) { o.model = m }
}

func WithTools(tools []ToolDefinition) CallOption {
	return func(o *callOptions) { o.tools = tools }
}

// Gateway is the single entry point for model calls. It resolves a role to
// its provider chain and applies timeout, retry and failover.
type Gateway struct {
	registry *Registry
	cfg      GatewayConfig
	metrics  *metrics.Metrics
	log      *logging.Logger
}

// NewGateway creates a Gateway over the given provider registry.
func NewGateway(registry *Registry, cfg GatewayConfig, m *metrics.Metrics, log *logging.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(config.DefaultTimeoutSeconds) * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Gateway{
		registry: registry,
		cfg:      cfg,
		metrics:  m,
		log:      log.Sub("llm.gateway"),
	}
}

// Role returns the configuration for a role.
func (g *Gateway) Role(role ModelRole) (RoleConfig, bool) {
	rc, ok := g.cfg.Roles[role]
	return rc, ok && rc.Provider != ""
}

// Call sends messages to the model configured for role.
func (g *Gateway) Call(ctx context.Context, role ModelRole, msgs []Message, opts ...CallOption) (*CompletionResponse, error) {
	rc, ok := g.Role(role)
	if !ok {
		return nil, &UpstreamError{Role: string(role), Err: errors.New("no provider configured")}
	}

	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	req := CompletionRequest{
		System:      o.system,
		Messages:    msgs,
		Tools:       o.tools,
		MaxTokens:   rc.MaxTokens,
		Temperature: rc.Temperature,
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}
	if o.temperature != nil {
		req.Temperature = o.temperature
	}
	if o.model != "" {
		rc.Model = o.model
	}

	return run(ctx, g, role, rc, func(ctx context.Context, t target) (*CompletionResponse, error) {
		r := req
		r.Model = t.model
		resp, err := t.client.Complete(ctx, r)
		if err != nil {
			return nil, err
		}
		if resp == nil || (strings.TrimSpace(resp.Content) == "" && len(resp.ToolCalls) == 0) {
			return nil, ErrEmptyResponse
		}
		if resp.Model == "" {
			resp.Model = t.model
		}
		resp.Provider = t.provider
		return resp, nil
	})
}

// Embed returns the embedding vector for text using the embedding role.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	rc, ok := g.Role(EmbeddingRole)
	if !ok {
		return nil, &UpstreamError{Role: string(EmbeddingRole), Err: errors.New("no provider configured")}
	}
	return run(ctx, g, EmbeddingRole, rc, func(ctx context.Context, t target) ([]float32, error) {
		emb, ok := t.client.(Embedder)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", t.provider)
		}
		vec, err := emb.Embed(ctx, t.model, text)
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, ErrEmptyResponse
		}
		return vec, nil
	})
}

// target is one provider/model pair in a role's failover chain.
type target struct {
	provider string
	model    string
	client   Client
}

// targets expands a role into its failover chain. Fallback entries may
// carry their own model as "provider/model"; otherwise the role's model is used.
func (g *Gateway) targets(rc RoleConfig) ([]target, error) {
	refs := append([]string{rc.Provider}, rc.Fallbacks...)
	out := make([]target, 0, len(refs))
	var lastErr error
	for i, ref := range refs {
		provider, model := ref, rc.Model
		if i > 0 {
			if p, m, ok := strings.Cut(ref, "/"); ok {
				provider, model = p, m
			}
		}
		client, err := g.registry.Resolve(provider)
		if err != nil {
			g.log.Debug().Str("provider", provider).Err(err).Msg("no client for provider, skipping")
			lastErr = err
			continue
		}
		out = append(out, target{provider: provider, model: model, client: client})
	}
	if len(out) == 0 {
		return nil, lastErr
	}
	return out, nil
}

// run drives one gateway operation: bounded exponential retry around a
// failover pass over the role's targets, each call under its own timeout.
func run[T any](ctx context.Context, g *Gateway, role ModelRole, rc RoleConfig, call func(context.Context, target) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	targets, err := g.targets(rc)
	if err != nil {
		g.metrics.ObserveGateway(string(role), "error", time.Since(start))
		return zero, &UpstreamError{Role: string(role), Model: rc.Model, Err: err}
	}

	attempts := 0
	lastModel := rc.Model
	op := func() (T, error) {
		attempts++
		if attempts > 1 {
			g.metrics.ObserveRetry(string(role))
		}

		var lastErr error
		for _, t := range targets {
			if err := ctx.Err(); err != nil {
				return zero, backoff.Permanent(err)
			}
			lastModel = t.model

			attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
			res, err := call(attemptCtx, t)
			cancel()
			if err == nil {
				return res, nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return zero, backoff.Permanent(ctx.Err())
			}
			if !isRetryable(err) {
				return zero, backoff.Permanent(err)
			}
			g.log.Warn().
				Str("role", string(role)).
				Str("provider", t.provider).
				Str("model", t.model).
				Err(err).
				Msg("retryable error, trying next provider")
		}
		return zero, lastErr
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.InitialBackoff

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(g.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			g.log.Debug().Str("role", string(role)).Dur("wait", d).Err(err).Msg("retrying model call")
		}),
	)
	if err == nil {
		g.metrics.ObserveGateway(string(role), "ok", time.Since(start))
		return res, nil
	}

	if ctx.Err() != nil {
		g.metrics.ObserveGateway(string(role), "canceled", time.Since(start))
		return zero, ctx.Err()
	}

	transient := isRetryable(err)
	outcome := "error"
	if transient {
		outcome = "transient"
	}
	g.metrics.ObserveGateway(string(role), outcome, time.Since(start))
	g.log.Error().
		Str("role", string(role)).
		Str("model", lastModel).
		Int("attempts", attempts).
		Bool("transient", transient).
		Err(err).
		Msg("model call failed")
	return zero, &UpstreamError{
		Role:      string(role),
		Model:     lastModel,
		Attempts:  attempts,
		Transient: transient,
		Err:       err,
	}
}
