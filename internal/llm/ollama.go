package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const ollamaDefaultURL = "http://localhost:11434"

// OllamaClient talks to a local or remote Ollama server.
type OllamaClient struct {
	name    string
	baseURL string
	client  *api.Client
}

// NewOllamaClient creates a new Ollama client.
// baseURL should be like "http://localhost:11434"
func NewOllamaClient(name, baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	u, err := url.Parse(baseURL)
	if err != nil {
		u, _ = url.Parse(ollamaDefaultURL)
	}
	return &OllamaClient{
		name:    name,
		baseURL: baseURL,
		client:  api.NewClient(u, &http.Client{Timeout: 120 * time.Second}),
	}
}

func (o *OllamaClient) Name() string { return o.name }

// Complete sends a non-streaming chat request.
func (o *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, api.Message{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	var result api.ChatResponse
	err := o.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		result = r
		return nil
	})
	if err != nil {
		return nil, o.wrapError(err)
	}

	return &CompletionResponse{
		Content:    result.Message.Content,
		StopReason: result.DoneReason,
		Model:      req.Model,
		Usage: Usage{
			InputTokens:  result.PromptEvalCount,
			OutputTokens: result.EvalCount,
		},
		Duration: time.Since(start),
	}, nil
}

// Embed implements Embedder via /api/embed.
func (o *OllamaClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, o.wrapError(err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Embeddings[0], nil
}

func (o *OllamaClient) wrapError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &ProviderError{
			Provider: o.name,
			Code:     statusErr.StatusCode,
			Message:  fmt.Sprintf("API error (%d): %s", statusErr.StatusCode, statusErr.ErrorMessage),
		}
	}
	return &ProviderError{Provider: o.name, Message: fmt.Sprintf("request to %s failed: %v", o.baseURL, err)}
}
