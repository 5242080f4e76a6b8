package llm

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"
)

// GeminiClient implements Client and Embedder over the Gemini API.
type GeminiClient struct {
	name   string
	client *genai.Client
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, name, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{name: name, client: client}, nil
}

func (g *GeminiClient) Name() string { return g.name }

// Complete sends a generateContent request.
func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	contents := make([]*genai.Content, 0, len(req.Messages))
	system := req.System
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, g.wrapError(err)
	}

	out := &CompletionResponse{
		Content:  resp.Text(),
		Model:    req.Model,
		Duration: time.Since(start),
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) > 0 {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	return out, nil
}

// Embed implements Embedder via embedContent.
func (g *GeminiClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(ctx, model, genai.Text(text), nil)
	if err != nil {
		return nil, g.wrapError(err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Embeddings[0].Values, nil
}

func (g *GeminiClient) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: g.name, Code: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &ProviderError{Provider: g.name, Code: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return &ProviderError{Provider: g.name, Message: err.Error()}
}
