package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/brinkhollow/ingestor/config"
)

// ChatCompleter is the minimal surface OpenAIProvider depends on, mirroring
// the corpus's pattern of depending on an interface rather than *openai.Client
// directly so tests can substitute a fake backend.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider satisfies Client against an OpenAI-compatible chat
// completion endpoint.
type OpenAIProvider struct {
	client ChatCompleter
	model  string
	retry  config.RetryConfig
}

// NewOpenAIProvider builds a provider from LLM configuration. An empty
// Model falls back to gpt-4o-mini.
func NewOpenAIProvider(cfg config.LLMConfig, retryCfg config.RetryConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.ResolveAPIKey())
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		retry:  retryCfg,
	}
}

func (p *OpenAIProvider) DetectStructure(ctx context.Context, html, url string) (StructureResult, error) {
	raw, err := p.complete(ctx, structureSystemPrompt, structurePrompt(html, url))
	if err != nil {
		return StructureResult{}, fmt.Errorf("openai detectStructure: %w", err)
	}
	return validateStructureJSON(raw)
}

func (p *OpenAIProvider) ExtractContent(ctx context.Context, html, url string) (ContentResult, error) {
	raw, err := p.complete(ctx, contentSystemPrompt, contentPrompt(html, url))
	if err != nil {
		return ContentResult{}, fmt.Errorf("openai extractContent: %w", err)
	}
	return validateContentJSON(raw)
}

func (p *OpenAIProvider) IdentifyArticleLinks(ctx context.Context, candidates []LinkCandidate) ([]string, error) {
	raw, err := p.complete(ctx, linksSystemPrompt, linksPrompt(candidates))
	if err != nil {
		return nil, fmt.Errorf("openai identifyArticleLinks: %w", err)
	}
	return validateLinksJSON(raw, candidates)
}

func (p *OpenAIProvider) complete(ctx context.Context, system, user string) ([]byte, error) {
	var lastErr error
	maxRetries := p.retry.GetMaxRetries()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: p.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, fmt.Errorf("empty response choices")
			}
			return []byte(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if attempt < maxRetries {
			if sleepErr := sleepBackoff(ctx, p.retry, attempt); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr)
}
