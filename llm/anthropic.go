package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/brinkhollow/ingestor/config"
)

// AnthropicProvider satisfies Client against the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
	retry  config.RetryConfig
}

// NewAnthropicProvider builds a provider from LLM configuration. An empty
// Model falls back to the latest Claude Sonnet alias.
func NewAnthropicProvider(cfg config.LLMConfig, retryCfg config.RetryConfig) *AnthropicProvider {
	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaude3_5SonnetLatest
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.ResolveAPIKey())}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
		retry:  retryCfg,
	}
}

func (p *AnthropicProvider) DetectStructure(ctx context.Context, html, url string) (StructureResult, error) {
	raw, err := p.complete(ctx, structureSystemPrompt, structurePrompt(html, url))
	if err != nil {
		return StructureResult{}, fmt.Errorf("anthropic detectStructure: %w", err)
	}
	return validateStructureJSON(raw)
}

func (p *AnthropicProvider) ExtractContent(ctx context.Context, html, url string) (ContentResult, error) {
	raw, err := p.complete(ctx, contentSystemPrompt, contentPrompt(html, url))
	if err != nil {
		return ContentResult{}, fmt.Errorf("anthropic extractContent: %w", err)
	}
	return validateContentJSON(raw)
}

func (p *AnthropicProvider) IdentifyArticleLinks(ctx context.Context, candidates []LinkCandidate) ([]string, error) {
	raw, err := p.complete(ctx, linksSystemPrompt, linksPrompt(candidates))
	if err != nil {
		return nil, fmt.Errorf("anthropic identifyArticleLinks: %w", err)
	}
	return validateLinksJSON(raw, candidates)
}

// complete issues a single Messages.New call with exponential-backoff
// retry on any error, returning the first text block's raw bytes.
func (p *AnthropicProvider) complete(ctx context.Context, system, user string) ([]byte, error) {
	var lastErr error
	maxRetries := p.retry.GetMaxRetries()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     p.model,
			MaxTokens: 2048,
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		})
		if err == nil {
			if len(message.Content) == 0 {
				return nil, fmt.Errorf("empty response content")
			}
			return []byte(message.Content[0].Text), nil
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

// sleepBackoff waits the retry config's exponential delay for attempt, or
// returns ctx.Err() if the context is cancelled first.
func sleepBackoff(ctx context.Context, cfg config.RetryConfig, attempt int) error {
	delay := float64(cfg.GetInitialDelay()) * math.Pow(cfg.GetMultiplier(), float64(attempt))
	if max := float64(cfg.GetMaxDelay()); delay > max {
		delay = max
	}
	select {
	case <-time.After(time.Duration(delay)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
