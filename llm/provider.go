package llm

import "github.com/brinkhollow/ingestor/config"

// NewProvider selects the concrete Client implementation named by
// cfg.Provider, defaulting to Anthropic.
func NewProvider(cfg config.LLMConfig, retryCfg config.RetryConfig) Client {
	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg, retryCfg)
	default:
		return NewAnthropicProvider(cfg, retryCfg)
	}
}
