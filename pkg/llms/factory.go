package llms

import (
	"fmt"

	"github.com/seclens/seclens/pkg/config"
)

// NewProvider constructs the provider named by the config.
func NewProvider(cfg config.ModelConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s (supported: openai, anthropic)", cfg.Provider)
	}
}
