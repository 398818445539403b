package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/joescharf/callsage/internal/llm"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// modelConfig reads the model backend settings from config/env.
func modelConfig() llm.Config {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return llm.Config{
		Provider:       viper.GetString("llm.provider"),
		AnthropicKey:   apiKey,
		AnthropicModel: viper.GetString("anthropic.model"),
		GatewayURL:     viper.GetString("gateway.url"),
		GatewayKey:     viper.GetString("gateway.api_key"),
		GatewayModel:   viper.GetString("gateway.model"),
		MaxTokens:      viper.GetInt("llm.max_tokens"),
	}
}

// newModelProvider returns the process-wide model handle. The backend is
// built on first use, so commands that never call the model need no key.
func newModelProvider() *llm.Provider {
	cfg := modelConfig()
	return llm.NewProvider(func() (llm.Model, error) {
		if strings.EqualFold(cfg.Provider, "anthropic") || cfg.Provider == "" {
			if cfg.AnthropicKey == "" {
				return nil, fmt.Errorf("no Anthropic API key: set anthropic.api_key, CALLSAGE_ANTHROPIC_API_KEY or ANTHROPIC_API_KEY")
			}
		}
		return llm.New(cfg)
	})
}
