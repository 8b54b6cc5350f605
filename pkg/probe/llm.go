package probe

import (
	"context"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenRouterBase = "https://openrouter.ai/api/v1"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
)

// newOpenRouterProber verifies an OpenRouter key by listing models, the
// cheapest authenticated call the gateway offers.
func newOpenRouterProber() Prober {
	return ProberFunc(func(ctx context.Context, fields map[string]string) error {
		cfg := openai.DefaultConfig(fields["apiKey"])
		cfg.BaseURL = baseOrDefault(fields, "baseUrl", defaultOpenRouterBase)
		client := openai.NewClientWithConfig(cfg)

		if _, err := client.ListModels(ctx); err != nil {
			return fmt.Errorf("model listing failed: %w", err)
		}
		return nil
	})
}

// newAnthropicProber verifies an Anthropic key with a single-token message.
// Anthropic has no unauthenticated-cheap listing endpoint, so this is the
// smallest call that exercises the key.
func newAnthropicProber() Prober {
	return ProberFunc(func(ctx context.Context, fields map[string]string) error {
		opts := []anthropic.ClientOption{}
		if base := fields["baseUrl"]; base != "" {
			opts = append(opts, anthropic.WithBaseURL(base))
		}
		client := anthropic.NewClient(fields["apiKey"], opts...)

		model := fields["model"]
		if model == "" {
			model = defaultAnthropicModel
		}

		_, err := client.CreateMessages(ctx, anthropic.MessagesRequest{
			Model:     anthropic.Model(model),
			MaxTokens: 1,
			Messages: []anthropic.Message{
				anthropic.NewUserTextMessage("ping"),
			},
		})
		if err != nil {
			return fmt.Errorf("message call failed: %w", err)
		}
		return nil
	})
}
