package broker

import (
	"context"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
)

const (
	defaultOpenRouterBase  = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "openrouter/auto"
	defaultAnthropicModel  = "claude-sonnet-4-20250514"
	defaultMaxTokens       = 4096
)

// openRouterIntegration runs chat completions through the OpenRouter gateway.
type openRouterIntegration struct{}

func (openRouterIntegration) Invoke(ctx context.Context, bundle *credcache.Bundle, inv Invocation) (*InvocationResult, error) {
	cfg := openai.DefaultConfig(bundle.Fields["apiKey"])
	cfg.BaseURL = baseOrDefault(bundle.Fields, "baseUrl", defaultOpenRouterBase)
	client := openai.NewClientWithConfig(cfg)

	model := optionString(inv.Options, "model")
	if model == "" {
		model = bundle.Fields["model"]
	}
	if model == "" {
		model = defaultOpenRouterModel
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: inv.Input},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return &InvocationResult{
		Output: resp.Choices[0].Message.Content,
		Metadata: map[string]any{
			"model":             resp.Model,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	}, nil
}

// anthropicIntegration runs messages through the Anthropic API directly.
type anthropicIntegration struct{}

func (anthropicIntegration) Invoke(ctx context.Context, bundle *credcache.Bundle, inv Invocation) (*InvocationResult, error) {
	opts := []anthropic.ClientOption{}
	if base := bundle.Fields["baseUrl"]; base != "" {
		opts = append(opts, anthropic.WithBaseURL(base))
	}
	client := anthropic.NewClient(bundle.Fields["apiKey"], opts...)

	model := optionString(inv.Options, "model")
	if model == "" {
		model = bundle.Fields["model"]
	}
	if model == "" {
		model = defaultAnthropicModel
	}

	resp, err := client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(inv.Input),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("message call failed: %w", err)
	}

	return &InvocationResult{
		Output: resp.GetFirstContentText(),
		Metadata: map[string]any{
			"model":         string(resp.Model),
			"output_tokens": resp.Usage.OutputTokens,
		},
	}, nil
}
