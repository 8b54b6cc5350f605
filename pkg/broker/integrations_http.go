package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
)

const (
	defaultArcadeBase    = "https://api.arcade.dev"
	defaultOpenOpsBase   = "https://app.openops.com/api"
	defaultFALBase       = "https://fal.run"
	defaultModelsLabBase = "https://modelslab.com"
)

func baseOrDefault(fields map[string]string, key, fallback string) string {
	if v := fields[key]; v != "" {
		return strings.TrimRight(v, "/")
	}
	return fallback
}

func postJSON(ctx context.Context, url string, headers map[string]string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return string(out), nil
}

func optionString(options map[string]any, key string) string {
	if v, ok := options[key].(string); ok {
		return v
	}
	return ""
}

// arcadeIntegration delegates a tool call to the Arcade platform.
type arcadeIntegration struct{}

func (arcadeIntegration) Invoke(ctx context.Context, bundle *credcache.Bundle, inv Invocation) (*InvocationResult, error) {
	tool := optionString(inv.Options, "tool")
	if tool == "" {
		return nil, fmt.Errorf("delegation via arcade requires a tool option")
	}

	payload := map[string]any{
		"tool_name": tool,
		"input":     map[string]any{"task": inv.Input},
	}
	if userID := bundle.Fields["userId"]; userID != "" {
		payload["user_id"] = userID
	}

	out, err := postJSON(ctx,
		baseOrDefault(bundle.Fields, "baseUrl", defaultArcadeBase)+"/v1/tools/execute",
		map[string]string{"Authorization": "Bearer " + bundle.Fields["apiKey"]},
		payload)
	if err != nil {
		return nil, err
	}
	return &InvocationResult{Output: out, Metadata: map[string]any{"tool": tool}}, nil
}

// openOpsIntegration triggers a workflow in an OpenOps workspace.
type openOpsIntegration struct{}

func (openOpsIntegration) Invoke(ctx context.Context, bundle *credcache.Bundle, inv Invocation) (*InvocationResult, error) {
	workflow := optionString(inv.Options, "workflow")
	if workflow == "" {
		return nil, fmt.Errorf("infrastructure via openops requires a workflow option")
	}

	out, err := postJSON(ctx,
		fmt.Sprintf("%s/v1/workflows/%s/runs", baseOrDefault(bundle.Fields, "baseUrl", defaultOpenOpsBase), workflow),
		map[string]string{"Authorization": "Bearer " + bundle.Fields["apiKey"]},
		map[string]any{
			"workspaceId": bundle.Fields["workspaceId"],
			"input":       inv.Input,
		})
	if err != nil {
		return nil, err
	}
	return &InvocationResult{Output: out, Metadata: map[string]any{"workflow": workflow}}, nil
}

// falIntegration submits a generation request to a FAL model endpoint.
type falIntegration struct{}

func (falIntegration) Invoke(ctx context.Context, bundle *credcache.Bundle, inv Invocation) (*InvocationResult, error) {
	endpoint := optionString(inv.Options, "endpoint")
	if endpoint == "" {
		endpoint = "fal-ai/flux/dev"
	}

	out, err := postJSON(ctx,
		baseOrDefault(bundle.Fields, "baseUrl", defaultFALBase)+"/"+strings.TrimLeft(endpoint, "/"),
		map[string]string{"Authorization": "Key " + bundle.Fields["apiKey"]},
		map[string]any{"prompt": inv.Input})
	if err != nil {
		return nil, err
	}
	return &InvocationResult{Output: out, Metadata: map[string]any{"endpoint": endpoint}}, nil
}

// modelsLabIntegration submits a generation request to ModelsLab.
type modelsLabIntegration struct{}

func (modelsLabIntegration) Invoke(ctx context.Context, bundle *credcache.Bundle, inv Invocation) (*InvocationResult, error) {
	out, err := postJSON(ctx,
		baseOrDefault(bundle.Fields, "baseUrl", defaultModelsLabBase)+"/api/v6/realtime/text2img",
		nil,
		map[string]any{
			"key":    bundle.Fields["apiKey"],
			"prompt": inv.Input,
		})
	if err != nil {
		return nil, err
	}
	return &InvocationResult{Output: out}, nil
}
