package broker

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
)

// mcpJungleIntegration calls a tool on an MCPJungle registry. When no tool is
// named, it lists the available tools so the caller can pick one.
type mcpJungleIntegration struct{}

func (mcpJungleIntegration) Invoke(ctx context.Context, bundle *credcache.Bundle, inv Invocation) (*InvocationResult, error) {
	var opts []transport.StreamableHTTPCOption
	if token := bundle.Fields["bearerToken"]; token != "" {
		opts = append(opts, transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}))
	}

	client, err := mcpclient.NewStreamableHttpClient(bundle.Fields["serverUrl"], opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build MCP client: %w", err)
	}
	defer client.Close()

	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("MCP transport failed to start: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "relayforge-engine", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("MCP initialize failed: %w", err)
	}

	tool := optionString(inv.Options, "tool")
	if tool == "" {
		return listTools(ctx, client)
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = tool
	callReq.Params.Arguments = map[string]any{"input": inv.Input}
	result, err := client.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("MCP tool call failed: %w", err)
	}
	if result.IsError {
		return nil, fmt.Errorf("MCP tool %q reported an error", tool)
	}

	var output string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			output += text.Text
		}
	}
	return &InvocationResult{Output: output, Metadata: map[string]any{"tool": tool}}, nil
}

func listTools(ctx context.Context, client *mcpclient.Client) (*InvocationResult, error) {
	tools, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("MCP tool listing failed: %w", err)
	}

	names := make([]string, len(tools.Tools))
	for i, t := range tools.Tools {
		names[i] = t.Name
	}
	out, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool list: %w", err)
	}
	return &InvocationResult{Output: string(out), Metadata: map[string]any{"tools": len(names)}}, nil
}
