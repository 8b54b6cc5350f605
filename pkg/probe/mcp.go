package probe

import (
	"context"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// newMCPJungleProber verifies an MCPJungle registry by completing the MCP
// initialize handshake against its streamable HTTP endpoint.
func newMCPJungleProber() Prober {
	return ProberFunc(func(ctx context.Context, fields map[string]string) error {
		var opts []transport.StreamableHTTPCOption
		if token := fields["bearerToken"]; token != "" {
			opts = append(opts, transport.WithHTTPHeaders(map[string]string{
				"Authorization": "Bearer " + token,
			}))
		}

		client, err := mcpclient.NewStreamableHttpClient(fields["serverUrl"], opts...)
		if err != nil {
			return fmt.Errorf("failed to build MCP client: %w", err)
		}
		defer client.Close()

		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("MCP transport failed to start: %w", err)
		}

		req := mcp.InitializeRequest{}
		req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		req.Params.ClientInfo = mcp.Implementation{
			Name:    "relayforge-engine",
			Version: "1.0.0",
		}
		if _, err := client.Initialize(ctx, req); err != nil {
			return fmt.Errorf("MCP initialize failed: %w", err)
		}
		return nil
	})
}
