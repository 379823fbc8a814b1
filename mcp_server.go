package sublimechain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sublime-labs/sublimechain/pkg/mcp"
)

// MCPServer adapts an MCP client session to the ToolServer contract so its
// tools can be merged into the registry under a server-qualified name.
type MCPServer struct {
	name   string
	client *mcp.Client
}

// NewMCPServer wraps an already-connected client.
func NewMCPServer(name string, client *mcp.Client) *MCPServer {
	return &MCPServer{name: strings.TrimSpace(name), client: client}
}

// ConnectMCPServer spawns the server process and performs the handshake. An
// error here means the server is simply left out of the registry; the caller
// decides whether that is worth more than a warning.
func ConnectMCPServer(ctx context.Context, name, command string, args, env []string) (*MCPServer, error) {
	client, err := mcp.Spawn(ctx, mcp.SpawnConfig{
		Command: command,
		Args:    args,
		Env:     env,
		Options: mcp.Options{ClientInfo: mcp.ClientInfo{Name: "sublimechain"}},
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	return NewMCPServer(name, client), nil
}

func (s *MCPServer) Name() string { return s.name }

func (s *MCPServer) Tools(ctx context.Context) ([]ToolSpec, error) {
	descriptors, err := s.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	specs := make([]ToolSpec, 0, len(descriptors))
	for _, d := range descriptors {
		specs = append(specs, ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return specs, nil
}

func (s *MCPServer) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	return s.client.CallTool(ctx, tool, args)
}

func (s *MCPServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.client.Shutdown(ctx)
	return s.client.Close()
}

var _ ToolServer = (*MCPServer)(nil)
