// Package mcp maintains per-user connections to configured MCP servers and
// exposes their tools to the registry.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/ariavoice/aria/internal/domain"
	"github.com/ariavoice/aria/internal/store"
)

// toolCacheTTL bounds how stale the advertised MCP tool set can be.
const toolCacheTTL = 30 * time.Second

const callTimeout = 60 * time.Second

// ToolDef describes one tool offered by a connected MCP server.
type ToolDef struct {
	Server      string
	Name        string
	Description string
	Schema      json.RawMessage
}

// QualifiedName is the registry-facing tool name, unique across servers.
func (t ToolDef) QualifiedName() string {
	return t.Server + "__" + t.Name
}

// SplitQualifiedName reverses QualifiedName.
func SplitQualifiedName(qualified string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(qualified, "__")
	return
}

// Orchestrator owns one user's MCP connections and tool-schema cache.
// Mutations are guarded by a single lock; the lock is never held across a
// network call on the cached read path.
type Orchestrator struct {
	store  *store.Store
	userID string

	mu      sync.Mutex
	clients map[string]*mcpclient.Client // server name → connected client
	cache   []ToolDef
	cacheAt time.Time
}

func NewOrchestrator(st *store.Store, userID string) *Orchestrator {
	return &Orchestrator{
		store:   st,
		userID:  userID,
		clients: make(map[string]*mcpclient.Client),
	}
}

// Connect establishes clients for every enabled server. Servers that fail
// to connect are logged and skipped; one broken config must not take down
// the rest of the session.
func (o *Orchestrator) Connect(ctx context.Context) error {
	servers, err := o.store.ListEnabledMCPServers(ctx, o.userID)
	if err != nil {
		return fmt.Errorf("load mcp servers: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, srv := range servers {
		if _, ok := o.clients[srv.Name]; ok {
			continue
		}
		cli, err := o.connect(ctx, srv)
		if err != nil {
			slog.Warn("mcp: server connection failed", "server", srv.Name, "error", err)
			continue
		}
		o.clients[srv.Name] = cli
		slog.Info("mcp: server connected", "server", srv.Name, "transport", srv.Transport)
	}
	return nil
}

func (o *Orchestrator) connect(ctx context.Context, srv *domain.MCPServer) (*mcpclient.Client, error) {
	var cli *mcpclient.Client
	var err error

	switch srv.Transport {
	case domain.MCPTransportStdio:
		env := make([]string, 0, len(srv.Env))
		for k, v := range srv.Env {
			env = append(env, k+"="+v)
		}
		cli, err = mcpclient.NewStdioMCPClient(srv.Command, env, srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("stdio client: %w", err)
		}
	case domain.MCPTransportSSE:
		cli, err = mcpclient.NewSSEMCPClient(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("sse client: %w", err)
		}
		if err := cli.Start(ctx); err != nil {
			return nil, fmt.Errorf("start sse client: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown transport %q", srv.Transport)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "aria", Version: "1.0.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		cli.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return cli, nil
}

// Tools returns the union of tools across connected servers. Results are
// cached for toolCacheTTL so the agent loop does not hammer servers on
// every round.
func (o *Orchestrator) Tools(ctx context.Context) ([]ToolDef, error) {
	o.mu.Lock()
	if time.Since(o.cacheAt) < toolCacheTTL && o.cache != nil {
		defs := o.cache
		o.mu.Unlock()
		return defs, nil
	}
	clients := make(map[string]*mcpclient.Client, len(o.clients))
	for name, cli := range o.clients {
		clients[name] = cli
	}
	o.mu.Unlock()

	var defs []ToolDef
	for server, cli := range clients {
		result, err := cli.ListTools(ctx, mcpgo.ListToolsRequest{})
		if err != nil {
			slog.Warn("mcp: list tools failed", "server", server, "error", err)
			continue
		}
		for _, tool := range result.Tools {
			schema, err := json.Marshal(tool.InputSchema)
			if err != nil {
				continue
			}
			defs = append(defs, ToolDef{
				Server:      server,
				Name:        tool.Name,
				Description: tool.Description,
				Schema:      schema,
			})
		}
	}

	o.mu.Lock()
	o.cache = defs
	o.cacheAt = time.Now()
	o.mu.Unlock()
	return defs, nil
}

// CallTool invokes a tool on its server and flattens the text content of
// the result.
func (o *Orchestrator) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	o.mu.Lock()
	cli, ok := o.clients[server]
	o.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mcp server %q not connected: %w", server, domain.ErrMCPUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	result, err := cli.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s/%s: %w: %w", server, tool, domain.ErrMCPUnavailable, err)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(mcpgo.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	out := strings.Join(parts, "\n")
	if result.IsError {
		return "", fmt.Errorf("mcp tool %s/%s failed: %s", server, tool, out)
	}
	return out, nil
}

// Invalidate drops the tool cache, forcing a refresh on next read. Called
// after MCP server config changes.
func (o *Orchestrator) Invalidate() {
	o.mu.Lock()
	o.cache = nil
	o.cacheAt = time.Time{}
	o.mu.Unlock()
}

// Close shuts down every client connection.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, cli := range o.clients {
		if err := cli.Close(); err != nil {
			slog.Warn("mcp: close failed", "server", name, "error", err)
		}
		delete(o.clients, name)
	}
	o.cache = nil
}
