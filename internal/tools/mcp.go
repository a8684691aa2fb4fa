package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/progress"
)

const clientName = "urska"

// MCPSource serves the tools of one MCP server.
type MCPSource struct {
	name   string
	c      *client.Client
	denied map[string]struct{}
	logger *log.Logger

	// progress tokens of in-flight calls, mapped to the caller's context
	pending sync.Map
}

// DialMCP connects to the server described by cfg and performs the MCP handshake.
func DialMCP(ctx context.Context, cfg config.MCPServerConfig, logger *log.Logger) (*MCPSource, error) {
	var (
		c   *client.Client
		err error
	)
	switch strings.ToLower(cfg.Transport) {
	case "stdio":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		c = client.NewClient(transport.NewStdio(cfg.Command, env, cfg.Args...))
	case "sse":
		c, err = client.NewSSEMCPClient(cfg.URL, transport.WithHeaders(cfg.Headers))
	default:
		c, err = client.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
	}
	if err != nil {
		return nil, fmt.Errorf("mcp client %s: %w", cfg.Name, err)
	}
	src, err := NewMCPSource(ctx, cfg.Name, c, cfg.DeniedTools, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return src, nil
}

// NewMCPSource starts and initializes an already constructed client.
func NewMCPSource(ctx context.Context, name string, c *client.Client, denied []string, logger *log.Logger) (*MCPSource, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &MCPSource{name: name, c: c, denied: make(map[string]struct{}, len(denied)), logger: logger}
	for _, d := range denied {
		s.denied[d] = struct{}{}
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcp start %s: %w", name, err)
	}
	c.OnNotification(s.onNotification)

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "1.0.0"}
	res, err := c.Initialize(ctx, init)
	if err != nil {
		return nil, fmt.Errorf("mcp initialize %s: %w", name, err)
	}
	logger.Printf("connected to %s (%s %s)", name, res.ServerInfo.Name, res.ServerInfo.Version)
	return s, nil
}

func (s *MCPSource) Name() string { return s.name }

// ListTools pages through the server's tool list, skipping denied tools.
func (s *MCPSource) ListTools(ctx context.Context) ([]Tool, error) {
	var (
		out []Tool
		req mcp.ListToolsRequest
	)
	for {
		res, err := s.c.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("mcp list tools: %w", err)
		}
		for _, t := range res.Tools {
			if _, skip := s.denied[t.Name]; skip {
				continue
			}
			out = append(out, Tool{
				Server:      s.name,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: inputSchemaOf(t),
			})
		}
		if res.NextCursor == "" {
			return out, nil
		}
		req.Params.Cursor = res.NextCursor
	}
}

// CallTool invokes name. Server progress notifications for the call are
// forwarded to the progress sink carried by ctx.
func (s *MCPSource) CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	if _, denied := s.denied[name]; denied {
		return Result{}, ErrUnknownTool
	}
	var arguments map[string]any
	if err := json.Unmarshal(args, &arguments); err != nil {
		return Result{Content: fmt.Sprintf("invalid arguments for %s: %v", name, err), IsError: true}, nil
	}

	token := uuid.NewString()
	s.pending.Store(token, ctx)
	defer s.pending.Delete(token)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	req.Params.Meta = &mcp.Meta{ProgressToken: token}

	res, err := s.c.CallTool(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: contentText(res.Content), IsError: res.IsError}, nil
}

func (s *MCPSource) Close() error { return s.c.Close() }

func (s *MCPSource) onNotification(n mcp.JSONRPCNotification) {
	fields := n.Params.AdditionalFields
	switch n.Method {
	case "notifications/progress":
		token := fmt.Sprint(fields["progressToken"])
		v, ok := s.pending.Load(token)
		if !ok {
			return
		}
		msg, _ := fields["message"].(string)
		if msg == "" {
			return
		}
		ctx := v.(context.Context)
		progress.Notify(ctx, msg)
	case "notifications/message":
		s.logger.Printf("%s: %v", s.name, fields["data"])
	}
}

func inputSchemaOf(t mcp.Tool) json.RawMessage {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var doc struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc.InputSchema
}

func contentText(contents []mcp.Content) string {
	var parts []string
	for _, c := range contents {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if b, err := json.Marshal(c); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, "\n")
}
