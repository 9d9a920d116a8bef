package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"
)

const (
	DefaultClientName    = "autoflow"
	DefaultClientVersion = "1.0.0"
)

// ToolSpec is a tool as advertised by the plugin.
type ToolSpec struct {
	Name         string
	Description  string
	InputSchema  map[string]any
	OutputSchema map[string]any
}

// Transport is the connection to a loaded plugin, local subprocess or remote.
type Transport interface {
	ListTools(ctx context.Context) ([]ToolSpec, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (any, error)
	Close() error
}

// TransportFactory opens a transport for a classified source.
type TransportFactory func(ctx context.Context, kind SourceKind, source string, env map[string]string) (Transport, error)

// NewMCPTransportFactory returns a factory speaking MCP: stdio to an npx
// subprocess for package sources, streamable HTTP for URL sources.
func NewMCPTransportFactory(clientName, clientVersion string, timeout time.Duration) TransportFactory {
	info := mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}

	return func(ctx context.Context, kind SourceKind, source string, env map[string]string) (Transport, error) {
		var (
			client mcp.Connector
			err    error
		)

		switch kind {
		case SourceNPX:
			config := mcp.StdioTransportConfig{
				ServerParams: mcp.StdioServerParameters{
					Command: "env",
					Args:    npxArgs(source, env),
				},
				Timeout: timeout,
			}
			client, err = mcp.NewStdioClient(config, info)
		case SourceURL:
			client, err = mcp.NewClient(source, info)
		default:
			return nil, fmt.Errorf("%w: unknown source kind %q", ErrInvalidSource, kind)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create MCP client: %w", err)
		}

		if _, err := client.Initialize(ctx, &mcp.InitializeRequest{}); err != nil {
			_ = client.Close()

			return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
		}

		return &mcpTransport{client: client}, nil
	}
}

// npxArgs builds the argument list for `env KEY=VALUE ... npx -y <package>`.
// Keys are sorted so the command line is stable.
func npxArgs(pkg string, env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	args := make([]string, 0, len(keys)+3)
	for _, k := range keys {
		args = append(args, k+"="+env[k])
	}

	return append(args, "npx", "-y", pkg)
}

type mcpTransport struct {
	client mcp.Connector
}

func (t *mcpTransport) ListTools(ctx context.Context) ([]ToolSpec, error) {
	resp, err := t.client.ListTools(ctx, &mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	specs := make([]ToolSpec, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		raw := toMap(tool)

		specs = append(specs, ToolSpec{
			Name:         tool.Name,
			Description:  tool.Description,
			InputSchema:  schemaOf(raw, "inputSchema"),
			OutputSchema: schemaOf(raw, "outputSchema"),
		})
	}

	return specs, nil
}

func (t *mcpTransport) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	req := &mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	resp, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	texts := make([]string, 0, len(resp.Content))
	values := make([]any, 0, len(resp.Content))

	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
			values = append(values, decodeText(text.Text))

			continue
		}

		values = append(values, toMap(content))
	}

	if isError, _ := toMap(resp)["isError"].(bool); isError {
		message := strings.Join(texts, "; ")
		if message == "" {
			message = "tool reported an error"
		}

		return nil, fmt.Errorf("%w: %s", ErrToolFailed, message)
	}

	switch len(values) {
	case 0:
		return map[string]any{}, nil
	case 1:
		return values[0], nil
	default:
		return values, nil
	}
}

func (t *mcpTransport) Close() error {
	return t.client.Close()
}

// decodeText returns JSON text as structured data, anything else as a string.
func decodeText(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}

	return v
}

func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}

	return out
}

func schemaOf(tool map[string]any, key string) map[string]any {
	if schema, ok := tool[key].(map[string]any); ok {
		return schema
	}

	return map[string]any{"type": "object"}
}
