package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"mcpdock-go/internal/registry"
	"mcpdock-go/internal/secret"
)

const defaultQueryTimeout = 30 * time.Second

// MCPRemote queries tool servers over the MCP protocol. It prefers
// streamable HTTP and falls back to SSE, except when a server record already
// knows which transport answered last time.
type MCPRemote struct {
	logger  *zap.Logger
	secrets *secret.Resolver
	timeout time.Duration
}

// NewMCPRemote creates the production remote client
func NewMCPRemote(logger *zap.Logger, secrets *secret.Resolver, timeout time.Duration) *MCPRemote {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &MCPRemote{
		logger:  logger,
		secrets: secrets,
		timeout: timeout,
	}
}

// ListTools implements Remote
func (r *MCPRemote) ListTools(ctx context.Context, server *registry.ServerRecord) (*Result, error) {
	headers, err := r.secrets.ExpandHeaders(ctx, server.Headers)
	if err != nil {
		return nil, fmt.Errorf("resolving headers for %s: %w", server.Name, err)
	}

	order := []string{TransportStreamableHTTP, TransportSSE}
	if server.Transport == TransportSSE {
		order = []string{TransportSSE, TransportStreamableHTTP}
	}

	var lastErr error
	for _, kind := range order {
		tools, err := r.query(ctx, kind, server.Endpoint, headers)
		if err == nil {
			r.logger.Debug("Remote tool query succeeded",
				zap.String("server", server.Name),
				zap.String("transport", kind),
				zap.Int("tools", len(tools)))
			return &Result{Tools: tools, Transport: kind}, nil
		}

		// An auth refusal means the endpoint answered; trying the other
		// transport would only hit the same refusal.
		if isAuthRequired(err) {
			r.logger.Debug("Remote requires authentication",
				zap.String("server", server.Name),
				zap.String("transport", kind),
				zap.Error(err))
			return nil, fmt.Errorf("%s: %w", kind, ErrAuthRequired)
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.logger.Debug("Transport attempt failed",
			zap.String("server", server.Name),
			zap.String("transport", kind),
			zap.Error(err))
		lastErr = fmt.Errorf("%s: %w", kind, err)
	}

	return nil, lastErr
}

// query runs one connect+initialize+list cycle over a single transport
func (r *MCPRemote) query(ctx context.Context, kind, endpoint string, headers map[string]string) ([]RemoteTool, error) {
	cli, err := r.newClient(kind, endpoint, headers)
	if err != nil {
		return nil, err
	}
	defer cli.Close()

	queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := cli.Start(queryCtx); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "mcpdock",
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	serverInfo, err := cli.Initialize(queryCtx, initRequest)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	// A server without the tools capability legitimately exposes an empty set
	if serverInfo.Capabilities.Tools == nil {
		return nil, nil
	}

	toolsResult, err := cli.ListTools(queryCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	tools := make([]RemoteTool, 0, len(toolsResult.Tools))
	for i := range toolsResult.Tools {
		tool := &toolsResult.Tools[i]
		var paramsJSON string
		if schemaBytes, err := json.Marshal(tool.InputSchema); err == nil {
			paramsJSON = string(schemaBytes)
		}
		tools = append(tools, RemoteTool{
			Name:        tool.Name,
			Description: tool.Description,
			ParamsJSON:  paramsJSON,
		})
	}
	return tools, nil
}

func (r *MCPRemote) newClient(kind, endpoint string, headers map[string]string) (*client.Client, error) {
	switch kind {
	case TransportStreamableHTTP:
		if len(headers) > 0 {
			httpTransport, err := transport.NewStreamableHTTP(endpoint,
				transport.WithHTTPHeaders(headers),
				transport.WithHTTPTimeout(r.timeout))
			if err != nil {
				return nil, fmt.Errorf("failed to create HTTP transport: %w", err)
			}
			return client.NewClient(httpTransport), nil
		}

		httpTransport, err := transport.NewStreamableHTTP(endpoint,
			transport.WithHTTPTimeout(r.timeout))
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP transport: %w", err)
		}
		return client.NewClient(httpTransport), nil

	case TransportSSE:
		if len(headers) > 0 {
			return client.NewSSEMCPClient(endpoint, client.WithHeaders(headers))
		}
		return client.NewSSEMCPClient(endpoint)

	default:
		return nil, fmt.Errorf("unknown transport kind: %s", kind)
	}
}

// isAuthRequired reports whether the error is the remote asking for
// authentication rather than plain unreachability.
func isAuthRequired(err error) bool {
	if err == nil {
		return false
	}
	if client.IsOAuthAuthorizationRequiredError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	markers := []string{
		"401", "unauthorized",
		"403", "forbidden",
		"authorization required",
		"no valid token available",
		"invalid_token",
	}
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
