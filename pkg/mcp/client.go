// Package mcp connects agentic task executors to MCP (Model Context
// Protocol) servers and runs tool calls on them.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/flowforge-io/flowforge/pkg/config"
)

const (
	// InitTimeout bounds a single server connection attempt.
	InitTimeout = 30 * time.Second
	// OperationTimeout bounds a single ListTools or CallTool round trip.
	OperationTimeout = 60 * time.Second

	retryBackoffMin = 200 * time.Millisecond
	retryBackoffMax = 1 * time.Second
)

// Client manages MCP SDK sessions for the configured servers.
// Thread-safe: parallel branches may call tools concurrently.
type Client struct {
	servers map[string]config.MCPServerConfig

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	failedServers map[string]string

	toolCache   map[string][]*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	logger *slog.Logger
}

func NewClient(servers map[string]config.MCPServerConfig, logger *slog.Logger) *Client {
	return &Client{
		servers:       servers,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
		logger:        logger.With("component", "mcp"),
	}
}

// Initialize connects to every configured server. Failures are recorded per
// server rather than aborting: a workflow whose agentic tasks never touch
// the broken server still runs.
func (c *Client) Initialize(ctx context.Context) error {
	for serverID := range c.servers {
		if err := c.initializeServer(ctx, serverID); err != nil {
			c.mu.Lock()
			c.failedServers[serverID] = err.Error()
			c.mu.Unlock()
			c.logger.Warn("MCP server failed to initialize", "server", serverID, "error", err)
		}
	}
	return nil
}

func (c *Client) initializeServer(ctx context.Context, serverID string) error {
	c.mu.RLock()
	_, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if exists {
		return nil
	}

	serverCfg, ok := c.servers[serverID]
	if !ok {
		return fmt.Errorf("server %q is not configured", serverID)
	}

	transport, err := createTransport(serverCfg.Transport)
	if err != nil {
		return fmt.Errorf("create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "flowforge", Version: "1.0"}, nil)
	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect to %q: %w", serverID, err)
	}

	c.mu.Lock()
	c.sessions[serverID] = session
	delete(c.failedServers, serverID)
	c.mu.Unlock()

	c.logger.Info("MCP server connected", "server", serverID)
	return nil
}

// InjectSession wires a pre-connected session, for tests using in-memory
// transports.
func (c *Client) InjectSession(serverID string, session *mcpsdk.ClientSession) {
	c.mu.Lock()
	c.sessions[serverID] = session
	c.mu.Unlock()
}

// ListTools returns the tools of one server, cached after the first call.
func (c *Client) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[serverID]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	session, err := c.session(serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	c.toolCacheMu.Lock()
	c.toolCache[serverID] = tools
	c.toolCacheMu.Unlock()
	return tools, nil
}

// CallTool executes one tool call. A transient failure is retried once
// after a jittered backoff.
func (c *Client) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: toolName, Arguments: args}

	result, err := c.callToolOnce(ctx, serverID, params)
	if err == nil {
		return result, nil
	}

	c.logger.Info("MCP call failed, retrying", "server", serverID, "tool", toolName, "error", err)

	backoff := retryBackoffMin + time.Duration(rand.Int64N(int64(retryBackoffMax-retryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result, err = c.callToolOnce(ctx, serverID, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", serverID, toolName, err)
	}
	return result, nil
}

func (c *Client) callToolOnce(ctx context.Context, serverID string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := c.session(serverID)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	return session.CallTool(opCtx, params)
}

func (c *Client) session(serverID string) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, exists := c.sessions[serverID]
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}
	return session, nil
}

// ServerIDs returns every server with an active session.
func (c *Client) ServerIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	return out
}

// FailedServers returns servers that failed to initialize, with reasons.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		out[k] = v
	}
	return out
}

// Close shuts down every session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)

	c.toolCacheMu.Lock()
	c.toolCache = make(map[string][]*mcpsdk.Tool)
	c.toolCacheMu.Unlock()
	return firstErr
}
