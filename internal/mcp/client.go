// Package mcp talks to Model Context Protocol servers over SSE so their
// tools can be called from reasoning runs.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	protocolVersion = "2024-11-05"
	defaultTimeout  = 30 * time.Second
)

// ErrClosed is returned for calls pending when the client shuts down.
var ErrClosed = errors.New("mcp client closed")

// ToolInfo describes a tool exposed by an MCP server.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// RPCError is a JSON-RPC error returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcReply struct {
	result jsoniter.RawMessage
	err    error
}

// Client is an MCP SSE client. Requests are POSTed to the endpoint the
// server announces; replies arrive on the SSE stream.
type Client struct {
	name    string
	sseURL  string
	rpcURL  string
	http    *http.Client
	timeout time.Duration

	mu      sync.Mutex
	tools   []ToolInfo
	pending map[int]chan rpcReply
	closed  bool

	nextID atomic.Int64
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewClient creates a client for the SSE endpoint at sseURL.
func NewClient(name, sseURL string, logger *zap.Logger) *Client {
	return &Client{
		name:    name,
		sseURL:  sseURL,
		http:    &http.Client{},
		timeout: defaultTimeout,
		pending: make(map[int]chan rpcReply),
		logger:  logger,
	}
}

// Name returns the server name.
func (c *Client) Name() string { return c.name }

// ListTools returns the tools discovered on Connect.
func (c *Client) ListTools() []ToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolInfo(nil), c.tools...)
}

// Connect opens the SSE stream, learns the JSON-RPC endpoint, runs the
// initialize handshake and fetches the tool list.
func (c *Client) Connect(ctx context.Context) error {
	sseCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(sseCtx, http.MethodGet, c.sseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp connect: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp sse status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	endpoint, err := readEndpointEvent(reader)
	if err != nil {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp endpoint event: %w", err)
	}
	c.rpcURL = c.resolveURL(endpoint)
	c.cancel = cancel
	c.logger.Info("MCP endpoint discovered", zap.String("name", c.name), zap.String("rpc", c.rpcURL))

	go c.readSSE(resp.Body, reader)

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return fmt.Errorf("mcp initialize: %w", err)
	}
	if err := c.fetchTools(ctx); err != nil {
		c.Close()
		return fmt.Errorf("mcp list tools: %w", err)
	}
	c.logger.Info("MCP tools discovered", zap.String("name", c.name), zap.Int("count", len(c.ListTools())))
	return nil
}

// sseEvent reads one event from r. It returns io.EOF at the end of the
// stream.
func sseEvent(r *bufio.Reader) (event, data string, err error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			lines = append(lines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "" && (event != "" || len(lines) > 0):
			return event, strings.Join(lines, "\n"), nil
		}
		if err != nil {
			if event != "" || len(lines) > 0 {
				return event, strings.Join(lines, "\n"), nil
			}
			return "", "", err
		}
	}
}

func readEndpointEvent(r *bufio.Reader) (string, error) {
	for {
		event, data, err := sseEvent(r)
		if err != nil {
			if err == io.EOF {
				return "", fmt.Errorf("SSE stream ended without endpoint event")
			}
			return "", err
		}
		if event == "endpoint" {
			return data, nil
		}
	}
}

// resolveURL turns a relative path into an absolute URL based on sseURL.
func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	scheme := strings.Index(c.sseURL, "://")
	host := c.sseURL
	if scheme >= 0 {
		if slash := strings.Index(c.sseURL[scheme+3:], "/"); slash >= 0 {
			host = c.sseURL[:scheme+3+slash]
		}
	}
	return host + "/" + strings.TrimPrefix(path, "/")
}

// readSSE dispatches JSON-RPC replies from the stream to waiting callers
// until the stream ends.
func (c *Client) readSSE(body io.ReadCloser, r *bufio.Reader) {
	defer body.Close()
	defer c.failPending(ErrClosed)
	for {
		event, data, err := sseEvent(r)
		if err != nil {
			return
		}
		if event == "message" || event == "" {
			c.dispatchResponse([]byte(data))
		}
	}
}

// dispatchResponse routes a JSON-RPC response to the caller awaiting its id.
func (c *Client) dispatchResponse(data []byte) {
	var envelope struct {
		ID     *int                `json:"id"`
		Result jsoniter.RawMessage `json:"result"`
		Error  *RPCError           `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.ID == nil {
		c.logger.Debug("mcp: ignoring non-jsonrpc SSE data")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*envelope.ID]
	delete(c.pending, *envelope.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if envelope.Error != nil {
		ch <- rpcReply{err: envelope.Error}
		return
	}
	ch <- rpcReply{result: envelope.Result}
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal rpc: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send rpc: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send rpc: status %d", resp.StatusCode)
	}
	return nil
}

// sendRPC posts a request and waits for its reply on the SSE stream.
func (c *Client) sendRPC(ctx context.Context, method string, params interface{}) (jsoniter.RawMessage, error) {
	id := int(c.nextID.Add(1))
	ch := make(chan rpcReply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	err := c.post(ctx, struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      int         `json:"id"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		forget()
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply.result, reply.err
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("mcp rpc timeout for %s", method)
	}
}

func (c *Client) initialize(ctx context.Context) error {
	_, err := c.sendRPC(ctx, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "aibrain", "version": "1.0.0"},
	})
	if err != nil {
		return err
	}
	return c.post(ctx, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})
}

// fetchTools calls tools/list and caches the result.
func (c *Client) fetchTools(ctx context.Context) error {
	result, err := c.sendRPC(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list: %w", err)
	}
	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	return nil
}

// CallTool invokes a tool and returns its text content joined by newlines.
// A result flagged isError comes back as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := c.sendRPC(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp call %s: %w", name, err)
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &resp); err != nil || len(resp.Content) == 0 {
		return string(result), nil
	}
	var parts []string
	for _, item := range resp.Content {
		if item.Type == "text" || item.Type == "" {
			parts = append(parts, item.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if resp.IsError {
		return "", fmt.Errorf("mcp call %s: %s", name, text)
	}
	return text, nil
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcReply{err: err}
		delete(c.pending, id)
	}
}

// Close stops the SSE reader and fails pending calls.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.failPending(ErrClosed)
	return nil
}
