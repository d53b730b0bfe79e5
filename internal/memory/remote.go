package memory

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds one memory call; memory must never stall an agent.
const DefaultTimeout = 500 * time.Millisecond

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

// RemoteBridge calls the memory service's JSON-RPC endpoint at {url}/mcp.
// Replies may be plain JSON or a server-sent event stream.
type RemoteBridge struct {
	endpoint string
	client   *http.Client
	seq      atomic.Uint64
	logger   *zap.Logger
}

// NewRemoteBridge targets the service rooted at baseURL.
func NewRemoteBridge(baseURL string, timeout time.Duration, logger *zap.Logger) *RemoteBridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RemoteBridge{
		endpoint: strings.TrimRight(baseURL, "/") + "/mcp",
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Endpoint returns the URL calls are posted to.
func (b *RemoteBridge) Endpoint() string { return b.endpoint }

// nextID issues request ids brain-1, brain-2, ... unique per bridge.
func (b *RemoteBridge) nextID() string {
	return fmt.Sprintf("brain-%d", b.seq.Add(1))
}

func (b *RemoteBridge) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      b.nextID(),
		Method:  "tools/call",
		Params:  map[string]any{"name": tool, "arguments": args},
	})
	if err != nil {
		return nil, fmt.Errorf("encode memory request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create memory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory call %s: %w", tool, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read memory response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memory call %s: HTTP %d: %s", tool, resp.StatusCode, truncate(string(raw), 200))
	}

	payload := decodeBody(resp.Header.Get("Content-Type"), raw)
	if m, ok := payload.(map[string]any); ok {
		if rpcErr, ok := m["error"]; ok && rpcErr != nil {
			return nil, fmt.Errorf("memory call %s: %s", tool, rpcErrorText(rpcErr))
		}
		if result, ok := m["result"]; ok {
			return result, nil
		}
	}
	return payload, nil
}

func (b *RemoteBridge) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// decodeBody parses a JSON body, or the first JSON data line of an event
// stream. Anything unparseable comes back as {"content": raw}.
func decodeBody(contentType string, raw []byte) any {
	if strings.Contains(contentType, "text/event-stream") {
		scanner := bufio.NewScanner(bytes.NewReader(raw))
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(data), &v); err == nil {
				return v
			}
		}
		return map[string]any{"content": string(raw)}
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"content": string(raw)}
	}
	return v
}

func rpcErrorText(v any) string {
	if m, ok := v.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
