package memory

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// stubService serves the smart_memory tool from a LocalBridge, wrapping
// replies the way the hosted service does.
type stubService struct {
	mu    sync.Mutex
	local *LocalBridge
	ids   []string
	sse   bool
}

func (s *stubService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/mcp" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req rpcRequest
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.ids = append(s.ids, req.ID)
	s.mu.Unlock()

	name, _ := req.Params["name"].(string)
	args, _ := req.Params["arguments"].(map[string]any)
	result, err := s.local.Call(r.Context(), name, args)

	var reply map[string]any
	if err != nil {
		reply = map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32000, "message": err.Error()}}
	} else {
		text, _ := json.Marshal(result)
		reply = map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{
			"content": []any{map[string]any{"type": "text", "text": string(text)}},
		}}
	}
	raw, _ := json.Marshal(reply)

	if s.sse {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message\ndata: [DONE]\ndata: "+string(raw)+"\n\n")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func TestRemoteRoundTrip(t *testing.T) {
	for _, sse := range []bool{false, true} {
		name := "json"
		if sse {
			name = "sse"
		}
		t.Run(name, func(t *testing.T) {
			svc := &stubService{local: NewLocalBridge(), sse: sse}
			srv := httptest.NewServer(svc)
			defer srv.Close()

			client := NewClient(NewRemoteBridge(srv.URL, time.Second, zap.NewNop()), Options{}, zap.NewNop())
			ctx := context.Background()

			entity, err := client.Remember(ctx, "personal_assistant", "User prefers morning meetings", "")
			if err != nil {
				t.Fatalf("remember: %v", err)
			}
			recs, err := client.Search(ctx, "morning meetings", 5, "")
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if len(recs) != 1 || recs[0].EntityName != entity {
				t.Fatalf("expected %s, got %+v", entity, recs)
			}
			if !client.Health(ctx) {
				t.Error("expected healthy memory")
			}

			svc.mu.Lock()
			defer svc.mu.Unlock()
			if len(svc.ids) != 3 || svc.ids[0] != "brain-1" || svc.ids[2] != "brain-3" {
				t.Errorf("unexpected request ids %v", svc.ids)
			}
		})
	}
}

func TestRemoteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewRemoteBridge(srv.URL, time.Second, zap.NewNop())
	_, err := b.Call(context.Background(), ToolSmartMemory, map[string]any{"action": "stats"})
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Fatalf("expected HTTP status error, got %v", err)
	}

	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"jsonrpc":"2.0","id":"brain-1","error":{"code":-32601,"message":"unknown tool"}}`)
	}))
	defer rpc.Close()

	b = NewRemoteBridge(rpc.URL, time.Second, zap.NewNop())
	_, err = b.Call(context.Background(), "nope", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestRemoteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(NewRemoteBridge(srv.URL, 50*time.Millisecond, zap.NewNop()), Options{Timeout: 50 * time.Millisecond}, zap.NewNop())
	start := time.Now()
	if _, err := client.Stats(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout not honoured: %v", time.Since(start))
	}
}

func TestDecodeBodyFallbacks(t *testing.T) {
	v := decodeBody("text/plain", []byte("not json"))
	if m, ok := v.(map[string]any); !ok || m["content"] != "not json" {
		t.Errorf("expected content fallback, got %v", v)
	}
	v = decodeBody("text/event-stream", []byte("data: [DONE]\n"))
	if m, ok := v.(map[string]any); !ok || m["content"] == nil {
		t.Errorf("expected content fallback for empty stream, got %v", v)
	}
}
