package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/nidhogg/aibrain/internal/agent"
	"github.com/nidhogg/aibrain/internal/workflow"
	"go.uber.org/zap"
)

type fakeWorkflow struct {
	mu       sync.Mutex
	reqs     []workflow.Request
	response string
	fail     bool
}

func (f *fakeWorkflow) Process(_ context.Context, req workflow.Request) *workflow.Result {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	sid := req.SessionID
	if sid == "" {
		sid = "generated"
	}
	if f.fail {
		return &workflow.Result{Response: "I apologize", Agent: "error_handler", SessionID: sid, Error: "boom", ActionsTaken: []workflow.Action{}}
	}
	return &workflow.Result{
		Response:       f.response,
		Agent:          "personal_assistant",
		SessionID:      sid,
		ContextUpdated: true,
		ActionsTaken:   []workflow.Action{{Tool: "personal_assistant", Action: "direct_response", Success: true}},
	}
}

func (f *fakeWorkflow) Status(context.Context) workflow.Status {
	return workflow.Status{BrainStatus: "multi_agent_operational", Memory: "disabled"}
}

func (f *fakeWorkflow) last() workflow.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeAgents []agent.Info

func (f fakeAgents) Infos() []agent.Info { return f }

type denyAll struct{}

func (denyAll) Allow(context.Context, string) bool { return false }

var roster = fakeAgents{
	{Role: "personal_assistant", Coordinator: true, Status: "active"},
	{Role: "data_analyst", Status: "active"},
}

func newTestServer(t *testing.T, wf *fakeWorkflow, limiter Limiter) *httptest.Server {
	t.Helper()
	h := NewHandler(wf, roster, nil, limiter, zap.NewNop())
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, &fakeWorkflow{}, nil)
	resp := getJSON(t, ts, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "healthy" || body["service"] != ServiceName {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestOrchestrate(t *testing.T) {
	wf := &fakeWorkflow{response: "hello ana"}
	ts := newTestServer(t, wf, nil)

	resp := postJSON(t, ts, "/orchestrate", map[string]interface{}{
		"message": "hi", "user_id": "ana", "interface": "web", "session_id": "s1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res workflow.Result
	decodeJSON(t, resp, &res)
	if res.Response != "hello ana" || res.SessionID != "s1" || !res.ContextUpdated {
		t.Errorf("unexpected result: %+v", res)
	}
	if req := wf.last(); req.Interface != "web" || req.UserID != "ana" {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestOrchestrateDefaults(t *testing.T) {
	wf := &fakeWorkflow{response: "ok"}
	ts := newTestServer(t, wf, nil)
	resp := postJSON(t, ts, "/orchestrate", map[string]string{"message": "hi"})
	resp.Body.Close()
	req := wf.last()
	if req.UserID != "default" || req.Interface != "api" {
		t.Errorf("expected defaults, got %+v", req)
	}
}

func TestOrchestrateValidation(t *testing.T) {
	ts := newTestServer(t, &fakeWorkflow{}, nil)
	resp := postJSON(t, ts, "/orchestrate", map[string]string{"message": "  "})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty message, got %d", resp.StatusCode)
	}

	r, _ := http.Post(ts.URL+"/orchestrate", "application/json", strings.NewReader("{bad"))
	r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", r.StatusCode)
	}
}

func TestRateLimited(t *testing.T) {
	wf := &fakeWorkflow{}
	ts := newTestServer(t, wf, denyAll{})
	for _, path := range []string{"/orchestrate", "/voice/process", "/webhook/whatsapp"} {
		resp := postJSON(t, ts, path, map[string]string{"message": "hi", "transcript": "hi", "from": "+1", "text": "hi"})
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("%s: expected 429, got %d", path, resp.StatusCode)
		}
		var body map[string]string
		decodeJSON(t, resp, &body)
		if body["error"] != "rate limit exceeded" {
			t.Errorf("%s: unexpected body %v", path, body)
		}
	}
	if len(wf.reqs) != 0 {
		t.Error("rate limited requests reached the workflow")
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, &fakeWorkflow{}, nil)
	var st workflow.Status
	decodeJSON(t, getJSON(t, ts, "/status"), &st)
	if st.BrainStatus != "multi_agent_operational" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestAgents(t *testing.T) {
	ts := newTestServer(t, &fakeWorkflow{}, nil)

	var infos []agent.Info
	decodeJSON(t, getJSON(t, ts, "/agents"), &infos)
	if len(infos) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(infos))
	}

	var info agent.Info
	decodeJSON(t, getJSON(t, ts, "/agents/data_analyst"), &info)
	if info.Role != "data_analyst" {
		t.Errorf("unexpected agent: %+v", info)
	}

	resp := getJSON(t, ts, "/agents/hr_director")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestVoiceProcess(t *testing.T) {
	wf := &fakeWorkflow{response: "It is sunny."}
	ts := newTestServer(t, wf, nil)

	resp := postJSON(t, ts, "/voice/process", map[string]string{"transcript": "weather?", "user_id": "ana", "session_id": "v1"})
	var out voiceResponse
	decodeJSON(t, resp, &out)
	if out.Response != "It is sunny." || out.Speak != out.Response || out.SessionID != "v1" {
		t.Errorf("unexpected voice response: %+v", out)
	}
	if wf.last().Interface != "voice" {
		t.Errorf("expected voice interface, got %q", wf.last().Interface)
	}

	var status map[string]interface{}
	decodeJSON(t, getJSON(t, ts, "/voice/status"), &status)
	if status["active_sessions"].(float64) != 1 {
		t.Errorf("unexpected voice status: %v", status)
	}
}

func TestVoiceProcessErrors(t *testing.T) {
	wf := &fakeWorkflow{fail: true}
	ts := newTestServer(t, wf, nil)

	resp := postJSON(t, ts, "/voice/process", map[string]string{"user_id": "ana"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing transcript, got %d", resp.StatusCode)
	}

	var out voiceResponse
	decodeJSON(t, postJSON(t, ts, "/voice/process", map[string]string{"transcript": "hi"}), &out)
	if out.Response != voiceFailureText {
		t.Errorf("expected failure text, got %q", out.Response)
	}
}

type webhookBody struct {
	Status   string        `json:"status"`
	Response whatsappReply `json:"response"`
}

func TestWhatsAppWebhook(t *testing.T) {
	wf := &fakeWorkflow{response: "Got it"}
	ts := newTestServer(t, wf, nil)

	var body webhookBody
	decodeJSON(t, postJSON(t, ts, "/webhook/whatsapp", map[string]string{"from": "+15551234", "text": "remind me"}), &body)
	if body.Status != "success" || body.Response.Message != "Got it" || body.Response.SessionID != "whatsapp_15551234" {
		t.Errorf("unexpected webhook reply: %+v", body)
	}
	req := wf.last()
	if req.Interface != "whatsapp" || req.Context["message_type"] != "text" {
		t.Errorf("unexpected request: %+v", req)
	}

	var status map[string]interface{}
	decodeJSON(t, getJSON(t, ts, "/webhook/status"), &status)
	if status["active_sessions"].(float64) != 1 {
		t.Errorf("unexpected webhook status: %v", status)
	}

	var cleared map[string]string
	decodeJSON(t, postJSON(t, ts, "/webhook/whatsapp/clear/+15551234", nil), &cleared)
	if cleared["status"] != "success" {
		t.Errorf("expected success, got %v", cleared)
	}
	decodeJSON(t, postJSON(t, ts, "/webhook/whatsapp/clear/+15551234", nil), &cleared)
	if cleared["status"] != "failed" {
		t.Errorf("expected failed on second clear, got %v", cleared)
	}
}

func TestWhatsAppMediaTypes(t *testing.T) {
	wf := &fakeWorkflow{}
	ts := newTestServer(t, wf, nil)

	var body webhookBody
	decodeJSON(t, postJSON(t, ts, "/webhook/whatsapp", map[string]string{"from": "+1", "type": "image", "media_url": "http://x/img.png"}), &body)
	if body.Response.Message != "I can see your image. Let me analyze it..." {
		t.Errorf("expected acknowledgement, got %q", body.Response.Message)
	}
	if req := wf.last(); req.Context["media_url"] != "http://x/img.png" || !strings.HasPrefix(req.Message, "User sent an image") {
		t.Errorf("unexpected request: %+v", req)
	}

	n := len(wf.reqs)
	decodeJSON(t, postJSON(t, ts, "/webhook/whatsapp", map[string]string{"from": "+1", "type": "sticker"}), &body)
	if body.Response.Message != "Sorry, I don't support sticker messages yet." {
		t.Errorf("unexpected reply: %q", body.Response.Message)
	}
	if len(wf.reqs) != n {
		t.Error("unsupported type reached the workflow")
	}
}

func dialWS(t *testing.T, ts *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) outFrame {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f outFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, f inFrame) {
	t.Helper()
	if err := conn.WriteJSON(f); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketConversation(t *testing.T) {
	wf := &fakeWorkflow{response: "hi there"}
	ts := newTestServer(t, wf, nil)
	conn := dialWS(t, ts, "ana")

	welcome := readFrame(t, conn)
	if welcome.Type != frameStatus || !strings.HasPrefix(welcome.SessionID, "ws_ana_") {
		t.Fatalf("unexpected welcome: %+v", welcome)
	}

	writeFrame(t, conn, inFrame{Type: "text", Content: "hello"})
	resp := readFrame(t, conn)
	if resp.Type != frameResponse || resp.Content != "hi there" || resp.SessionID != welcome.SessionID {
		t.Errorf("unexpected response: %+v", resp)
	}
	if req := wf.last(); req.Interface != "chat" || req.UserID != "ana" || req.SessionID != welcome.SessionID {
		t.Errorf("unexpected request: %+v", req)
	}

	writeFrame(t, conn, inFrame{Type: "voice", Content: "hello"})
	resp = readFrame(t, conn)
	if resp.Type != frameVoiceOut {
		t.Errorf("expected voice_response, got %+v", resp)
	}
	if v, _ := wf.last().Context["audio_input"].(bool); !v {
		t.Error("expected audio_input in context")
	}

	writeFrame(t, conn, inFrame{Type: "command", Content: "agents"})
	resp = readFrame(t, conn)
	if resp.Content != "Available agents: data_analyst, personal_assistant (primary)" {
		t.Errorf("unexpected agents frame: %q", resp.Content)
	}

	writeFrame(t, conn, inFrame{Type: "command", Content: "clear"})
	if resp = readFrame(t, conn); resp.Content != "Session context cleared" {
		t.Errorf("unexpected clear frame: %+v", resp)
	}

	writeFrame(t, conn, inFrame{Type: "command", Content: "dance"})
	if resp = readFrame(t, conn); resp.Type != frameError || resp.Content != "Unknown command: dance" {
		t.Errorf("unexpected frame: %+v", resp)
	}

	writeFrame(t, conn, inFrame{Type: "status"})
	if resp = readFrame(t, conn); resp.Type != frameStatus || !strings.Contains(resp.Content, "multi_agent_operational") {
		t.Errorf("unexpected status frame: %+v", resp)
	}

	writeFrame(t, conn, inFrame{Type: "video"})
	if resp = readFrame(t, conn); resp.Type != frameError || resp.Content != "Unknown message type: video" {
		t.Errorf("unexpected frame: %+v", resp)
	}

	var status map[string]interface{}
	decodeJSON(t, getJSON(t, ts, "/ws/status"), &status)
	if status["active_connections"].(float64) != 1 {
		t.Errorf("unexpected ws status: %v", status)
	}
}

func TestWebSocketInvalidFrame(t *testing.T) {
	ts := newTestServer(t, &fakeWorkflow{}, nil)
	conn := dialWS(t, ts, "bo")
	readFrame(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if resp := readFrame(t, conn); resp.Type != frameError || resp.Content != "Invalid message format" {
		t.Errorf("unexpected frame: %+v", resp)
	}
}

func TestWebSocketSessionsAreDistinct(t *testing.T) {
	ts := newTestServer(t, &fakeWorkflow{}, nil)
	a := readFrame(t, dialWS(t, ts, "ana"))
	b := readFrame(t, dialWS(t, ts, "ana"))
	if a.SessionID == b.SessionID {
		t.Errorf("expected distinct sessions, both %q", a.SessionID)
	}
}
