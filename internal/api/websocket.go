package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/nidhogg/aibrain/internal/session"
	"github.com/nidhogg/aibrain/internal/workflow"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame types.
const (
	frameText     = "text"
	frameVoice    = "voice"
	frameCommand  = "command"
	frameStatus   = "status"
	frameResponse = "response"
	frameVoiceOut = "voice_response"
	frameError    = "error"
)

type inFrame struct {
	Type    string         `json:"type"`
	Content string         `json:"content"`
	Context map[string]any `json:"context,omitempty"`
}

type outFrame struct {
	Type           string            `json:"type"`
	Content        string            `json:"content"`
	SessionID      string            `json:"session_id"`
	Agent          string            `json:"agent,omitempty"`
	ContextUpdated bool              `json:"context_updated"`
	ActionsTaken   []workflow.Action `json:"actions_taken"`
}

// wsConn is one live socket. Writes are serialized.
type wsConn struct {
	*websocket.Conn
	writeMu     sync.Mutex
	sessionID   string
	userID      string
	connectedAt time.Time
	messages    atomic.Int64
}

func (c *wsConn) send(f outFrame) error {
	if f.ActionsTaken == nil {
		f.ActionsTaken = []workflow.Action{}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.WriteMessage(websocket.TextMessage, data)
}

// hub tracks live connections by session id.
type hub struct {
	mu    sync.RWMutex
	conns map[string]*wsConn
	seq   atomic.Int64
}

func newHub() *hub {
	return &hub{conns: make(map[string]*wsConn)}
}

func (h *hub) add(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.sessionID] = c
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

type connInfo struct {
	UserID       string    `json:"user_id"`
	MessageCount int64     `json:"message_count"`
	ConnectedAt  time.Time `json:"connected_at"`
}

func (h *hub) snapshot() map[string]connInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]connInfo, len(h.conns))
	for id, c := range h.conns {
		out[id] = connInfo{UserID: c.userID, MessageCount: c.messages.Load(), ConnectedAt: c.connectedAt}
	}
	return out
}

func (h *Handler) wsConnect(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	external := userID + "_" + strconv.FormatInt(h.ws.seq.Add(1), 10)
	conn := &wsConn{
		Conn:        raw,
		sessionID:   session.ID("ws", external),
		userID:      userID,
		connectedAt: time.Now(),
	}
	h.ws.add(conn)
	h.logger.Info("websocket connected", zap.String("session_id", conn.sessionID))

	defer func() {
		h.ws.remove(conn.sessionID)
		if _, err := h.sessions.Clear(context.Background(), "ws", external); err != nil {
			h.logger.Warn("clear websocket session", zap.Error(err))
		}
		raw.Close()
		h.logger.Info("websocket disconnected", zap.String("session_id", conn.sessionID))
	}()

	if err := conn.send(outFrame{Type: frameStatus, Content: "Connected to AI Brain", SessionID: conn.sessionID}); err != nil {
		return
	}

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read", zap.String("session_id", conn.sessionID), zap.Error(err))
			}
			return
		}
		var in inFrame
		if err := json.Unmarshal(data, &in); err != nil {
			if conn.send(outFrame{Type: frameError, Content: "Invalid message format", SessionID: conn.sessionID}) != nil {
				return
			}
			continue
		}
		conn.messages.Add(1)
		if err := conn.send(h.handleFrame(r.Context(), conn, external, in)); err != nil {
			h.logger.Warn("websocket write", zap.String("session_id", conn.sessionID), zap.Error(err))
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *wsConn, external string, in inFrame) outFrame {
	switch in.Type {
	case frameText, frameVoice:
		if !h.allow(ctx, "ws", conn.userID) {
			return outFrame{Type: frameError, Content: "rate limit exceeded", SessionID: conn.sessionID}
		}
		if _, err := h.sessions.Resolve(ctx, "ws", external); err != nil {
			h.logger.Warn("resolve websocket session", zap.Error(err))
		}
		iface, outType := workflow.InterfaceChat, frameResponse
		rctx := in.Context
		if in.Type == frameVoice {
			iface, outType = workflow.InterfaceVoice, frameVoiceOut
			rctx = withValue(rctx, "audio_input", true)
		}
		res := h.wf.Process(ctx, workflow.Request{
			Message:   in.Content,
			UserID:    conn.userID,
			Interface: string(iface),
			SessionID: conn.sessionID,
			Context:   rctx,
		})
		return outFrame{
			Type:           outType,
			Content:        res.Response,
			SessionID:      conn.sessionID,
			Agent:          res.Agent,
			ContextUpdated: res.ContextUpdated,
			ActionsTaken:   res.ActionsTaken,
		}
	case frameCommand:
		return h.wsCommand(ctx, conn, external, strings.ToLower(strings.TrimSpace(in.Content)))
	case frameStatus:
		return h.wsStatusFrame(ctx, conn)
	}
	return outFrame{Type: frameError, Content: fmt.Sprintf("Unknown message type: %s", in.Type), SessionID: conn.sessionID}
}

func (h *Handler) wsCommand(ctx context.Context, conn *wsConn, external, cmd string) outFrame {
	switch cmd {
	case "status":
		return h.wsStatusFrame(ctx, conn)
	case "clear":
		conn.messages.Store(0)
		if _, err := h.sessions.Clear(ctx, "ws", external); err != nil {
			h.logger.Warn("clear websocket session", zap.Error(err))
		}
		return outFrame{Type: frameStatus, Content: "Session context cleared", SessionID: conn.sessionID}
	case "agents":
		var names []string
		for _, info := range h.agents.Infos() {
			name := info.Role
			if info.Coordinator {
				name += " (primary)"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		content := "No agents available"
		if len(names) > 0 {
			content = "Available agents: " + strings.Join(names, ", ")
		}
		return outFrame{Type: frameStatus, Content: content, SessionID: conn.sessionID}
	}
	return outFrame{Type: frameError, Content: fmt.Sprintf("Unknown command: %s", cmd), SessionID: conn.sessionID}
}

func (h *Handler) wsStatusFrame(ctx context.Context, conn *wsConn) outFrame {
	info := map[string]interface{}{
		"session": map[string]interface{}{
			"id":            conn.sessionID,
			"user_id":       conn.userID,
			"message_count": conn.messages.Load(),
			"connected_at":  conn.connectedAt,
		},
		"brain": h.wf.Status(ctx),
		"websocket": map[string]int{
			"active_connections": h.ws.count(),
		},
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return outFrame{Type: frameError, Content: err.Error(), SessionID: conn.sessionID}
	}
	return outFrame{Type: frameStatus, Content: string(data), SessionID: conn.sessionID}
}

func (h *Handler) wsStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_connections": h.ws.count(),
		"sessions":           h.ws.snapshot(),
	})
}

func withValue(rctx map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(rctx)+1)
	for k, val := range rctx {
		out[k] = val
	}
	out[key] = v
	return out
}
