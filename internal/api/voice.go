package api

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/nidhogg/aibrain/internal/workflow"
	"go.uber.org/zap"
)

const voiceFailureText = "I'm having trouble processing your voice request. Please try again."

type voiceRequest struct {
	Transcript string         `json:"transcript"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

type voiceResponse struct {
	Response       string            `json:"response"`
	Agent          string            `json:"agent"`
	ActionsTaken   []workflow.Action `json:"actions_taken"`
	ContextUpdated bool              `json:"context_updated"`
	SessionID      string            `json:"session_id"`
	// Speak is the text a speech synthesizer should read out.
	Speak string `json:"speak"`
}

// voiceSessions remembers which sessions have used the voice surface.
type voiceSessions struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (v *voiceSessions) add(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ids == nil {
		v.ids = make(map[string]struct{})
	}
	v.ids[id] = struct{}{}
}

func (v *voiceSessions) list() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.ids))
	for id := range v.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (h *Handler) voiceProcess(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeError(w, http.StatusBadRequest, "no transcript provided")
		return
	}
	if req.UserID == "" {
		req.UserID = "default"
	}
	if !h.allow(r.Context(), "voice", req.UserID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	res := h.wf.Process(r.Context(), workflow.Request{
		Message:   req.Transcript,
		UserID:    req.UserID,
		Interface: string(workflow.InterfaceVoice),
		SessionID: req.SessionID,
		Context:   req.Context,
	})
	h.voice.add(res.SessionID)

	out := voiceResponse{
		Response:       res.Response,
		Agent:          res.Agent,
		ActionsTaken:   res.ActionsTaken,
		ContextUpdated: res.ContextUpdated,
		SessionID:      res.SessionID,
	}
	if res.Error != "" {
		h.logger.Warn("voice request failed", zap.String("session_id", res.SessionID), zap.String("error", res.Error))
		out.Response = voiceFailureText
		out.ActionsTaken = []workflow.Action{}
		out.ContextUpdated = false
	}
	out.Speak = out.Response
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) voiceStatus(w http.ResponseWriter, r *http.Request) {
	ids := h.voice.list()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interface":       "voice",
		"active_sessions": len(ids),
		"session_ids":     ids,
		"status":          "operational",
	})
}
