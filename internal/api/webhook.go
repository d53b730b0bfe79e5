package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/aibrain/internal/session"
	"github.com/nidhogg/aibrain/internal/workflow"
	"go.uber.org/zap"
)

const whatsappChannel = "whatsapp"

type whatsappMessage struct {
	From      string         `json:"from"`
	Text      string         `json:"text"`
	Type      string         `json:"type"`
	MediaURL  string         `json:"media_url,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

type whatsappReply struct {
	PhoneNumber    string            `json:"phone_number"`
	Message        string            `json:"message"`
	MessageType    string            `json:"message_type"`
	SessionID      string            `json:"session_id"`
	Agent          string            `json:"agent,omitempty"`
	ContextUpdated bool              `json:"context_updated"`
	ActionsTaken   []workflow.Action `json:"actions_taken"`
}

// mediaPrompts turns a media message into text the agents can act on, with
// the acknowledgement sent when they produce nothing.
var mediaPrompts = map[string]struct{ prompt, ack string }{
	"voice":    {"[Voice message received from %s]", "I heard your voice message. Let me process it..."},
	"image":    {"User sent an image: [Image received from %s]", "I can see your image. Let me analyze it..."},
	"document": {"User sent a document: [Document received from %s]", "I received your document. Let me process it..."},
}

func (h *Handler) whatsappWebhook(w http.ResponseWriter, r *http.Request) {
	var msg whatsappMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg.From == "" {
		msg.From = "unknown"
	}
	if msg.Type == "" {
		msg.Type = "text"
	}
	if !h.allow(r.Context(), whatsappChannel, msg.From) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	sessionID := session.ID(whatsappChannel, msg.From)
	if s, err := h.sessions.Resolve(r.Context(), whatsappChannel, msg.From); err != nil {
		h.logger.Warn("resolve whatsapp session", zap.Error(err))
	} else {
		sessionID = s.ID
	}

	reply := whatsappReply{
		PhoneNumber:  msg.From,
		MessageType:  "text",
		SessionID:    sessionID,
		ActionsTaken: []workflow.Action{},
	}

	text, ack := msg.Text, ""
	if msg.Type != "text" {
		media, ok := mediaPrompts[msg.Type]
		if !ok {
			reply.Message = fmt.Sprintf("Sorry, I don't support %s messages yet.", msg.Type)
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "response": reply})
			return
		}
		text, ack = fmt.Sprintf(media.prompt, msg.From), media.ack
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	rctx := withValue(msg.Context, "message_type", msg.Type)
	if msg.MediaURL != "" {
		rctx["media_url"] = msg.MediaURL
	}
	res := h.wf.Process(r.Context(), workflow.Request{
		Message:   text,
		UserID:    msg.From,
		Interface: whatsappChannel,
		SessionID: sessionID,
		Context:   rctx,
	})

	reply.Message = res.Response
	if reply.Message == "" {
		reply.Message = ack
	}
	reply.Agent = res.Agent
	reply.ContextUpdated = res.ContextUpdated
	reply.ActionsTaken = res.ActionsTaken
	h.logger.Info("whatsapp reply",
		zap.String("phone", msg.From),
		zap.String("agent", res.Agent),
		zap.Int("length", len(reply.Message)))
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "response": reply})
}

func (h *Handler) webhookStatus(w http.ResponseWriter, r *http.Request) {
	active, err := h.sessions.Active(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	phones := []string{}
	sessions := make(map[string]session.Session)
	for _, s := range active {
		if s.Channel != whatsappChannel {
			continue
		}
		phones = append(phones, s.ExternalID)
		sessions[s.ID] = s
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interface":        whatsappChannel,
		"active_sessions":  len(phones),
		"phone_numbers":    phones,
		"session_contexts": sessions,
		"status":           "operational",
	})
}

func (h *Handler) clearWhatsApp(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	ok, err := h.sessions.Clear(r.Context(), whatsappChannel, phone)
	if err != nil {
		h.logger.Warn("clear whatsapp session", zap.String("phone", phone), zap.Error(err))
	}
	status := "failed"
	if ok {
		status = "success"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "phone_number": phone})
}
