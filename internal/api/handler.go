// Package api serves the brain over HTTP: the orchestration endpoint, the
// voice and WhatsApp-style webhooks, and a WebSocket chat surface.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"
	"github.com/nidhogg/aibrain/internal/agent"
	"github.com/nidhogg/aibrain/internal/session"
	"github.com/nidhogg/aibrain/internal/workflow"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServiceName is reported by /health.
const ServiceName = "aibrain"

// Workflow is the part of workflow.Workflow the API drives.
type Workflow interface {
	Process(ctx context.Context, req workflow.Request) *workflow.Result
	Status(ctx context.Context) workflow.Status
}

// AgentLister describes the agent roster.
type AgentLister interface {
	Infos() []agent.Info
}

// Limiter decides whether key may make another request now.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	wf       Workflow
	agents   AgentLister
	sessions session.Registry
	limiter  Limiter
	ws       *hub
	voice    voiceSessions
	logger   *zap.Logger
}

// NewHandler creates a new API handler. sessions defaults to an in-process
// registry; limiter may be nil.
func NewHandler(wf Workflow, agents AgentLister, sessions session.Registry, limiter Limiter, logger *zap.Logger) *Handler {
	if sessions == nil {
		sessions = session.NewMemory()
	}
	return &Handler{
		wf:       wf,
		agents:   agents,
		sessions: sessions,
		limiter:  limiter,
		ws:       newHub(),
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Post("/orchestrate", h.orchestrate)
	r.Get("/health", h.healthCheck)
	r.Get("/status", h.status)
	r.Get("/agents", h.listAgents)
	r.Get("/agents/{role}", h.getAgent)

	r.Post("/voice/process", h.voiceProcess)
	r.Get("/voice/status", h.voiceStatus)

	r.Get("/ws/status", h.wsStatus)
	r.Get("/ws/{userID}", h.wsConnect)

	r.Post("/webhook/whatsapp", h.whatsappWebhook)
	r.Get("/webhook/status", h.webhookStatus)
	r.Post("/webhook/whatsapp/clear/{phone}", h.clearWhatsApp)

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.wf.Status(r.Context()))
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	infos := h.agents.Infos()
	if infos == nil {
		infos = []agent.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	for _, info := range h.agents.Infos() {
		if info.Role == role {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, http.StatusNotFound, agent.ErrAgentNotFound.Error())
}

type orchestrateRequest struct {
	Message   string         `json:"message"`
	UserID    string         `json:"user_id"`
	Interface string         `json:"interface"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func (h *Handler) orchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" {
		req.UserID = "default"
	}
	if req.Interface == "" {
		req.Interface = string(workflow.InterfaceAPI)
	}
	if !h.allow(r.Context(), "api", req.UserID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	res := h.wf.Process(r.Context(), workflow.Request{
		Message:   req.Message,
		UserID:    req.UserID,
		Interface: req.Interface,
		SessionID: req.SessionID,
		Context:   req.Context,
	})
	writeJSON(w, http.StatusOK, res)
}

// allow applies the per-user rate limit for one surface.
func (h *Handler) allow(ctx context.Context, surface, user string) bool {
	if h.limiter == nil {
		return true
	}
	if h.limiter.Allow(ctx, surface+":"+user) {
		return true
	}
	h.logger.Info("rate limited", zap.String("surface", surface), zap.String("user", user))
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
