package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatmodel "github.com/zhouzirui/z-parlor/backend/internal/model/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/model/role"
	chatService "github.com/zhouzirui/z-parlor/backend/internal/service/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/service/gateway"
	"github.com/zhouzirui/z-parlor/backend/internal/service/memory"
	"github.com/zhouzirui/z-parlor/backend/internal/service/turn"
	"github.com/zhouzirui/z-parlor/backend/pkg/utils"
)

// Handler 会话与同步对话的HTTP处理器
type Handler struct {
	chatSvc   *chatService.Service
	turnSvc   *turn.Service
	memory    *memory.Store
	roleStore role.Store
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, turnSvc *turn.Service, mem *memory.Store, roleStore role.Store) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		turnSvc:   turnSvc,
		memory:    mem,
		roleStore: roleStore,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}/history", h.handleGetHistory)
	r.Delete("/session/{sessionID}/history", h.handleClearHistory)
	r.Post("/chat", h.handleChat)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RoleID string `json:"roleId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.RoleID == "" {
		utils.RespondError(w, http.StatusBadRequest, "roleId is required")
		return
	}

	if _, ok := h.roleStore.FindByID(payload.RoleID); !ok {
		utils.RespondError(w, http.StatusBadRequest, "role not found")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.RoleID)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetHistory 返回会话的持久化历史（原始文本，标签未剥离）
func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	messages, err := h.memory.History(r.Context(), sessionID, 0)
	if err != nil {
		log.Printf("[chat] history load failed: session=%s err=%v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"messages":  messages,
	})
}

// handleClearHistory 清空会话历史（两级存储）
func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := h.memory.Clear(r.Context(), sessionID); err != nil {
		log.Printf("[chat] history clear failed: session=%s err=%v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to clear history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleChat 同步执行一轮对话
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID   string   `json:"sessionId"`
		Input       string   `json:"input"`
		Temperature *float32 `json:"temperature,omitempty"`
		TopP        *float32 `json:"topP,omitempty"`
		MaxTokens   *int     `json:"maxTokens,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" || payload.Input == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId and input are required")
		return
	}

	result, err := h.turnSvc.Respond(r.Context(), turn.Request{
		SessionID: payload.SessionID,
		Input:     payload.Input,
		Params: chatmodel.SamplingParams{
			Temperature: payload.Temperature,
			TopP:        payload.TopP,
			MaxTokens:   payload.MaxTokens,
		},
	})
	if err != nil {
		h.respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"text":    result.Text,
		"emotion": result.Emotion,
		"action":  result.Action,
	})
}

func (h *Handler) respondTurnError(w http.ResponseWriter, err error) {
	var rejected *turn.RejectedError
	switch {
	case errors.As(err, &rejected):
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"allowed": false,
			"reason":  rejected.Reason,
		})
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, gateway.ErrModelTimeout):
		utils.RespondError(w, http.StatusGatewayTimeout, "model timed out")
	case errors.Is(err, gateway.ErrModelUnavailable):
		utils.RespondError(w, http.StatusBadGateway, "model unavailable")
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
