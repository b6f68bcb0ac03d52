package ws

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/z-parlor/backend/internal/service/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/service/turn"
)

// Handler WebSocket对话处理器。一个连接绑定一个会话，可连续发起多轮
// 对话；每轮的事件帧与SSE流完全一致。
type Handler struct {
	turnSvc  *turn.Service
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(turnSvc *turn.Service, chatSvc *chatservice.Service) *Handler {
	return &Handler{
		turnSvc: turnSvc,
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Message string `json:"message"`
}

type rejectedFrame struct {
	Event   string `json:"event"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: session=%s err=%v", sessionID, err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] connection established: session=%s", sessionID)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read failed: session=%s err=%v", sessionID, err)
			}
			return
		}
		if inbound.Message == "" {
			if err := conn.WriteJSON(chat.ErrorEvent("bad-request", "message is required")); err != nil {
				return
			}
			continue
		}

		if !h.runTurn(r, conn, sessionID, inbound.Message) {
			return
		}
	}
}

// runTurn executes one streamed turn and forwards every event frame.
// Returns false when the connection is no longer writable.
func (h *Handler) runTurn(r *http.Request, conn *websocket.Conn, sessionID, message string) bool {
	events, err := h.turnSvc.Stream(r.Context(), turn.Request{SessionID: sessionID, Input: message})
	if err != nil {
		var rejected *turn.RejectedError
		if errors.As(err, &rejected) {
			return conn.WriteJSON(rejectedFrame{Event: "rejected", Reason: rejected.Reason}) == nil
		}
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			conn.WriteJSON(chat.ErrorEvent("session-not-found", "session not found"))
			return false
		}
		log.Printf("[ws] turn setup failed: session=%s err=%v", sessionID, err)
		return conn.WriteJSON(chat.ErrorEvent(turn.KindModelUnavailable, "failed to start turn")) == nil
	}

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("[ws] write failed: session=%s err=%v", sessionID, err)
			// drain so the producer can persist and shut down
			for range events {
			}
			return false
		}
	}
	return true
}
