package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-parlor/backend/internal/service/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/service/turn"
	"github.com/zhouzirui/z-parlor/backend/pkg/utils"
)

// Handler streams turn events to the client via Server-Sent Events.
type Handler struct {
	turnSvc *turn.Service
}

// New creates a new stream handler
func New(turnSvc *turn.Service) *Handler {
	return &Handler{turnSvc: turnSvc}
}

// HandleStreamRequest runs one streaming turn over SSE. Each event frame
// carries a JSON StreamEvent; the stream ends with exactly one done or
// error frame.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	events, err := h.turnSvc.Stream(ctx, turn.Request{SessionID: sessionID, Input: userMessage})
	if err != nil {
		return h.respondSetupError(w, flusher, sessionID, err)
	}

	utils.SetupSSEHeaders(w)

	for ev := range events {
		utils.SendSSEChunk(w, flusher, ev)
	}

	log.Printf("[stream] closed stream for session=%s", sessionID)
	return nil
}

// respondSetupError maps pre-stream failures onto the same SSE frame
// vocabulary, so clients only parse one shape. A moderation rejection is
// a normal frame, not a transport error.
func (h *Handler) respondSetupError(w http.ResponseWriter, flusher http.Flusher, sessionID string, err error) error {
	utils.SetupSSEHeaders(w)

	var rejected *turn.RejectedError
	switch {
	case errors.As(err, &rejected):
		utils.SendSSEChunk(w, flusher, map[string]any{
			"event":   "rejected",
			"allowed": false,
			"reason":  rejected.Reason,
		})
		log.Printf("[stream] rejected turn for session=%s reason=%s", sessionID, rejected.Reason)
		return nil
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.SendSSEChunk(w, flusher, chat.ErrorEvent("session-not-found", "session not found"))
		return err
	default:
		utils.SendSSEChunk(w, flusher, chat.ErrorEvent(turn.KindModelUnavailable, "failed to start stream"))
		return err
	}
}
