package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/model/role"
	chatservice "github.com/zhouzirui/z-parlor/backend/internal/service/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/service/gateway"
	"github.com/zhouzirui/z-parlor/backend/internal/service/guard"
	"github.com/zhouzirui/z-parlor/backend/internal/service/memory"
	"github.com/zhouzirui/z-parlor/backend/internal/service/turn"
)

type chunkedModel struct {
	chunks []string
}

func (m chunkedModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return schema.AssistantMessage(strings.Join(m.chunks, ""), nil), nil
}

func (m chunkedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	messages := make([]*schema.Message, 0, len(m.chunks))
	for _, chunk := range m.chunks {
		messages = append(messages, schema.AssistantMessage(chunk, nil))
	}
	return schema.StreamReaderFromArray(messages), nil
}

func (m chunkedModel) BindTools(tools []*schema.ToolInfo) error { return nil }

func setupHandler(t *testing.T, chunks []string) (*Handler, string) {
	t.Helper()

	chatSvc := chatservice.NewService()
	session, err := chatSvc.CreateSession(context.Background(), "harry-potter")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	durable, err := memory.OpenBadgerInMemory()
	if err != nil {
		t.Fatalf("OpenBadgerInMemory err: %v", err)
	}
	t.Cleanup(func() { durable.Close() })

	turnSvc := turn.NewService(
		guard.NewService(nil),
		role.NewMemoryStore(role.Seed()),
		chatSvc,
		memory.NewStore(durable, memory.Config{}),
		nil,
		gateway.NewService(chunkedModel{chunks: chunks}, time.Second),
		turn.Config{},
	)
	return New(turnSvc), session.ID
}

// parseFrames decodes every data: line of an SSE body into a loose map.
func parseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestStreamDeliversOrderedFrames(t *testing.T) {
	handler, sessionID := setupHandler(t, []string{"你好 [情感:", "喜悦] 世界"})

	resp := httptest.NewRecorder()
	if err := handler.HandleStreamRequest(context.Background(), resp, sessionID, "在吗"); err != nil {
		t.Fatalf("HandleStreamRequest err: %v", err)
	}

	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	frames := parseFrames(t, resp.Body.String())
	if len(frames) == 0 {
		t.Fatal("expected frames")
	}

	last := frames[len(frames)-1]
	if last["event"] != string(chat.EventDone) {
		t.Fatalf("terminal frame must be done, got %v", last)
	}

	var text strings.Builder
	emotion := ""
	for _, frame := range frames[:len(frames)-1] {
		switch frame["event"] {
		case string(chat.EventToken):
			text.WriteString(frame["text"].(string))
		case string(chat.EventEmotion):
			emotion = frame["label"].(string)
		case string(chat.EventDone), string(chat.EventError):
			t.Fatalf("terminal frame before end: %v", frame)
		}
	}
	if text.String() != "你好  世界" {
		t.Fatalf("unexpected text %q", text.String())
	}
	if emotion != "喜悦" {
		t.Fatalf("unexpected emotion %q", emotion)
	}
}

func TestStreamRejectionFrame(t *testing.T) {
	handler, sessionID := setupHandler(t, []string{"never"})

	resp := httptest.NewRecorder()
	if err := handler.HandleStreamRequest(context.Background(), resp, sessionID, "这是敏感内容"); err != nil {
		t.Fatalf("rejection is not a transport error, got %v", err)
	}

	frames := parseFrames(t, resp.Body.String())
	if len(frames) != 1 {
		t.Fatalf("expected single rejection frame, got %d", len(frames))
	}
	if frames[0]["event"] != "rejected" || frames[0]["allowed"] != false {
		t.Fatalf("unexpected frame: %v", frames[0])
	}
}

func TestStreamUnknownSession(t *testing.T) {
	handler, _ := setupHandler(t, []string{"x"})

	resp := httptest.NewRecorder()
	if err := handler.HandleStreamRequest(context.Background(), resp, "missing", "你好"); err == nil {
		t.Fatal("expected error for unknown session")
	}

	frames := parseFrames(t, resp.Body.String())
	if len(frames) != 1 || frames[0]["event"] != string(chat.EventError) {
		t.Fatalf("expected single error frame, got %v", frames)
	}
}
