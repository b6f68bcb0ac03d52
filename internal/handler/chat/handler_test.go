package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	chatmodel "github.com/zhouzirui/z-parlor/backend/internal/model/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/model/role"
	chatservice "github.com/zhouzirui/z-parlor/backend/internal/service/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/service/gateway"
	"github.com/zhouzirui/z-parlor/backend/internal/service/guard"
	"github.com/zhouzirui/z-parlor/backend/internal/service/memory"
	"github.com/zhouzirui/z-parlor/backend/internal/service/turn"
)

type fixedModel struct {
	reply string
}

func (m fixedModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m fixedModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(m.reply, nil)}), nil
}

func (m fixedModel) BindTools(tools []*schema.ToolInfo) error { return nil }

func setupRouter(t *testing.T, reply string) (*chi.Mux, *chatservice.Service) {
	t.Helper()

	durable, err := memory.OpenBadgerInMemory()
	if err != nil {
		t.Fatalf("OpenBadgerInMemory err: %v", err)
	}
	t.Cleanup(func() { durable.Close() })

	roles := role.NewMemoryStore(role.Seed())
	chatSvc := chatservice.NewService()
	mem := memory.NewStore(durable, memory.Config{})
	turnSvc := turn.NewService(
		guard.NewService(nil),
		roles,
		chatSvc,
		mem,
		nil,
		gateway.NewService(fixedModel{reply: reply}, time.Second),
		turn.Config{},
	)

	handler := New(chatSvc, turnSvc, mem, roles)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionValidRole(t *testing.T) {
	r, _ := setupRouter(t, "ok")

	resp := postJSON(t, r, "/session", map[string]string{"roleId": "harry-potter"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session chatmodel.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.RoleID != "harry-potter" || session.ID == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestCreateSessionInvalidRole(t *testing.T) {
	r, _ := setupRouter(t, "ok")

	resp := postJSON(t, r, "/session", map[string]string{"roleId": "non-existent"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateSessionMissingRoleID(t *testing.T) {
	r, _ := setupRouter(t, "ok")

	resp := postJSON(t, r, "/session", map[string]string{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestChatSyncTurn(t *testing.T) {
	r, chatSvc := setupRouter(t, "见到你真好 [情感:喜悦][动作:微笑]")
	session, err := chatSvc.CreateSession(context.Background(), "harry-potter")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	resp := postJSON(t, r, "/chat", map[string]string{"sessionId": session.ID, "input": "你好"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result struct {
		Text    string `json:"text"`
		Emotion string `json:"emotion"`
		Action  string `json:"action"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Text != "见到你真好 " {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if result.Emotion != "喜悦" || result.Action != "微笑" {
		t.Fatalf("unexpected labels: emotion=%q action=%q", result.Emotion, result.Action)
	}
}

func TestChatModerationRejected(t *testing.T) {
	r, chatSvc := setupRouter(t, "never")
	session, err := chatSvc.CreateSession(context.Background(), "socrates")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	resp := postJSON(t, r, "/chat", map[string]string{"sessionId": session.ID, "input": "这是敏感内容"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var result struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Allowed || result.Reason == "" {
		t.Fatalf("expected rejection payload, got %+v", result)
	}
}

func TestChatUnknownSession(t *testing.T) {
	r, _ := setupRouter(t, "ok")

	resp := postJSON(t, r, "/chat", map[string]string{"sessionId": "missing", "input": "你好"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	raw := "回答 [情感:平静]"
	r, chatSvc := setupRouter(t, raw)
	session, err := chatSvc.CreateSession(context.Background(), "iron-man")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if resp := postJSON(t, r, "/chat", map[string]string{"sessionId": session.ID, "input": "问题"}); resp.Code != http.StatusOK {
		t.Fatalf("chat failed: %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/session/"+session.ID+"/history", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var payload struct {
		Messages []chatmodel.Message `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(payload.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(payload.Messages))
	}
	if payload.Messages[1].Content != raw {
		t.Fatalf("history must keep raw tags, got %q", payload.Messages[1].Content)
	}

	del := httptest.NewRequest(http.MethodDelete, "/session/"+session.ID+"/history", nil)
	delResp := httptest.NewRecorder()
	r.ServeHTTP(delResp, del)
	if delResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on clear, got %d", delResp.Code)
	}

	again := httptest.NewRecorder()
	r.ServeHTTP(again, httptest.NewRequest(http.MethodGet, "/session/"+session.ID+"/history", nil))
	var cleared struct {
		Messages []chatmodel.Message `json:"messages"`
	}
	if err := json.Unmarshal(again.Body.Bytes(), &cleared); err != nil {
		t.Fatalf("decode cleared history: %v", err)
	}
	if len(cleared.Messages) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(cleared.Messages))
	}
}
