package gateway

import (
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func TestOpenAIRequestMapsRolesAndOptions(t *testing.T) {
	m, err := NewOpenAIChatModel("test-key", "", "gpt-4o-mini")
	require.NoError(t, err)

	temp := float32(0.4)
	maxTokens := 256
	req := m.request([]*schema.Message{
		schema.SystemMessage("系统指令"),
		schema.UserMessage("你好"),
		schema.AssistantMessage("你好呀", nil),
	}, []einomodel.Option{
		einomodel.WithTemperature(temp),
		einomodel.WithMaxTokens(maxTokens),
	})

	require.Equal(t, "gpt-4o-mini", req.Model)
	require.Equal(t, temp, req.Temperature)
	require.Equal(t, maxTokens, req.MaxTokens)

	require.Len(t, req.Messages, 3)
	require.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	require.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	require.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)
	require.Equal(t, "系统指令", req.Messages[0].Content)
}

func TestOpenAIChatModelRequiresKey(t *testing.T) {
	_, err := NewOpenAIChatModel("", "", "gpt-4o-mini")
	require.Error(t, err)
}

func TestOpenAIBindToolsUnsupported(t *testing.T) {
	m, err := NewOpenAIChatModel("test-key", "", "")
	require.NoError(t, err)
	require.Error(t, m.BindTools(nil))
}
