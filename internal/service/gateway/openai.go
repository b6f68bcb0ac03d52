package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"
)

// OpenAIChatModel adapts the go-openai client to the eino chat model
// contract, so OpenAI-compatible endpoints plug into the same gateway
// as the native ark model.
type OpenAIChatModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIChatModel builds a client for an OpenAI-compatible endpoint.
// baseURL may be empty to use the official API.
func NewOpenAIChatModel(apiKey, baseURL, modelName string) (*OpenAIChatModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIChatModel{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
	}, nil
}

// Generate implements einomodel.ChatModel.
func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.request(input, opts))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

// Stream implements einomodel.ChatModel. Chunks are forwarded as
// assistant messages carrying the delta content.
func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	req := m.request(input, opts)
	req.Stream = true

	upstream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion stream: %w", err)
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer writer.Close()
		defer upstream.Close()

		for {
			chunk, err := upstream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				writer.Send(nil, fmt.Errorf("openai stream recv: %w", err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if closed := writer.Send(schema.AssistantMessage(delta, nil), nil); closed {
				log.Printf("[gateway] stream consumer closed, dropping remaining openai chunks")
				return
			}
		}
	}()

	return reader, nil
}

// BindTools implements einomodel.ChatModel. Tool calling is not part of
// the conversational pipeline.
func (m *OpenAIChatModel) BindTools(tools []*schema.ToolInfo) error {
	return fmt.Errorf("openai adapter does not support tool binding")
}

func (m *OpenAIChatModel) request(input []*schema.Message, opts []einomodel.Option) openai.ChatCompletionRequest {
	options := einomodel.GetCommonOptions(&einomodel.Options{}, opts...)

	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(input)),
	}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
	}
	if options.TopP != nil {
		req.TopP = *options.TopP
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}

	for _, msg := range input {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    mapRole(msg.Role),
			Content: msg.Content,
		})
	}
	return req
}

func mapRole(role schema.RoleType) string {
	switch role {
	case schema.System:
		return openai.ChatMessageRoleSystem
	case schema.Assistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
