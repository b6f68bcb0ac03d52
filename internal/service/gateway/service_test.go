package gateway

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
)

type stubModel struct {
	reply   string
	err     error
	delay   time.Duration
	lastOpt *einomodel.Options
}

func (m *stubModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	m.lastOpt = einomodel.GetCommonOptions(&einomodel.Options{}, opts...)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *stubModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	m.lastOpt = einomodel.GetCommonOptions(&einomodel.Options{}, opts...)
	if m.err != nil {
		return nil, m.err
	}
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(m.reply, nil)}), nil
}

func (m *stubModel) BindTools(tools []*schema.ToolInfo) error { return nil }

func TestInvokeReturnsResponse(t *testing.T) {
	svc := NewService(&stubModel{reply: "你好"}, time.Second)

	msg, err := svc.Invoke(context.Background(), []*schema.Message{schema.UserMessage("hi")}, chat.SamplingParams{})
	require.NoError(t, err)
	require.Equal(t, "你好", msg.Content)
}

func TestInvokePassesSamplingOptions(t *testing.T) {
	backend := &stubModel{reply: "ok"}
	svc := NewService(backend, time.Second)

	temp := float32(0.3)
	maxTokens := 128
	_, err := svc.Invoke(context.Background(), []*schema.Message{schema.UserMessage("hi")}, chat.SamplingParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	require.NoError(t, err)
	require.NotNil(t, backend.lastOpt.Temperature)
	require.Equal(t, float32(0.3), *backend.lastOpt.Temperature)
	require.NotNil(t, backend.lastOpt.MaxTokens)
	require.Equal(t, 128, *backend.lastOpt.MaxTokens)
	require.Nil(t, backend.lastOpt.TopP)
}

func TestInvokeTimeoutClassified(t *testing.T) {
	svc := NewService(&stubModel{reply: "late", delay: time.Second}, 20*time.Millisecond)

	_, err := svc.Invoke(context.Background(), []*schema.Message{schema.UserMessage("hi")}, chat.SamplingParams{})
	require.ErrorIs(t, err, ErrModelTimeout)
}

func TestInvokeFailureClassifiedUnavailable(t *testing.T) {
	svc := NewService(&stubModel{err: errors.New("connection refused")}, time.Second)

	_, err := svc.Invoke(context.Background(), []*schema.Message{schema.UserMessage("hi")}, chat.SamplingParams{})
	require.ErrorIs(t, err, ErrModelUnavailable)
}

func TestStreamDeliversChunks(t *testing.T) {
	svc := NewService(&stubModel{reply: "chunk"}, time.Second)

	stream, err := svc.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")}, chat.SamplingParams{})
	require.NoError(t, err)
	defer stream.Close()

	msg, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "chunk", msg.Content)

	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestClassifyKeepsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Classify(ctx, context.Canceled)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrModelUnavailable)
}
