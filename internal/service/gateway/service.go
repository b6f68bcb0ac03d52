package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
)

// ErrModelUnavailable marks failures reaching or using the model backend.
var ErrModelUnavailable = errors.New("model unavailable")

// ErrModelTimeout marks a model call that exceeded its deadline.
var ErrModelTimeout = errors.New("model timeout")

// Service fronts the underlying chat model with deadlines and a uniform
// error surface so callers never see provider-specific failures.
type Service struct {
	backend model.ChatModel
	timeout time.Duration
}

func NewService(backend model.ChatModel, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{backend: backend, timeout: timeout}
}

// Invoke runs a single-shot completion under the service deadline.
func (s *Service) Invoke(ctx context.Context, messages []*schema.Message, params chat.SamplingParams) (*schema.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.backend.Generate(ctx, messages, samplingOptions(params)...)
	if err != nil {
		return nil, classify(ctx, err)
	}

	log.Printf("[gateway] generated response, length=%d", len(response.Content))
	return response, nil
}

// Stream opens a streaming completion. The caller owns the deadline: a
// stream outlives the call that opened it, so no timeout is applied here
// beyond what ctx already carries.
func (s *Service) Stream(ctx context.Context, messages []*schema.Message, params chat.SamplingParams) (*schema.StreamReader[*schema.Message], error) {
	stream, err := s.backend.Stream(ctx, messages, samplingOptions(params)...)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return stream, nil
}

// Timeout reports the deadline the service applies to single-shot calls.
// Stream callers use it to bound their own read loops.
func (s *Service) Timeout() time.Duration {
	return s.timeout
}

func samplingOptions(params chat.SamplingParams) []model.Option {
	var opts []model.Option
	if params.Temperature != nil {
		opts = append(opts, model.WithTemperature(*params.Temperature))
	}
	if params.TopP != nil {
		opts = append(opts, model.WithTopP(*params.TopP))
	}
	if params.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*params.MaxTokens))
	}
	return opts
}

// Classify maps a raw model error onto the gateway taxonomy. Exposed for
// stream consumers that hit errors mid-read, after Stream has returned.
func Classify(ctx context.Context, err error) error {
	return classify(ctx, err)
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrModelTimeout), errors.Is(err, ErrModelUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrModelTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
}
