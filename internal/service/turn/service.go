package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-parlor/backend/internal/analysis/annotation"
	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/model/role"
	"github.com/zhouzirui/z-parlor/backend/internal/service/gateway"
	"github.com/zhouzirui/z-parlor/backend/internal/service/guard"
	"github.com/zhouzirui/z-parlor/backend/internal/service/memory"
	"github.com/zhouzirui/z-parlor/backend/internal/service/retrieval"

	promptsvc "github.com/zhouzirui/z-parlor/backend/internal/service/prompt"
	sessionsvc "github.com/zhouzirui/z-parlor/backend/internal/service/chat"
)

// ErrRejected marks a turn stopped by moderation. Use errors.As with
// *RejectedError to recover the reason.
var ErrRejected = errors.New("input rejected")

// RejectedError carries the moderation reason for a rejected turn.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("input rejected: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Error kind labels surfaced in terminal error events and persisted
// turn metadata.
const (
	KindModelUnavailable = "model-unavailable"
	KindModelTimeout     = "model-timeout"
	KindCancelled        = "cancelled"
)

// Config tunes the orchestrator.
type Config struct {
	// HistoryLimit is the number of persisted messages folded into the
	// prompt window.
	HistoryLimit int
	// RetrievalTimeout bounds the knowledge lookup; expiry degrades the
	// turn instead of failing it.
	RetrievalTimeout time.Duration
	// RetrievalTopK is the number of fragments requested per lookup.
	RetrievalTopK int
	// StreamBuffer is the event channel capacity. A full buffer
	// back-pressures the model read loop.
	StreamBuffer int
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 2 * time.Second
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = 3
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 16
	}
	return c
}

// Request is one user turn.
type Request struct {
	SessionID string
	Input     string
	Params    chat.SamplingParams
}

// Result is the synchronous turn outcome: cleaned text plus the first
// extracted annotation labels, and the assistant message as persisted.
type Result struct {
	Text    string
	Emotion string
	Action  string
	Message chat.Message
}

// Service drives the per-turn pipeline: moderate, load history, route
// retrieval, assemble the prompt, invoke the model, parse annotations,
// emit, persist. Turns within one session are serialised by the memory
// store's session token; distinct sessions run concurrently.
type Service struct {
	guard     *guard.Service
	roles     role.Store
	sessions  *sessionsvc.Service
	memory    *memory.Store
	retriever retrieval.Retriever
	gateway   *gateway.Service
	cfg       Config
}

// NewService wires the orchestrator. retriever may be nil to disable
// knowledge augmentation entirely.
func NewService(g *guard.Service, roles role.Store, sessions *sessionsvc.Service, mem *memory.Store, retr retrieval.Retriever, gw *gateway.Service, cfg Config) *Service {
	return &Service{
		guard:     g,
		roles:     roles,
		sessions:  sessions,
		memory:    mem,
		retriever: retr,
		gateway:   gw,
		cfg:       cfg.withDefaults(),
	}
}

// turnContext is the prepared per-turn state after moderation, history
// load, retrieval routing and prompt assembly. The session token is
// held when a turnContext exists; release it via the caller's unlock.
type turnContext struct {
	role     role.Role
	messages []*schema.Message
	params   chat.SamplingParams
	// retrievalNote is non-empty when the lookup degraded.
	retrievalNote string
}

// Respond runs one synchronous turn. A moderation rejection returns
// *RejectedError and leaves no trace in history.
func (s *Service) Respond(ctx context.Context, req Request) (Result, error) {
	session, verdict, err := s.admit(ctx, req)
	if err != nil {
		return Result{}, err
	}

	s.memory.LockSession(req.SessionID)
	defer s.memory.UnlockSession(req.SessionID)

	tc, err := s.prepare(ctx, session.RoleID, req, verdict)
	if err != nil {
		return Result{}, err
	}

	if err := s.appendUser(ctx, req, tc.retrievalNote); err != nil {
		return Result{}, err
	}

	response, err := s.gateway.Invoke(ctx, tc.messages, tc.params)
	if err != nil {
		log.Printf("[turn] model invoke failed: session=%s err=%v", req.SessionID, err)
		return Result{}, err
	}

	var reply strings.Builder
	emotion, action := "", ""
	for _, ev := range annotation.Parse(response.Content) {
		applyEvent(ev, &reply, &emotion, &action)
	}

	persisted, err := s.appendAssistant(ctx, req.SessionID, response.Content, emotion, action, nil)
	if err != nil {
		return Result{}, err
	}

	log.Printf("[turn] completed: session=%s role=%s length=%d", req.SessionID, tc.role.ID, len(response.Content))
	return Result{
		Text:    reply.String(),
		Emotion: emotion,
		Action:  action,
		Message: persisted,
	}, nil
}

// Stream runs one streaming turn. Setup (moderation, history, prompt)
// happens before return; a rejection surfaces as *RejectedError with no
// side effects. The returned channel carries ordered events ending in
// exactly one done or error; it is closed after the terminal event.
func (s *Service) Stream(ctx context.Context, req Request) (<-chan chat.StreamEvent, error) {
	session, verdict, err := s.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	s.memory.LockSession(req.SessionID)

	tc, err := s.prepare(ctx, session.RoleID, req, verdict)
	if err != nil {
		s.memory.UnlockSession(req.SessionID)
		return nil, err
	}

	events := make(chan chat.StreamEvent, s.cfg.StreamBuffer)
	go s.produce(ctx, req, tc, events)
	return events, nil
}

// admit runs the pre-lock stages: moderation and session lookup.
func (s *Service) admit(ctx context.Context, req Request) (chat.Session, guard.Verdict, error) {
	if strings.TrimSpace(req.Input) == "" {
		return chat.Session{}, guard.Verdict{}, fmt.Errorf("input is required")
	}

	verdict := s.guard.Moderate(req.Input)
	if !verdict.Allowed {
		log.Printf("[turn] moderation rejected: session=%s reason=%s", req.SessionID, verdict.Reason)
		return chat.Session{}, verdict, &RejectedError{Reason: verdict.Reason}
	}

	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return chat.Session{}, verdict, err
	}
	return session, verdict, nil
}

// prepare loads history, optionally retrieves knowledge, and assembles
// the prompt. Caller holds the session token.
func (s *Service) prepare(ctx context.Context, roleID string, req Request, verdict guard.Verdict) (turnContext, error) {
	r, ok := s.roles.FindByID(roleID)
	if !ok {
		return turnContext{}, fmt.Errorf("role %q not found", roleID)
	}

	history, err := s.memory.History(ctx, req.SessionID, s.cfg.HistoryLimit)
	if err != nil {
		// A broken history read degrades to an empty window rather than
		// killing the turn.
		log.Printf("[turn] history load failed, continuing without context: session=%s err=%v", req.SessionID, err)
		history = nil
	}

	var docs []retrieval.Document
	note := ""
	if verdict.NeedsRetrieval && s.retriever != nil {
		docs, note = s.retrieve(ctx, req.Input)
	}

	messages, params := promptsvc.Build(r, history, req.Input, docs, req.Params)
	return turnContext{role: r, messages: messages, params: params, retrievalNote: note}, nil
}

// retrieve performs the bounded knowledge lookup. Any failure returns
// no documents plus a degradation note for turn metadata.
func (s *Service) retrieve(ctx context.Context, query string) ([]retrieval.Document, string) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RetrievalTimeout)
	defer cancel()

	docs, err := s.retriever.Retrieve(ctx, query, s.cfg.RetrievalTopK)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Printf("[turn] retrieval timed out, continuing unaugmented: %v", err)
		return nil, "timeout"
	case err != nil:
		log.Printf("[turn] retrieval failed, continuing unaugmented: %v", err)
		return nil, "error"
	}
	return docs, ""
}

// produce is the stream producer: it reads model chunks, runs the
// annotation parser, pushes events into the bounded channel and
// persists the completed (or truncated) assistant text. Holds the
// session token until done.
func (s *Service) produce(ctx context.Context, req Request, tc turnContext, events chan<- chat.StreamEvent) {
	defer close(events)
	defer s.memory.UnlockSession(req.SessionID)

	if err := s.appendUser(ctx, req, tc.retrievalNote); err != nil {
		s.emit(ctx, events, chat.ErrorEvent(KindModelUnavailable, "failed to record message"))
		return
	}

	// The model leg carries its own deadline. A backend that opens a
	// stream and goes silent ends the turn as a model timeout instead of
	// holding the session token for the life of the process.
	modelCtx, cancel := context.WithTimeout(ctx, s.gateway.Timeout())
	defer cancel()

	stream, err := s.gateway.Stream(modelCtx, tc.messages, tc.params)
	if err != nil {
		s.emit(ctx, events, chat.ErrorEvent(errKindOf(err), "model request failed"))
		return
	}
	defer stream.Close()

	parser := annotation.NewParser()
	var raw strings.Builder
	var reply strings.Builder
	emotion, action := "", ""

	forward := func(evs []annotation.Event) bool {
		for _, ev := range evs {
			applyEvent(ev, &reply, &emotion, &action)
			if !s.emit(ctx, events, toStreamEvent(ev)) {
				return false
			}
		}
		return true
	}

	recv := readStream(modelCtx, stream)
	for {
		var chunk *schema.Message
		var err error
		select {
		case res := <-recv:
			chunk, err = res.msg, res.err
		case <-modelCtx.Done():
			// Recv never surfaced the expiry, so the backend is ignoring
			// its context. Classify the deadline ourselves.
			err = gateway.Classify(modelCtx, modelCtx.Err())
		}
		if errors.Is(err, io.EOF) {
			if !forward(parser.Flush()) {
				s.persistPartial(req.SessionID, raw.String(), emotion, action, KindCancelled)
				return
			}
			if _, err := s.appendAssistant(context.Background(), req.SessionID, raw.String(), emotion, action, nil); err != nil {
				log.Printf("[turn] assistant persist failed: session=%s err=%v", req.SessionID, err)
			}
			s.emit(ctx, events, chat.DoneEvent())
			log.Printf("[turn] stream completed: session=%s role=%s length=%d", req.SessionID, tc.role.ID, raw.Len())
			return
		}
		if err != nil {
			kind := errKindOf(gateway.Classify(modelCtx, err))
			log.Printf("[turn] stream failed: session=%s kind=%s err=%v", req.SessionID, kind, err)
			s.persistPartial(req.SessionID, raw.String(), emotion, action, kind)
			s.emit(ctx, events, chat.ErrorEvent(kind, "model stream failed"))
			return
		}

		raw.WriteString(chunk.Content)
		if !forward(parser.Feed(chunk.Content)) {
			s.persistPartial(req.SessionID, raw.String(), emotion, action, KindCancelled)
			return
		}
	}
}

type streamChunk struct {
	msg *schema.Message
	err error
}

// readStream pumps Recv results into a channel so the read loop can
// watch the model deadline alongside them. The pump abandons delivery
// once ctx expires; closing the stream unblocks a Recv still in flight.
func readStream(ctx context.Context, stream *schema.StreamReader[*schema.Message]) <-chan streamChunk {
	out := make(chan streamChunk)
	go func() {
		for {
			msg, err := stream.Recv()
			select {
			case out <- streamChunk{msg: msg, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// emit delivers one event, blocking for a slow consumer. Returns false
// when the turn context is gone.
func (s *Service) emit(ctx context.Context, events chan<- chat.StreamEvent, ev chat.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) appendUser(ctx context.Context, req Request, retrievalNote string) error {
	msg := chat.Message{
		SessionID: req.SessionID,
		Role:      chat.RoleUser,
		Content:   req.Input,
	}
	if retrievalNote != "" {
		msg.Metadata = map[string]string{chat.MetaRetrieval: retrievalNote}
	}
	if _, err := s.memory.Append(ctx, msg); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	return nil
}

func (s *Service) appendAssistant(ctx context.Context, sessionID, rawText, emotion, action string, extra map[string]string) (chat.Message, error) {
	meta := make(map[string]string, len(extra)+2)
	if emotion != "" {
		meta[chat.MetaEmotion] = emotion
	}
	if action != "" {
		meta[chat.MetaAction] = action
	}
	for k, v := range extra {
		meta[k] = v
	}
	if len(meta) == 0 {
		meta = nil
	}

	msg, err := s.memory.Append(ctx, chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   rawText,
		Metadata:  meta,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("append assistant message: %w", err)
	}
	return msg, nil
}

// persistPartial records whatever assistant text arrived before an
// interruption. No chunk, no record.
func (s *Service) persistPartial(sessionID, rawText, emotion, action, kind string) {
	if rawText == "" {
		return
	}
	extra := map[string]string{chat.MetaTruncated: "true"}
	if kind != "" {
		extra[chat.MetaErrorKind] = kind
	}
	if _, err := s.appendAssistant(context.Background(), sessionID, rawText, emotion, action, extra); err != nil {
		log.Printf("[turn] partial persist failed: session=%s err=%v", sessionID, err)
	}
}

// applyEvent folds one parser event into the accumulated reply. The
// first occurrence of each label kind wins.
func applyEvent(ev annotation.Event, reply *strings.Builder, emotion, action *string) {
	switch ev.Kind {
	case annotation.Text:
		reply.WriteString(ev.Value)
	case annotation.Emotion:
		if *emotion == "" {
			*emotion = ev.Value
		}
	case annotation.Action:
		if *action == "" {
			*action = ev.Value
		}
	}
}

func toStreamEvent(ev annotation.Event) chat.StreamEvent {
	switch ev.Kind {
	case annotation.Emotion:
		return chat.EmotionEvent(ev.Value)
	case annotation.Action:
		return chat.ActionEvent(ev.Value)
	default:
		return chat.TokenEvent(ev.Value)
	}
}

func errKindOf(err error) string {
	switch {
	case errors.Is(err, gateway.ErrModelTimeout):
		return KindModelTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindModelUnavailable
	}
}
