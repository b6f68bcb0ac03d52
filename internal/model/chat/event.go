package chat

// EventKind discriminates the stream event variants.
type EventKind string

const (
	EventToken   EventKind = "token"
	EventEmotion EventKind = "emotion"
	EventAction  EventKind = "action"
	EventDone    EventKind = "done"
	EventError   EventKind = "error"
)

// StreamEvent is one framed unit of a streamed turn response. Events are
// totally ordered; the terminal event is always exactly one done or one
// error.
type StreamEvent struct {
	Kind    EventKind `json:"event"`
	Text    string    `json:"text,omitempty"`
	Label   string    `json:"label,omitempty"`
	ErrKind string    `json:"errKind,omitempty"`
	Message string    `json:"message,omitempty"`
}

// TokenEvent wraps a cleaned text fragment.
func TokenEvent(text string) StreamEvent {
	return StreamEvent{Kind: EventToken, Text: text}
}

// EmotionEvent carries an extracted 情感 label.
func EmotionEvent(label string) StreamEvent {
	return StreamEvent{Kind: EventEmotion, Label: label}
}

// ActionEvent carries an extracted 动作 label.
func ActionEvent(label string) StreamEvent {
	return StreamEvent{Kind: EventAction, Label: label}
}

// DoneEvent terminates a successful stream.
func DoneEvent() StreamEvent {
	return StreamEvent{Kind: EventDone}
}

// ErrorEvent terminates a failed stream. The message is user-safe; the
// kind is the internal error taxonomy value.
func ErrorEvent(kind, message string) StreamEvent {
	return StreamEvent{Kind: EventError, ErrKind: kind, Message: message}
}
