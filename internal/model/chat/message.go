package chat

import "time"

// Sender roles recognised in a session transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Metadata keys written by the turn pipeline.
const (
	MetaTruncated = "truncated"
	MetaRetrieval = "retrieval"
	MetaErrorKind = "errorKind"
	MetaEmotion   = "emotion"
	MetaAction    = "action"
)

// Message persists one half of a turn for audit/debug. Content is always
// the raw text with annotation tags intact, so parsing can be reproduced
// from history alone. Immutable once persisted.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
