package guard

import (
	"log"
	"strings"
)

// Verdict is the moderation outcome for one turn. It is created fresh
// per turn and never persisted beyond the turn's audit metadata.
type Verdict struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	NeedsRetrieval bool   `json:"needsRetrieval"`
}

// ReasonUnavailable is reported when the classifier itself failed: the
// pipeline fails closed rather than passing unchecked input through.
const ReasonUnavailable = "moderation-unavailable"

// Classifier decides whether a message violates the content policy.
// Implementations must be deterministic for a fixed ruleset snapshot.
type Classifier interface {
	Classify(text string) (blocked bool, reason string, err error)
}

// Service combines the allow/deny decision with the retrieval-routing
// decision. The two are computed independently; routing is only
// consulted by the orchestrator when the message is allowed.
type Service struct {
	classifier Classifier
}

// NewService creates a guard backed by the given classifier, falling
// back to the built-in keyword ruleset when none is supplied.
func NewService(classifier Classifier) *Service {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	return &Service{classifier: classifier}
}

// Moderate evaluates one user message. Deterministic for identical
// lexical input. A classifier failure yields Allowed=false with
// ReasonUnavailable, never a silent pass.
func (s *Service) Moderate(text string) Verdict {
	needs := needsRetrieval(text)

	blocked, reason, err := s.classifier.Classify(text)
	if err != nil {
		log.Printf("[guard] classifier error, failing closed: %v", err)
		return Verdict{Allowed: false, Reason: ReasonUnavailable, NeedsRetrieval: needs}
	}
	if blocked {
		return Verdict{Allowed: false, Reason: reason, NeedsRetrieval: needs}
	}
	return Verdict{Allowed: true, NeedsRetrieval: needs}
}

// KeywordClassifier is the default lexical ruleset. 与原版敏感词分类器
// 一致，后续可替换为模型分类器。
type KeywordClassifier struct{}

var sensitiveWords = []string{
	"违规", "敏感", "攻击", "歧视",
	"暴力", "色情",
}

// Classify flags messages containing a sensitive word.
func (KeywordClassifier) Classify(text string) (bool, string, error) {
	normalized := strings.ToLower(text)
	for _, word := range sensitiveWords {
		if strings.Contains(normalized, word) {
			return true, "包含敏感词", nil
		}
	}
	return false, "", nil
}

// knowledgeKeywords trigger retrieval augmentation: factual / lookup
// intents rather than small talk.
var knowledgeKeywords = []string{
	"什么是", "介绍", "解释", "谁是", "哪里", "如何", "为什么",
	"what is", "who is", "explain", "how do", "where is", "why",
}

func needsRetrieval(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return false
	}
	for _, keyword := range knowledgeKeywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}
