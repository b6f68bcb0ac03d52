package guard

import (
	"errors"
	"testing"
)

func TestModerateAllowsPlainMessage(t *testing.T) {
	svc := NewService(nil)

	verdict := svc.Moderate("今天天气怎么样")
	if !verdict.Allowed {
		t.Fatalf("expected allow, got reason %q", verdict.Reason)
	}
}

func TestModerateBlocksSensitiveWord(t *testing.T) {
	svc := NewService(nil)

	verdict := svc.Moderate("这是一条攻击别人的消息")
	if verdict.Allowed {
		t.Fatal("expected block for sensitive word")
	}
	if verdict.Reason == "" {
		t.Fatal("expected a block reason")
	}
}

func TestModerateIsDeterministic(t *testing.T) {
	svc := NewService(nil)

	first := svc.Moderate("什么是源石")
	second := svc.Moderate("什么是源石")
	if first != second {
		t.Fatalf("verdicts differ: %+v vs %+v", first, second)
	}
}

func TestRetrievalRoutingIndependentOfAllowDecision(t *testing.T) {
	svc := NewService(nil)

	verdict := svc.Moderate("什么是歧视")
	if verdict.Allowed {
		t.Fatal("expected block")
	}
	if !verdict.NeedsRetrieval {
		t.Fatal("routing should still classify the knowledge intent")
	}

	verdict = svc.Moderate("随便聊聊吧")
	if !verdict.Allowed || verdict.NeedsRetrieval {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

type failingClassifier struct{}

func (failingClassifier) Classify(string) (bool, string, error) {
	return false, "", errors.New("classifier backend down")
}

func TestClassifierErrorFailsClosed(t *testing.T) {
	svc := NewService(failingClassifier{})

	verdict := svc.Moderate("hello")
	if verdict.Allowed {
		t.Fatal("expected fail-closed verdict")
	}
	if verdict.Reason != ReasonUnavailable {
		t.Fatalf("unexpected reason: %q", verdict.Reason)
	}
}
