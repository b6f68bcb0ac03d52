package retrieval

import (
	"context"
	"testing"
)

func TestStaticRetrieverMatchesKeyword(t *testing.T) {
	r := NewStaticRetriever(DevEntries())

	docs, err := r.Retrieve(context.Background(), "什么是雷姆必拓", 3)
	if err != nil {
		t.Fatalf("Retrieve err: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
	if docs[0].Source != "lore/victoria" {
		t.Fatalf("unexpected source: %s", docs[0].Source)
	}
	if docs[0].Score <= 0 {
		t.Fatalf("expected positive relevance score, got %f", docs[0].Score)
	}
}

func TestStaticRetrieverNoMatchReturnsEmpty(t *testing.T) {
	r := NewStaticRetriever(DevEntries())

	docs, err := r.Retrieve(context.Background(), "今天吃什么", 3)
	if err != nil {
		t.Fatalf("Retrieve err: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected empty result, got %d documents", len(docs))
	}
}

func TestStaticRetrieverHonoursCancelledContext(t *testing.T) {
	r := NewStaticRetriever(DevEntries())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Retrieve(ctx, "雷姆必拓", 3); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
