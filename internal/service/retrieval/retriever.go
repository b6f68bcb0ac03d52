package retrieval

import (
	"context"
	"fmt"

	einoretriever "github.com/cloudwego/eino/components/retriever"
)

// Document is one retrieved knowledge fragment, scoped to a single turn.
type Document struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// Retriever is the knowledge-retrieval boundary the pipeline consumes.
// The index itself lives with an external collaborator; errors and
// timeouts degrade the turn instead of failing it, and the core never
// retries a call.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Document, error)
}

// EinoRetriever adapts a cloudwego/eino retriever component so any
// index with an eino binding can back the boundary.
type EinoRetriever struct {
	inner einoretriever.Retriever
}

// NewEinoRetriever wraps an eino retriever component.
func NewEinoRetriever(inner einoretriever.Retriever) *EinoRetriever {
	return &EinoRetriever{inner: inner}
}

// Retrieve maps eino documents into the turn-scoped Document shape.
func (r *EinoRetriever) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	docs, err := r.inner.Retrieve(ctx, query, einoretriever.WithTopK(k))
	if err != nil {
		return nil, fmt.Errorf("eino retriever: %w", err)
	}

	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		out = append(out, Document{
			Text:   doc.Content,
			Score:  doc.Score(),
			Source: doc.ID,
		})
	}
	return out, nil
}

var _ Retriever = (*EinoRetriever)(nil)
