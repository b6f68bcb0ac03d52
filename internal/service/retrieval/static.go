package retrieval

import (
	"context"
	"sort"
	"strings"
)

// Entry is one canned knowledge snippet matched by keyword.
type Entry struct {
	Keywords []string
	Text     string
	Source   string
}

// StaticRetriever serves canned documents keyed by keyword match.
// 开发环境下代替真实向量检索，与原版的模拟数据行为一致。
type StaticRetriever struct {
	entries []Entry
}

// NewStaticRetriever builds a retriever over the given entries.
func NewStaticRetriever(entries []Entry) *StaticRetriever {
	return &StaticRetriever{entries: append([]Entry(nil), entries...)}
}

// DevEntries returns the built-in development knowledge base.
func DevEntries() []Entry {
	return []Entry{
		{
			Keywords: []string{"雷姆必拓"},
			Source:   "lore/victoria",
			Text: "雷姆必拓是泰拉大陆西南部的一个国家，以丰富的矿产资源而闻名。" +
				"主要出产源石矿物，但因矿石病危机而导致社会动荡。",
		},
		{
			Keywords: []string{"霍格沃茨", "hogwarts"},
			Source:   "lore/hogwarts",
			Text:     "霍格沃茨魔法学校坐落于苏格兰高地，分为四个学院，入学新生由分院帽决定归属。",
		},
	}
}

// Retrieve scores entries by keyword hit count and returns the top k.
// Deterministic for a fixed entry set.
func (r *StaticRetriever) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized := strings.ToLower(query)
	var docs []Document
	for _, entry := range r.entries {
		hits := 0
		for _, keyword := range entry.Keywords {
			if strings.Contains(normalized, strings.ToLower(keyword)) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		docs = append(docs, Document{
			Text:   entry.Text,
			Score:  float64(hits) / float64(len(entry.Keywords)),
			Source: entry.Source,
		})
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if k > 0 && len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

var _ Retriever = (*StaticRetriever)(nil)
