package prompt

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-parlor/backend/internal/model/chat"
	"github.com/zhouzirui/z-parlor/backend/internal/model/role"
	"github.com/zhouzirui/z-parlor/backend/internal/service/retrieval"
)

const defaultSystemPrompt = "你是一个有帮助的助手。"

// Fixed instruction blocks folded into every system segment. The tag
// syntax here is what the annotation parser recognises downstream.
const (
	expressionGuide = "【表达指南】\n" +
		"- 情感表达: 当你想表达情感时，请使用[情感:喜悦]这样的格式。\n" +
		"- 动作描述: 当你想描述动作时，请使用[动作:思考]这样的格式。"

	behaviourRules = "【行为规则】\n" +
		"- 敏感内容: 拒绝讨论政治敏感、暴力、色情等不适当内容。\n" +
		"- 日常回复: 保持友好、耐心的态度回答用户问题。"
)

// Build assembles the model-ready message list for one turn: a system
// segment, the chronological history window, and the user input. Pure
// function of its arguments; identical inputs yield a byte-identical
// prompt. Sampling parameters come from the role unless the caller
// overrides them.
func Build(r role.Role, history []chat.Message, input string, docs []retrieval.Document, override chat.SamplingParams) ([]*schema.Message, chat.SamplingParams) {
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(buildSystemPrompt(r, docs)))

	for _, msg := range history {
		switch msg.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		case chat.RoleSystem:
			messages = append(messages, schema.SystemMessage(msg.Content))
		}
	}

	messages = append(messages, schema.UserMessage(input))

	params := chat.SamplingParams{Temperature: r.Temperature}.Merge(override)
	return messages, params
}

// buildSystemPrompt lays out the system segment the way the original
// role prompt did: base prompt, persona texture, fixed expression and
// behaviour blocks, and the retrieved-knowledge block when present.
func buildSystemPrompt(r role.Role, docs []retrieval.Document) string {
	var b strings.Builder

	base := r.SystemPrompt
	if base == "" {
		base = defaultSystemPrompt
	}
	b.WriteString(base)

	if r.Name != "" {
		b.WriteString(fmt.Sprintf("\n\n你的名字是%s。请始终保持角色一致性。", r.Name))
	}
	if r.Personality != "" {
		b.WriteString("\n\n【角色特性】\n")
		b.WriteString(r.Personality)
	}
	if r.SpeechStyle != "" {
		b.WriteString("\n\n【语言风格】\n")
		b.WriteString(r.SpeechStyle)
	}

	b.WriteString("\n\n")
	b.WriteString(expressionGuide)

	if len(docs) > 0 {
		b.WriteString("\n\n【参考知识】")
		for _, doc := range docs {
			b.WriteString(fmt.Sprintf("\n- (%s, 相关度%.2f) %s", doc.Source, doc.Score, strings.TrimSpace(doc.Text)))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(behaviourRules)

	return b.String()
}
