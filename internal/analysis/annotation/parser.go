package annotation

import "strings"

// Kind 表示从模型输出中识别出的片段类型。
type Kind int

const (
	Text Kind = iota
	Emotion
	Action
)

// Event is one ordered fragment of parsed model output: either literal
// text (with matched tags removed) or an extracted annotation label.
type Event struct {
	Kind  Kind
	Value string
}

// Tag kinds the model is instructed to emit, e.g. [情感:喜悦] / [动作:思考].
const (
	emotionKind = "情感"
	actionKind  = "动作"
)

// maxTagRunes bounds the lookback buffer: a candidate tag longer than
// this cannot be valid and is flushed as literal text.
const maxTagRunes = 64

type state int

const (
	scanning state = iota
	inTag
)

// Parser incrementally extracts [kind:value] annotation tags from a
// chunked token stream. Feed may be called with arbitrary chunk
// boundaries; the emitted events are identical to feeding the whole
// string at once. Matched tags are removed from the literal output,
// everything else passes through verbatim and in order. Not safe for
// concurrent use; one Parser per turn.
type Parser struct {
	st  state
	buf []rune // pending runes from the unresolved '[' onwards
}

// NewParser returns a Parser in the scanning state.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes the next chunk and returns the events it completes.
// A partial tag at the end of the chunk stays buffered until a later
// chunk resolves it.
func (p *Parser) Feed(chunk string) []Event {
	var events []Event
	var text []rune

	flushText := func() {
		if len(text) > 0 {
			events = append(events, Event{Kind: Text, Value: string(text)})
			text = text[:0]
		}
	}

	for _, r := range chunk {
		switch p.st {
		case scanning:
			if r == '[' {
				p.st = inTag
				p.buf = append(p.buf[:0], r)
				continue
			}
			text = append(text, r)

		case inTag:
			if r == '[' {
				// A new bracket restarts the candidate; everything
				// buffered before it is literal text.
				text = append(text, p.buf...)
				p.buf = append(p.buf[:0], r)
				continue
			}

			p.buf = append(p.buf, r)

			if r == ']' {
				if kind, label, ok := matchTag(p.buf); ok {
					flushText()
					events = append(events, Event{Kind: kind, Value: label})
				} else {
					text = append(text, p.buf...)
				}
				p.st = scanning
				p.buf = p.buf[:0]
				continue
			}

			if len(p.buf) > maxTagRunes {
				text = append(text, p.buf...)
				p.st = scanning
				p.buf = p.buf[:0]
			}
		}
	}

	flushText()
	return events
}

// Flush releases any buffered tail as literal text. An unterminated tag
// at end of input is ordinary output, not an error.
func (p *Parser) Flush() []Event {
	if p.st == scanning && len(p.buf) == 0 {
		return nil
	}
	tail := string(p.buf)
	p.st = scanning
	p.buf = p.buf[:0]
	if tail == "" {
		return nil
	}
	return []Event{{Kind: Text, Value: tail}}
}

// Parse runs a complete string through a fresh parser, flush included.
func Parse(text string) []Event {
	p := NewParser()
	events := p.Feed(text)
	return append(events, p.Flush()...)
}

// matchTag reports whether buf holds a complete well-formed tag,
// brackets included.
func matchTag(buf []rune) (Kind, string, bool) {
	inner := string(buf[1 : len(buf)-1])

	kind, label, found := strings.Cut(inner, ":")
	if !found {
		// 模型偶尔输出全角冒号，同样接受。
		kind, label, found = strings.Cut(inner, "：")
	}
	if !found {
		return Text, "", false
	}

	kind = strings.TrimSpace(kind)
	label = strings.TrimSpace(label)
	if label == "" {
		return Text, "", false
	}

	switch kind {
	case emotionKind:
		return Emotion, label, true
	case actionKind:
		return Action, label, true
	default:
		return Text, "", false
	}
}
