package markup

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeBold
	nodeItalic
	nodeUnderline
	nodeStrike
	nodeSpoiler
	nodeCode
	nodeCodeBlock
)

// node is one element of the Discord markdown syntax tree. Text, code and
// code block nodes carry text; span nodes carry children.
type node struct {
	kind     nodeKind
	text     string
	lang     string
	children []node
}

// maxDepth bounds span nesting. Deeper delimiters are kept as literal text.
const maxDepth = 8

// spanDelims are tried in order at every position, longest first so that
// "**" is never read as two italic markers.
var spanDelims = []struct {
	delim string
	kind  nodeKind
}{
	{"||", nodeSpoiler},
	{"~~", nodeStrike},
	{"**", nodeBold},
	{"__", nodeUnderline},
	{"*", nodeItalic},
	{"_", nodeItalic},
}

type kindSet uint16

func (s kindSet) with(k nodeKind) kindSet { return s | 1<<k }
func (s kindSet) has(k nodeKind) bool     { return s&(1<<k) != 0 }

// memoKey omits the open kinds: whether a closer is found does not depend
// on them.
type memoKey struct {
	pos    int
	closer string
	depth  int
}

type parser struct {
	src    string
	failed map[memoKey]bool
}

// parse tokenizes Discord markdown into a node list. It never fails:
// unterminated or empty spans come back as literal text.
func parse(src string) []node {
	p := &parser{src: src, failed: make(map[memoKey]bool)}
	nodes, _, _ := p.inline(0, "", 0, 0)
	return nodes
}

// inline parses from pos until closer (or end of input when closer is
// empty). It returns the nodes, the position after the closer and whether
// the closer was found. open holds the span kinds already enclosing pos;
// a span of an open kind adds its children to the current run because
// Telegram cannot nest a style inside itself.
func (p *parser) inline(pos int, closer string, depth int, open kindSet) ([]node, int, bool) {
	key := memoKey{pos: pos, closer: closer, depth: depth}
	if closer != "" && p.failed[key] {
		return nil, 0, false
	}

	var nodes []node
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			nodes = append(nodes, node{kind: nodeText, text: buf.String()})
			buf.Reset()
		}
	}

	src := p.src
	for pos < len(src) {
		rest := src[pos:]

		if strings.HasPrefix(rest, "```") {
			if n, end, ok := p.codeBlock(pos); ok {
				flush()
				nodes = append(nodes, n)
				pos = end
				continue
			}
			buf.WriteString("```")
			pos += 3
			continue
		}
		if rest[0] == '`' {
			if n, end, ok := p.codeSpan(pos); ok {
				flush()
				nodes = append(nodes, n)
				pos = end
				continue
			}
			buf.WriteByte('`')
			pos++
			continue
		}

		matched := false
		for _, sp := range spanDelims {
			if !strings.HasPrefix(rest, sp.delim) {
				continue
			}
			if sp.delim == closer {
				if p.canClose(pos, sp.delim) {
					flush()
					return nodes, pos + len(sp.delim), true
				}
				continue
			}
			if depth >= maxDepth || !p.canOpen(pos, sp.delim) {
				continue
			}
			children, end, ok := p.inline(pos+len(sp.delim), sp.delim, depth+1, open.with(sp.kind))
			if ok && len(children) > 0 {
				flush()
				if open.has(sp.kind) {
					nodes = append(nodes, children...)
				} else {
					nodes = append(nodes, node{kind: sp.kind, children: children})
				}
				pos = end
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		_, size := utf8.DecodeRuneInString(rest)
		buf.WriteString(rest[:size])
		pos += size
	}

	if closer != "" {
		p.failed[key] = true
		return nil, 0, false
	}
	flush()
	return nodes, pos, true
}

// codeBlock parses a fenced block starting at pos. A first line made only of
// language characters becomes the language tag.
func (p *parser) codeBlock(pos int) (node, int, bool) {
	start := pos + 3
	end := strings.Index(p.src[start:], "```")
	if end < 0 {
		return node{}, 0, false
	}
	inner := p.src[start : start+end]

	lang := ""
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		first := inner[:nl]
		switch {
		case isLangTag(first):
			lang = first
			inner = inner[nl+1:]
		case strings.TrimSpace(first) == "":
			inner = inner[nl+1:]
		}
	}
	inner = strings.TrimSuffix(inner, "\n")
	if inner == "" {
		return node{}, 0, false
	}
	return node{kind: nodeCodeBlock, text: inner, lang: lang}, start + end + 3, true
}

func (p *parser) codeSpan(pos int) (node, int, bool) {
	start := pos + 1
	end := strings.IndexByte(p.src[start:], '`')
	if end <= 0 {
		return node{}, 0, false
	}
	return node{kind: nodeCode, text: p.src[start : start+end]}, start + end + 1, true
}

// canOpen applies Discord's flanking rules: single-character markers must
// be followed by a non-space, and "_" must not sit inside a word.
func (p *parser) canOpen(pos int, delim string) bool {
	next, ok := p.runeAt(pos + len(delim))
	if !ok {
		return false
	}
	if len(delim) == 1 && unicode.IsSpace(next) {
		return false
	}
	if delim == "_" {
		if prev, ok := p.runeBefore(pos); ok && isWordRune(prev) {
			return false
		}
	}
	return true
}

func (p *parser) canClose(pos int, delim string) bool {
	if len(delim) == 1 {
		if prev, ok := p.runeBefore(pos); ok && unicode.IsSpace(prev) {
			return false
		}
	}
	if delim == "_" {
		if next, ok := p.runeAt(pos + 1); ok && isWordRune(next) {
			return false
		}
	}
	return true
}

func (p *parser) runeAt(pos int) (rune, bool) {
	if pos >= len(p.src) {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(p.src[pos:])
	return r, true
}

func (p *parser) runeBefore(pos int) (rune, bool) {
	if pos <= 0 {
		return 0, false
	}
	r, _ := utf8.DecodeLastRuneInString(p.src[:pos])
	return r, true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isLangTag(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '+', r == '-', r == '#', r == '.':
		default:
			return false
		}
	}
	return true
}
