package markup

import "strings"

// reserved are the characters MarkdownV2 requires escaping in plain text.
const reserved = "_*[]()~`>#+-=|{}.!\\"

// EscapeText escapes every MarkdownV2 reserved character in s.
func EscapeText(s string) string {
	if !strings.ContainsAny(s, reserved) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeCode escapes the two characters that are significant inside
// MarkdownV2 code entities.
func escapeCode(s string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(s)
}

// escapeURL escapes the characters significant inside the (...) part of an
// inline link.
func escapeURL(s string) string {
	return strings.NewReplacer("\\", "\\\\", ")", "\\)").Replace(s)
}

type renderer struct {
	b strings.Builder
}

// renderMarkdownV2 writes nodes in Telegram MarkdownV2. Every span it opens
// it also closes.
func renderMarkdownV2(nodes []node) string {
	var r renderer
	r.nodes(nodes)
	return r.b.String()
}

func (r *renderer) nodes(nodes []node) {
	for _, n := range nodes {
		r.node(n)
	}
}

func (r *renderer) node(n node) {
	switch n.kind {
	case nodeText:
		r.b.WriteString(EscapeText(n.text))
	case nodeBold:
		r.span("*", n.children)
	case nodeItalic:
		r.span("_", n.children)
	case nodeUnderline:
		r.span("__", n.children)
	case nodeStrike:
		r.span("~", n.children)
	case nodeSpoiler:
		r.span("||", n.children)
	case nodeCode:
		r.b.WriteByte('`')
		r.b.WriteString(escapeCode(n.text))
		r.b.WriteByte('`')
	case nodeCodeBlock:
		r.b.WriteString("```")
		r.b.WriteString(n.lang)
		r.b.WriteByte('\n')
		r.b.WriteString(escapeCode(n.text))
		r.b.WriteString("\n```")
	}
}

func (r *renderer) span(delim string, children []node) {
	r.delim(delim)
	r.nodes(children)
	r.delim(delim)
}

// delim writes a span marker. Telegram reads a run of underscores greedily
// as underline markers, so adjacent italic/underline markers are separated
// with \r, which Telegram ignores.
func (r *renderer) delim(d string) {
	s := r.b.String()
	if d[0] == '_' && strings.HasSuffix(s, "_") {
		r.b.WriteByte('\r')
	}
	r.b.WriteString(d)
}
