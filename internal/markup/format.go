// Package markup translates Discord markdown into Telegram MarkdownV2.
//
// Input is tokenized into a small syntax tree (text, bold, italic,
// underline, strikethrough, spoiler, inline code, code block) and each node
// is rendered on its own, so escaping happens exactly once per text run.
//
// Format is meant to be applied once. Feeding it its own output escapes the
// backslashes again; the domain.FormattedText result type exists so that
// translated text is never mistaken for raw input.
package markup

import (
	"regexp"
	"strings"

	"relaybot/internal/domain"
)

// customEmojiRe matches Discord custom emoji tokens: <:name:id> and the
// animated <a:name:id> form.
var customEmojiRe = regexp.MustCompile(`<a?:\w+:\d+>`)

// StripCustomEmoji removes custom emoji tokens and leaves everything around
// them untouched. Removal repeats until no token is left, since cutting one
// token can join its neighbours into another.
func StripCustomEmoji(s string) string {
	for strings.Contains(s, "<") && customEmojiRe.MatchString(s) {
		s = customEmojiRe.ReplaceAllString(s, "")
	}
	return s
}

// Format converts a raw Discord message into MarkdownV2. Content before the
// first colon becomes the prefix line; the rest is the body.
func Format(raw string) domain.FormattedText {
	cleaned := StripCustomEmoji(raw)
	prefix, body, hasPrefix := splitPrefix(cleaned)

	out := domain.FormattedText{
		HasPrefix: hasPrefix,
		Body:      renderMarkdownV2(parse(body)),
		Dialect:   domain.DialectMarkdownV2,
		Plain:     body,
	}
	if hasPrefix {
		out.Prefix = EscapeText(prefix)
		out.Plain = prefix + ":\n" + body
	}
	return out
}

func splitPrefix(s string) (prefix, body string, ok bool) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", s, false
	}
	return s[:idx], strings.TrimSpace(s[idx+1:]), true
}

// Link renders an inline MarkdownV2 link.
func Link(label, url string) string {
	return "[" + EscapeText(label) + "](" + escapeURL(url) + ")"
}

// AppendLink returns ft with a link on its own trailing line.
func AppendLink(ft domain.FormattedText, label, url string) domain.FormattedText {
	if ft.Dialect != domain.DialectMarkdownV2 {
		ft.Body = EscapeText(ft.Body)
		ft.Dialect = domain.DialectMarkdownV2
	}
	link := Link(label, url)
	plainLink := label + ": " + url
	if ft.Body == "" {
		ft.Body = link
	} else {
		ft.Body += "\n" + link
	}
	if ft.Plain == "" {
		ft.Plain = plainLink
	} else {
		ft.Plain += "\n" + plainLink
	}
	return ft
}
