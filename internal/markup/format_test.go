package markup

import (
	"strings"
	"testing"
)

func TestFormat_PlainTextUnchanged(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"hello world",
		"just some words 123",
		"multi\nline text",
		"",
	} {
		got := Format(in)
		if got.HasPrefix {
			t.Errorf("Format(%q) should have no prefix", in)
		}
		if got.String() != in {
			t.Errorf("Format(%q) = %q, want input unchanged", in, got.String())
		}
	}
}

func TestFormat_PrefixOnOwnLine(t *testing.T) {
	t.Parallel()
	got := Format("A: B")
	if !got.HasPrefix || got.Prefix != "A" {
		t.Fatalf("prefix: got %q (has=%v)", got.Prefix, got.HasPrefix)
	}
	if got.String() != "A:\nB" {
		t.Errorf("got %q, want %q", got.String(), "A:\nB")
	}
}

func TestFormat_BoldAfterPrefix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"A: **B**", "A:\n*B*"},
		{"From general (bob): **hi.**", "From general \\(bob\\):\n*hi\\.*"},
		{"x-y: **a+b**", "x\\-y:\n*a\\+b*"},
	}
	for _, tt := range tests {
		if got := Format(tt.in).String(); got != tt.want {
			t.Errorf("Format(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormat_Spans(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"italic star", "*hi*", "_hi_"},
		{"italic underscore", "_hi_", "_hi_"},
		{"underline", "__hi__", "__hi__"},
		{"strikethrough", "~~gone~~", "~gone~"},
		{"spoiler", "||secret||", "||secret||"},
		{"inline code", "run `go test`", "run `go test`"},
		{"inline code keeps markup chars", "`a_b*c`", "`a_b*c`"},
		{"inline code escapes backslash", "`a\\b`", "`a\\\\b`"},
		{"nested bold italic", "**bold *it***", "*bold _it_*"},
		{"bold inside spoiler", "||**x**||", "||*x*||"},
		{"italic inside italic", "*a _b_ c*", "_a b c_"},
		{"star italic inside underscore italic", "_a *b* c_", "_a b c_"},
		{"italic inside bold inside italic", "*a **b _c_** d*", "_a *b c* d_"},
		{"snake case stays literal", "snake_case_name", "snake\\_case\\_name"},
		{"unterminated bold", "**bold", "\\*\\*bold"},
		{"lone star", "2 * 3", "2 \\* 3"},
		{"empty span is literal", "****", "\\*\\*\\*\\*"},
		{"unterminated code", "a `b", "a \\`b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.in).Body; got != tt.want {
				t.Errorf("Format(%q).Body = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormat_CodeBlockLanguage(t *testing.T) {
	t.Parallel()
	got := Format("x: ```go\nfmt.Println(1)\n```").Body
	want := "```go\nfmt.Println(1)\n```"
	if got != want {
		t.Errorf("with language: got %q, want %q", got, want)
	}

	got = Format("x: ```\nplain code\n```").Body
	want = "```\nplain code\n```"
	if got != want {
		t.Errorf("without language: got %q, want %q", got, want)
	}
}

func TestFormat_CodeBlockContentNotFormatted(t *testing.T) {
	t.Parallel()
	got := Format("```\n**not bold** `tick`\n```").Body
	want := "```\n**not bold** \\`tick\\`\n```"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormat_CodeBlockSingleLine(t *testing.T) {
	t.Parallel()
	got := Format("```a.b()```").Body
	if got != "```\na.b()\n```" {
		t.Errorf("got %q", got)
	}
}

func TestFormat_CustomEmojiRemoved(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"hello <:wave:123456789> world", "hello  world"},
		{"<a:party:42>yay", "yay"},
		{"<:a<:b:1>:2>", ""},
	}
	for _, tt := range tests {
		got := Format(tt.in)
		if got.HasPrefix {
			t.Errorf("Format(%q): emoji colons must not produce a prefix", tt.in)
		}
		if got.Body != tt.want {
			t.Errorf("Format(%q).Body = %q, want %q", tt.in, got.Body, tt.want)
		}
	}
}

func TestFormat_EmojiAfterPrefix(t *testing.T) {
	t.Parallel()
	got := Format("From general (bob): nice <:wave:123456789>")
	if got.Body != "nice" {
		t.Errorf("body: got %q", got.Body)
	}
	if got.Plain != "From general (bob):\nnice" {
		t.Errorf("plain: got %q", got.Plain)
	}
}

func TestFormat_PlainKeepsRawMarkup(t *testing.T) {
	t.Parallel()
	got := Format("A: **B**")
	if got.Plain != "A:\n**B**" {
		t.Errorf("plain: got %q", got.Plain)
	}
}

// Translating already-escaped output escapes the backslashes again.
func TestFormat_NotIdempotent(t *testing.T) {
	t.Parallel()
	once := Format("a.b").Body
	twice := Format(once).Body
	if once != "a\\.b" {
		t.Fatalf("once: got %q", once)
	}
	if twice != "a\\\\\\.b" {
		t.Errorf("twice: got %q", twice)
	}
}

func TestEscapeText_AllReserved(t *testing.T) {
	t.Parallel()
	got := EscapeText("_*[]()~`>#+-=|{}.!\\")
	want := "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!\\\\"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLink(t *testing.T) {
	t.Parallel()
	got := Link("Photo", "https://cdn.example.com/a_(1).png")
	want := "[Photo](https://cdn.example.com/a_(1\\).png)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAppendLink(t *testing.T) {
	t.Parallel()
	ft := AppendLink(Format("From general (bob): look"), "Video", "https://x.test/v.mp4")
	want := "From general \\(bob\\):\nlook\n[Video](https://x.test/v.mp4)"
	if ft.String() != want {
		t.Errorf("got %q, want %q", ft.String(), want)
	}
	if !strings.HasSuffix(ft.Plain, "\nVideo: https://x.test/v.mp4") {
		t.Errorf("plain: got %q", ft.Plain)
	}

	empty := AppendLink(Format(""), "Document", "https://x.test/f")
	if empty.Body != "[Document](https://x.test/f)" {
		t.Errorf("empty caption: got %q", empty.Body)
	}
}

func TestRender_AdjacentUnderscoreMarkers(t *testing.T) {
	t.Parallel()
	got := Format("___x___").Body
	if strings.Contains(got, "___") {
		t.Errorf("adjacent markers must be separated: %q", got)
	}
	if unbalanced(got) != "" {
		t.Errorf("unbalanced output %q", got)
	}
}
