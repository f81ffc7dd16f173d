package domain

// Dialect names a destination markup syntax.
type Dialect string

const (
	DialectPlain      Dialect = ""
	DialectMarkdownV2 Dialect = "MarkdownV2"
)

// FormattedText is translator output. Only the markup package builds values
// with a non-plain dialect, so a raw source string never reaches a send call
// untranslated.
type FormattedText struct {
	Prefix    string
	HasPrefix bool
	Body      string
	Dialect   Dialect

	// Plain is the same message without destination markup, used when the
	// destination refuses the formatted form.
	Plain string
}

// String joins the prefix line and the body.
func (f FormattedText) String() string {
	if f.HasPrefix {
		return f.Prefix + ":\n" + f.Body
	}
	return f.Body
}

// IsEmpty reports whether there is nothing to send.
func (f FormattedText) IsEmpty() bool {
	return !f.HasPrefix && f.Body == ""
}

// PlainText wraps an unformatted string.
func PlainText(s string) FormattedText {
	return FormattedText{Body: s, Plain: s, Dialect: DialectPlain}
}
