package content

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"notesync/internal/errs"
)

// maxSanitizePasses bounds the fixpoint loop in Sanitize.
const maxSanitizePasses = 4

var codeLanguageClass = regexp.MustCompile(`^language-[\w-]+$`)

// Script-looking text survives the policy as plain text; encoding the final
// character keeps it readable but inert.
var (
	scriptSchemeText = regexp.MustCompile(`(?i)javascript\s*:`)
	eventHandlerText = regexp.MustCompile(`(?i)on[a-z]+\s*=`)
)

// richTextPolicy keeps structural and inline formatting markup and drops
// everything executable or embedded: script, style, event handlers, frames,
// media, objects and non-http(s)/mailto links.
var richTextPolicy = newRichTextPolicy()

func newRichTextPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr", "div", "span",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "b", "em", "i", "u", "s", "del", "ins", "mark", "sub", "sup",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)

	p.AllowAttrs("class").Matching(codeLanguageClass).OnElements("code")
	p.AllowAttrs("start").Matching(bluemonday.Integer).OnElements("ol")
	p.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("td", "th")
	p.AllowAttrs("align").Matching(regexp.MustCompile(`^(left|right|center)$`)).OnElements("td", "th")

	return p
}

// Sanitize strips executable and embedding constructs from rich markup.
// Empty input yields "". The result is stable: Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(raw string) (out string, err error) {
	if raw == "" {
		return "", nil
	}
	if !utf8.ValidString(raw) {
		return "", errs.Invalid("htmlContent", "not valid UTF-8")
	}

	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = &errs.ValidationError{Field: "htmlContent", Reason: "sanitizer fault", Err: fmt.Errorf("%v", r)}
		}
	}()

	// Entity normalisation can change the output of a second pass, so run
	// the policy until it stops changing the markup.
	out = sanitizePass(raw)
	for i := 1; i < maxSanitizePasses; i++ {
		next := sanitizePass(out)
		if next == out {
			break
		}
		out = next
	}
	return out, nil
}

func sanitizePass(s string) string {
	s = richTextPolicy.Sanitize(s)
	s = scriptSchemeText.ReplaceAllStringFunc(s, func(m string) string {
		return m[:len(m)-1] + "&#58;"
	})
	return eventHandlerText.ReplaceAllStringFunc(s, func(m string) string {
		return m[:len(m)-1] + "&#61;"
	})
}
