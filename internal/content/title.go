package content

import (
	"path"
	"regexp"
	"strings"
)

// UntitledNote is used when neither the content nor a file name yields a title.
const UntitledNote = "Untitled Note"

var (
	topHeadingRe  = regexp.MustCompile(`^#[ \t]+(.*?)[ \t]*#*[ \t]*$`)
	htmlHeadingRe = regexp.MustCompile(`(?i)^<h1\b[^>]*>(.*?)</h1\s*>`)
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	emphasisRe    = regexp.MustCompile("(\\*\\*|__|\\*|_|~~|`)")
	linkTextRe    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	spacesRe      = regexp.MustCompile(`\s+`)
	separatorRe   = regexp.MustCompile(`[-_]+`)
)

// ExtractTitle derives a title from the first non-blank line of content when
// it is a top-level heading. Otherwise it falls back to the file name with
// separators turned into spaces, and finally to UntitledNote.
func ExtractTitle(content string, fallbackFilename ...string) string {
	if title := headingTitle(firstLine(content)); title != "" {
		return title
	}
	for _, name := range fallbackFilename {
		if title := titleFromFilename(name); title != "" {
			return title
		}
	}
	return UntitledNote
}

func firstLine(content string) string {
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func headingTitle(line string) string {
	var raw string
	if m := topHeadingRe.FindStringSubmatch(line); m != nil {
		raw = m[1]
	} else if m := htmlHeadingRe.FindStringSubmatch(line); m != nil {
		raw = m[1]
	} else {
		return ""
	}
	return stripInline(raw)
}

func stripInline(s string) string {
	s = linkTextRe.ReplaceAllString(s, "$1")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = emphasisRe.ReplaceAllString(s, "")
	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}

func titleFromFilename(name string) string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	name = separatorRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(spacesRe.ReplaceAllString(name, " "))
}
