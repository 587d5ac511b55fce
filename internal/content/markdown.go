package content

import (
	"path"
	"regexp"
	"strings"
)

// binaryExtensions are link targets treated as attachments rather than notes.
var binaryExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true, "svg": true,
	"webp": true, "tif": true, "tiff": true, "ico": true, "heic": true, "avif": true,
	"mp3": true, "wav": true, "ogg": true, "flac": true, "m4a": true, "aac": true,
	"mp4": true, "mov": true, "avi": true, "mkv": true, "webm": true, "m4v": true,
	"pdf": true, "zip": true, "rar": true, "7z": true, "tar": true, "gz": true,
	"doc": true, "docx": true, "xls": true, "xlsx": true, "ppt": true, "pptx": true,
	"exe": true, "dmg": true, "iso": true, "bin": true,
}

var (
	// ![alt](src) and ![[file]]
	imageEmbedRe   = regexp.MustCompile(`!\[[^\]\n]*\]\([^)\n]*\)`)
	transclusionRe = regexp.MustCompile(`!\[\[[^\]\n]*\]\]`)

	// [[target]] / [[target|alias]] and [label](target)
	wikiRefRe     = regexp.MustCompile(`\[\[([^\]|\n]+)(\|[^\]\n]*)?\]\]`)
	markdownRefRe = regexp.MustCompile(`\[([^\]\n]*)\]\(([^)\s\n]+)(\s+"[^"\n]*")?\)`)

	// paired media elements first, then any leftover opening/void/closing tags
	pairedMediaRe = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<video\b[^>]*>.*?</video\s*>`),
		regexp.MustCompile(`(?is)<audio\b[^>]*>.*?</audio\s*>`),
		regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>`),
		regexp.MustCompile(`(?is)<object\b[^>]*>.*?</object\s*>`),
		regexp.MustCompile(`(?is)<picture\b[^>]*>.*?</picture\s*>`),
		regexp.MustCompile(`(?is)<frameset\b[^>]*>.*?</frameset\s*>`),
	}
	mediaTagRe = regexp.MustCompile(`(?i)</?(img|video|audio|iframe|frame|frameset|embed|object|source|track|picture)\b[^>]*>`)

	blankRunRe = regexp.MustCompile(`\n{3,}`)
	fenceRe    = regexp.MustCompile("(?m)^[ \t]*(```|~~~)")
	fenceClose = map[string]*regexp.Regexp{
		"```": regexp.MustCompile("(?m)^[ \t]*```[ \t]*$"),
		"~~~": regexp.MustCompile(`(?m)^[ \t]*~~~[ \t]*$`),
	}
)

// CleanMarkdown removes image embeds, attachment references, transclusions and
// raw HTML media tags from markdown while keeping headings, emphasis, lists,
// code fences, quotes, tables and ordinary note references. Fenced code is
// left untouched. Runs of three or more newlines collapse to one blank line.
func CleanMarkdown(raw string) string {
	if raw == "" {
		return ""
	}
	text := strings.ReplaceAll(raw, "\r\n", "\n")

	var b strings.Builder
	for _, seg := range splitFences(text) {
		if seg.code {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(cleanProse(seg.text))
	}

	return strings.TrimSpace(b.String())
}

func cleanProse(s string) string {
	s = transclusionRe.ReplaceAllString(s, "")
	s = imageEmbedRe.ReplaceAllString(s, "")
	for _, re := range pairedMediaRe {
		s = re.ReplaceAllString(s, "")
	}
	s = mediaTagRe.ReplaceAllString(s, "")

	s = wikiRefRe.ReplaceAllStringFunc(s, func(m string) string {
		if isAttachment(wikiRefRe.FindStringSubmatch(m)[1]) {
			return ""
		}
		return m
	})
	s = markdownRefRe.ReplaceAllStringFunc(s, func(m string) string {
		if isAttachment(markdownRefRe.FindStringSubmatch(m)[2]) {
			return ""
		}
		return m
	})
	// Prose and code alternate, so collapsing inside each prose segment never
	// reaches into a fence.
	return blankRunRe.ReplaceAllString(s, "\n\n")
}

// ContainsMedia reports whether content embeds an image, carries an HTML
// media or frame tag, or references an attachment by binary extension.
func ContainsMedia(content string) bool {
	if content == "" {
		return false
	}
	if imageEmbedRe.MatchString(content) || transclusionRe.MatchString(content) || mediaTagRe.MatchString(content) {
		return true
	}
	for _, m := range wikiRefRe.FindAllStringSubmatch(content, -1) {
		if isAttachment(m[1]) {
			return true
		}
	}
	for _, m := range markdownRefRe.FindAllStringSubmatch(content, -1) {
		if isAttachment(m[2]) {
			return true
		}
	}
	return false
}

// ExtractReferences returns the distinct [[note]] references in content,
// skipping attachments, in order of first appearance.
func ExtractReferences(content string) []string {
	refs := []string{}
	seen := make(map[string]bool)
	for _, m := range wikiRefRe.FindAllStringSubmatch(content, -1) {
		target := strings.TrimSpace(m[1])
		if target == "" || isAttachment(target) || seen[target] {
			continue
		}
		seen[target] = true
		refs = append(refs, target)
	}
	return refs
}

func isAttachment(target string) bool {
	target = strings.TrimSpace(target)
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target = target[:i]
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(target)), ".")
	return binaryExtensions[ext]
}

type segment struct {
	text string
	code bool
}

// splitFences cuts text into prose and fenced-code segments. An unclosed
// fence runs to the end of the text.
func splitFences(text string) []segment {
	var segs []segment
	for text != "" {
		loc := fenceRe.FindStringSubmatchIndex(text)
		if loc == nil {
			segs = append(segs, segment{text: text})
			break
		}
		if loc[0] > 0 {
			segs = append(segs, segment{text: text[:loc[0]]})
		}
		marker := text[loc[2]:loc[3]]
		rest := text[loc[1]:]

		end := len(text)
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			if c := fenceClose[marker].FindStringIndex(rest[nl+1:]); c != nil {
				end = loc[1] + nl + 1 + c[1]
			}
		}
		segs = append(segs, segment{text: text[loc[0]:end], code: true})
		text = text[end:]
	}
	return segs
}
