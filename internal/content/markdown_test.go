package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "empty",
			in:   "",
			want: "",
		},
		{
			name: "image embed removed",
			in:   "Intro ![diagram](img/arch.png) outro",
			want: "Intro  outro",
		},
		{
			name: "transclusion removed",
			in:   "Before\n![[Other Note]]\nAfter",
			want: "Before\n\nAfter",
		},
		{
			name: "attachment reference removed, note reference kept",
			in:   "See [[report.pdf]] and [[Meeting Notes]]",
			want: "See  and [[Meeting Notes]]",
		},
		{
			name: "markdown link to binary removed, web link kept",
			in:   "[slides](files/deck.pptx) [site](https://example.com)",
			want: "[site](https://example.com)",
		},
		{
			name: "raw html media removed",
			in:   "Watch <video src=\"a.mp4\"><source src=\"a.webm\"></video> now <img src=\"x.png\"/>",
			want: "Watch  now",
		},
		{
			name: "iframe removed",
			in:   "<iframe src=\"https://player.example\"></iframe>\ntext",
			want: "text",
		},
		{
			name: "structure preserved",
			in:   "# Title\n\n**bold** _em_\n\n- a\n- b\n\n> quote\n\n| a | b |\n|---|---|\n| 1 | 2 |",
			want: "# Title\n\n**bold** _em_\n\n- a\n- b\n\n> quote\n\n| a | b |\n|---|---|\n| 1 | 2 |",
		},
		{
			name: "blank line runs collapse",
			in:   "one\n\n\n\n\ntwo\n\nthree",
			want: "one\n\ntwo\n\nthree",
		},
		{
			name: "outer whitespace trimmed",
			in:   "  \n\nbody\n\n  ",
			want: "body",
		},
		{
			name: "fenced code untouched",
			in:   "```md\n![keep](me.png)\n```\n![drop](me.png)",
			want: "```md\n![keep](me.png)\n```",
		},
		{
			name: "blank lines inside fenced code kept",
			in:   "a\n```\nx\n\n\n\ny\n```",
			want: "a\n```\nx\n\n\n\ny\n```",
		},
		{
			name: "blank runs around a fence collapse",
			in:   "a\n\n\n\n~~~\ncode\n\n\n~~~\n\n\n\nb",
			want: "a\n\n~~~\ncode\n\n\n~~~\n\nb",
		},
		{
			name: "crlf normalised",
			in:   "a\r\n\r\n\r\n\r\nb",
			want: "a\n\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanMarkdown(tt.in))
		})
	}
}

func TestContainsMedia(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"[[photo.jpg]]", true},
		{"[[Regular Note]]", false},
		{"", false},
		{"![alt](pic.png)", true},
		{"![[embedded]]", true},
		{"<iframe src=x></iframe>", true},
		{"<VIDEO controls>", true},
		{"[manual](docs/manual.PDF)", true},
		{"[home](https://example.com)", false},
		{"[[Release v1.2]]", false},
		{"[[clip.mp4|Demo clip]]", true},
		{"plain text", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsMedia(tt.in), tt.in)
	}
}

func TestExtractReferences(t *testing.T) {
	refs := ExtractReferences("[[Alpha]] then [[photo.png]] then [[Beta|b]] and [[Alpha]] again")
	assert.Equal(t, []string{"Alpha", "Beta"}, refs)
	assert.Empty(t, ExtractReferences("no refs"))
}
