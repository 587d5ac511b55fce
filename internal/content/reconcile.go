package content

import (
	"strings"
	"unicode/utf8"

	"notesync/internal/errs"
	"notesync/internal/models"
)

// DefaultMaxContentBytes caps the size of content and rich markup.
const DefaultMaxContentBytes = 5 << 20

// Input is raw content arriving through the CRUD path.
type Input struct {
	Title       string
	Content     string
	HTMLContent *string
	Filename    string
}

// Output is the reconciled triple plus derived fields, ready to persist.
type Output struct {
	Title       string
	Content     string
	HTMLContent *string
	RenderMode  models.RenderMode
	State       []byte
}

// Reconciler keeps plain content, sanitized rich content and replicated state
// consistent. Every write that touches content goes through Reconcile.
type Reconciler struct {
	MaxContentBytes int
}

func NewReconciler(maxContentBytes int) *Reconciler {
	if maxContentBytes <= 0 {
		maxContentBytes = DefaultMaxContentBytes
	}
	return &Reconciler{MaxContentBytes: maxContentBytes}
}

// Reconcile cleans the plain content, sanitizes rich markup when present,
// derives the title and render mode, and hydrates replicated state from the
// cleaned content. Nothing partially sanitized is ever returned.
func (r *Reconciler) Reconcile(in Input) (*Output, error) {
	cleaned, state, err := r.ContentState(in.Content)
	if err != nil {
		return nil, err
	}
	out := &Output{Content: cleaned, State: state}

	if in.HTMLContent != nil {
		safe, err := r.SanitizeHTML(*in.HTMLContent)
		if err != nil {
			return nil, err
		}
		if safe != "" {
			out.HTMLContent = &safe
		}
	}
	out.RenderMode = models.RenderModeFor(out.HTMLContent)

	out.Title = strings.TrimSpace(in.Title)
	if out.Title == "" {
		out.Title = ExtractTitle(out.Content, in.Filename)
	}
	return out, nil
}

// ContentState cleans plain content and hydrates the matching replicated
// state. Callers replacing content must persist both together.
func (r *Reconciler) ContentState(raw string) (string, []byte, error) {
	if err := r.check("content", raw); err != nil {
		return "", nil, err
	}
	cleaned := CleanMarkdown(raw)
	state, err := HydrateReplicatedState(cleaned)
	if err != nil {
		return "", nil, err
	}
	return cleaned, state, nil
}

// SanitizeHTML runs the size and encoding checks before sanitizing.
func (r *Reconciler) SanitizeHTML(raw string) (string, error) {
	if err := r.check("htmlContent", raw); err != nil {
		return "", err
	}
	return Sanitize(raw)
}

func (r *Reconciler) check(field, value string) error {
	if len(value) > r.MaxContentBytes {
		return errs.Invalid(field, "exceeds maximum size")
	}
	if !utf8.ValidString(value) {
		return errs.Invalid(field, "not valid UTF-8")
	}
	return nil
}
