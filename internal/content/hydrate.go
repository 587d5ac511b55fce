package content

import (
	"notesync/internal/crdt"
	"notesync/internal/errs"
)

// HydrateReplicatedState builds a fresh replicated document from plain text.
// The text is cleaned first and inserted as a single block when non-empty.
// Used whenever content changes through the plain-text path.
func HydrateReplicatedState(text string) ([]byte, error) {
	doc := crdt.New()
	if cleaned := CleanMarkdown(text); cleaned != "" {
		if err := doc.InsertPlainText(cleaned); err != nil {
			return nil, &errs.ValidationError{Field: "content", Reason: "cannot build replicated state", Err: err}
		}
	}
	return doc.Encode(), nil
}
