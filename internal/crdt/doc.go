package crdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"
)

/*
Replicated document state backed by automerge.

The service never looks inside the encoded bytes. It only needs four things:
an empty document, merging an update, encoding the whole state, and seeding a
fresh document with plain text on first hydration.

Merging is commutative and idempotent: applying the same update twice, or two
updates in either order, converges to the same heads.
*/

// ContentKey is the root map key holding the note body as a text object.
const ContentKey = "content"

// Doc is a replicated document. It is not safe for concurrent use.
type Doc struct {
	doc *automerge.Doc
}

// New returns an empty document.
func New() *Doc {
	return &Doc{doc: automerge.New()}
}

// Load decodes a full encoded state into a fresh document.
func Load(state []byte) (*Doc, error) {
	doc, err := automerge.Load(state)
	if err != nil {
		return nil, fmt.Errorf("failed to load replicated state: %w", err)
	}
	return &Doc{doc: doc}, nil
}

// Apply merges an update (incremental changes or a full encoded state).
func (d *Doc) Apply(update []byte) error {
	if len(update) == 0 {
		return nil
	}
	// Merging into a non-empty document skips unreadable chunks instead of
	// failing, so the chunk framing is checked first. Changes whose deps are
	// not here yet are queued by automerge, not rejected.
	if err := checkChunks(update); err != nil {
		return fmt.Errorf("malformed update: %w", err)
	}
	if err := d.doc.LoadIncremental(update); err != nil {
		return fmt.Errorf("failed to apply update: %w", err)
	}
	return nil
}

// Every encoded chunk starts with these bytes, then a 4 byte checksum, a type
// byte and the uLEB128 length of the body.
var chunkMagic = []byte{0x85, 0x6f, 0x4a, 0x83}

const (
	chunkDocument   = 0
	chunkChange     = 1
	chunkCompressed = 2
)

var errTruncated = errors.New("truncated chunk")

// checkChunks walks the chunk headers of an update and fails unless the
// bytes are a whole number of well-formed chunks.
func checkChunks(data []byte) error {
	for len(data) > 0 {
		if len(data) < len(chunkMagic)+4+1 || !bytes.Equal(data[:len(chunkMagic)], chunkMagic) {
			return errors.New("missing chunk header")
		}
		data = data[len(chunkMagic)+4:]

		switch data[0] {
		case chunkDocument, chunkChange, chunkCompressed:
		default:
			return fmt.Errorf("unknown chunk type %d", data[0])
		}
		data = data[1:]

		size, n := binary.Uvarint(data)
		if n <= 0 {
			return errTruncated
		}
		data = data[n:]
		if size > uint64(len(data)) {
			return errTruncated
		}
		data = data[size:]
	}
	return nil
}

// Encode returns the entire current state.
func (d *Doc) Encode() []byte {
	return d.doc.Save()
}

// InsertPlainText seeds the document with a single text block.
// Used only on first hydration, when the document is still empty.
func (d *Doc) InsertPlainText(text string) error {
	if text == "" {
		return nil
	}
	if err := d.doc.Path(ContentKey).Set(automerge.NewText(text)); err != nil {
		return fmt.Errorf("failed to insert text: %w", err)
	}
	return nil
}

// Text renders the text block, or "" when the document has none.
func (d *Doc) Text() (string, error) {
	v, err := d.doc.Path(ContentKey).Get()
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	if v.Kind() != automerge.KindText {
		return "", nil
	}
	return d.doc.Path(ContentKey).Text().Get()
}

// Heads returns the sorted hex change hashes at the tip of the document.
func (d *Doc) Heads() []string {
	heads := d.doc.Heads()
	out := make([]string, 0, len(heads))
	for _, h := range heads {
		out = append(out, h.String())
	}
	sort.Strings(out)
	return out
}
