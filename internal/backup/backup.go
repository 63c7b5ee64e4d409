// Package backup exports and imports the whole session as a versioned
// JSON document. Import is fail-closed: every validation step and the
// user's confirmation must pass before anything changes, and the swap
// itself is atomic.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/novakit/nova/internal/session"
)

// Version is the only backup document version this build reads and
// writes.
const Version = 1

// ErrMissingCollections is returned when a document lacks the
// memories or messages collection entirely (absent, not empty).
var ErrMissingCollections = errors.New("backup missing memories or messages collection")

// UnsupportedVersionError reports a document version this build does
// not understand. Found is the version as written, or "unknown" when
// the field is absent.
type UnsupportedVersionError struct {
	Found string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported backup version %s (supported: %d)", e.Found, Version)
}

// Document is the backup wire format. Field names are fixed; older
// exports must keep importing.
type Document struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exportedAt"`
	Memories   []session.Memory  `json:"memories"`
	Messages   []session.Message `json:"messages"`
}

// Export snapshots the given collections into a document stamped with
// the current instant. The session itself is untouched.
func Export(memories []session.Memory, messages []session.Message) *Document {
	if memories == nil {
		memories = []session.Memory{}
	}
	if messages == nil {
		messages = []session.Message{}
	}
	return &Document{
		Version:    Version,
		ExportedAt: time.Now().UTC(),
		Memories:   memories,
		Messages:   messages,
	}
}

// Marshal renders a document as indented JSON for a portable file.
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	return data, nil
}

// Filename returns the conventional export file name for a date,
// nova-memory-YYYY-MM-DD.json.
func Filename(t time.Time) string {
	return "nova-memory-" + t.Format("2006-01-02") + ".json"
}

// Parse validates raw bytes as a backup document. It distinguishes
// absent collections from empty ones: an empty session exports and
// re-imports cleanly, while a truncated or foreign file is rejected.
func Parse(raw []byte) (*Document, error) {
	// Probe with pointers so absent fields stay nil while present but
	// empty collections decode to non-nil empty slices.
	var probe struct {
		Version  *int               `json:"version"`
		Memories *[]session.Memory  `json:"memories"`
		Messages *[]session.Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("backup is not valid JSON: %w", err)
	}
	if probe.Memories == nil || probe.Messages == nil {
		return nil, ErrMissingCollections
	}
	if probe.Version == nil {
		return nil, &UnsupportedVersionError{Found: "unknown"}
	}
	if *probe.Version != Version {
		return nil, &UnsupportedVersionError{Found: fmt.Sprint(*probe.Version)}
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("backup is not valid JSON: %w", err)
	}
	return &doc, nil
}

// ConfirmFunc asks the user to approve replacing the session with
// counts from the incoming document. Returning false aborts the
// import without error.
type ConfirmFunc func(memories, messages int) (bool, error)

// ReplaceTarget receives the imported collections in one atomic step.
type ReplaceTarget interface {
	ReplaceAll(ctx context.Context, memories []session.Memory, messages []session.Message)
}

// Import validates raw bytes, asks for confirmation, and replaces the
// session. Returns the parsed document and whether the replacement
// happened. The target is untouched unless every step succeeded.
func Import(ctx context.Context, raw []byte, confirm ConfirmFunc, target ReplaceTarget) (*Document, bool, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, false, err
	}

	if confirm != nil {
		ok, err := confirm(len(doc.Memories), len(doc.Messages))
		if err != nil {
			return doc, false, fmt.Errorf("confirm import: %w", err)
		}
		if !ok {
			return doc, false, nil
		}
	}

	target.ReplaceAll(ctx, doc.Memories, doc.Messages)
	return doc, true, nil
}
