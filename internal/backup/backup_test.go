package backup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/novakit/nova/internal/session"
)

type fakeTarget struct {
	called   bool
	memories []session.Memory
	messages []session.Message
}

func (f *fakeTarget) ReplaceAll(_ context.Context, memories []session.Memory, messages []session.Message) {
	f.called = true
	f.memories = memories
	f.messages = messages
}

func TestExportRoundTrip(t *testing.T) {
	memories := []session.Memory{session.NewMemory("likes tea", session.CategoryPreference)}
	messages := []session.Message{
		session.NewUserMessage("hello", true),
		session.NewModelMessage("hi!"),
	}

	doc := Export(memories, messages)
	if doc.Version != 1 {
		t.Errorf("version = %d, want 1", doc.Version)
	}
	if doc.ExportedAt.IsZero() {
		t.Error("exportedAt must be stamped")
	}

	raw, err := doc.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Memories) != 1 || len(got.Messages) != 2 {
		t.Fatalf("round-trip counts = (%d, %d)", len(got.Memories), len(got.Messages))
	}
	if got.Messages[0].ID != messages[0].ID {
		t.Error("message id did not survive")
	}
	if !got.Messages[0].Timestamp.Equal(messages[0].Timestamp) {
		t.Error("timestamp precision lost in round-trip")
	}
	if !got.Messages[0].IsAudio {
		t.Error("isAudio flag lost")
	}
	if got.Memories[0].Category != session.CategoryPreference {
		t.Error("category lost")
	}
}

func TestExportEmptySession(t *testing.T) {
	raw, err := Export(nil, nil).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// Empty collections must serialize as [], not null, so the export
	// re-imports.
	if strings.Contains(string(raw), "null") {
		t.Errorf("export contains null collections:\n%s", raw)
	}
	doc, err := Parse(raw)
	if err != nil {
		t.Fatalf("an empty export must re-import: %v", err)
	}
	if len(doc.Memories) != 0 || len(doc.Messages) != 0 {
		t.Error("expected empty collections")
	}
}

func TestWireFieldNames(t *testing.T) {
	raw, err := Export(nil, []session.Message{session.NewUserMessage("hi", false)}).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"version", "exportedAt", "memories", "messages"} {
		if _, ok := generic[field]; !ok {
			t.Errorf("document missing field %q", field)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Errorf("err = %v, want a descriptive JSON error", err)
	}
}

func TestParseRejectsMissingCollections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no collections", `{"version":1}`},
		{"missing messages", `{"version":1,"memories":[]}`},
		{"missing memories", `{"version":1,"messages":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); !errors.Is(err, ErrMissingCollections) {
				t.Errorf("err = %v, want ErrMissingCollections", err)
			}
		})
	}
}

func TestParseRejectsWrongVersion(t *testing.T) {
	_, err := Parse([]byte(`{"version":2,"memories":[],"messages":[]}`))
	var verr *UnsupportedVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want UnsupportedVersionError", err)
	}
	if verr.Found != "2" {
		t.Errorf("found = %q, want %q", verr.Found, "2")
	}
	if !strings.Contains(verr.Error(), "2") {
		t.Error("error message must name the found version")
	}
}

func TestParseRejectsAbsentVersion(t *testing.T) {
	_, err := Parse([]byte(`{"memories":[],"messages":[]}`))
	var verr *UnsupportedVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want UnsupportedVersionError", err)
	}
	if verr.Found != "unknown" {
		t.Errorf("found = %q, want %q", verr.Found, "unknown")
	}
}

func TestImportAppliesAfterConfirmation(t *testing.T) {
	raw, _ := Export(
		[]session.Memory{session.NewMemory("plays guitar", session.CategoryHistory)},
		[]session.Message{session.NewUserMessage("hi", false)},
	).Marshal()

	target := &fakeTarget{}
	var askedMem, askedMsg int
	doc, applied, err := Import(context.Background(), raw, func(memories, messages int) (bool, error) {
		askedMem, askedMsg = memories, messages
		return true, nil
	}, target)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !applied || !target.called {
		t.Fatal("import should have replaced the session")
	}
	if askedMem != 1 || askedMsg != 1 {
		t.Errorf("confirmation saw counts (%d, %d), want (1, 1)", askedMem, askedMsg)
	}
	if len(doc.Memories) != 1 || len(target.memories) != 1 {
		t.Error("imported collections lost")
	}
}

func TestImportDeclinedChangesNothing(t *testing.T) {
	raw, _ := Export(nil, nil).Marshal()
	target := &fakeTarget{}
	_, applied, err := Import(context.Background(), raw, func(int, int) (bool, error) {
		return false, nil
	}, target)
	if err != nil {
		t.Fatalf("declining must not be an error: %v", err)
	}
	if applied || target.called {
		t.Error("declined import must not touch the session")
	}
}

func TestImportInvalidDocumentNeverConfirms(t *testing.T) {
	target := &fakeTarget{}
	confirmed := false
	_, applied, err := Import(context.Background(), []byte(`{"version":9,"memories":[],"messages":[]}`),
		func(int, int) (bool, error) {
			confirmed = true
			return true, nil
		}, target)
	if err == nil {
		t.Fatal("expected a version error")
	}
	if confirmed {
		t.Error("confirmation must not run for an invalid document")
	}
	if applied || target.called {
		t.Error("invalid document must not touch the session")
	}
}

func TestFilename(t *testing.T) {
	ts := time.Date(2026, 8, 28, 15, 4, 5, 0, time.UTC)
	if got := Filename(ts); got != "nova-memory-2026-08-28.json" {
		t.Errorf("Filename = %q", got)
	}
}
