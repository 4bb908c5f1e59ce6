package notion

import (
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSanitizeEmptyKindsDropPayload(t *testing.T) {
	s := NewSanitizer(discardLogger())
	for _, kind := range []string{"divider", "breadcrumb", "table_of_contents"} {
		block := Block{
			ID:   "blk_1",
			Type: kind,
			Payload: map[string]any{
				"color": "gray",
				"junk":  "should never survive",
			},
		}
		clean, ok := s.Sanitize(block)
		if !ok {
			t.Fatalf("%s: expected block to be kept", kind)
		}
		if clean.Type != kind {
			t.Fatalf("%s: wrong kind tag %q", kind, clean.Type)
		}
		if len(clean.Payload) != 0 {
			t.Fatalf("%s: expected payload-free record, got %+v", kind, clean.Payload)
		}
	}
}

func TestSanitizeSkipsStructuralAndUnsupportedKinds(t *testing.T) {
	s := NewSanitizer(discardLogger())
	for _, kind := range []string{"child_page", "child_database", "link_preview", "unsupported", ""} {
		if _, ok := s.Sanitize(Block{ID: "blk_1", Type: kind, Payload: map[string]any{}}); ok {
			t.Fatalf("expected kind %q to be skipped", kind)
		}
	}
}

func TestSanitizeNeverCopiesReadOnlyFields(t *testing.T) {
	s := NewSanitizer(discardLogger())
	readonly := []string{"id", "created_time", "last_edited_time", "created_by", "last_edited_by", "has_children", "archived", "parent"}

	payload := map[string]any{
		"rich_text": []any{map[string]any{"type": "text", "text": map[string]any{"content": "hello"}}},
		"color":     "default",
	}
	for _, field := range readonly {
		payload[field] = "poisoned"
	}

	clean, ok := s.Sanitize(Block{ID: "blk_1", Type: "paragraph", Payload: payload})
	if !ok {
		t.Fatalf("expected paragraph to be kept")
	}
	for _, field := range readonly {
		if _, present := clean.Payload[field]; present {
			t.Fatalf("read-only field %q leaked into clean payload", field)
		}
	}
	if _, present := clean.Payload["rich_text"]; !present {
		t.Fatalf("rich_text should be copied")
	}
	if err := ValidateWrite(clean); err != nil {
		t.Fatalf("clean block rejected by write schema: %v", err)
	}
}

func TestSanitizeCopiesRichTextVerbatim(t *testing.T) {
	s := NewSanitizer(discardLogger())
	richText := []any{
		map[string]any{"type": "text", "text": map[string]any{"content": "first"}},
		map[string]any{"type": "text", "text": map[string]any{"content": "second"}},
	}
	clean, ok := s.Sanitize(Block{Type: "to_do", Payload: map[string]any{
		"rich_text": richText,
		"checked":   true,
	}})
	if !ok {
		t.Fatalf("expected to_do to be kept")
	}
	if !reflect.DeepEqual(clean.Payload["rich_text"], richText) {
		t.Fatalf("rich_text not copied verbatim: %+v", clean.Payload["rich_text"])
	}
	if clean.Payload["checked"] != true {
		t.Fatalf("checked flag lost: %+v", clean.Payload)
	}
}

func TestValidateWriteRejectsServerAssignedFields(t *testing.T) {
	bad := CleanBlock{Type: "paragraph", Payload: map[string]any{
		"rich_text": []any{},
		"id":        "blk_leaked",
	}}
	if err := ValidateWrite(bad); err == nil {
		t.Fatalf("expected write schema to reject a payload carrying id")
	}
}

func TestCleanBlockMarshalShape(t *testing.T) {
	clean := CleanBlock{Type: "paragraph", Payload: map[string]any{"color": "default"}}
	data, err := json.Marshal(clean)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["type"] != "paragraph" {
		t.Fatalf("expected type tag, got %+v", decoded)
	}
	payload, ok := decoded["paragraph"].(map[string]any)
	if !ok || payload["color"] != "default" {
		t.Fatalf("expected kind-keyed payload, got %+v", decoded)
	}
}
