package notion

import (
	"encoding/json"
	"log/slog"
)

// CleanBlock is the write-safe form of a block: the kind tag plus a payload
// rebuilt from the kind's writable fields only. Server-assigned fields can
// never appear because payloads are reconstructed, not copied wholesale.
type CleanBlock struct {
	Type    string
	Payload map[string]any
}

func (b CleanBlock) MarshalJSON() ([]byte, error) {
	payload := b.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return json.Marshal(map[string]any{
		"object": "block",
		"type":   b.Type,
		b.Type:   payload,
	})
}

type writeSchema struct {
	// empty kinds always produce a payload-free record, whatever the
	// original payload contained.
	empty  bool
	fields []string
}

// writeSchemas is the exhaustive per-kind copy schema. A kind missing from
// this table cannot be written back and is skipped by the sanitizer; that
// set includes link_preview and unsupported.
var writeSchemas = map[string]writeSchema{
	"paragraph":          {fields: []string{"rich_text", "color"}},
	"heading_1":          {fields: []string{"rich_text", "color", "is_toggleable"}},
	"heading_2":          {fields: []string{"rich_text", "color", "is_toggleable"}},
	"heading_3":          {fields: []string{"rich_text", "color", "is_toggleable"}},
	"bulleted_list_item": {fields: []string{"rich_text", "color"}},
	"numbered_list_item": {fields: []string{"rich_text", "color"}},
	"to_do":              {fields: []string{"rich_text", "checked", "color"}},
	"toggle":             {fields: []string{"rich_text", "color"}},
	"quote":              {fields: []string{"rich_text", "color"}},
	"callout":            {fields: []string{"rich_text", "icon", "color"}},
	"code":               {fields: []string{"rich_text", "caption", "language"}},
	"equation":           {fields: []string{"expression"}},
	"bookmark":           {fields: []string{"url", "caption"}},
	"embed":              {fields: []string{"url", "caption"}},
	"image":              {fields: []string{"external", "caption"}},
	"video":              {fields: []string{"external", "caption"}},
	"divider":            {empty: true},
	"breadcrumb":         {empty: true},
	"table_of_contents":  {empty: true},
}

// structuralKinds are recursed into by the replicator instead of being
// copied as content.
var structuralKinds = map[string]bool{
	"child_page":     true,
	"child_database": true,
}

// Sanitizer converts read blocks into write-safe blocks.
type Sanitizer struct {
	logger *slog.Logger
}

func NewSanitizer(logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{logger: logger}
}

// Sanitize returns the write-safe form of a block, or false when the block
// must be skipped: no recognizable kind, a structural kind handled by the
// replicator, or a kind with no write schema.
func (s *Sanitizer) Sanitize(b Block) (CleanBlock, bool) {
	if b.Type == "" {
		return CleanBlock{}, false
	}
	if structuralKinds[b.Type] {
		return CleanBlock{}, false
	}
	schema, ok := writeSchemas[b.Type]
	if !ok {
		s.logger.Warn("skipping unsupported block type", slog.String("type", b.Type), slog.String("block_id", b.ID))
		return CleanBlock{}, false
	}
	if schema.empty {
		return CleanBlock{Type: b.Type, Payload: map[string]any{}}, true
	}
	payload := map[string]any{}
	for _, field := range schema.fields {
		if value, ok := b.Payload[field]; ok {
			payload[field] = value
		}
	}
	return CleanBlock{Type: b.Type, Payload: payload}, true
}
