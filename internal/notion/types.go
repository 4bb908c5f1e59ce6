package notion

import "encoding/json"

// Page is a page object as returned by the API.
type Page struct {
	Object         string                   `json:"object,omitempty"`
	ID             string                   `json:"id"`
	CreatedTime    string                   `json:"created_time,omitempty"`
	LastEditedTime string                   `json:"last_edited_time,omitempty"`
	Archived       bool                     `json:"archived,omitempty"`
	Parent         ParentRef                `json:"parent,omitempty"`
	Properties     map[string]PropertyValue `json:"properties,omitempty"`
	URL            string                   `json:"url,omitempty"`
}

type ParentRef struct {
	Type       string `json:"type,omitempty"`
	PageID     string `json:"page_id,omitempty"`
	DatabaseID string `json:"database_id,omitempty"`
}

func PageParent(pageID string) ParentRef {
	return ParentRef{PageID: pageID}
}

func DatabaseParent(databaseID string) ParentRef {
	return ParentRef{DatabaseID: databaseID}
}

type PropertyValue struct {
	Type  string     `json:"type,omitempty"`
	Title []RichText `json:"title,omitempty"`
	Date  *DateValue `json:"date,omitempty"`
}

type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type RichText struct {
	Type      string    `json:"type,omitempty"`
	Text      *TextSpan `json:"text,omitempty"`
	PlainText string    `json:"plain_text,omitempty"`
}

type TextSpan struct {
	Content string `json:"content"`
}

// TitleProperty builds a title property value holding a single text span.
func TitleProperty(text string) PropertyValue {
	return PropertyValue{
		Title: []RichText{{Type: "text", Text: &TextSpan{Content: text}}},
	}
}

// DateProperty builds a date property value for an ISO date string.
func DateProperty(isoDate string) PropertyValue {
	return PropertyValue{Date: &DateValue{Start: isoDate}}
}

// TitleText extracts the plain text of the page's title property, whatever
// the property is named in the parent database.
func (p Page) TitleText() string {
	for _, prop := range p.Properties {
		if prop.Type != "title" && len(prop.Title) == 0 {
			continue
		}
		if len(prop.Title) == 0 {
			continue
		}
		span := prop.Title[0]
		if span.Text != nil && span.Text.Content != "" {
			return span.Text.Content
		}
		if span.PlainText != "" {
			return span.PlainText
		}
	}
	return ""
}

// DateText extracts the start date of the named date property, if any.
func (p Page) DateText(property string) string {
	prop, ok := p.Properties[property]
	if !ok || prop.Date == nil {
		return ""
	}
	return prop.Date.Start
}

// Block is a block object as returned by the API. The kind-specific payload
// is kept as decoded JSON under Payload; server-assigned envelope fields are
// surfaced as plain struct fields.
type Block struct {
	Object         string
	ID             string
	Type           string
	HasChildren    bool
	Archived       bool
	CreatedTime    string
	LastEditedTime string
	Payload        map[string]any
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Object = stringField(raw, "object")
	b.ID = stringField(raw, "id")
	b.Type = stringField(raw, "type")
	b.CreatedTime = stringField(raw, "created_time")
	b.LastEditedTime = stringField(raw, "last_edited_time")
	b.HasChildren = boolField(raw, "has_children")
	b.Archived = boolField(raw, "archived")
	b.Payload = nil
	if b.Type == "" {
		return nil
	}
	if payload, ok := raw[b.Type]; ok {
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return err
		}
		b.Payload = decoded
	}
	return nil
}

// ChildPageTitle returns the title carried by a child_page block.
func (b Block) ChildPageTitle() string {
	if b.Type != "child_page" {
		return ""
	}
	title, _ := b.Payload["title"].(string)
	return title
}

func stringField(raw map[string]json.RawMessage, key string) string {
	data, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ""
	}
	return s
}

func boolField(raw map[string]json.RawMessage, key string) bool {
	data, ok := raw[key]
	if !ok {
		return false
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return false
	}
	return v
}

// QueryFilter mirrors the database query filter shape. Only the predicates
// this system issues are modeled.
type QueryFilter struct {
	And      []QueryFilter  `json:"and,omitempty"`
	Property string         `json:"property,omitempty"`
	Title    *TextCondition `json:"title,omitempty"`
	Date     *DateCondition `json:"date,omitempty"`
}

type TextCondition struct {
	Equals string `json:"equals,omitempty"`
}

type DateCondition struct {
	Before string `json:"before,omitempty"`
}

// TitleEquals matches pages whose title property equals value exactly.
func TitleEquals(property, value string) *QueryFilter {
	return &QueryFilter{Property: property, Title: &TextCondition{Equals: value}}
}

// DateBefore matches pages whose date property is strictly before the ISO
// date (the boundary date itself is excluded).
func DateBefore(property, isoDate string) *QueryFilter {
	return &QueryFilter{And: []QueryFilter{{Property: property, Date: &DateCondition{Before: isoDate}}}}
}

type QueryResult struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type BlockList struct {
	Results    []Block `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor"`
}
