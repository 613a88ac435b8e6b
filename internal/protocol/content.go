package protocol

import (
	"encoding/json"
	"fmt"
)

// ContentType tags the variant held by a Content value.
type ContentType uint8

const (
	ContentEmpty ContentType = iota // control envelopes carry nothing
	ContentText                     // UTF-8 text
	ContentImage                    // assembled image bytes
	ContentVideo                    // assembled video bytes
	ContentRaw                      // one raw chunk of an in-flight transfer
)

// Content is a tagged union over the payload variants an envelope may
// carry. The zero value is the empty variant. Values are constructed
// through the *Content helpers and read through the accessors — there
// is no untyped escape hatch.
type Content struct {
	typ  ContentType
	text string
	data []byte
}

func TextContent(s string) Content  { return Content{typ: ContentText, text: s} }
func ImageContent(b []byte) Content { return Content{typ: ContentImage, data: b} }
func VideoContent(b []byte) Content { return Content{typ: ContentVideo, data: b} }
func RawContent(b []byte) Content   { return Content{typ: ContentRaw, data: b} }
func EmptyContent() Content         { return Content{} }

// Type returns the variant tag.
func (c Content) Type() ContentType { return c.typ }

// IsEmpty reports whether the content is the empty variant.
func (c Content) IsEmpty() bool { return c.typ == ContentEmpty }

// Text returns the text payload. ok is false for non-text variants.
func (c Content) Text() (string, bool) {
	return c.text, c.typ == ContentText
}

// Bytes returns the binary payload. ok is false for text and empty variants.
func (c Content) Bytes() ([]byte, bool) {
	switch c.typ {
	case ContentImage, ContentVideo, ContentRaw:
		return c.data, true
	default:
		return nil, false
	}
}

// ---------------------------------------------------------------------------
// JSON representation
// ---------------------------------------------------------------------------

// contentTypeNames maps variant tags to their wire names.
var contentTypeNames = map[ContentType]string{
	ContentText:  "text",
	ContentImage: "image",
	ContentVideo: "video",
	ContentRaw:   "raw",
}

// wireContent is the JSON shape of a non-empty Content value.
type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data []byte `json:"data,omitempty"` // encoding/json emits base64 for []byte
}

// MarshalJSON encodes the union as {"type": ..., "text"|"data": ...}.
// The empty variant encodes as JSON null.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.typ == ContentEmpty {
		return []byte("null"), nil
	}
	return json.Marshal(wireContent{
		Type: contentTypeNames[c.typ],
		Text: c.text,
		Data: c.data,
	})
}

// UnmarshalJSON decodes the union, accepting null as the empty variant.
func (c *Content) UnmarshalJSON(raw []byte) error {
	if string(raw) == "null" {
		*c = Content{}
		return nil
	}

	var w wireContent
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}

	switch w.Type {
	case "text":
		*c = TextContent(w.Text)
	case "image":
		*c = ImageContent(w.Data)
	case "video":
		*c = VideoContent(w.Data)
	case "raw":
		*c = RawContent(w.Data)
	default:
		return fmt.Errorf("unknown content type %q", w.Type)
	}
	return nil
}
