package api

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type ContentType string

const (
	ContentTypeText             ContentType = "text"
	ContentTypeImage            ContentType = "image"
	ContentTypeDocument         ContentType = "document"
	ContentTypeThinking         ContentType = "thinking"
	ContentTypeRedactedThinking ContentType = "redacted_thinking"
	ContentTypeToolUse          ContentType = "tool_use"
	ContentTypeToolResult       ContentType = "tool_result"
)

// Content is the closed set of block variants that can appear inside a
// message. Consumers switch exhaustively on the concrete type so that new
// block kinds surface at compile time.
type Content interface {
	Type() ContentType
}

type BaseContent struct {
	Type_ ContentType `json:"type"`
}

// CacheControl marks a block as a cache breakpoint. TTL is either "5m"
// (default when empty) or "1h".
type CacheControl struct {
	Type string `json:"type"` // "ephemeral"
	TTL  string `json:"ttl,omitempty"`
}

const (
	CacheTTL5m = "5m"
	CacheTTL1h = "1h"
)

func NewCacheControl(ttl string) *CacheControl {
	return &CacheControl{Type: "ephemeral", TTL: ttl}
}

type TextContent struct {
	BaseContent
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

func (t *TextContent) Type() ContentType {
	return ContentTypeText
}

type ImageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type ImageContent struct {
	BaseContent
	Source ImageSource `json:"source"`
}

func (i *ImageContent) Type() ContentType {
	return ContentTypeImage
}

type DocumentSource struct {
	Type      string `json:"type"` // "base64" or "text"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data"`
}

type DocumentContent struct {
	BaseContent
	Source DocumentSource `json:"source"`
	Title  string         `json:"title,omitempty"`
}

func (d *DocumentContent) Type() ContentType {
	return ContentTypeDocument
}

// ThinkingContent carries the model's reasoning text together with an opaque
// verification signature. The signature must be passed back unmodified; it is
// never parsed or regenerated on the client side.
type ThinkingContent struct {
	BaseContent
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}

func (t *ThinkingContent) Type() ContentType {
	return ContentTypeThinking
}

// RedactedThinkingContent is reasoning the service chose not to expose. Data
// is opaque and round-trips byte-identically.
type RedactedThinkingContent struct {
	BaseContent
	Data string `json:"data"`
}

func (r *RedactedThinkingContent) Type() ContentType {
	return ContentTypeRedactedThinking
}

type ToolUseContent struct {
	BaseContent
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (t *ToolUseContent) Type() ContentType {
	return ContentTypeToolUse
}

type ToolResultContent struct {
	BaseContent
	ToolUseID    string        `json:"tool_use_id"`
	Content      string        `json:"content"`
	IsError      bool          `json:"is_error,omitempty"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

func (t *ToolResultContent) Type() ContentType {
	return ContentTypeToolResult
}

func NewTextContent(text string) *TextContent {
	return &TextContent{BaseContent: BaseContent{Type_: ContentTypeText}, Text: text}
}

func NewImageContent(mediaType, base64Data string) *ImageContent {
	return &ImageContent{
		BaseContent: BaseContent{Type_: ContentTypeImage},
		Source: ImageSource{
			Type:      "base64",
			MediaType: mediaType,
			Data:      base64Data,
		},
	}
}

func NewDocumentContent(mediaType, base64Data string) *DocumentContent {
	return &DocumentContent{
		BaseContent: BaseContent{Type_: ContentTypeDocument},
		Source: DocumentSource{
			Type:      "base64",
			MediaType: mediaType,
			Data:      base64Data,
		},
	}
}

func NewThinkingContent(thinking, signature string) *ThinkingContent {
	return &ThinkingContent{
		BaseContent: BaseContent{Type_: ContentTypeThinking},
		Thinking:    thinking,
		Signature:   signature,
	}
}

func NewRedactedThinkingContent(data string) *RedactedThinkingContent {
	return &RedactedThinkingContent{
		BaseContent: BaseContent{Type_: ContentTypeRedactedThinking},
		Data:        data,
	}
}

func NewToolUseContent(toolID, toolName string, toolInput json.RawMessage) *ToolUseContent {
	return &ToolUseContent{
		BaseContent: BaseContent{Type_: ContentTypeToolUse},
		ID:          toolID,
		Name:        toolName,
		Input:       toolInput,
	}
}

func NewToolResultContent(toolUseID, content string, isError bool) *ToolResultContent {
	return &ToolResultContent{
		BaseContent: BaseContent{Type_: ContentTypeToolResult},
		ToolUseID:   toolUseID,
		Content:     content,
		IsError:     isError,
	}
}

// ContentList is an ordered sequence of content blocks with JSON round-trip
// support for the tagged union.
type ContentList []Content

func (cl *ContentList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(ContentList, 0, len(raws))
	for _, raw := range raws {
		c, err := UnmarshalContent(raw)
		if err != nil {
			return err
		}
		out = append(out, c)
	}
	*cl = out
	return nil
}

// UnmarshalContent decodes a single content block, dispatching on the type
// discriminator. Unknown types are an error rather than being skipped.
func UnmarshalContent(raw json.RawMessage) (Content, error) {
	var probe BaseContent
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errors.Wrap(err, "failed to probe content block type")
	}

	switch probe.Type_ {
	case ContentTypeText:
		var c TextContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case ContentTypeImage:
		var c ImageContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case ContentTypeDocument:
		var c DocumentContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case ContentTypeThinking:
		var c ThinkingContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case ContentTypeRedactedThinking:
		var c RedactedThinkingContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case ContentTypeToolUse:
		var c ToolUseContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case ContentTypeToolResult:
		var c ToolResultContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	default:
		return nil, errors.Errorf("unknown content block type: %s", probe.Type_)
	}
}
