package api

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

type StreamingEventType string

const (
	PingType              StreamingEventType = "ping"
	MessageStartType      StreamingEventType = "message_start"
	ContentBlockStartType StreamingEventType = "content_block_start"
	ContentBlockDeltaType StreamingEventType = "content_block_delta"
	ContentBlockStopType  StreamingEventType = "content_block_stop"
	MessageDeltaType      StreamingEventType = "message_delta"
	MessageStopType       StreamingEventType = "message_stop"
	ErrorEventType        StreamingEventType = "error"
)

type StreamingDeltaType string

const (
	TextDeltaType      StreamingDeltaType = "text_delta"
	InputJSONDeltaType StreamingDeltaType = "input_json_delta"
	ThinkingDeltaType  StreamingDeltaType = "thinking_delta"
	SignatureDeltaType StreamingDeltaType = "signature_delta"
)

// StreamContentBlock is the skeleton block carried by content_block_start.
// The deltas that follow fill in text, thinking, signature or tool input.
type StreamContentBlock struct {
	Type      ContentType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Data      string          `json:"data,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// Delta is the incremental payload of content_block_delta and message_delta
// events. For message_delta only StopReason/StopSequence are set, and they
// become authoritative at that point.
type Delta struct {
	Type         StreamingDeltaType `json:"type,omitempty"`
	Text         string             `json:"text,omitempty"`
	PartialJSON  string             `json:"partial_json,omitempty"`
	Thinking     string             `json:"thinking,omitempty"`
	Signature    string             `json:"signature,omitempty"`
	StopReason   StopReason         `json:"stop_reason,omitempty"`
	StopSequence string             `json:"stop_sequence,omitempty"`
}

// StreamingEvent is one named server-sent event of the messages stream.
type StreamingEvent struct {
	Type         StreamingEventType  `json:"type"`
	Index        int                 `json:"index,omitempty"`
	Message      *MessageResponse    `json:"message,omitempty"`
	ContentBlock *StreamContentBlock `json:"content_block,omitempty"`
	Delta        *Delta              `json:"delta,omitempty"`
	Usage        *Usage              `json:"usage,omitempty"`
	Error        *Error              `json:"error,omitempty"`
}

func (s StreamingEvent) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(s.Type))
	if s.Index != 0 {
		e.Int("index", s.Index)
	}
	if s.Message != nil {
		e.Str("message_id", s.Message.ID)
	}
	if s.ContentBlock != nil {
		e.Str("content_block_type", string(s.ContentBlock.Type))
	}
	if s.Delta != nil {
		e.Object("delta", s.Delta)
	}
	if s.Error != nil {
		e.Str("error_type", string(s.Error.Type))
		e.Str("error_message", s.Error.Message)
	}
}

var _ zerolog.LogObjectMarshaler = StreamingEvent{}

func (d Delta) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(d.Type))
	if d.Text != "" {
		e.Str("text", d.Text)
	}
	if d.PartialJSON != "" {
		e.Str("partial_json", d.PartialJSON)
	}
	if d.Thinking != "" {
		e.Str("thinking", d.Thinking)
	}
	if d.StopReason != "" {
		e.Str("stop_reason", string(d.StopReason))
	}
	if d.StopSequence != "" {
		e.Str("stop_sequence", d.StopSequence)
	}
}

var _ zerolog.LogObjectMarshaler = Delta{}
