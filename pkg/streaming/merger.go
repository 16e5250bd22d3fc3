package streaming

import (
	"encoding/json"
	"strings"

	"github.com/go-go-golems/loom/pkg/api"
	"github.com/go-go-golems/loom/pkg/events"
)

// blockState tracks one in-flight content block between its
// content_block_start and content_block_stop.
type blockState struct {
	kind      api.ContentType
	id        string
	name      string
	text      strings.Builder
	thinking  strings.Builder
	signature strings.Builder
	data      string
	inputJSON strings.Builder
	closed    bool
}

// BlockMerger reconstructs the full message response from a streaming event
// sequence. It enforces the event grammar: blocks are strictly sequential
// (at most one open between start and stop), deltas match the block kind,
// stop_reason is authoritative only once message_delta arrives, and nothing
// follows message_stop.
//
// Usage:
//  1. Create a merger with NewBlockMerger()
//  2. Call Add() for each streaming event; it returns progress events for
//     the event router
//  3. After the stream ends, read the reconstructed response with Response()
type BlockMerger struct {
	metadata     events.EventMetadata
	response     *api.MessageResponse
	blocks       map[int]*blockState
	openIndex    int
	stopReason   api.StopReason
	stopSequence string
	stopped      bool
	svcError     *api.Error
}

func NewBlockMerger(metadata events.EventMetadata) *BlockMerger {
	return &BlockMerger{
		metadata:  metadata,
		blocks:    make(map[int]*blockState),
		openIndex: -1,
	}
}

// Response returns the reconstructed message, equal to what the
// non-streaming endpoint would have returned. Only complete after
// message_stop.
func (bm *BlockMerger) Response() *api.MessageResponse {
	return bm.response
}

// Error returns the service error received mid-stream, if any.
func (bm *BlockMerger) Error() *api.Error {
	return bm.svcError
}

// Text returns the accumulated assistant text so far, including the text of
// the currently open block.
func (bm *BlockMerger) Text() string {
	ret := bm.response.FullText()
	for _, b := range bm.blocks {
		if !b.closed && b.kind == api.ContentTypeText {
			ret += b.text.String()
		}
	}
	return ret
}

// StopReason returns the final stop reason. It is undefined (empty) until
// message_delta has been received.
func (bm *BlockMerger) StopReason() api.StopReason {
	return bm.stopReason
}

func (bm *BlockMerger) Add(event api.StreamingEvent) ([]events.Event, error) {
	if bm.stopped && event.Type != api.PingType {
		return nil, ProtocolErrorf("event %s received after message_stop", event.Type)
	}

	switch event.Type {
	case api.PingType:
		return nil, nil

	case api.MessageStartType:
		if event.Message == nil {
			return nil, ProtocolErrorf("message_start event must carry a message")
		}
		msg := *event.Message
		bm.response = &msg
		bm.metadata.Model = msg.Model
		if msg.Usage != (api.Usage{}) {
			bm.metadata.Usage = &events.Usage{
				InputTokens:              msg.Usage.InputTokens,
				OutputTokens:             msg.Usage.OutputTokens,
				CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
				CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
			}
		}
		return []events.Event{events.NewStartEvent(bm.metadata)}, nil

	case api.ContentBlockStartType:
		if bm.response == nil {
			return nil, ProtocolErrorf("content_block_start before message_start")
		}
		if event.ContentBlock == nil {
			return nil, ProtocolErrorf("content_block_start event must carry a content block")
		}
		if event.Index < 0 {
			return nil, ProtocolErrorf("content_block_start with negative index %d", event.Index)
		}
		if _, exists := bm.blocks[event.Index]; exists {
			return nil, ProtocolErrorf("content_block_start for already opened index %d", event.Index)
		}
		// Blocks are strictly sequential: the previous one must be stopped
		// before the next starts.
		if bm.openIndex >= 0 {
			return nil, ProtocolErrorf("content_block_start for index %d while block %d is still open", event.Index, bm.openIndex)
		}
		b := &blockState{
			kind: event.ContentBlock.Type,
			id:   event.ContentBlock.ID,
			name: event.ContentBlock.Name,
			data: event.ContentBlock.Data,
		}
		if event.ContentBlock.Text != "" {
			b.text.WriteString(event.ContentBlock.Text)
		}
		if event.ContentBlock.Thinking != "" {
			b.thinking.WriteString(event.ContentBlock.Thinking)
		}
		bm.blocks[event.Index] = b
		bm.openIndex = event.Index
		return nil, nil

	case api.ContentBlockDeltaType:
		if event.Delta == nil {
			return nil, ProtocolErrorf("content_block_delta event must carry a delta")
		}
		b, exists := bm.blocks[event.Index]
		if !exists {
			return nil, ProtocolErrorf("content_block_delta for unopened index %d", event.Index)
		}
		if b.closed {
			return nil, ProtocolErrorf("content_block_delta for closed index %d", event.Index)
		}
		return bm.applyDelta(b, event.Delta, event.Index)

	case api.ContentBlockStopType:
		b, exists := bm.blocks[event.Index]
		if !exists {
			return nil, ProtocolErrorf("content_block_stop for unopened index %d", event.Index)
		}
		if b.closed {
			return nil, ProtocolErrorf("content_block_stop for already closed index %d", event.Index)
		}
		b.closed = true
		bm.openIndex = -1
		return bm.finishBlock(b)

	case api.MessageDeltaType:
		if bm.response == nil {
			return nil, ProtocolErrorf("message_delta before message_start")
		}
		if event.Delta == nil {
			return nil, ProtocolErrorf("message_delta event must carry a delta")
		}
		// stop_reason becomes authoritative here
		if event.Delta.StopReason != "" {
			bm.stopReason = event.Delta.StopReason
			bm.metadata.StopReason = &bm.stopReason
		}
		if event.Delta.StopSequence != "" {
			bm.stopSequence = event.Delta.StopSequence
		}
		if event.Usage != nil {
			bm.mergeUsage(*event.Usage)
		}
		return nil, nil

	case api.MessageStopType:
		if bm.response == nil {
			return nil, ProtocolErrorf("message_stop before message_start")
		}
		for idx, b := range bm.blocks {
			if !b.closed {
				return nil, ProtocolErrorf("message_stop with block %d still open", idx)
			}
		}
		bm.stopped = true
		bm.response.StopReason = bm.stopReason
		bm.response.StopSequence = bm.stopSequence
		return []events.Event{events.NewFinalEvent(bm.metadata, bm.response.FullText())}, nil

	case api.ErrorEventType:
		if event.Error == nil {
			return nil, ProtocolErrorf("error event must carry an error")
		}
		bm.svcError = event.Error
		return []events.Event{events.NewErrorEvent(bm.metadata, event.Error)}, nil

	default:
		return nil, ProtocolErrorf("unknown event type: %s", event.Type)
	}
}

func (bm *BlockMerger) applyDelta(b *blockState, delta *api.Delta, index int) ([]events.Event, error) {
	switch delta.Type {
	case api.TextDeltaType:
		if b.kind != api.ContentTypeText {
			return nil, ProtocolErrorf("text_delta for %s block at index %d", b.kind, index)
		}
		b.text.WriteString(delta.Text)
		return []events.Event{
			events.NewPartialCompletionEvent(bm.metadata, delta.Text, bm.Text()),
		}, nil

	case api.InputJSONDeltaType:
		if b.kind != api.ContentTypeToolUse {
			return nil, ProtocolErrorf("input_json_delta for %s block at index %d", b.kind, index)
		}
		// Fragments are concatenated and parsed only at content_block_stop
		b.inputJSON.WriteString(delta.PartialJSON)
		return nil, nil

	case api.ThinkingDeltaType:
		if b.kind != api.ContentTypeThinking {
			return nil, ProtocolErrorf("thinking_delta for %s block at index %d", b.kind, index)
		}
		b.thinking.WriteString(delta.Thinking)
		return []events.Event{
			events.NewPartialThinkingEvent(bm.metadata, delta.Thinking, b.thinking.String()),
		}, nil

	case api.SignatureDeltaType:
		if b.kind != api.ContentTypeThinking {
			return nil, ProtocolErrorf("signature_delta for %s block at index %d", b.kind, index)
		}
		// Opaque; collected verbatim and never inspected
		b.signature.WriteString(delta.Signature)
		return nil, nil

	default:
		return nil, ProtocolErrorf("unknown delta type %s at index %d", delta.Type, index)
	}
}

// finishBlock appends the completed block to the response in index emission
// order and emits the matching progress event.
func (bm *BlockMerger) finishBlock(b *blockState) ([]events.Event, error) {
	switch b.kind {
	case api.ContentTypeText:
		bm.response.Content = append(bm.response.Content, api.NewTextContent(b.text.String()))
		return []events.Event{
			events.NewPartialCompletionEvent(bm.metadata, "", bm.Text()),
		}, nil

	case api.ContentTypeToolUse:
		input := b.inputJSON.String()
		if input == "" {
			input = "{}"
		}
		if !json.Valid([]byte(input)) {
			return nil, ProtocolErrorf("tool input for %s is not valid JSON after content_block_stop: %q", b.id, input)
		}
		bm.response.Content = append(bm.response.Content, api.NewToolUseContent(b.id, b.name, json.RawMessage(input)))
		return []events.Event{
			events.NewToolCallEvent(bm.metadata, events.ToolCall{ID: b.id, Name: b.name, Input: input}),
		}, nil

	case api.ContentTypeThinking:
		bm.response.Content = append(bm.response.Content, api.NewThinkingContent(b.thinking.String(), b.signature.String()))
		return nil, nil

	case api.ContentTypeRedactedThinking:
		bm.response.Content = append(bm.response.Content, api.NewRedactedThinkingContent(b.data))
		return nil, nil

	default:
		return nil, ProtocolErrorf("unknown content block type: %s", b.kind)
	}
}

func (bm *BlockMerger) mergeUsage(u api.Usage) {
	bm.response.Usage.OutputTokens = u.OutputTokens
	if u.InputTokens != 0 {
		bm.response.Usage.InputTokens = u.InputTokens
	}
	if u.CacheCreationInputTokens != 0 {
		bm.response.Usage.CacheCreationInputTokens = u.CacheCreationInputTokens
	}
	if u.CacheReadInputTokens != 0 {
		bm.response.Usage.CacheReadInputTokens = u.CacheReadInputTokens
	}
	bm.metadata.Usage = &events.Usage{
		InputTokens:              bm.response.Usage.InputTokens,
		OutputTokens:             bm.response.Usage.OutputTokens,
		CacheCreationInputTokens: bm.response.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     bm.response.Usage.CacheReadInputTokens,
	}
}
