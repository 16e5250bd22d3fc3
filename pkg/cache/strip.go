package cache

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/loom/pkg/api"
)

// StripThinking produces the request-ready view of a message history.
//
// Reasoning blocks (thinking and redacted thinking) of past assistant turns
// do not participate in future completions and are removed before
// serialization. The one exception is a tool-use continuation: while the
// final assistant turn's invocations are still being resolved (the history
// ends on that turn or on the user turn carrying its tool results), its
// reasoning run must be replayed verbatim and in order, signatures
// untouched. Once a plain user turn follows, all prior reasoning is dropped
// from the request; the caller's local history keeps the blocks either way.
//
// The returned slice shares content blocks with the input; blocks are
// immutable once appended.
func StripThinking(msgs []api.Message) []api.Message {
	preserved := continuationTurnIndex(msgs)

	out := make([]api.Message, 0, len(msgs))
	for i, msg := range msgs {
		if msg.Role != api.RoleAssistant || i == preserved {
			out = append(out, msg)
			continue
		}
		content := make(api.ContentList, 0, len(msg.Content))
		for _, c := range msg.Content {
			switch c.Type() {
			case api.ContentTypeThinking, api.ContentTypeRedactedThinking:
				continue
			}
			content = append(content, c)
		}
		out = append(out, api.Message{Role: msg.Role, Content: content})
	}
	return out
}

// continuationTurnIndex returns the index of the assistant turn whose
// reasoning must be preserved, or -1 when there is none.
func continuationTurnIndex(msgs []api.Message) int {
	if len(msgs) == 0 {
		return -1
	}

	last := len(msgs) - 1
	if msgs[last].Role == api.RoleAssistant {
		return last
	}

	// History ends on a user turn: it continues the previous assistant turn
	// only if it carries that turn's tool results.
	if last < 1 || msgs[last-1].Role != api.RoleAssistant {
		return -1
	}
	hasToolResult := false
	for _, c := range msgs[last].Content {
		if c.Type() == api.ContentTypeToolResult {
			hasToolResult = true
			break
		}
	}
	if !hasToolResult {
		return -1
	}
	return last - 1
}

// VerifyReasoningRun checks that the serialized turn replays the source
// turn's reasoning run completely and in order. Partial omission or
// reordering corrupts signature verification on the service side, so it is
// rejected before any request is sent.
func VerifyReasoningRun(source, serialized api.Message) error {
	src := reasoningBlocks(source)
	got := reasoningBlocks(serialized)

	if len(got) != len(src) {
		return errors.Errorf("reasoning run incomplete: %d of %d blocks serialized", len(got), len(src))
	}
	for i := range src {
		if src[i] != got[i] {
			return errors.Errorf("reasoning run reordered or altered at block %d", i)
		}
	}
	return nil
}

func reasoningBlocks(msg api.Message) []api.Content {
	var ret []api.Content
	for _, c := range msg.Content {
		switch c.Type() {
		case api.ContentTypeThinking, api.ContentTypeRedactedThinking:
			ret = append(ret, c)
		}
	}
	return ret
}
