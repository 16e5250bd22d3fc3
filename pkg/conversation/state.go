package conversation

// Package conversation maintains the caller-owned message history of a
// multi-turn exchange. The service is stateless: every request replays the
// full history, so the blocks stored here must round-trip byte for byte;
// in particular thinking signatures and redacted thinking data are never
// touched.

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/go-go-golems/loom/pkg/api"
)

// State is the canonical container for a conversation's message history.
// It is append-only: blocks are never rewritten in place, only new turns
// added. Version increments on every successful mutation.
type State struct {
	ID       string
	Messages []api.Message
	Version  int64
}

// NewState creates an empty conversation with a stable ID.
func NewState() *State {
	return &State{
		ID: uuid.NewString(),
	}
}

// NewStateFromMessages seeds a conversation from an existing history.
func NewStateFromMessages(msgs ...api.Message) *State {
	s := NewState()
	for _, m := range msgs {
		s.Append(m)
	}
	return s
}

// Append adds a turn to the history. A turn with the same role as the last
// one is merged into it, since the service requires strict user/assistant
// alternation.
func (s *State) Append(msg api.Message) {
	if len(s.Messages) > 0 {
		last := &s.Messages[len(s.Messages)-1]
		if last.Role == msg.Role {
			last.Content = append(last.Content, msg.Content...)
			s.Version++
			return
		}
	}
	s.Messages = append(s.Messages, msg)
	s.Version++
}

// AppendUserText adds a plain text user turn.
func (s *State) AppendUserText(text string) {
	s.Append(api.Message{
		Role:    api.RoleUser,
		Content: api.ContentList{api.NewTextContent(text)},
	})
}

// AppendResponse adds the assistant turn of a completed inference, carrying
// all its content blocks verbatim.
func (s *State) AppendResponse(resp *api.MessageResponse) {
	s.Append(api.Message{
		Role:    api.RoleAssistant,
		Content: resp.Content,
	})
}

// AppendToolResults adds a single user turn carrying all tool results of
// one assistant tool-use turn. Results for parallel invocations must travel
// together in one turn.
func (s *State) AppendToolResults(results ...*api.ToolResultContent) {
	content := make(api.ContentList, 0, len(results))
	for _, r := range results {
		content = append(content, r)
	}
	s.Append(api.Message{
		Role:    api.RoleUser,
		Content: content,
	})
}

// MessagesSnapshot returns the history as a request-ready slice. The content
// blocks are shared, not copied: they are immutable once appended.
func (s *State) MessagesSnapshot() []api.Message {
	out := make([]api.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// LastMessage returns the most recent turn, or nil for an empty history.
func (s *State) LastMessage() *api.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// PendingToolUses returns the unresolved tool invocations of the last turn.
// It is non-empty only when the history ends on an assistant turn with
// tool_use blocks.
func (s *State) PendingToolUses() []*api.ToolUseContent {
	last := s.LastMessage()
	if last == nil || last.Role != api.RoleAssistant {
		return nil
	}
	var ret []*api.ToolUseContent
	for _, c := range last.Content {
		if tu, ok := c.(*api.ToolUseContent); ok {
			ret = append(ret, tu)
		}
	}
	return ret
}

// ValidationError reports a history that the service would reject.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid conversation: " + e.Message
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Validate checks the invariants the service enforces on replayed
// histories: the first turn is a user turn, roles alternate, every tool_use
// is answered by a matching tool_result in the immediately following user
// turn, and tool_result blocks never reference unknown invocations.
func (s *State) Validate() error {
	if len(s.Messages) == 0 {
		return validationErrorf("history is empty")
	}
	if s.Messages[0].Role != api.RoleUser {
		return validationErrorf("first turn must be a user turn, got %s", s.Messages[0].Role)
	}

	for i := 1; i < len(s.Messages); i++ {
		if s.Messages[i].Role == s.Messages[i-1].Role {
			return validationErrorf("consecutive %s turns at positions %d and %d", s.Messages[i].Role, i-1, i)
		}
	}

	for i, msg := range s.Messages {
		if err := s.validateToolPairing(i, msg); err != nil {
			return err
		}
	}

	return nil
}

func (s *State) validateToolPairing(i int, msg api.Message) error {
	switch msg.Role {
	case api.RoleAssistant:
		pending := map[string]bool{}
		for _, c := range msg.Content {
			if tu, ok := c.(*api.ToolUseContent); ok {
				if tu.ID == "" {
					return validationErrorf("tool_use block without id in turn %d", i)
				}
				if pending[tu.ID] {
					return validationErrorf("duplicate tool_use id %q in turn %d", tu.ID, i)
				}
				pending[tu.ID] = true
			}
		}
		if len(pending) == 0 {
			return nil
		}
		// Every tool_use must be resolved in the next turn, except for the
		// final turn whose invocations are still pending.
		if i == len(s.Messages)-1 {
			return nil
		}
		next := s.Messages[i+1]
		for _, c := range next.Content {
			if tr, ok := c.(*api.ToolResultContent); ok {
				delete(pending, tr.ToolUseID)
			}
		}
		for id := range pending {
			return validationErrorf("tool_use %q in turn %d has no tool_result in turn %d", id, i, i+1)
		}

	case api.RoleUser:
		var prior map[string]bool
		if i > 0 {
			prior = map[string]bool{}
			for _, c := range s.Messages[i-1].Content {
				if tu, ok := c.(*api.ToolUseContent); ok {
					prior[tu.ID] = true
				}
			}
		}
		resolved := map[string]bool{}
		for _, c := range msg.Content {
			tr, ok := c.(*api.ToolResultContent)
			if !ok {
				continue
			}
			if tr.ToolUseID == "" {
				return validationErrorf("tool_result block without tool_use_id in turn %d", i)
			}
			if !prior[tr.ToolUseID] {
				return validationErrorf("tool_result %q in turn %d does not match a tool_use in the preceding turn", tr.ToolUseID, i)
			}
			if resolved[tr.ToolUseID] {
				return validationErrorf("duplicate tool_result %q in turn %d", tr.ToolUseID, i)
			}
			resolved[tr.ToolUseID] = true
		}
	}
	return nil
}
