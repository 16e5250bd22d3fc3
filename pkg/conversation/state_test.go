package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/loom/pkg/api"
)

func userText(text string) api.Message {
	return api.Message{Role: api.RoleUser, Content: api.ContentList{api.NewTextContent(text)}}
}

func assistantText(text string) api.Message {
	return api.Message{Role: api.RoleAssistant, Content: api.ContentList{api.NewTextContent(text)}}
}

func assistantToolUse(id, name string) api.Message {
	return api.Message{
		Role: api.RoleAssistant,
		Content: api.ContentList{
			api.NewToolUseContent(id, name, json.RawMessage(`{}`)),
		},
	}
}

func userToolResult(toolUseID string) api.Message {
	return api.Message{
		Role: api.RoleUser,
		Content: api.ContentList{
			api.NewToolResultContent(toolUseID, "42", false),
		},
	}
}

func TestAppendMergesSameRole(t *testing.T) {
	s := NewState()
	s.AppendUserText("first")
	s.AppendUserText("second")

	require.Len(t, s.Messages, 1)
	require.Len(t, s.Messages[0].Content, 2)
	assert.Equal(t, api.RoleUser, s.Messages[0].Role)
}

func TestAppendAlternatingRoles(t *testing.T) {
	s := NewState()
	s.AppendUserText("hello")
	s.Append(assistantText("hi"))
	s.AppendUserText("how are you")

	require.Len(t, s.Messages, 3)
	assert.Equal(t, api.RoleUser, s.Messages[0].Role)
	assert.Equal(t, api.RoleAssistant, s.Messages[1].Role)
	assert.Equal(t, api.RoleUser, s.Messages[2].Role)
}

func TestVersionIncrements(t *testing.T) {
	s := NewState()
	assert.Equal(t, int64(0), s.Version)
	s.AppendUserText("a")
	s.AppendUserText("b")
	assert.Equal(t, int64(2), s.Version)
}

func TestPendingToolUses(t *testing.T) {
	s := NewState()
	s.AppendUserText("what is 2+2")
	assert.Empty(t, s.PendingToolUses())

	s.Append(assistantToolUse("toolu_01", "calculator"))
	pending := s.PendingToolUses()
	require.Len(t, pending, 1)
	assert.Equal(t, "toolu_01", pending[0].ID)
	assert.Equal(t, "calculator", pending[0].Name)

	s.AppendToolResults(api.NewToolResultContent("toolu_01", "4", false))
	assert.Empty(t, s.PendingToolUses())
}

func TestAppendToolResultsSingleTurn(t *testing.T) {
	s := NewState()
	s.AppendUserText("run both")
	s.Append(api.Message{
		Role: api.RoleAssistant,
		Content: api.ContentList{
			api.NewToolUseContent("toolu_01", "a", json.RawMessage(`{}`)),
			api.NewToolUseContent("toolu_02", "b", json.RawMessage(`{}`)),
		},
	})
	s.AppendToolResults(
		api.NewToolResultContent("toolu_01", "one", false),
		api.NewToolResultContent("toolu_02", "two", true),
	)

	// Both results travel in one user turn.
	require.Len(t, s.Messages, 3)
	last := s.LastMessage()
	assert.Equal(t, api.RoleUser, last.Role)
	require.Len(t, last.Content, 2)
	require.NoError(t, s.Validate())
}

func TestSnapshotPreservesThinkingVerbatim(t *testing.T) {
	s := NewState()
	s.AppendUserText("think about it")
	s.Append(api.Message{
		Role: api.RoleAssistant,
		Content: api.ContentList{
			api.NewThinkingContent("step by step", "sig-opaque-123"),
			api.NewTextContent("done"),
		},
	})

	snapshot := s.MessagesSnapshot()
	require.Len(t, snapshot, 2)
	thinking, ok := snapshot[1].Content[0].(*api.ThinkingContent)
	require.True(t, ok)
	assert.Equal(t, "step by step", thinking.Thinking)
	assert.Equal(t, "sig-opaque-123", thinking.Signature)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		messages []api.Message
		errMatch string
	}{
		{
			name:     "empty history",
			errMatch: "empty",
		},
		{
			name:     "valid text exchange",
			messages: []api.Message{userText("hi"), assistantText("hello")},
		},
		{
			name:     "first turn assistant",
			messages: []api.Message{assistantText("hello")},
			errMatch: "first turn",
		},
		{
			name: "valid tool round trip",
			messages: []api.Message{
				userText("calc"),
				assistantToolUse("toolu_01", "calculator"),
				userToolResult("toolu_01"),
				assistantText("the answer is 4"),
			},
		},
		{
			name: "pending tool use in final turn",
			messages: []api.Message{
				userText("calc"),
				assistantToolUse("toolu_01", "calculator"),
			},
		},
		{
			name: "tool use without result",
			messages: []api.Message{
				userText("calc"),
				assistantToolUse("toolu_01", "calculator"),
				userText("never mind"),
				assistantText("ok"),
			},
			errMatch: "no tool_result",
		},
		{
			name: "tool result without matching use",
			messages: []api.Message{
				userText("calc"),
				assistantText("sure"),
				userToolResult("toolu_99"),
			},
			errMatch: "does not match",
		},
		{
			name: "duplicate tool results for one use",
			messages: []api.Message{
				userText("calc"),
				assistantToolUse("toolu_01", "calculator"),
				{
					Role: api.RoleUser,
					Content: api.ContentList{
						api.NewToolResultContent("toolu_01", "4", false),
						api.NewToolResultContent("toolu_01", "5", false),
					},
				},
			},
			errMatch: "duplicate tool_result",
		},
		{
			name: "duplicate tool use ids",
			messages: []api.Message{
				userText("calc"),
				{
					Role: api.RoleAssistant,
					Content: api.ContentList{
						api.NewToolUseContent("toolu_01", "a", json.RawMessage(`{}`)),
						api.NewToolUseContent("toolu_01", "b", json.RawMessage(`{}`)),
					},
				},
			},
			errMatch: "duplicate tool_use",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{ID: "test", Messages: tt.messages}
			err := s.Validate()
			if tt.errMatch == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.errMatch)
		})
	}
}

func TestValidateRejectsConsecutiveSameRole(t *testing.T) {
	// Append merges, so a consecutive pair can only come from a
	// hand-assembled history.
	s := &State{Messages: []api.Message{userText("a"), userText("b")}}
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consecutive")
}
