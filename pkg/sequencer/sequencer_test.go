package sequencer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/loom/pkg/api"
	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/events"
	"github.com/go-go-golems/loom/pkg/thinking"
	"github.com/go-go-golems/loom/pkg/tools"
)

// scriptedService replays one canned SSE episode per request, in order, and
// records the request bodies it saw.
type scriptedService struct {
	t        *testing.T
	mu       sync.Mutex
	episodes [][]api.StreamingEvent
	requests []api.MessageRequest
}

func (s *scriptedService) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req api.MessageRequest
	require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
	s.requests = append(s.requests, req)

	require.NotEmpty(s.t, s.episodes, "service received more requests than scripted")
	episode := s.episodes[0]
	s.episodes = s.episodes[1:]

	w.Header().Set("Content-Type", "text/event-stream")
	for _, event := range episode {
		payload, err := json.Marshal(event)
		require.NoError(s.t, err)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
	}
}

func (s *scriptedService) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedService) request(i int) api.MessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func newScriptedSequencer(t *testing.T, episodes [][]api.StreamingEvent, options ...Option) (*Sequencer, *scriptedService) {
	t.Helper()
	svc := &scriptedService{t: t, episodes: episodes}
	server := httptest.NewServer(http.HandlerFunc(svc.handler))
	t.Cleanup(server.Close)
	client := api.NewClient("test-key", server.URL)
	return NewSequencer(client, options...), svc
}

func textEpisode(text string, stopReason api.StopReason) []api.StreamingEvent {
	return []api.StreamingEvent{
		{
			Type: api.MessageStartType,
			Message: &api.MessageResponse{
				ID: "msg_01", Type: "message", Role: api.RoleAssistant, Model: "test-model",
				Usage: api.Usage{InputTokens: 5, OutputTokens: 1},
			},
		},
		{
			Type:         api.ContentBlockStartType,
			Index:        0,
			ContentBlock: &api.StreamContentBlock{Type: api.ContentTypeText},
		},
		{
			Type:  api.ContentBlockDeltaType,
			Index: 0,
			Delta: &api.Delta{Type: api.TextDeltaType, Text: text},
		},
		{Type: api.ContentBlockStopType, Index: 0},
		{
			Type:  api.MessageDeltaType,
			Delta: &api.Delta{StopReason: stopReason},
			Usage: &api.Usage{OutputTokens: 9},
		},
		{Type: api.MessageStopType},
	}
}

func toolUseEpisode(toolUseID, toolName, input string) []api.StreamingEvent {
	return []api.StreamingEvent{
		{
			Type: api.MessageStartType,
			Message: &api.MessageResponse{
				ID: "msg_02", Type: "message", Role: api.RoleAssistant, Model: "test-model",
			},
		},
		{
			Type:  api.ContentBlockStartType,
			Index: 0,
			ContentBlock: &api.StreamContentBlock{
				Type: api.ContentTypeToolUse, ID: toolUseID, Name: toolName,
			},
		},
		{
			Type:  api.ContentBlockDeltaType,
			Index: 0,
			Delta: &api.Delta{Type: api.InputJSONDeltaType, PartialJSON: input},
		},
		{Type: api.ContentBlockStopType, Index: 0},
		{
			Type:  api.MessageDeltaType,
			Delta: &api.Delta{StopReason: api.StopReasonToolUse},
		},
		{Type: api.MessageStopType},
	}
}

type calcInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

func newCalcRegistry(t *testing.T) tools.Registry {
	t.Helper()
	registry := tools.NewInMemoryRegistry()
	def, err := tools.NewDefinitionFromFunc("add", "adds two numbers", func(in calcInput) (int, error) {
		return in.A + in.B, nil
	})
	require.NoError(t, err)
	require.NoError(t, registry.Register(def))
	return registry
}

func defaultParams() Params {
	return Params{
		Model:     "test-model",
		MaxTokens: 1024,
	}
}

func TestRunSimpleTurn(t *testing.T) {
	seq, svc := newScriptedSequencer(t, [][]api.StreamingEvent{
		textEpisode("Hi there", api.StopReasonEndTurn),
	})

	state := conversation.NewState()
	state.AppendUserText("Hello")

	result, err := seq.Run(context.Background(), state, defaultParams())
	require.NoError(t, err)
	assert.Equal(t, api.StopReasonEndTurn, result.StopReason)
	assert.Equal(t, "Hi there", result.Response.FullText())
	assert.Equal(t, 1, result.Iterations)
	assert.False(t, result.Truncated)
	assert.False(t, result.Refused)

	require.Len(t, state.Messages, 2)
	assert.Equal(t, api.RoleAssistant, state.Messages[1].Role)
	assert.Equal(t, 1, svc.requestCount())
	assert.True(t, svc.request(0).Stream)
}

func TestRunToolCallingLoop(t *testing.T) {
	seq, svc := newScriptedSequencer(t, [][]api.StreamingEvent{
		toolUseEpisode("toolu_01", "add", `{"a": 2, "b": 3}`),
		textEpisode("The answer is 5", api.StopReasonEndTurn),
	}, WithCoordinator(tools.NewCoordinator(newCalcRegistry(t))))

	state := conversation.NewState()
	state.AppendUserText("What is 2+3?")

	params := defaultParams()
	params.Registry = newCalcRegistry(t)
	result, err := seq.Run(context.Background(), state, params)
	require.NoError(t, err)
	assert.Equal(t, api.StopReasonEndTurn, result.StopReason)
	assert.Equal(t, "The answer is 5", result.Response.FullText())
	assert.Equal(t, 2, result.Iterations)

	// user, assistant tool_use, user tool_result, assistant text
	require.Len(t, state.Messages, 4)
	toolResultTurn := state.Messages[2]
	assert.Equal(t, api.RoleUser, toolResultTurn.Role)
	tr := toolResultTurn.Content[0].(*api.ToolResultContent)
	assert.Equal(t, "toolu_01", tr.ToolUseID)
	assert.Equal(t, "5", tr.Content)
	require.NoError(t, state.Validate())

	// Second request replays the tool round trip.
	require.Equal(t, 2, svc.requestCount())
	second := svc.request(1)
	require.Len(t, second.Messages, 3)
	assert.Equal(t, api.RoleAssistant, second.Messages[1].Role)

	// The tools array is offered on both requests.
	require.Len(t, second.Tools, 1)
	assert.Equal(t, "add", second.Tools[0].Name)
}

func TestRunRefusalIsTerminal(t *testing.T) {
	seq, _ := newScriptedSequencer(t, [][]api.StreamingEvent{
		textEpisode("", api.StopReasonRefusal),
	})

	state := conversation.NewState()
	state.AppendUserText("do something bad")

	result, err := seq.Run(context.Background(), state, defaultParams())
	require.NoError(t, err)
	assert.True(t, result.Refused)
	assert.Equal(t, api.StopReasonRefusal, result.StopReason)
	assert.Equal(t, 1, result.Iterations)
}

func TestRunMaxTokensReturnsTruncated(t *testing.T) {
	seq, _ := newScriptedSequencer(t, [][]api.StreamingEvent{
		textEpisode("truncated answ", api.StopReasonMaxTokens),
	})

	state := conversation.NewState()
	state.AppendUserText("write an essay")

	result, err := seq.Run(context.Background(), state, defaultParams())
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, api.StopReasonMaxTokens, result.StopReason)
	// The truncated turn is on the state so the caller can continue it.
	assert.Equal(t, "truncated answ", state.LastMessage().Content[0].(*api.TextContent).Text)
}

func TestRunPauseTurnResubmits(t *testing.T) {
	seq, svc := newScriptedSequencer(t, [][]api.StreamingEvent{
		textEpisode("partial work", api.StopReasonPauseTurn),
		textEpisode("finished", api.StopReasonEndTurn),
	})

	state := conversation.NewState()
	state.AppendUserText("long running task")

	result, err := seq.Run(context.Background(), state, defaultParams())
	require.NoError(t, err)
	assert.Equal(t, api.StopReasonEndTurn, result.StopReason)
	assert.Equal(t, 2, result.Iterations)

	// The resubmission carries the paused assistant content verbatim.
	require.Equal(t, 2, svc.requestCount())
	second := svc.request(1)
	require.Len(t, second.Messages, 2)
	assert.Equal(t, api.RoleAssistant, second.Messages[1].Role)
	text := second.Messages[1].Content[0].(*api.TextContent)
	assert.Equal(t, "partial work", text.Text)
}

func TestRunIterationCap(t *testing.T) {
	seq, _ := newScriptedSequencer(t, [][]api.StreamingEvent{
		textEpisode("still going", api.StopReasonPauseTurn),
		textEpisode("still going", api.StopReasonPauseTurn),
		textEpisode("still going", api.StopReasonPauseTurn),
	})

	state := conversation.NewState()
	state.AppendUserText("never settles")

	params := defaultParams()
	params.MaxIterations = 3
	result, err := seq.Run(context.Background(), state, params)
	require.ErrorIs(t, err, ErrMaxIterations)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.Iterations)
}

func TestRunRejectsInvalidState(t *testing.T) {
	seq, svc := newScriptedSequencer(t, nil)

	state := conversation.NewState()
	// Hand-assembled broken pairing: result without matching use.
	state.Messages = []api.Message{
		{Role: api.RoleUser, Content: api.ContentList{api.NewTextContent("hi")}},
		{Role: api.RoleAssistant, Content: api.ContentList{api.NewTextContent("hello")}},
		{Role: api.RoleUser, Content: api.ContentList{api.NewToolResultContent("toolu_99", "x", false)}},
	}

	_, err := seq.Run(context.Background(), state, defaultParams())
	require.Error(t, err)
	var verr *conversation.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, svc.requestCount())
}

func TestRunRejectsInvalidThinkingBudget(t *testing.T) {
	seq, svc := newScriptedSequencer(t, nil)

	state := conversation.NewState()
	state.AppendUserText("hi")

	params := defaultParams()
	params.Thinking = thinking.Config{Enabled: true, BudgetTokens: 2048}
	params.MaxTokens = 1024

	_, err := seq.Run(context.Background(), state, params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "less than max_tokens")
	assert.Equal(t, 0, svc.requestCount())
}

func TestRunToolUseWithoutCoordinatorFails(t *testing.T) {
	seq, _ := newScriptedSequencer(t, [][]api.StreamingEvent{
		toolUseEpisode("toolu_01", "add", `{}`),
	})

	state := conversation.NewState()
	state.AppendUserText("calc")

	_, err := seq.Run(context.Background(), state, defaultParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no coordinator")
}

// recordingSink captures events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) PublishEvent(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []events.EventType
	for _, e := range r.events {
		ret = append(ret, e.Type())
	}
	return ret
}

func TestRunPublishesProgressEvents(t *testing.T) {
	sink := &recordingSink{}
	seq, _ := newScriptedSequencer(t, [][]api.StreamingEvent{
		toolUseEpisode("toolu_01", "add", `{"a": 1, "b": 2}`),
		textEpisode("3", api.StopReasonEndTurn),
	}, WithCoordinator(tools.NewCoordinator(newCalcRegistry(t))), WithSink(sink))

	state := conversation.NewState()
	state.AppendUserText("1+2?")

	params := defaultParams()
	params.Registry = newCalcRegistry(t)
	_, err := seq.Run(context.Background(), state, params)
	require.NoError(t, err)

	types := sink.types()
	assert.Contains(t, types, events.EventTypeStart)
	assert.Contains(t, types, events.EventTypeToolCall)
	assert.Contains(t, types, events.EventTypeToolCallExecute)
	assert.Contains(t, types, events.EventTypeToolCallExecutionResult)
	assert.Contains(t, types, events.EventTypePartialCompletion)
	assert.Contains(t, types, events.EventTypeFinal)
}
