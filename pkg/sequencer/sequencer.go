package sequencer

// Package sequencer drives the multi-episode loop of one logical exchange:
// it sends the request, reconstructs the streamed response, resolves tool
// invocations, and branches on stop_reason until the turn settles.

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/loom/pkg/api"
	"github.com/go-go-golems/loom/pkg/cache"
	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/events"
	"github.com/go-go-golems/loom/pkg/streaming"
	"github.com/go-go-golems/loom/pkg/thinking"
	"github.com/go-go-golems/loom/pkg/tools"
)

// DefaultMaxIterations caps the episodes of one Run call. Each tool round
// trip and each pause_turn resubmission consumes one iteration.
const DefaultMaxIterations = 10

// ErrMaxIterations is returned when the turn did not settle within the
// iteration cap. The conversation state is left valid and resumable.
var ErrMaxIterations = errors.New("turn did not settle within the iteration limit")

// PauseHook is called before a pause_turn resubmission. The paused content
// has already been appended to the state; the hook may amend the state
// before the verbatim resend.
type PauseHook func(ctx context.Context, state *conversation.State) error

// Params configures one Run call.
type Params struct {
	Model         string
	MaxTokens     int
	System        []api.SystemBlock
	Thinking      thinking.Config
	StopSequences []string
	Temperature   *float64
	TopP          *float64

	// Registry supplies tool definitions for the request's tools array. Nil
	// means no tools are offered.
	Registry tools.Registry
	// DisableParallelToolUse asks the model for at most one invocation per
	// turn and makes the coordinator run sequentially.
	DisableParallelToolUse bool

	MaxIterations int
	PauseHook     PauseHook
}

// Result is the settled outcome of one Run call.
type Result struct {
	Response   *api.MessageResponse
	StopReason api.StopReason
	// Truncated is set for max_tokens: the final episode was cut short and
	// the caller may resubmit a continuation.
	Truncated bool
	// Refused marks a terminal refusal; resending the same content will not
	// change the outcome.
	Refused    bool
	Iterations int
}

// Sequencer owns the client, the tool coordinator and the cache layout.
type Sequencer struct {
	client      *api.Client
	coordinator *tools.Coordinator
	assembler   *cache.Assembler
	decoder     *streaming.Decoder
	sinks       []events.EventSink

	prevParams *cache.Params
}

type Option func(*Sequencer)

// WithCoordinator sets the tool coordinator. Without one, tool_use stops
// are an error.
func WithCoordinator(c *tools.Coordinator) Option {
	return func(s *Sequencer) {
		s.coordinator = c
	}
}

// WithAssembler sets the cache breakpoint layout applied to every request.
func WithAssembler(a *cache.Assembler) Option {
	return func(s *Sequencer) {
		s.assembler = a
	}
}

// WithSink adds an event sink that receives the progress events of every
// episode, in addition to sinks already carried by the context.
func WithSink(sink events.EventSink) Option {
	return func(s *Sequencer) {
		s.sinks = append(s.sinks, sink)
	}
}

func NewSequencer(client *api.Client, options ...Option) *Sequencer {
	ret := &Sequencer{
		client:  client,
		decoder: streaming.NewDecoder(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Run executes the turn loop until the model settles or the iteration cap
// is hit. The state is validated before the first request and mutated as
// episodes complete; on error it is left at the last consistent point.
func (s *Sequencer) Run(ctx context.Context, state *conversation.State, params Params) (*Result, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}
	if err := params.Thinking.Validate(params.MaxTokens); err != nil {
		return nil, err
	}

	maxIterations := params.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	ctx = events.WithEventSinks(ctx, s.sinks...)

	var apiTools []api.Tool
	if params.Registry != nil {
		var err error
		apiTools, err = tools.ToAPI(params.Registry)
		if err != nil {
			return nil, err
		}
	}

	// With interleaved thinking the budget is a quota over the whole turn.
	// The wire does not break reasoning tokens out of output_tokens, so the
	// tracker records output tokens as the upper bound on spend.
	var tracker *thinking.Tracker
	if params.Thinking.Enabled && params.Thinking.Interleaved {
		tracker = thinking.NewTracker(params.Thinking.BudgetTokens)
	}

	result := &Result{}
	for i := 0; i < maxIterations; i++ {
		result.Iterations = i + 1

		req, err := s.buildRequest(state, params, apiTools)
		if err != nil {
			return nil, err
		}

		resp, err := s.runEpisode(ctx, state, req, params.Model)
		if err != nil {
			return nil, err
		}

		state.AppendResponse(resp)
		result.Response = resp
		result.StopReason = resp.StopReason

		if tracker != nil {
			tracker.Record(resp.Usage.OutputTokens)
			if tracker.Exhausted() {
				log.Warn().
					Str("conversation_id", state.ID).
					Int("used", tracker.Used()).
					Msg("interleaved reasoning quota spent, later episodes get no reasoning")
			}
		}

		log.Debug().
			Str("conversation_id", state.ID).
			Int("iteration", i+1).
			Str("stop_reason", string(resp.StopReason)).
			Msg("episode settled")

		switch resp.StopReason {
		case api.StopReasonEndTurn, api.StopReasonStopSequence:
			return result, nil

		case api.StopReasonRefusal:
			result.Refused = true
			return result, nil

		case api.StopReasonMaxTokens:
			result.Truncated = true
			return result, nil

		case api.StopReasonPauseTurn:
			// Resubmit the paused content verbatim on the next iteration.
			if params.PauseHook != nil {
				if err := params.PauseHook(ctx, state); err != nil {
					return nil, errors.Wrap(err, "pause hook failed")
				}
			}
			continue

		case api.StopReasonToolUse:
			if err := s.resolveToolUses(ctx, state, params); err != nil {
				return nil, err
			}
			continue

		default:
			return nil, errors.Errorf("unknown stop_reason: %q", resp.StopReason)
		}
	}

	return result, ErrMaxIterations
}

func (s *Sequencer) buildRequest(state *conversation.State, params Params, apiTools []api.Tool) (*api.MessageRequest, error) {
	req := &api.MessageRequest{
		Model:         params.Model,
		Messages:      cache.StripThinking(state.MessagesSnapshot()),
		MaxTokens:     params.MaxTokens,
		System:        params.System,
		Tools:         apiTools,
		Thinking:      params.Thinking.ToAPI(),
		StopSequences: params.StopSequences,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
	}
	if params.DisableParallelToolUse && len(apiTools) > 0 {
		req.ToolChoice = &api.ToolChoice{Type: "auto", DisableParallelToolUse: true}
	}

	if s.assembler != nil {
		next := cache.Params{Thinking: params.Thinking}
		prev := next
		if s.prevParams != nil {
			prev = *s.prevParams
		}
		plan := s.assembler.Plan(prev, next)
		if plan.InvalidatedMessages {
			log.Debug().Str("conversation_id", state.ID).Msg("thinking config changed, message cache breakpoints dropped")
		}
		if err := s.assembler.Apply(req, plan); err != nil {
			return nil, err
		}
		s.prevParams = &next
	}

	return req, nil
}

// runEpisode performs one request/response round trip, streaming and
// merging events as they arrive.
func (s *Sequencer) runEpisode(ctx context.Context, state *conversation.State, req *api.MessageRequest, model string) (*api.MessageResponse, error) {
	metadata := events.EventMetadata{
		ID:             uuid.New(),
		ConversationID: state.ID,
		Model:          model,
	}

	body, err := s.client.OpenMessageStream(ctx, req)
	if err != nil {
		events.PublishEventToContext(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	merger := streaming.NewBlockMerger(metadata)
	stream := s.decoder.Decode(ctx, body)
	for event := range stream.C {
		produced, err := merger.Add(event)
		if err != nil {
			events.PublishEventToContext(ctx, events.NewErrorEvent(metadata, err))
			return nil, err
		}
		for _, e := range produced {
			events.PublishEventToContext(ctx, e)
		}
	}
	if err := stream.Err(); err != nil {
		events.PublishEventToContext(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		events.PublishEventToContext(ctx, events.NewInterruptEvent(metadata, merger.Text()))
		return nil, err
	}
	if svcErr := merger.Error(); svcErr != nil {
		return nil, svcErr
	}

	resp := merger.Response()
	if resp == nil {
		return nil, streaming.ProtocolErrorf("stream ended without message_start")
	}
	return resp, nil
}

func (s *Sequencer) resolveToolUses(ctx context.Context, state *conversation.State, params Params) error {
	if s.coordinator == nil {
		return errors.New("model requested tool use but no coordinator is configured")
	}
	pending := state.PendingToolUses()
	if len(pending) == 0 {
		return errors.New("stop_reason tool_use but no pending invocations in final turn")
	}

	results, err := s.coordinator.Execute(ctx, pending, params.DisableParallelToolUse)
	if err != nil {
		return err
	}
	// All results of the episode travel together in one user turn.
	state.AppendToolResults(results...)
	return nil
}
