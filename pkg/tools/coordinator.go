package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/loom/pkg/api"
	"github.com/go-go-golems/loom/pkg/events"
)

// Coordinator executes the tool invocations of one assistant turn and
// packages the outcomes as tool_result blocks. Execution failures (unknown
// tool, schema violation, panic, timeout, function error) never surface as
// Go errors: they become is_error results so the conversation stays
// resumable and the model can react. Only caller bugs (duplicate ids) are
// hard errors.
type Coordinator struct {
	registry    Registry
	maxParallel int
	timeout     time.Duration
}

type CoordinatorOption func(*Coordinator)

// WithMaxParallel bounds the number of concurrently executing tools.
func WithMaxParallel(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.maxParallel = n
	}
}

// WithTimeout bounds each individual tool execution.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func NewCoordinator(registry Registry, options ...CoordinatorOption) *Coordinator {
	ret := &Coordinator{
		registry:    registry,
		maxParallel: 8,
		timeout:     60 * time.Second,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Execute runs all invocations and returns one result per invocation, in
// input order. When sequential is set (the request carried
// disable_parallel_tool_use) at most one tool runs at a time, in order.
func (c *Coordinator) Execute(ctx context.Context, toolUses []*api.ToolUseContent, sequential bool) ([]*api.ToolResultContent, error) {
	if len(toolUses) == 0 {
		return nil, nil
	}

	seen := map[string]bool{}
	for _, tu := range toolUses {
		if tu.ID == "" {
			return nil, errors.New("tool invocation without id")
		}
		if seen[tu.ID] {
			return nil, errors.Errorf("duplicate tool invocation id: %s", tu.ID)
		}
		seen[tu.ID] = true
	}

	results := make([]*api.ToolResultContent, len(toolUses))

	if sequential || c.maxParallel <= 1 || len(toolUses) == 1 {
		for i, tu := range toolUses {
			results[i] = c.executeOne(ctx, tu)
		}
		return results, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.maxParallel)
	for i, tu := range toolUses {
		i, tu := i, tu
		eg.Go(func() error {
			results[i] = c.executeOne(egCtx, tu)
			return nil
		})
	}
	// Workers never return errors; Wait only observes context cancellation.
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Coordinator) executeOne(ctx context.Context, toolUse *api.ToolUseContent) *api.ToolResultContent {
	start := time.Now()

	events.PublishEventToContext(ctx, events.NewToolCallExecuteEvent(
		events.EventMetadata{},
		events.ToolCall{ID: toolUse.ID, Name: toolUse.Name, Input: string(toolUse.Input)},
	))

	result := c.dispatch(ctx, toolUse)

	log.Debug().
		Str("tool", toolUse.Name).
		Str("tool_use_id", toolUse.ID).
		Bool("is_error", result.IsError).
		Dur("duration", time.Since(start)).
		Msg("tool execution finished")

	events.PublishEventToContext(ctx, events.NewToolCallExecutionResultEvent(
		events.EventMetadata{},
		events.ToolResult{ID: toolUse.ID, Result: result.Content, IsError: result.IsError},
	))

	return result
}

func (c *Coordinator) dispatch(ctx context.Context, toolUse *api.ToolUseContent) *api.ToolResultContent {
	def, err := c.registry.Get(toolUse.Name)
	if err != nil {
		return errorResult(toolUse.ID, fmt.Sprintf("tool not found: %s", toolUse.Name))
	}

	if err := c.validateInput(def, toolUse.Input); err != nil {
		return errorResult(toolUse.ID, err.Error())
	}

	execCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errors.Errorf("tool %s panicked: %v", toolUse.Name, r)}
			}
		}()
		v, err := def.Invoke(execCtx, toolUse.Input)
		done <- outcome{value: v, err: err}
	}()

	select {
	case <-execCtx.Done():
		return errorResult(toolUse.ID, fmt.Sprintf("tool %s timed out after %s", toolUse.Name, c.timeout))
	case out := <-done:
		if out.err != nil {
			return errorResult(toolUse.ID, out.err.Error())
		}
		return api.NewToolResultContent(toolUse.ID, marshalResult(out.value), false)
	}
}

func (c *Coordinator) validateInput(def *Definition, input json.RawMessage) error {
	if def.InputSchema == nil {
		return nil
	}
	schemaBytes, err := json.Marshal(def.InputSchema)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal schema for tool %s", def.Name)
	}
	doc := input
	if len(doc) == 0 {
		doc = json.RawMessage(`{}`)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to validate input for tool %s", def.Name)
	}
	if !result.Valid() {
		msg := fmt.Sprintf("invalid input for tool %s:", def.Name)
		for _, e := range result.Errors() {
			msg += " " + e.String() + ";"
		}
		return errors.New(msg)
	}
	return nil
}

func errorResult(toolUseID, message string) *api.ToolResultContent {
	return api.NewToolResultContent(toolUseID, message, true)
}

func marshalResult(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
