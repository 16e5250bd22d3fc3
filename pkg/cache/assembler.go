package cache

// Package cache places prompt-cache breakpoints on outgoing requests and
// keeps them consistent across turns. Cached prefixes are identified by
// byte-exact content, so the assembler is also responsible for producing
// deterministic request layouts.

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/loom/pkg/api"
	"github.com/go-go-golems/loom/pkg/thinking"
)

// Section names the request region a breakpoint lives in. The service
// caches prefixes in request order (tools, then system, then messages), so a
// breakpoint in a later section reuses cache built by earlier ones.
type Section string

const (
	SectionSystem   Section = "system"
	SectionTools    Section = "tools"
	SectionMessages Section = "messages"
)

// Breakpoint marks one cache boundary. Position indexes into the section:
// the system block, the tool definition, or the message whose last content
// block carries the cache_control marker. TTL is "5m" (default) or "1h".
type Breakpoint struct {
	Section  Section
	Position int
	TTL      string
}

// MaxBreakpoints is the most markers one request may carry.
const MaxBreakpoints = 4

// Params captures the request properties that determine whether previously
// cached prefixes are still reachable.
type Params struct {
	Thinking thinking.Config
}

// Plan is the set of breakpoints that survive a parameter change.
type Plan struct {
	Breakpoints []Breakpoint
	// InvalidatedMessages is set when message-history breakpoints were
	// dropped because the reasoning configuration changed.
	InvalidatedMessages bool
}

// Assembler owns the breakpoint layout of a conversation's requests.
type Assembler struct {
	breakpoints []Breakpoint
}

func NewAssembler(breakpoints ...Breakpoint) (*Assembler, error) {
	if len(breakpoints) > MaxBreakpoints {
		return nil, errors.Errorf("at most %d cache breakpoints per request, got %d", MaxBreakpoints, len(breakpoints))
	}
	for _, bp := range breakpoints {
		switch bp.Section {
		case SectionSystem, SectionTools, SectionMessages:
		default:
			return nil, errors.Errorf("unknown cache section: %s", bp.Section)
		}
		if bp.TTL != "" && bp.TTL != api.CacheTTL5m && bp.TTL != api.CacheTTL1h {
			return nil, errors.Errorf("unknown cache ttl: %s", bp.TTL)
		}
		if bp.Position < 0 {
			return nil, errors.Errorf("negative breakpoint position: %d", bp.Position)
		}
	}
	return &Assembler{breakpoints: breakpoints}, nil
}

// Plan decides which breakpoints survive the transition from the previous
// request's parameters to the next. Changing the reasoning configuration
// (toggling it or resizing the budget) changes how the message history
// serializes, so message-section breakpoints are invalidated; system and
// tools sections serialize identically and their breakpoints survive.
func (a *Assembler) Plan(prev, next Params) Plan {
	thinkingChanged := prev.Thinking.Enabled != next.Thinking.Enabled ||
		prev.Thinking.BudgetTokens != next.Thinking.BudgetTokens

	if !thinkingChanged {
		return Plan{Breakpoints: a.breakpoints}
	}

	kept := make([]Breakpoint, 0, len(a.breakpoints))
	invalidated := false
	for _, bp := range a.breakpoints {
		if bp.Section == SectionMessages {
			invalidated = true
			continue
		}
		kept = append(kept, bp)
	}
	return Plan{Breakpoints: kept, InvalidatedMessages: invalidated}
}

// Apply writes the plan's cache_control markers onto the request. Position
// must resolve to an existing element of its section.
func (a *Assembler) Apply(req *api.MessageRequest, plan Plan) error {
	for _, bp := range plan.Breakpoints {
		cc := api.NewCacheControl(bp.TTL)
		switch bp.Section {
		case SectionSystem:
			if bp.Position >= len(req.System) {
				return errors.Errorf("system breakpoint position %d out of range (%d blocks)", bp.Position, len(req.System))
			}
			req.System[bp.Position].CacheControl = cc

		case SectionTools:
			if bp.Position >= len(req.Tools) {
				return errors.Errorf("tools breakpoint position %d out of range (%d tools)", bp.Position, len(req.Tools))
			}
			req.Tools[bp.Position].CacheControl = cc

		case SectionMessages:
			if bp.Position >= len(req.Messages) {
				return errors.Errorf("messages breakpoint position %d out of range (%d messages)", bp.Position, len(req.Messages))
			}
			msg := &req.Messages[bp.Position]
			if len(msg.Content) == 0 {
				return errors.Errorf("messages breakpoint position %d points at an empty message", bp.Position)
			}
			// Message content blocks are shared with the conversation state
			// and must stay unmarked there, so the marker goes on a copy.
			marked, err := withCacheControl(msg.Content[len(msg.Content)-1], cc)
			if err != nil {
				return err
			}
			content := make(api.ContentList, len(msg.Content))
			copy(content, msg.Content)
			content[len(content)-1] = marked
			msg.Content = content

		default:
			return errors.Errorf("unknown cache section: %s", bp.Section)
		}
	}
	return nil
}

// withCacheControl returns a marked copy of the block. Only block kinds
// that can legally carry the marker are supported.
func withCacheControl(c api.Content, cc *api.CacheControl) (api.Content, error) {
	switch block := c.(type) {
	case *api.TextContent:
		copied := *block
		copied.CacheControl = cc
		return &copied, nil
	case *api.ToolResultContent:
		copied := *block
		copied.CacheControl = cc
		return &copied, nil
	default:
		return nil, errors.Errorf("content block of type %s cannot carry cache_control", c.Type())
	}
}
