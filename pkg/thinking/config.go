package thinking

// Package thinking configures extended reasoning for inference requests and
// tracks the reasoning token budget across the episodes of one assistant
// turn.

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/loom/pkg/api"
)

// MinBudgetTokens is the smallest budget the service accepts.
const MinBudgetTokens = 1024

// Config controls extended reasoning for a request.
//
// In the default mode the budget is a per-request bound and must leave room
// for the visible output, so BudgetTokens has to stay below max_tokens. With
// Interleaved set, reasoning can occur between tool invocations and the
// budget becomes a turn-wide quota that may exceed any single request's
// max_tokens.
type Config struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	BudgetTokens int  `json:"budget_tokens" yaml:"budget_tokens"`
	Interleaved  bool `json:"interleaved" yaml:"interleaved"`
}

// Validate checks the budget against the request's max_tokens before any
// network call is made.
func (c Config) Validate(maxTokens int) error {
	if !c.Enabled {
		return nil
	}
	if c.BudgetTokens < MinBudgetTokens {
		return errors.Errorf("thinking budget_tokens must be at least %d, got %d", MinBudgetTokens, c.BudgetTokens)
	}
	if !c.Interleaved && c.BudgetTokens >= maxTokens {
		return errors.Errorf("thinking budget_tokens (%d) must be less than max_tokens (%d)", c.BudgetTokens, maxTokens)
	}
	return nil
}

// ToAPI converts the config to its wire form, nil when disabled.
func (c Config) ToAPI() *api.ThinkingConfig {
	if !c.Enabled {
		return nil
	}
	return &api.ThinkingConfig{
		Type:         "enabled",
		BudgetTokens: c.BudgetTokens,
	}
}
