package thinking

import "sync"

// Tracker accumulates reasoning token usage across the episodes of one
// assistant turn. With interleaved thinking a turn spans several requests
// (one per tool round trip) and the budget applies to their sum, so each
// episode's usage delta is recorded here.
type Tracker struct {
	mu     sync.Mutex
	budget int
	used   int
}

func NewTracker(budgetTokens int) *Tracker {
	return &Tracker{budget: budgetTokens}
}

// Record adds one episode's reasoning token usage.
func (t *Tracker) Record(tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used += tokens
}

func (t *Tracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Remaining returns the unspent budget, never negative.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.used >= t.budget {
		return 0
	}
	return t.budget - t.used
}

// Exhausted reports whether the turn has spent its full reasoning budget.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used >= t.budget
}
