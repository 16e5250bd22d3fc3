package thinking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		maxTokens int
		errMatch  string
	}{
		{
			name:      "disabled skips all checks",
			config:    Config{Enabled: false, BudgetTokens: 999999},
			maxTokens: 100,
		},
		{
			name:      "budget below minimum",
			config:    Config{Enabled: true, BudgetTokens: 512},
			maxTokens: 8192,
			errMatch:  "at least 1024",
		},
		{
			name:      "budget must stay below max_tokens",
			config:    Config{Enabled: true, BudgetTokens: 8192},
			maxTokens: 4096,
			errMatch:  "less than max_tokens",
		},
		{
			name:      "budget equal to max_tokens rejected",
			config:    Config{Enabled: true, BudgetTokens: 4096},
			maxTokens: 4096,
			errMatch:  "less than max_tokens",
		},
		{
			name:      "valid non-interleaved",
			config:    Config{Enabled: true, BudgetTokens: 2048},
			maxTokens: 4096,
		},
		{
			name:      "interleaved budget may exceed max_tokens",
			config:    Config{Enabled: true, BudgetTokens: 32768, Interleaved: true},
			maxTokens: 4096,
		},
		{
			name:      "interleaved still enforces minimum",
			config:    Config{Enabled: true, BudgetTokens: 100, Interleaved: true},
			maxTokens: 4096,
			errMatch:  "at least 1024",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate(tt.maxTokens)
			if tt.errMatch == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMatch)
		})
	}
}

func TestConfigToAPI(t *testing.T) {
	assert.Nil(t, Config{}.ToAPI())

	wire := Config{Enabled: true, BudgetTokens: 2048}.ToAPI()
	require.NotNil(t, wire)
	assert.Equal(t, "enabled", wire.Type)
	assert.Equal(t, 2048, wire.BudgetTokens)
}

func TestTracker(t *testing.T) {
	tr := NewTracker(1000)
	assert.Equal(t, 1000, tr.Remaining())
	assert.False(t, tr.Exhausted())

	tr.Record(300)
	tr.Record(400)
	assert.Equal(t, 700, tr.Used())
	assert.Equal(t, 300, tr.Remaining())

	tr.Record(500)
	assert.Equal(t, 1200, tr.Used())
	assert.Equal(t, 0, tr.Remaining())
	assert.True(t, tr.Exhausted())
}
