package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    Policy
		attempt   int
		suggested time.Duration
		want      time.Duration
	}{
		{
			name:    "first retry uses base delay",
			policy:  DefaultPolicy(),
			attempt: 1,
			want:    2 * time.Second,
		},
		{
			name:    "doubles per retry",
			policy:  DefaultPolicy(),
			attempt: 3,
			want:    8 * time.Second,
		},
		{
			name:    "capped at max delay",
			policy:  DefaultPolicy(),
			attempt: 10,
			want:    32 * time.Second,
		},
		{
			name:    "attempt below one is treated as one",
			policy:  DefaultPolicy(),
			attempt: 0,
			want:    2 * time.Second,
		},
		{
			name:      "retry-after is added on top",
			policy:    DefaultPolicy(),
			attempt:   1,
			suggested: 5 * time.Second,
			want:      7 * time.Second,
		},
		{
			name:      "retry-after is added to capped delay",
			policy:    Policy{BaseDelay: time.Second, MaxDelay: 4 * time.Second},
			attempt:   6,
			suggested: 10 * time.Second,
			want:      14 * time.Second,
		},
		{
			name:      "negative suggestion ignored",
			policy:    DefaultPolicy(),
			attempt:   2,
			suggested: -time.Second,
			want:      4 * time.Second,
		},
		{
			name:    "zero policy falls back to defaults",
			policy:  Policy{},
			attempt: 1,
			want:    2 * time.Second,
		},
		{
			name:    "custom base",
			policy:  Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
			attempt: 4,
			want:    800 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.policy.Delay(tt.attempt, tt.suggested))
		})
	}
}

func TestPolicy_DelayNeverBelowSuggestion(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	for attempt := 1; attempt <= 20; attempt++ {
		assert.GreaterOrEqual(t, p.Delay(attempt, 5*time.Second), 5*time.Second)
	}
}
