package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetRateLimits(t *testing.T) {
	assert.Equal(t, 10, getRateLimits("free").RPM)
	assert.Equal(t, 1000, getRateLimits("tier1").RPM)
	assert.Equal(t, 2000, getRateLimits("tier2").RPM)
	// Unknown tiers fall back to free limits.
	assert.Equal(t, getRateLimits("free"), getRateLimits("whatever"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 25, estimateTokens(string(make([]byte, 100))))
}

func TestTokenCounterLimits(t *testing.T) {
	tc := &TokenCounter{lastMinuteReset: time.Now(), lastDayReset: time.Now()}
	limits := RateLimits{RPM: 2, TPM: 100, RPD: 3}

	assert.True(t, tc.CanConsume(limits, 50, 1))
	tc.RecordUsage(50, 1)

	assert.True(t, tc.CanConsume(limits, 50, 1))
	tc.RecordUsage(50, 1)

	// Third request in the same minute exceeds RPM.
	assert.False(t, tc.CanConsume(limits, 1, 1))

	// Token budget is enforced independently of request count.
	tc2 := &TokenCounter{lastMinuteReset: time.Now(), lastDayReset: time.Now()}
	assert.False(t, tc2.CanConsume(limits, 101, 1))
}

func TestTokenCounterWindowReset(t *testing.T) {
	tc := &TokenCounter{
		minuteTokens:    100,
		minuteRequests:  2,
		lastMinuteReset: time.Now().Add(-2 * time.Minute),
		lastDayReset:    time.Now(),
	}
	limits := RateLimits{RPM: 2, TPM: 100, RPD: 100}

	// The minute window expired, so the counters reset on next check.
	assert.True(t, tc.CanConsume(limits, 50, 1))
}
