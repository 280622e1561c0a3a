package resilienttelemetry

import (
	"testing"
	"time"

	"github.com/opengovern/resilient-telemetry/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewRateLimiter()
	r.now = func() time.Time { return now }

	r.UpdateFromResponse(&transport.Response{
		URL:        "http://backend.test/api/v1/events",
		StatusCode: 429,
		Headers:    map[string]string{"retry-after": "2"},
	})

	assert.False(t, r.canProceed("backend.test"))
	assert.Equal(t, 2*time.Second, r.delayBeforeNextRequest("backend.test"))
	assert.True(t, r.canProceed("other.test"))

	info := r.GetRateLimitInfo("backend.test")
	require.NotNil(t, info)
	assert.Equal(t, 0, *info.RemainingRequests)

	now = now.Add(3 * time.Second)
	assert.True(t, r.canProceed("backend.test"))
	assert.Zero(t, r.delayBeforeNextRequest("backend.test"))
}

func TestRateLimiterHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewRateLimiter()
	r.now = func() time.Time { return now }

	r.UpdateFromResponse(&transport.Response{
		URL:        "http://backend.test/x",
		StatusCode: 200,
		Headers: map[string]string{
			"x-ratelimit-remaining": "0",
			"x-ratelimit-reset":     "1700000005",
		},
	})
	assert.Equal(t, 5*time.Second, r.delayBeforeNextRequest("backend.test"))

	r.UpdateFromResponse(&transport.Response{URL: "http://backend.test/x", StatusCode: 200})
	assert.Nil(t, r.GetRateLimitInfo("backend.test"), "a plain success clears the entry")
}
