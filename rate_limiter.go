// rate_limiter.go
// ----------------
// This file defines the RateLimiter type, which stores the throttling hints a
// backend returns (Retry-After, X-RateLimit-Remaining/Reset) per host and turns
// them into a minimum delay for the next retry.
//
// Responsibilities:
// - Storing rate limit info keyed by host.
// - Checking if requests can proceed based on RemainingRequests and ResetRequestsAt.
// - Calculating delay durations before the next allowed request if the limit is exhausted.
package resilienttelemetry

import (
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/opengovern/resilient-telemetry/internal"
	"github.com/opengovern/resilient-telemetry/transport"
)

// RateLimitInfo is what a host told us about its limits.
type RateLimitInfo struct {
	RemainingRequests *int
	ResetRequestsAt   *int64 // Unix milliseconds
}

type RateLimiter struct {
	mu         sync.Mutex
	hostLimits map[string]*RateLimitInfo
	now        func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		hostLimits: make(map[string]*RateLimitInfo),
		now:        time.Now,
	}
}

// UpdateFromResponse records the limits advertised by resp. Responses without
// any throttling header leave the stored info untouched, except that a
// successful response clears an exhausted entry.
func (r *RateLimiter) UpdateFromResponse(resp *transport.Response) {
	if resp == nil {
		return
	}
	host := hostOf(resp.URL)
	now := r.now()

	info := parseRateLimitInfo(resp, now)

	r.mu.Lock()
	defer r.mu.Unlock()

	if info == nil {
		if resp.IsSuccess() {
			delete(r.hostLimits, host)
		}
		return
	}
	r.hostLimits[host] = info
}

// canProceed reports whether a request to host can be sent right away.
func (r *RateLimiter) canProceed(host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.hostLimits[host]
	if !ok || info == nil {
		return true
	}

	if info.RemainingRequests != nil && *info.RemainingRequests <= 0 {
		if info.ResetRequestsAt != nil && r.now().UnixMilli() < *info.ResetRequestsAt {
			return false
		}
	}
	return true
}

// delayBeforeNextRequest returns how long to wait before host accepts another
// request, or zero.
func (r *RateLimiter) delayBeforeNextRequest(host string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.hostLimits[host]
	if !ok || info == nil {
		return 0
	}

	if info.RemainingRequests != nil && *info.RemainingRequests <= 0 && info.ResetRequestsAt != nil {
		nowMs := r.now().UnixMilli()
		if nowMs < *info.ResetRequestsAt {
			return time.Duration(*info.ResetRequestsAt-nowMs) * time.Millisecond
		}
	}
	return 0
}

// GetRateLimitInfo returns a copy of the info stored for host.
func (r *RateLimiter) GetRateLimitInfo(host string) *RateLimitInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.hostLimits[host]; ok {
		copyInfo := *info
		return &copyInfo
	}
	return nil
}

func parseRateLimitInfo(resp *transport.Response, now time.Time) *RateLimitInfo {
	var info RateLimitInfo
	found := false

	if v := resp.Header("x-ratelimit-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.RemainingRequests = &n
			found = true
		}
	}
	if v := resp.Header("x-ratelimit-reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			ms := sec * 1000
			info.ResetRequestsAt = &ms
			found = true
		}
	}

	if v := resp.Header("retry-after"); v != "" {
		if d := internal.ParseRetryAfter(v, now); d > 0 {
			zero := 0
			resetAt := now.Add(d).UnixMilli()
			info.RemainingRequests = &zero
			info.ResetRequestsAt = &resetAt
			found = true
		}
	}

	if !found {
		return nil
	}
	return &info
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}
