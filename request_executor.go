package resilienttelemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/opengovern/resilient-telemetry/apierror"
	"github.com/opengovern/resilient-telemetry/transport"
	"github.com/sirupsen/logrus"
)

type requestState int

const (
	stateRunning requestState = iota
	statePaused
	stateResumed
	stateStopped
)

// Send resolves, authorizes and sends req, retrying transient failures. It
// blocks until the request succeeds, fails terminally or ctx is done.
// A non-2xx final response is returned together with its error.
func (c *Client) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req == nil {
		panic("resilienttelemetry: nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Headers == nil {
		req.Headers = transport.Header{}
	}

	if err := c.applyAuthorization(req); err != nil {
		return nil, err
	}
	c.applyPathParams(req)
	c.applyAdditionalHeaders(req)
	if err := c.resolveURL(req); err != nil {
		return nil, err
	}

	return c.execute(ctx, req)
}

// SendAsync runs Send on its own goroutine and hands the outcome to callback.
func (c *Client) SendAsync(ctx context.Context, req *transport.Request, callback func(*transport.Response, error)) {
	go func() {
		resp, err := c.Send(ctx, req)
		if callback != nil {
			callback(resp, err)
		}
	}()
}

func (c *Client) execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	policy := c.RetryPolicy()
	requestID := uuid.NewString()
	delays := newBackoff(policy.InitialDelay, policy.MaxDelay, c.randInt63n)
	log := c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     req.Method,
		"url":        req.URL,
	})

	start := time.Now()
	state := stateRunning
	rejected := ""
	if req.Auth == transport.AuthBearer && tokenExpired(bearerToken(req), start) {
		log.Debug("access token expired, refreshing before sending")
		state, rejected = statePaused, bearerToken(req)
	}

	var (
		res         transport.Result
		rejected401 bool
		retries     int
	)

	for {
		if req.Auth == transport.AuthBearer && state == stateRunning && c.refreshInFlight() {
			state, rejected = statePaused, bearerToken(req)
		}

		if state == statePaused {
			refreshed := c.awaitBearerRefresh(ctx, rejected)
			if err := ctx.Err(); err != nil {
				return nil, apierror.Wrap(err, apierror.NetworkError, "request cancelled")
			}
			state = stateResumed
			start = time.Now()

			switch {
			case refreshed:
				req.Headers.Del(transport.HeaderAuthorization)
				if err := c.applyAuthorization(req); err != nil {
					return nil, err
				}
			case rejected401:
				c.notifyUnauthorized(rejected)
				return c.finalize(res)
			default:
				log.Warn("failed retrieving new access token, sending with the current one")
			}
		}

		var delay time.Duration
		if retries > 0 {
			delay = delays.Next()
			if wait := c.limiter.delayBeforeNextRequest(hostOf(req.URL)); wait > delay {
				delay = min(wait, policy.MaxDelay)
			}
			req.Priority = transport.DefaultPriority + 1
			log.Warnf("send request failed, retrying %d/%d in %v", retries, policy.MaxRetries, delay)
		} else if host := hostOf(req.URL); !c.limiter.canProceed(host) {
			delay = min(c.limiter.delayBeforeNextRequest(host), policy.MaxDelay)
			log.Debugf("rate limit exhausted for %s, waiting %v", host, delay)
		}
		timeout := policy.TotalTimeout - time.Since(start)

		attemptReq := req.Clone()
		attemptReq.ID = fmt.Sprintf("%s-%d", requestID, retries)

		r, err := c.attempt(ctx, attemptReq, timeout, delay)
		if err != nil {
			return nil, err
		}
		res = r
		c.notifyAttempt(attemptReq, res)
		c.limiter.UpdateFromResponse(res.Response)

		if c.requiresRetry(attemptReq, res) {
			retries++
			if retries > policy.MaxRetries {
				log.Warnf("giving up after %d attempts", retries)
				break
			}
			if time.Since(start) >= policy.TotalTimeout {
				log.Warnf("total timeout of %v reached", policy.TotalTimeout)
				break
			}
			continue
		}

		if res.Response != nil && res.Response.StatusCode == http.StatusUnauthorized && req.Auth == transport.AuthBearer {
			if state == stateResumed {
				c.notifyUnauthorized(bearerToken(attemptReq))
				state = stateStopped
				break
			}
			log.Debug("access token rejected, refreshing")
			state, rejected, rejected401 = statePaused, bearerToken(attemptReq), true
			continue
		}

		break
	}

	if retries > 0 && res.Response.IsSuccess() {
		log.Debugf("request succeeded after %d attempts", retries+1)
	}
	return c.finalize(res)
}

// attempt schedules one transport call and waits for its completion.
func (c *Client) attempt(ctx context.Context, req *transport.Request, timeout, delay time.Duration) (transport.Result, error) {
	done := make(chan transport.Result, 1)
	task := c.scheduler.AddTask(req, func(r transport.Result) { done <- r }, timeout, delay)

	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		task.Abort()
		return transport.Result{}, apierror.Wrap(ctx.Err(), apierror.NetworkError, "request cancelled")
	}
}

// requiresRetry classifies a result and notifies observers of transient
// failures.
func (c *Client) requiresRetry(req *transport.Request, res transport.Result) bool {
	if res.Err != nil {
		c.notifyNetworkError(req)
		return true
	}

	status := res.Response.StatusCode
	switch {
	case status >= 500 && status < 600:
		c.notifyServerError(req)
		return true
	case status == http.StatusTooManyRequests, status == int(apierror.RetryWith):
		return true
	}
	return false
}

func (c *Client) finalize(res transport.Result) (*transport.Response, error) {
	if res.Err != nil {
		return res.Response, res.Err
	}
	if err := apierror.FromStatus(res.Response.StatusCode, res.Response.Body); err != nil {
		return res.Response, err
	}
	return res.Response, nil
}

// backoff yields exponentially growing delays with ±25% jitter, capped at max.
type backoff struct {
	next    time.Duration
	max     time.Duration
	randInt func(n int64) int64
}

func newBackoff(initial, max time.Duration, randInt func(n int64) int64) *backoff {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max < initial {
		max = initial
	}
	return &backoff{next: initial, max: max, randInt: randInt}
}

func (b *backoff) Next() time.Duration {
	base := b.next
	b.next = min(base*2, b.max)

	delay := base
	if quarter := int64(base / 4); quarter > 0 {
		delay += time.Duration(b.randInt(2*quarter+1) - quarter)
	}
	return min(delay, b.max)
}
