package resilienttelemetry

import (
	"context"
	"encoding/base64"
	"errors"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opengovern/resilient-telemetry/apierror"
	"github.com/opengovern/resilient-telemetry/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// RetryPolicy bounds the retry loop of a Client.
type RetryPolicy struct {
	TotalTimeout         time.Duration
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	MaxRetries           int
	BearerRefreshTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		TotalTimeout:         DefaultTotalTimeout,
		InitialDelay:         DefaultInitialDelay,
		MaxDelay:             DefaultMaxDelay,
		MaxRetries:           DefaultMaxRetries,
		BearerRefreshTimeout: DefaultBearerRefreshTimeout,
	}
}

var errNoRefresher = errors.New("no bearer refresher configured")

// Client sends requests through a transport.Scheduler, adding authorization,
// URL resolution, retries with jittered backoff and bearer token refresh.
type Client struct {
	scheduler *transport.Scheduler
	limiter   *RateLimiter
	logger    logrus.FieldLogger

	mu           sync.RWMutex
	policy       RetryPolicy
	baseURI      *url.URL
	apiKey       string
	basicUser    string
	basicPass    string
	accessToken  string
	pathParams   map[string]string
	extraHeaders map[string]string
	observers    []Observer
	refresher    BearerRefresher

	refreshGroup singleflight.Group
	refreshing   atomic.Int32

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewClient(scheduler *transport.Scheduler, policy RetryPolicy, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if policy.BearerRefreshTimeout <= 0 {
		policy.BearerRefreshTimeout = DefaultBearerRefreshTimeout
	}
	return &Client{
		scheduler:    scheduler,
		limiter:      NewRateLimiter(),
		logger:       logger.WithField("component", "client"),
		policy:       policy,
		pathParams:   map[string]string{},
		extraHeaders: map[string]string{},
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetBaseURI sets the root that relative request URLs are resolved against.
func (c *Client) SetBaseURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apierror.Wrap(err, apierror.InvalidArgument, "invalid base uri")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apierror.Newf(apierror.InvalidArgument, "unsupported base uri scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c.mu.Lock()
	c.baseURI = u
	c.mu.Unlock()
	return nil
}

func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

func (c *Client) SetBasicAuth(user, password string) {
	c.mu.Lock()
	c.basicUser, c.basicPass = user, password
	c.mu.Unlock()
}

// SetImplicitBearerAuth sets the token injected into AuthBearer requests.
func (c *Client) SetImplicitBearerAuth(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetImplicitPathParam fills {key} in every request URL that still contains it.
func (c *Client) SetImplicitPathParam(key, value string) {
	c.mu.Lock()
	c.pathParams[key] = value
	c.mu.Unlock()
}

func (c *Client) ClearImplicitPathParams() {
	c.mu.Lock()
	c.pathParams = map[string]string{}
	c.mu.Unlock()
}

// AddAdditionalHeader adds a header to every request that does not set it.
func (c *Client) AddAdditionalHeader(key, value string) {
	c.mu.Lock()
	c.extraHeaders[key] = value
	c.mu.Unlock()
}

func (c *Client) SetBearerRefresher(fn BearerRefresher) {
	c.mu.Lock()
	c.refresher = fn
	c.mu.Unlock()
}

func (c *Client) AddObserver(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

func (c *Client) SetRetryPolicy(p RetryPolicy) {
	if p.BearerRefreshTimeout <= 0 {
		p.BearerRefreshTimeout = DefaultBearerRefreshTimeout
	}
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
}

func (c *Client) RetryPolicy() RetryPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// RateLimiter exposes the throttling hints collected from responses.
func (c *Client) RateLimiter() *RateLimiter {
	return c.limiter
}

// applyAuthorization injects credentials for req.Auth. A request that already
// carries the header is left alone, so calling it twice is harmless.
func (c *Client) applyAuthorization(req *transport.Request) error {
	c.mu.RLock()
	apiKey, user, pass, token := c.apiKey, c.basicUser, c.basicPass, c.accessToken
	c.mu.RUnlock()

	switch req.Auth {
	case transport.AuthAPIKey:
		if req.Headers.Has(APIKeyHeader) {
			return nil
		}
		if apiKey == "" {
			return apierror.New(apierror.InvalidRequest, "api key is not set")
		}
		req.Headers.Set(APIKeyHeader, apiKey)
	case transport.AuthBasic:
		if req.Headers.Has(transport.HeaderAuthorization) {
			return nil
		}
		if user == "" {
			return apierror.New(apierror.InvalidRequest, "basic auth credentials are not set")
		}
		req.Headers.Set(transport.HeaderAuthorization, "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	case transport.AuthBearer:
		if req.Headers.Has(transport.HeaderAuthorization) {
			return nil
		}
		if token == "" {
			return apierror.New(apierror.IsNotLoggedIn, "no access token, log in first")
		}
		req.Headers.Set(transport.HeaderAuthorization, "Bearer "+token)
	}
	return nil
}

func (c *Client) applyPathParams(req *transport.Request) {
	for k, v := range req.PathParams {
		req.URL = strings.ReplaceAll(req.URL, "{"+k+"}", url.PathEscape(v))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.pathParams {
		req.URL = strings.ReplaceAll(req.URL, "{"+k+"}", url.PathEscape(v))
	}
}

func (c *Client) applyAdditionalHeaders(req *transport.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.extraHeaders {
		if v == "" || req.Headers.Has(k) {
			continue
		}
		req.Headers.Set(k, v)
	}
}

// resolveURL turns req.URL into an absolute http(s) URL with the query
// parameters appended. Relative URLs are resolved below the base URI.
func (c *Client) resolveURL(req *transport.Request) error {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return apierror.New(apierror.InvalidRequest, "request url is empty")
	}
	if strings.ContainsAny(raw, "{}") {
		return apierror.Newf(apierror.InvalidRequest, "unresolved path parameter in %q", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return apierror.Wrap(err, apierror.InvalidRequest, "malformed request url")
	}

	if !u.IsAbs() {
		c.mu.RLock()
		base := c.baseURI
		c.mu.RUnlock()
		if base == nil {
			return apierror.Newf(apierror.InvalidRequest, "relative url %q without base uri", raw)
		}
		ref, err := url.Parse(strings.TrimPrefix(raw, "/"))
		if err != nil {
			return apierror.Wrap(err, apierror.InvalidRequest, "malformed request url")
		}
		u = base.ResolveReference(ref)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return apierror.Newf(apierror.InvalidRequest, "unsupported url scheme %q", u.Scheme)
	}

	if len(req.QueryParams) > 0 {
		q := u.Query()
		for k, v := range req.QueryParams {
			if k == "" || v == "" {
				continue
			}
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req.URL = u.String()
	return nil
}

// refreshInFlight reports whether a bearer refresh is running.
func (c *Client) refreshInFlight() bool {
	return c.refreshing.Load() > 0
}

// awaitBearerRefresh joins (or starts) the single refresh for this client and
// reports whether a new token is available.
func (c *Client) awaitBearerRefresh(ctx context.Context, rejected string) bool {
	ch := c.refreshGroup.DoChan("bearer", func() (any, error) {
		return c.refreshBearer(rejected)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.WithError(res.Err).Warn("failed retrieving new access token")
			return false
		}
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) refreshBearer(rejected string) (string, error) {
	c.refreshing.Add(1)
	defer c.refreshing.Add(-1)

	c.mu.RLock()
	current, refresher, timeout := c.accessToken, c.refresher, c.policy.BearerRefreshTimeout
	c.mu.RUnlock()

	// Someone already replaced the rejected token.
	if current != "" && current != rejected && !tokenExpired(current, time.Now()) {
		return current, nil
	}
	if refresher == nil {
		return "", errNoRefresher
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	token, err := refresher(ctx, rejected)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("bearer refresher returned an empty token")
	}

	c.SetImplicitBearerAuth(token)
	c.logger.Debug("access token refreshed")
	return token, nil
}

func (c *Client) snapshotObservers() []Observer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Observer(nil), c.observers...)
}

func (c *Client) notifyNetworkError(req *transport.Request) {
	for _, o := range c.snapshotObservers() {
		o.NetworkErrorOccurred(req)
	}
}

func (c *Client) notifyServerError(req *transport.Request) {
	for _, o := range c.snapshotObservers() {
		o.ServerErrorOccurred(req)
	}
}

func (c *Client) notifyUnauthorized(previousToken string) {
	for _, o := range c.snapshotObservers() {
		o.UnauthorizedOccurred(previousToken)
	}
}

func (c *Client) notifyAttempt(req *transport.Request, res transport.Result) {
	var err error
	if res.Err != nil {
		err = res.Err
	}
	for _, o := range c.snapshotObservers() {
		o.AttemptCompleted(req, res.Response, err)
	}
}

func (c *Client) randInt63n(n int64) int64 {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	return c.rand.Int63n(n)
}

func bearerToken(req *transport.Request) string {
	return strings.TrimPrefix(req.Headers.Get(transport.HeaderAuthorization), "Bearer ")
}
