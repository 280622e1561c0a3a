package transport

import (
	"encoding/json"
	"fmt"
	"net/textproto"
	"strings"
	"time"
)

// DefaultPriority is the priority of a freshly built request. Lower values
// are dispatched first.
const DefaultPriority = 2

const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"

	MediaTypeJSON = "application/json"
)

type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthAPIKey
	AuthBasic
	AuthBearer
)

func (k AuthKind) String() string {
	switch k {
	case AuthNone:
		return "none"
	case AuthAPIKey:
		return "api_key"
	case AuthBasic:
		return "basic"
	case AuthBearer:
		return "bearer"
	default:
		return fmt.Sprintf("auth(%d)", int(k))
	}
}

// Header is a single-valued header map whose keys are stored in canonical
// MIME form, so lookups are case-insensitive.
type Header map[string]string

func (h Header) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

func (h Header) Has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// Request is an outbound call. It is owned by whoever builds it until it is
// handed to a client, which may then mutate ID, URL, Headers and Priority.
type Request struct {
	ID          string
	Method      string
	URL         string
	PathParams  map[string]string
	QueryParams map[string]string
	Headers     Header
	Auth        AuthKind
	Body        []byte
	Priority    int
}

// NewRequest creates a request with default priority and empty maps.
func NewRequest(method, url string) *Request {
	return &Request{
		Method:      method,
		URL:         url,
		PathParams:  map[string]string{},
		QueryParams: map[string]string{},
		Headers:     Header{},
		Priority:    DefaultPriority,
	}
}

func (r *Request) WithPathParam(key, value string) *Request {
	if r.PathParams == nil {
		r.PathParams = map[string]string{}
	}
	r.PathParams[key] = value
	return r
}

func (r *Request) WithQueryParam(key, value string) *Request {
	if r.QueryParams == nil {
		r.QueryParams = map[string]string{}
	}
	r.QueryParams[key] = value
	return r
}

func (r *Request) WithHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = Header{}
	}
	r.Headers.Set(key, value)
	return r
}

func (r *Request) WithAuth(kind AuthKind) *Request {
	r.Auth = kind
	return r
}

func (r *Request) Accepts(mediaType string) *Request {
	return r.WithHeader(HeaderAccept, mediaType)
}

// WithJSONBody marshals v as the request body and sets the JSON content type.
func (r *Request) WithJSONBody(v any) (*Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return r, fmt.Errorf("marshal request body: %w", err)
	}
	r.Body = body
	r.WithHeader(HeaderContentType, MediaTypeJSON)
	return r, nil
}

// Clone returns a copy whose maps can be mutated independently. The body is
// shared.
func (r *Request) Clone() *Request {
	c := *r
	c.PathParams = cloneMap(r.PathParams)
	c.QueryParams = cloneMap(r.QueryParams)
	c.Headers = Header(cloneMap(r.Headers))
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Response is the normalized transport result. Header keys are lower-cased.
type Response struct {
	URL        string
	StatusCode int
	Headers    map[string]string
	Body       []byte

	SentAt     time.Time
	ReceivedAt time.Time
}

// Header returns the first value of a response header, case-insensitively.
func (r *Response) Header(key string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers[strings.ToLower(key)]
}

// Duration is the time between sending the request and receiving the response.
func (r *Response) Duration() time.Duration {
	if r == nil || r.SentAt.IsZero() || r.ReceivedAt.IsZero() {
		return 0
	}
	return r.ReceivedAt.Sub(r.SentAt)
}

func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}
