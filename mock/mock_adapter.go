// Package mock provides a scripted transport.Transport for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/opengovern/resilient-telemetry/transport"
)

// ErrConnection is the transport error returned by ConnectionError steps.
var ErrConnection = errors.New("mock: connection refused")

// Step is one scripted outcome. A zero Step answers 200 with an empty JSON
// object.
type Step struct {
	Status  int
	Headers map[string]string
	Body    []byte
	Err     error

	// Block, when set, holds the call until it is closed or the request
	// context ends.
	Block <-chan struct{}
}

func Status(code int) Step {
	return Step{Status: code}
}

func JSON(code int, body string) Step {
	return Step{Status: code, Body: []byte(body), Headers: map[string]string{"content-type": "application/json"}}
}

func ConnectionError() Step {
	return Step{Err: ErrConnection}
}

// Transport replays Steps in order; once they run out the last step repeats.
type Transport struct {
	mu       sync.Mutex
	steps    []Step
	handler  func(req *transport.Request) Step
	requests []transport.Request
	calls    int
}

func NewTransport(steps ...Step) *Transport {
	return &Transport{steps: steps}
}

// NewTransportFunc builds a transport whose outcome is computed per request.
func NewTransportFunc(handler func(req *transport.Request) Step) *Transport {
	return &Transport{handler: handler}
}

func (m *Transport) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	m.mu.Lock()
	snapshot := *req
	snapshot.Headers = transport.Header{}
	for k, v := range req.Headers {
		snapshot.Headers[k] = v
	}
	m.requests = append(m.requests, snapshot)
	var step Step
	switch {
	case m.handler != nil:
		h := m.handler
		m.mu.Unlock()
		step = h(&snapshot)
		m.mu.Lock()
	case len(m.steps) == 0:
	case m.calls < len(m.steps):
		step = m.steps[m.calls]
	default:
		step = m.steps[len(m.steps)-1]
	}
	m.calls++
	m.mu.Unlock()

	if step.Block != nil {
		select {
		case <-step.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	status := step.Status
	if status == 0 {
		status = 200
	}
	body := step.Body
	if body == nil && status == 200 {
		body = []byte(`{}`)
	}
	headers := map[string]string{}
	for k, v := range step.Headers {
		headers[k] = v
	}
	return &transport.Response{
		URL:        req.URL,
		StatusCode: status,
		Headers:    headers,
		Body:       body,
	}, nil
}

// Calls returns the number of Do invocations so far.
func (m *Transport) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns copies of every request seen so far.
func (m *Transport) Requests() []transport.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transport.Request, len(m.requests))
	copy(out, m.requests)
	return out
}
