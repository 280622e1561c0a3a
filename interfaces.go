package resilienttelemetry

import (
	"context"

	"github.com/opengovern/resilient-telemetry/transport"
)

// Observer receives the client's notifications, e.g. for metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	NetworkErrorOccurred(req *transport.Request)
	ServerErrorOccurred(req *transport.Request)
	// UnauthorizedOccurred reports a terminal 401 with the token that was rejected.
	UnauthorizedOccurred(previousToken string)
	AttemptCompleted(req *transport.Request, resp *transport.Response, err error)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	OnNetworkError     func(req *transport.Request)
	OnServerError      func(req *transport.Request)
	OnUnauthorized     func(previousToken string)
	OnAttemptCompleted func(req *transport.Request, resp *transport.Response, err error)
}

func (o ObserverFuncs) NetworkErrorOccurred(req *transport.Request) {
	if o.OnNetworkError != nil {
		o.OnNetworkError(req)
	}
}

func (o ObserverFuncs) ServerErrorOccurred(req *transport.Request) {
	if o.OnServerError != nil {
		o.OnServerError(req)
	}
}

func (o ObserverFuncs) UnauthorizedOccurred(previousToken string) {
	if o.OnUnauthorized != nil {
		o.OnUnauthorized(previousToken)
	}
}

func (o ObserverFuncs) AttemptCompleted(req *transport.Request, resp *transport.Response, err error) {
	if o.OnAttemptCompleted != nil {
		o.OnAttemptCompleted(req, resp, err)
	}
}

// BearerRefresher is invoked when the backend rejects a bearer token. It
// returns the replacement token. At most one refresh runs per client at a time.
type BearerRefresher func(ctx context.Context, rejectedToken string) (string, error)

// EventSender delivers telemetry events to the backend.
type EventSender interface {
	SendEvent(ctx context.Context, event Event) error
	SendEvents(ctx context.Context, events []Event) error
}
