package resilienttelemetry

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/opengovern/resilient-telemetry/apierror"
	"github.com/opengovern/resilient-telemetry/transport"
)

// API wraps the backend endpoints. Paths are relative to the client's base
// URI, which the SDK sets to Config.BackendURL().
type API struct {
	client *Client
}

func NewAPI(client *Client) *API {
	return &API{client: client}
}

// TestConnection checks that the backend is reachable and accepts the API key.
func (a *API) TestConnection(ctx context.Context) (*HealthResponse, error) {
	return call[HealthResponse](ctx, a.client, http.MethodGet, "health/apikey", transport.AuthAPIKey, nil)
}

func (a *API) CreateProject(ctx context.Context, req CreateProjectRequest) (*CreateProjectResponse, error) {
	return call[CreateProjectResponse](ctx, a.client, http.MethodPost, "projects", transport.AuthNone, req)
}

func (a *API) CreateOrUpdateDevice(ctx context.Context, req CreateOrUpdateDeviceRequest) (*CreateOrUpdateDeviceResponse, error) {
	return call[CreateOrUpdateDeviceResponse](ctx, a.client, http.MethodPost, "devices", transport.AuthAPIKey, req)
}

func (a *API) BeginSession(ctx context.Context, req BeginSessionRequest) (*BeginSessionResponse, error) {
	return call[BeginSessionResponse](ctx, a.client, http.MethodPost, "sessions/begin", transport.AuthAPIKey, req)
}

func (a *API) FinishSession(ctx context.Context, req FinishSessionRequest) (*FinishSessionResponse, error) {
	return call[FinishSessionResponse](ctx, a.client, http.MethodPost, "sessions/finish", transport.AuthAPIKey, req)
}

func (a *API) RecordEvent(ctx context.Context, ev Event) (*RecordEventResponse, error) {
	return call[RecordEventResponse](ctx, a.client, http.MethodPost, "events", transport.AuthAPIKey, ev)
}

func (a *API) RecordEvents(ctx context.Context, events []Event) (*RecordEventsResponse, error) {
	return call[RecordEventsResponse](ctx, a.client, http.MethodPost, "events/batch", transport.AuthAPIKey, RecordEventsRequest{Events: events})
}

// SendEvent and SendEvents make API an EventSender.
func (a *API) SendEvent(ctx context.Context, ev Event) error {
	_, err := a.RecordEvent(ctx, ev)
	return err
}

func (a *API) SendEvents(ctx context.Context, events []Event) error {
	_, err := a.RecordEvents(ctx, events)
	return err
}

func call[T any](ctx context.Context, c *Client, method, path string, auth transport.AuthKind, body any) (*T, error) {
	req := transport.NewRequest(method, path).WithAuth(auth).Accepts(transport.MediaTypeJSON)
	if body != nil {
		if _, err := req.WithJSONBody(body); err != nil {
			return nil, apierror.Wrap(err, apierror.InvalidArgument, "failed to encode request body")
		}
	}

	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	var out T
	if len(resp.Body) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, apierror.Wrap(err, apierror.ErrorFromException, "failed to decode response")
	}
	return &out, nil
}
