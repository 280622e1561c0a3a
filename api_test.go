package resilienttelemetry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/opengovern/resilient-telemetry/apierror"
	"github.com/opengovern/resilient-telemetry/internal/mockserver"
	"github.com/opengovern/resilient-telemetry/mock"
	"github.com/opengovern/resilient-telemetry/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, apiKey string) (*API, *mockserver.Server) {
	t.Helper()
	server := mockserver.New("project-key")
	t.Cleanup(server.Close)

	c := newTestClient(t, transport.NewHTTPTransportWithClient(&http.Client{}), fastPolicy())
	require.NoError(t, c.SetBaseURI(server.URL()+"/api/v1"))
	c.SetAPIKey(apiKey)
	return NewAPI(c), server
}

func TestAPIEndpoints(t *testing.T) {
	api, server := newTestAPI(t, "project-key")
	ctx := context.Background()

	health, err := api.TestConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	project, err := api.CreateProject(ctx, CreateProjectRequest{Name: "demo"})
	require.NoError(t, err)
	assert.Equal(t, "demo", project.Name)
	assert.NotEmpty(t, project.APIKey)

	device, err := api.CreateOrUpdateDevice(ctx, CreateOrUpdateDeviceRequest{Identifier: "dev-1", Platform: "linux"})
	require.NoError(t, err)
	assert.Equal(t, "dev-1", device.Identifier)
	assert.NotEmpty(t, device.DeviceID)

	session, err := api.BeginSession(ctx, BeginSessionRequest{Identifier: "dev-1"})
	require.NoError(t, err)
	require.NotEmpty(t, session.SessionID)

	finished, err := api.FinishSession(ctx, FinishSessionRequest{SessionID: session.SessionID})
	require.NoError(t, err)
	assert.NotEmpty(t, finished.Message)

	_, err = api.FinishSession(ctx, FinishSessionRequest{SessionID: session.SessionID})
	assert.Equal(t, apierror.NotFound, apierror.CodeOf(err))

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err = api.RecordEvent(ctx, Event{Identifier: "e1", EventType: "custom", EventName: "start", Timestamp: ts})
	require.NoError(t, err)

	batch, err := api.RecordEvents(ctx, []Event{{Identifier: "e2"}, {Identifier: "e3"}})
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Count)

	events := server.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "e1", events[0].Identifier)
	assert.True(t, ts.Equal(events[0].Timestamp))
}

func TestAPIWrongKeyIsUnauthorized(t *testing.T) {
	api, _ := newTestAPI(t, "wrong-key")

	_, err := api.TestConnection(context.Background())
	assert.Equal(t, apierror.Unauthorized, apierror.CodeOf(err))
}

func TestAPIRetriesServerErrors(t *testing.T) {
	api, server := newTestAPI(t, "project-key")
	server.Fail("/events/batch", 503, 500)

	batch, err := api.RecordEvents(context.Background(), []Event{{Identifier: "e1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Count)
	assert.Equal(t, 3, server.Hits("/events/batch"))
}

func TestAPIDecodeFailure(t *testing.T) {
	tr := mock.NewTransport(mock.JSON(200, `{"status":`))
	api := NewAPI(newTestClient(t, tr, fastPolicy()))

	_, err := api.TestConnection(context.Background())
	assert.Equal(t, apierror.ErrorFromException, apierror.CodeOf(err))
}
