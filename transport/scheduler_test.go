package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opengovern/resilient-telemetry/apierror"
	"github.com/opengovern/resilient-telemetry/internal/heartbeat"
	"github.com/opengovern/resilient-telemetry/mock"
	"github.com/opengovern/resilient-telemetry/transport"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T, tr transport.Transport) (*transport.Scheduler, *heartbeat.HeartBeat) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hb := heartbeat.New(logger)
	return transport.NewScheduler(hb, tr, logger), hb
}

func runHeartBeat(t *testing.T, hb *heartbeat.HeartBeat) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hb.Run(ctx, time.Millisecond)
}

func awaitResult(t *testing.T, ch <-chan transport.Result) transport.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete")
		return transport.Result{}
	}
}

func TestTaskSuccess(t *testing.T) {
	tr := mock.NewTransport(mock.JSON(200, `{"ok":true}`))
	s, hb := newScheduler(t, tr)
	runHeartBeat(t, hb)

	ch := make(chan transport.Result, 1)
	task := s.AddTask(transport.NewRequest("GET", "http://example.test/x"), func(r transport.Result) { ch <- r }, time.Second, 0)

	res := awaitResult(t, ch)
	require.Nil(t, res.Err)
	require.NotNil(t, res.Response)
	assert.Equal(t, 200, res.Response.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(res.Response.Body))
	assert.False(t, res.Response.SentAt.IsZero())
	assert.False(t, res.Response.ReceivedAt.Before(res.Response.SentAt))
	assert.Equal(t, transport.TaskComplete, task.State())
	assert.Equal(t, 0, s.Pending())
}

func TestTaskProtocolErrorIsAResponse(t *testing.T) {
	s, hb := newScheduler(t, mock.NewTransport(mock.Status(503)))
	runHeartBeat(t, hb)

	ch := make(chan transport.Result, 1)
	s.AddTask(transport.NewRequest("GET", "http://example.test"), func(r transport.Result) { ch <- r }, time.Second, 0)

	res := awaitResult(t, ch)
	assert.Nil(t, res.Err)
	require.NotNil(t, res.Response)
	assert.Equal(t, 503, res.Response.StatusCode)
}

func TestTaskConnectionErrorIsNetworkError(t *testing.T) {
	tr := mock.NewTransport(mock.ConnectionError())
	s, hb := newScheduler(t, tr)
	runHeartBeat(t, hb)

	ch := make(chan transport.Result, 1)
	s.AddTask(transport.NewRequest("GET", "http://example.test"), func(r transport.Result) { ch <- r }, time.Second, 0)

	res := awaitResult(t, ch)
	assert.Nil(t, res.Response)
	require.NotNil(t, res.Err)
	assert.Equal(t, apierror.NetworkError, res.Err.Code)
	assert.ErrorIs(t, res.Err, mock.ErrConnection)
	assert.Equal(t, 1, tr.Calls(), "the scheduler never retries")
}

func TestTaskTimeoutAbortsTransport(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	aborted := make(chan struct{})
	tr := transport.TransportFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		select {
		case <-ctx.Done():
			close(aborted)
			return nil, ctx.Err()
		case <-block:
			return &transport.Response{StatusCode: 200}, nil
		}
	})
	s, hb := newScheduler(t, tr)
	runHeartBeat(t, hb)

	ch := make(chan transport.Result, 1)
	s.AddTask(transport.NewRequest("GET", "http://example.test"), func(r transport.Result) { ch <- r }, 30*time.Millisecond, 0)

	res := awaitResult(t, ch)
	require.NotNil(t, res.Err)
	assert.Equal(t, apierror.NetworkError, res.Err.Code)

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("transport call was not aborted")
	}
}

func TestTaskDelayWaitsInHeartBeatTime(t *testing.T) {
	tr := mock.NewTransport()
	s, hb := newScheduler(t, tr)

	ch := make(chan transport.Result, 1)
	task := s.AddTask(transport.NewRequest("GET", "http://example.test"), func(r transport.Result) { ch <- r }, time.Second, 100*time.Millisecond)

	hb.Tick(10 * time.Millisecond) // dispatch, delay registered
	hb.Tick(60 * time.Millisecond)
	assert.Equal(t, transport.TaskWaiting, task.State())
	assert.Equal(t, 0, tr.Calls())

	hb.Tick(60 * time.Millisecond)
	require.Eventually(t, func() bool { return tr.Calls() == 1 }, time.Second, time.Millisecond)

	runHeartBeat(t, hb)
	res := awaitResult(t, ch)
	assert.Nil(t, res.Err)
}

func TestTaskOrdering(t *testing.T) {
	s, hb := newScheduler(t, mock.NewTransport())

	build := func(name string, prio int) *transport.Request {
		req := transport.NewRequest("GET", "http://example.test/"+name)
		req.Priority = prio
		return req
	}

	var wg sync.WaitGroup
	wg.Add(3)
	done := func(transport.Result) { wg.Done() }

	low := s.AddTask(build("low", 5), done, time.Second, 0)
	first := s.AddTask(build("first", 1), done, time.Second, 0)
	second := s.AddTask(build("second", 1), done, time.Second, 0)

	assert.True(t, transport.Less(first, second), "equal priority falls back to creation order")
	assert.True(t, transport.Less(second, low))
	assert.False(t, transport.Less(low, first))

	// Priority is read from the request at comparison time.
	low.Request.Priority = 0
	assert.Equal(t, 0, low.Priority())
	assert.True(t, transport.Less(low, first))

	runHeartBeat(t, hb)
	wg.Wait()
	assert.Equal(t, 0, s.Pending())
}

func TestAbortCompletesWaitingTask(t *testing.T) {
	tr := mock.NewTransport()
	s, hb := newScheduler(t, tr)

	var calls int
	var got transport.Result
	task := s.AddTask(transport.NewRequest("GET", "http://example.test"), func(r transport.Result) {
		calls++
		got = r
	}, time.Second, time.Hour)

	hb.Tick(time.Millisecond)
	task.Abort()
	task.Abort()
	hb.Tick(2 * time.Hour)

	assert.Equal(t, 1, calls)
	require.NotNil(t, got.Err)
	assert.Equal(t, apierror.NetworkError, got.Err.Code)
	assert.Equal(t, 0, tr.Calls())
}

func TestNonPositiveTimeoutFailsWithoutSending(t *testing.T) {
	tr := mock.NewTransport()
	s, hb := newScheduler(t, tr)

	ch := make(chan transport.Result, 1)
	s.AddTask(transport.NewRequest("GET", "http://example.test"), func(r transport.Result) { ch <- r }, 0, 0)
	hb.Tick(time.Millisecond)

	res := awaitResult(t, ch)
	require.NotNil(t, res.Err)
	assert.Equal(t, apierror.NetworkError, res.Err.Code)
	assert.Equal(t, 0, tr.Calls())
}

func TestStopCompletesPendingTasks(t *testing.T) {
	s, hb := newScheduler(t, mock.NewTransport())

	ch := make(chan transport.Result, 2)
	s.AddTask(transport.NewRequest("GET", "http://example.test/a"), func(r transport.Result) { ch <- r }, time.Second, 0)
	s.AddTask(transport.NewRequest("GET", "http://example.test/b"), func(r transport.Result) { ch <- r }, time.Second, time.Minute)
	hb.Tick(time.Millisecond)

	s.Stop()
	for i := 0; i < 2; i++ {
		res := awaitResult(t, ch)
		if res.Err != nil {
			assert.Equal(t, apierror.NetworkError, res.Err.Code)
		}
	}

	late := make(chan transport.Result, 1)
	s.AddTask(transport.NewRequest("GET", "http://example.test/c"), func(r transport.Result) { late <- r }, time.Second, 0)
	res := awaitResult(t, late)
	require.NotNil(t, res.Err)
	assert.Equal(t, 0, s.Pending())
}
