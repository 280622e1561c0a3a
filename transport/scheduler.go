package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opengovern/resilient-telemetry/apierror"
	"github.com/opengovern/resilient-telemetry/internal/heartbeat"
	"github.com/sirupsen/logrus"
)

type TaskState int32

const (
	TaskWaiting TaskState = iota
	TaskOnProcess
	TaskComplete
)

func (s TaskState) String() string {
	switch s {
	case TaskWaiting:
		return "WAITING"
	case TaskOnProcess:
		return "ON_PROCESS"
	case TaskComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
}

// Result is what a RequestTask reports on completion: either a Response
// (any status) or an Error, never both.
type Result struct {
	Response *Response
	Err      *apierror.Error
}

// RequestTask is one scheduled attempt of a Request.
type RequestTask struct {
	Request *Request
	Timeout time.Duration
	Delay   time.Duration

	seq        uint64
	createdAt  time.Time
	state      atomic.Int32
	onComplete func(Result)
	once       sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	sched  *Scheduler
}

// Priority mirrors the request's priority at read time.
func (t *RequestTask) Priority() int {
	return t.Request.Priority
}

func (t *RequestTask) State() TaskState {
	return TaskState(t.state.Load())
}

func (t *RequestTask) CreatedAt() time.Time {
	return t.createdAt
}

// Abort cancels the task. A running transport call is cancelled and the task
// completes with NETWORK_ERROR unless it already completed.
func (t *RequestTask) Abort() {
	t.cancel()
	t.sched.finish(t, Result{Err: apierror.New(apierror.NetworkError, "request aborted")})
}

// Less orders tasks by priority, then by creation order.
func Less(a, b *RequestTask) bool {
	if a.Priority() != b.Priority() {
		return a.Priority() < b.Priority()
	}
	return a.seq < b.seq
}

// Scheduler runs RequestTasks on top of a HeartBeat. Delays and timeouts are
// measured in heartbeat time; the transport call itself runs on its own
// goroutine so the tick is never blocked.
type Scheduler struct {
	hb        *heartbeat.HeartBeat
	transport Transport
	logger    logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	seq    atomic.Uint64

	mu             sync.Mutex
	queue          []*RequestTask
	live           map[*RequestTask]struct{}
	dispatchQueued bool
	stopped        bool
}

func NewScheduler(hb *heartbeat.HeartBeat, transport Transport, logger logrus.FieldLogger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		hb:        hb,
		transport: transport,
		logger:    logger.WithField("component", "scheduler"),
		ctx:       ctx,
		cancel:    cancel,
		live:      make(map[*RequestTask]struct{}),
	}
}

// AddTask schedules req. Tasks added before the next tick are started on that
// tick in priority order; delay postpones the start, timeout bounds the
// transport call. onComplete is invoked exactly once.
func (s *Scheduler) AddTask(req *Request, onComplete func(Result), timeout, delay time.Duration) *RequestTask {
	if req == nil {
		panic("transport: nil request")
	}
	ctx, cancel := context.WithCancel(s.ctx)
	task := &RequestTask{
		Request:    req,
		Timeout:    timeout,
		Delay:      delay,
		seq:        s.seq.Add(1),
		createdAt:  time.Now(),
		onComplete: onComplete,
		ctx:        ctx,
		cancel:     cancel,
		sched:      s,
	}
	task.state.Store(int32(TaskWaiting))

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.finish(task, Result{Err: apierror.New(apierror.NetworkError, "scheduler stopped")})
		return task
	}
	s.live[task] = struct{}{}
	s.queue = append(s.queue, task)
	needDispatch := !s.dispatchQueued
	s.dispatchQueued = true
	s.mu.Unlock()

	if needDispatch && !s.hb.Wait(heartbeat.WaitAFrame(s.ctx, s.dispatch)) {
		s.failQueued("heartbeat stopped")
	}
	return task
}

// Stop rejects new tasks and completes every pending or running task with
// NETWORK_ERROR.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	live := make([]*RequestTask, 0, len(s.live))
	for t := range s.live {
		live = append(live, t)
	}
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	for _, t := range live {
		s.finish(t, Result{Err: apierror.New(apierror.NetworkError, "scheduler stopped")})
	}
}

// Pending returns the number of tasks that have not completed yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Scheduler) dispatch() {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.dispatchQueued = false
	s.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool { return Less(batch[i], batch[j]) })
	for _, t := range batch {
		s.execute(t)
	}
}

func (s *Scheduler) failQueued(reason string) {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.dispatchQueued = false
	s.mu.Unlock()

	for _, t := range batch {
		s.finish(t, Result{Err: apierror.New(apierror.NetworkError, reason)})
	}
}

func (s *Scheduler) execute(t *RequestTask) {
	if t.ctx.Err() != nil {
		s.finish(t, Result{Err: apierror.New(apierror.NetworkError, "request aborted")})
		return
	}
	if t.Delay <= 0 {
		s.start(t)
		return
	}
	if !s.hb.Wait(heartbeat.WaitTime(t.ctx, t.Delay, func() { s.start(t) })) {
		s.finish(t, Result{Err: apierror.New(apierror.NetworkError, "heartbeat stopped")})
	}
}

func (s *Scheduler) start(t *RequestTask) {
	if !t.state.CompareAndSwap(int32(TaskWaiting), int32(TaskOnProcess)) {
		return
	}
	log := s.logger.WithFields(logrus.Fields{
		"request_id": t.Request.ID,
		"method":     t.Request.Method,
		"url":        t.Request.URL,
	})

	if t.Timeout <= 0 {
		log.Warn("no time left to send request")
		s.finish(t, Result{Err: apierror.New(apierror.NetworkError, "request timed out before it was sent")})
		return
	}

	attemptCtx, abort := context.WithCancel(t.ctx)
	guardCtx, cancelGuard := context.WithCancel(attemptCtx)

	guard := heartbeat.WaitTime(guardCtx, t.Timeout, func() {
		log.Warnf("%s %s reached timeout", t.Request.Method, t.Request.URL)
		abort()
		s.finish(t, Result{Err: apierror.Newf(apierror.NetworkError, "request timed out after %v", t.Timeout)})
	})
	if !s.hb.Wait(guard) {
		cancelGuard()
		abort()
		s.finish(t, Result{Err: apierror.New(apierror.NetworkError, "heartbeat stopped")})
		return
	}

	go func() {
		defer abort()

		sentAt := time.Now()
		resp, err := s.transport.Do(attemptCtx, t.Request)
		receivedAt := time.Now()
		cancelGuard()

		var res Result
		switch {
		case err != nil && t.ctx.Err() != nil:
			res.Err = apierror.Wrap(err, apierror.NetworkError, "request aborted")
		case err != nil:
			res.Err = apierror.Wrap(err, apierror.NetworkError)
		case resp == nil:
			res.Err = apierror.New(apierror.InvalidResponse, "transport returned no response")
		default:
			if resp.SentAt.IsZero() {
				resp.SentAt = sentAt
			}
			if resp.ReceivedAt.IsZero() {
				resp.ReceivedAt = receivedAt
			}
			if resp.URL == "" {
				resp.URL = t.Request.URL
			}
			res.Response = resp
		}

		fields := logrus.Fields{"duration": receivedAt.Sub(sentAt)}
		if res.Response != nil {
			fields["status"] = res.Response.StatusCode
		}
		log.WithFields(fields).Debug("transport call finished")

		s.finish(t, res)
	}()
}

func (s *Scheduler) finish(t *RequestTask, res Result) {
	t.once.Do(func() {
		t.state.Store(int32(TaskComplete))
		t.cancel()

		s.mu.Lock()
		delete(s.live, t)
		s.mu.Unlock()

		if t.onComplete != nil {
			t.onComplete(res)
		}
	})
}
