// Package heartbeat is the cooperative scheduler that stands in for native
// timers inside a host that owns the execution loop.
//
// The host calls Tick once per frame with the elapsed time. Commands submitted
// with Wait are first evaluated on the tick after they were submitted, are
// advanced every tick with Δt, and have their completion fired once they
// finish. Nothing in this package ever blocks the goroutine calling Tick.
package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type HeartBeat struct {
	mu         sync.Mutex
	accepting  bool
	generation uint64
	pending    []Command
	active     []Command

	ticking atomic.Bool
	logger  logrus.FieldLogger
}

func New(logger logrus.FieldLogger) *HeartBeat {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HeartBeat{
		accepting: true,
		logger:    logger.WithField("component", "heartbeat"),
	}
}

// Wait queues cmd for evaluation starting with the next tick. It returns false
// and drops the command once the heartbeat has been reset.
func (hb *HeartBeat) Wait(cmd Command) bool {
	if cmd == nil {
		panic("heartbeat: nil command")
	}
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if !hb.accepting {
		return false
	}
	hb.pending = append(hb.pending, cmd)
	return true
}

// Tick advances every active command by dt. A Tick issued while another is
// still running (for example from inside a completion callback) is ignored.
func (hb *HeartBeat) Tick(dt time.Duration) {
	if !hb.ticking.CompareAndSwap(false, true) {
		return
	}
	defer hb.ticking.Store(false)

	hb.mu.Lock()
	if !hb.accepting {
		hb.mu.Unlock()
		return
	}
	if len(hb.pending) > 0 {
		hb.active = append(hb.active, hb.pending...)
		hb.pending = nil
	}
	snapshot := make([]Command, len(hb.active))
	copy(snapshot, hb.active)
	gen := hb.generation
	hb.mu.Unlock()

	var removed, completed []Command
	for _, cmd := range snapshot {
		if cmd.Cancelled() {
			removed = append(removed, cmd)
			continue
		}
		done, ok := hb.update(cmd, dt)
		if !ok || done {
			removed = append(removed, cmd)
		}
		if ok && done {
			completed = append(completed, cmd)
		}
	}

	if len(removed) == 0 {
		return
	}

	hb.mu.Lock()
	if hb.generation != gen {
		// Reset during this tick; its commands are gone and must not complete.
		hb.mu.Unlock()
		return
	}
	hb.active = without(hb.active, removed)
	hb.mu.Unlock()

	for _, cmd := range completed {
		if cmd.Cancelled() {
			continue
		}
		hb.done(cmd)
	}
}

// Reset stops accepting commands and drops the active ones without firing
// their completions.
func (hb *HeartBeat) Reset() {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.accepting = false
	hb.generation++
	hb.pending = nil
	hb.active = nil
}

// Len returns the number of queued and active commands.
func (hb *HeartBeat) Len() int {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return len(hb.pending) + len(hb.active)
}

// Run drives the heartbeat from a ticker until ctx is done, for hosts that do
// not have a frame loop of their own.
func (hb *HeartBeat) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			hb.Tick(now.Sub(last))
			last = now
		}
	}
}

// update advances one command, isolating a panic to that command.
func (hb *HeartBeat) update(cmd Command, dt time.Duration) (done bool, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			hb.logger.WithField("panic", r).Error("command update panicked, dropping it")
			done, ok = false, false
		}
	}()
	return cmd.Update(dt), true
}

func (hb *HeartBeat) done(cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			hb.logger.WithField("panic", r).Error("command completion panicked")
		}
	}()
	cmd.Done()
}

func without(list, drop []Command) []Command {
	dropSet := make(map[Command]struct{}, len(drop))
	for _, c := range drop {
		dropSet[c] = struct{}{}
	}
	kept := list[:0]
	for _, c := range list {
		if _, ok := dropSet[c]; !ok {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	return kept
}
