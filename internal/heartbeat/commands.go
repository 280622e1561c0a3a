package heartbeat

import (
	"context"
	"time"
)

// Command is a unit of deferred work advanced by HeartBeat.Tick.
//
// Update reports whether the command has completed. Done is invoked once,
// after the command has been evicted, and only if it was not cancelled.
// Commands are tracked by identity, so implementations must be pointer types.
type Command interface {
	Update(dt time.Duration) bool
	Cancelled() bool
	Done()
}

type base struct {
	ctx    context.Context
	onDone func()
}

func newBase(ctx context.Context, onDone func()) base {
	if ctx == nil {
		ctx = context.Background()
	}
	return base{ctx: ctx, onDone: onDone}
}

func (b *base) Cancelled() bool {
	return b.ctx.Err() != nil
}

func (b *base) Done() {
	if b.onDone != nil {
		b.onDone()
	}
}

// WaitAFrameCommand completes on the first tick it is evaluated.
type WaitAFrameCommand struct {
	base
}

func WaitAFrame(ctx context.Context, onDone func()) *WaitAFrameCommand {
	return &WaitAFrameCommand{base: newBase(ctx, onDone)}
}

func (c *WaitAFrameCommand) Update(time.Duration) bool {
	return true
}

// WaitTimeCommand completes once the accumulated tick time reaches its duration.
type WaitTimeCommand struct {
	base
	original  time.Duration
	remaining time.Duration
}

func WaitTime(ctx context.Context, d time.Duration, onDone func()) *WaitTimeCommand {
	return &WaitTimeCommand{base: newBase(ctx, onDone), original: d, remaining: d}
}

// ResetTime restarts the countdown from the original duration.
func (c *WaitTimeCommand) ResetTime() {
	c.remaining = c.original
}

func (c *WaitTimeCommand) Update(dt time.Duration) bool {
	c.remaining -= dt
	return c.remaining <= 0
}

// IndefiniteLoopCommand invokes its callback every tick, or every interval
// when one is given. It never completes on its own; cancel its context to
// stop it.
type IndefiniteLoopCommand struct {
	base
	onUpdate func()
	interval time.Duration
	timer    time.Duration
}

func IndefiniteLoop(ctx context.Context, interval time.Duration, onUpdate func()) *IndefiniteLoopCommand {
	return &IndefiniteLoopCommand{
		base:     newBase(ctx, nil),
		onUpdate: onUpdate,
		interval: interval,
		timer:    interval,
	}
}

func (c *IndefiniteLoopCommand) Update(dt time.Duration) bool {
	if c.interval > 0 {
		c.timer -= dt
		if c.timer > 0 {
			return false
		}
		c.timer = c.interval
	}
	if c.onUpdate != nil {
		c.onUpdate()
	}
	return false
}

// IndefiniteFixedUpdateLoopCommand hands every tick's Δt to its callback.
type IndefiniteFixedUpdateLoopCommand struct {
	base
	onUpdate func(dt time.Duration)
}

func IndefiniteFixedUpdateLoop(ctx context.Context, onUpdate func(dt time.Duration)) *IndefiniteFixedUpdateLoopCommand {
	return &IndefiniteFixedUpdateLoopCommand{base: newBase(ctx, nil), onUpdate: onUpdate}
}

func (c *IndefiniteFixedUpdateLoopCommand) Update(dt time.Duration) bool {
	if c.onUpdate != nil {
		c.onUpdate(dt)
	}
	return false
}
