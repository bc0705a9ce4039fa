package engine

import (
	"context"
	"sync"
	"time"
)

// Completion is a one-shot future settled by whichever of load, failure or
// timer comes first. Later settlements are ignored.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve settles the completion. Returns false if it was already settled.
func (c *Completion) Resolve(err error) bool {
	settled := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		settled = true
	})
	return settled
}

// Done is closed once the completion settles
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the settlement error. Only meaningful after Done is closed.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Settled reports whether Resolve has taken effect
func (c *Completion) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// SettleAfter arms a timer that resolves with err after d.
// The returned stop function disarms it; d <= 0 arms nothing.
func (c *Completion) SettleAfter(d time.Duration, err error) (stop func() bool) {
	if d <= 0 {
		return func() bool { return false }
	}
	timer := time.AfterFunc(d, func() { c.Resolve(err) })
	return timer.Stop
}

// Wait blocks until the completion settles or ctx is done.
// A done ctx settles the completion with ctx.Err().
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
	case <-ctx.Done():
		c.Resolve(ctx.Err())
	}
	return c.err
}
