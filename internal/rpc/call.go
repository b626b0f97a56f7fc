// Package rpc is the client end of the viewer's asynchronous call channel.
package rpc

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned for calls issued on, or pending in, a closed client.
	ErrClosed = errors.New("rpc: client closed")
	// ErrQueueFull is returned for calls issued while the write queue is full.
	ErrQueueFull = errors.New("rpc: write queue full")
)

// Caller issues fire-and-forget calls. Each call yields a handle that
// completes once the call has left the client (or failed to).
type Caller interface {
	Go(ctx context.Context, method string, args any) *Call
}

// Call is an in-flight call, modelled after net/rpc.Call.
type Call struct {
	Method string
	Args   any
	Error  error // set before Done is closed

	done chan struct{}
	once sync.Once
}

// NewCall returns a pending call.
func NewCall(method string, args any) *Call {
	return &Call{Method: method, Args: args, done: make(chan struct{})}
}

// Done is closed when the call completes.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Complete records the outcome and releases waiters. Only the first call has effect.
func (c *Call) Complete(err error) {
	c.once.Do(func() {
		c.Error = err
		close(c.done)
	})
}

// Wait blocks until the call completes or ctx ends.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completed returns a call that already finished with err.
func Completed(method string, args any, err error) *Call {
	c := NewCall(method, args)
	c.Complete(err)
	return c
}
