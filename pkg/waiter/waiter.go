package waiter

import (
	"context"
	"sync"

	"github.com/alansparrow/pintos-pintos/log"
)

// Oneshot is a signal raised at most once. Waiting after the signal has been
// raised returns immediately, so a signal sent before anyone waits is never
// lost. The zero value is ready to use.
type Oneshot struct {
	mu       sync.Mutex
	c        chan struct{}
	signaled bool
}

func (o *Oneshot) channel() chan struct{} {
	if o.c == nil {
		o.c = make(chan struct{})
	}

	return o.c
}

// Signal raises the signal. It returns false if it had already been raised.
func (o *Oneshot) Signal() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.signaled {
		log.L.Trace("oneshot-signal-repeat")
		return false
	}

	o.signaled = true
	close(o.channel())

	return true
}

func (o *Oneshot) Signaled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.signaled
}

// Done returns a channel closed once the signal is raised.
func (o *Oneshot) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.channel()
}

// Wait blocks until the signal is raised or ctx is done.
func (o *Oneshot) Wait(ctx context.Context) error {
	select {
	case <-o.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
