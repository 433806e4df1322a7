package mqtt

import (
	"context"
	"sync"
)

// Ack reports the outcome of an asynchronous publish, subscribe or
// unsubscribe. Callers that ignore it get fire-and-forget behaviour; the
// session logs transport failures either way.
type Ack struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newAck() *Ack {
	return &Ack{done: make(chan struct{})}
}

// complete records the outcome. Only the first call has an effect.
func (a *Ack) complete(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Done is closed once the transport has finished with the request.
func (a *Ack) Done() <-chan struct{} {
	return a.done
}

// Err returns the outcome, or nil while the request is still pending.
func (a *Ack) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Wait blocks until the request completes or ctx is done.
func (a *Ack) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
