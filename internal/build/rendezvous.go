package build

import (
	"context"
	"errors"

	"github.com/kozmic/kozmic/internal/docker"
)

// ErrRendezvousTimeout is returned when the Job Runner doesn't receive
// the container handle within its timeout (spec.md §4.8: 60s).
var ErrRendezvousTimeout = errors.New("build: rendezvous timeout")

// Rendezvous is the single-slot handshake between the Builder and the
// Job Runner that hands over a container handle: the Builder offers
// the handle and blocks until it's acknowledged, so the container is
// never started before the Tailer is watching it (spec.md §5).
// Modeled the same way the teacher's StartRunner coordinates shutdown
// with quit/done channels rather than shared, lock-guarded state.
type Rendezvous struct {
	offer chan docker.Handle
	ack   chan struct{}
}

// NewRendezvous builds an unused rendezvous.
func NewRendezvous() *Rendezvous {
	return &Rendezvous{
		offer: make(chan docker.Handle),
		ack:   make(chan struct{}),
	}
}

// Offer is called by the Builder once the container has been created.
// It blocks until Receive has read the handle and Ack has fired, or
// ctx is canceled.
func (r *Rendezvous) Offer(ctx context.Context, h docker.Handle) error {
	select {
	case r.offer <- h:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-r.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive is called by the Job Runner; it blocks until the Builder
// offers a handle or the timeout elapses.
func (r *Rendezvous) Receive(ctx context.Context) (docker.Handle, error) {
	select {
	case h := <-r.offer:
		return h, nil
	case <-ctx.Done():
		return docker.Handle{}, ErrRendezvousTimeout
	}
}

// Ack releases the Builder to call Start. Must be called exactly once
// after a successful Receive.
func (r *Rendezvous) Ack() {
	close(r.ack)
}
