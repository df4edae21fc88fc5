package training

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// ErrInstanceClosed is returned for calls that race with actor
// teardown.
var ErrInstanceClosed = errors.New("environment instance closed")

type actorReply struct {
	value any
	err   error
}

type actorRequest struct {
	fn    func(Environment) (any, error)
	reply chan actorReply
}

// actor owns one environment on one goroutine. The mailbox serializes
// calls per instance; different actors run concurrently. A panic in
// the environment is caught on the actor goroutine and returned as an
// error carrying the stack, so one bad episode cannot take the
// service down.
type actor struct {
	env      Environment
	mailbox  chan actorRequest
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	closeErr error
}

func startActor(env Environment) *actor {
	a := &actor{
		env:     env,
		mailbox: make(chan actorRequest),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *actor) loop() {
	defer close(a.done)
	for {
		select {
		case req := <-a.mailbox:
			req.reply <- a.invoke(req.fn)
		case <-a.stopCh:
			a.closeErr = a.closeEnv()
			return
		}
	}
}

func (a *actor) invoke(fn func(Environment) (any, error)) (reply actorReply) {
	defer func() {
		if r := recover(); r != nil {
			reply = actorReply{err: fmt.Errorf("environment panic: %v\n%s", r, debug.Stack())}
		}
	}()
	value, err := fn(a.env)
	return actorReply{value: value, err: err}
}

// call runs fn on the actor goroutine and waits for the result. The
// reply channel is buffered so an abandoned call never blocks the
// actor.
func (a *actor) call(ctx context.Context, fn func(Environment) (any, error)) (any, error) {
	req := actorRequest{fn: fn, reply: make(chan actorReply, 1)}
	select {
	case a.mailbox <- req:
	case <-a.done:
		return nil, ErrInstanceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.value, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop shuts the actor down and waits for Close to finish. Safe to
// call more than once; later calls return the first Close error.
func (a *actor) stop() error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.done
	return a.closeErr
}

func (a *actor) closeEnv() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("environment panic in close: %v\n%s", r, debug.Stack())
		}
	}()
	return a.env.Close()
}
