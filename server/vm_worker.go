package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/protovm/vm"
)

// ErrWorkerStopped is returned for requests made after Stop.
var ErrWorkerStopped = errors.New("vm worker stopped")

// ErrRuntimeHalted is returned for every request once the runtime has
// reported an invariant violation. The worker never touches it again.
var ErrRuntimeHalted = errors.New("runtime halted")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*vm.Runtime) (any, error)
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes all runtime access through a single goroutine.
// A Runtime is single-threaded; every handler goes through the worker.
type VMWorker struct {
	rt       *vm.Runtime
	requests chan vmRequest
	quit     chan struct{}
	stopped  chan struct{}

	// fault is written by the worker goroutine before stopped is closed.
	fault error
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(rt *vm.Runtime) *VMWorker {
	w := &VMWorker{
		rt:       rt,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *VMWorker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			res, halt := w.execute(req.fn)
			req.done <- res
			if halt {
				return
			}
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the runtime, turning panics into errors. An invariant
// violation halts the worker: the runtime's stacks are left mid-operation.
func (w *VMWorker) execute(fn func(*vm.Runtime) (any, error)) (result vmResult, halt bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if ie, ok := r.(*vm.InvariantError); ok {
			log.Criticalf("%s; halting runtime", ie)
			w.fault = fmt.Errorf("%w: %w", ErrRuntimeHalted, ie)
			result, halt = vmResult{err: w.fault}, true
			return
		}
		result = vmResult{err: fmt.Errorf("%v", r)}
	}()
	v, err := fn(w.rt)
	return vmResult{value: v, err: err}, false
}

// stopErr reports why the worker goroutine exited. Only valid once stopped
// is closed.
func (w *VMWorker) stopErr() error {
	if w.fault != nil {
		return w.fault
	}
	return ErrWorkerStopped
}

// Do submits fn for execution on the VM goroutine and blocks until it
// completes. If ctx ends while fn is queued, Do gives up; once running, fn
// is responsible for observing ctx itself.
func (w *VMWorker) Do(ctx context.Context, fn func(*vm.Runtime) (any, error)) (any, error) {
	req := vmRequest{fn: fn, done: make(chan vmResult, 1)}
	select {
	case <-w.stopped:
		return nil, w.stopErr()
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-w.stopped:
		return nil, w.stopErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.stopped:
		// The worker may have answered just before exiting.
		select {
		case res := <-req.done:
			return res.value, res.err
		default:
		}
		return nil, w.stopErr()
	}
}

// do is Do with a typed result.
func do[T any](ctx context.Context, w *VMWorker, fn func(*vm.Runtime) (T, error)) (T, error) {
	v, err := w.Do(ctx, func(rt *vm.Runtime) (any, error) { return fn(rt) })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Interrupt asks the running script, if any, to stop at its next safe
// point. It may be called from any goroutine.
func (w *VMWorker) Interrupt() {
	w.rt.Interrupt()
}

// Stop shuts down the worker goroutine. Requests already running finish.
func (w *VMWorker) Stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.stopped
}
