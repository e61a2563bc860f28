package vm

import (
	"context"
	"errors"
)

// ---------------------------------------------------------------------------
// Cooperative interruption
// ---------------------------------------------------------------------------

// Interrupt asks the running script to stop. The request is noticed at the
// next backward jump or call and thrown as a TimeoutError, which script may
// catch. Interrupt is the only Runtime method safe to call from another
// goroutine.
func (rt *Runtime) Interrupt() {
	rt.interrupted.Store(true)
}

// ClearInterrupt drops a pending interrupt request.
func (rt *Runtime) ClearInterrupt() {
	rt.interrupted.Store(false)
}

// RunContext runs fn on the calling goroutine and interrupts script
// execution when ctx is done. An uncaught TimeoutError caused by ctx is
// reported as a *ResourceError wrapping ErrInterrupted.
func (rt *Runtime) RunContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &ResourceError{Err: ErrInterrupted, Detail: err.Error()}
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		rt.Interrupt()
		close(fired)
	})
	err := fn()
	if !stop() {
		<-fired
	}
	rt.ClearInterrupt()

	var se *ScriptError
	if ctx.Err() != nil && errors.As(err, &se) && se.Name == KindTimeoutError.String() {
		rt.log.Infof("script interrupted: %v", ctx.Err())
		se.Release()
		return &ResourceError{Err: ErrInterrupted, Detail: ctx.Err().Error()}
	}
	return err
}

// RunModuleContext is Run bounded by ctx.
func (rt *Runtime) RunModuleContext(ctx context.Context, m *Module) (result Value, err error) {
	err = rt.RunContext(ctx, func() error {
		var runErr error
		result, runErr = rt.Run(m)
		return runErr
	})
	return result, err
}
