package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/protovm/vm"
	"github.com/chazu/protovm/vm/bcfile"
)

// EvalService implements the EvaluationService Connect handler. Clients
// send encoded module artifacts; the server has no compiler.
type EvalService struct {
	worker  *VMWorker
	handles *HandleStore
	running atomic.Bool
}

// NewEvalService creates an EvalService.
func NewEvalService(worker *VMWorker, handles *HandleStore) *EvalService {
	return &EvalService{
		worker:  worker,
		handles: handles,
	}
}

// Run decodes and runs a module. An uncaught script exception or resource
// failure is reported in the response rather than as an RPC error.
func (s *EvalService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	if len(req.Msg.Module) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("module is required"))
	}
	mod, err := bcfile.UnmarshalModule(req.Msg.Module)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	runCtx := ctx
	if req.Msg.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Msg.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}

	resp, err := do(ctx, s.worker, func(rt *vm.Runtime) (*RunResponse, error) {
		rt.ClearInterrupt()
		s.running.Store(true)
		result, err := rt.RunModuleContext(runCtx, mod)
		s.running.Store(false)
		if err != nil {
			return failure(err)
		}

		scope := rt.OpenScope()
		defer scope.Close()
		h := scope.Handle(result)
		if req.Msg.Bind != "" {
			if err := rt.SetGlobal(req.Msg.Bind, h.Get()); err != nil {
				return failure(err)
			}
		}
		return &RunResponse{
			Success: true,
			Result:  newValueRef(rt, s.handles, h.Get(), req.Msg.Session),
		}, nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	log.Debugf("ran module %s: success=%t", mod.Name, resp.Success)
	return connect.NewResponse(resp), nil
}

// failure turns a script or resource error into a response. Other errors,
// such as a module that fails to link, stay RPC errors.
func failure(err error) (*RunResponse, error) {
	var (
		script   *vm.ScriptError
		resource *vm.ResourceError
	)
	switch {
	case errors.As(err, &script):
		script.Release()
		info := &ErrorInfo{Name: script.Name, Message: script.Message}
		for _, f := range script.Stack {
			info.Stack = append(info.Stack, f.String())
		}
		return &RunResponse{Error: info}, nil
	case errors.As(err, &resource):
		return &RunResponse{Error: &ErrorInfo{Name: "ResourceError", Message: resource.Error()}}, nil
	}
	return nil, err
}

// Interrupt stops the module currently running, if any. The script sees a
// catchable TimeoutError.
func (s *EvalService) Interrupt(
	ctx context.Context,
	req *connect.Request[InterruptRequest],
) (*connect.Response[InterruptResponse], error) {
	if s.running.Load() {
		s.worker.Interrupt()
	}
	return connect.NewResponse(&InterruptResponse{}), nil
}
