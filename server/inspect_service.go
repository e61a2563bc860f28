package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/protovm/vm"
)

// InspectService implements the InspectionService Connect handler.
type InspectService struct {
	worker  *VMWorker
	handles *HandleStore
}

// NewInspectService creates an InspectService.
func NewInspectService(worker *VMWorker, handles *HandleStore) *InspectService {
	return &InspectService{
		worker:  worker,
		handles: handles,
	}
}

// Global looks up a global variable.
func (s *InspectService) Global(
	ctx context.Context,
	req *connect.Request[GlobalRequest],
) (*connect.Response[ValueRef], error) {
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("name is required"))
	}
	ref, err := do(ctx, s.worker, func(rt *vm.Runtime) (*ValueRef, error) {
		v, err := rt.GetGlobal(req.Msg.Name)
		if err != nil {
			return nil, released(err)
		}
		return s.valueRef(rt, v, req.Msg.Session), nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(ref), nil
}

// Inspect returns a structured view of the value behind a handle.
func (s *InspectService) Inspect(
	ctx context.Context,
	req *connect.Request[InspectRequest],
) (*connect.Response[InspectResponse], error) {
	if req.Msg.Handle == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is required"))
	}
	depth := req.Msg.Depth
	if depth <= 0 {
		depth = vm.DefaultMaxDepth
	}
	result, err := do(ctx, s.worker, func(rt *vm.Runtime) (*vm.InspectionResult, error) {
		v, ok := s.handles.Lookup(req.Msg.Handle)
		if !ok {
			return nil, errUnknownHandle(req.Msg.Handle)
		}
		return vm.NewInspector(rt).InspectDepth(v, depth), nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&InspectResponse{Result: result}), nil
}

// GetProperty reads a property of the value behind a handle. Getters run.
func (s *InspectService) GetProperty(
	ctx context.Context,
	req *connect.Request[GetPropertyRequest],
) (*connect.Response[ValueRef], error) {
	if req.Msg.Handle == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is required"))
	}
	ref, err := do(ctx, s.worker, func(rt *vm.Runtime) (*ValueRef, error) {
		v, ok := s.handles.Lookup(req.Msg.Handle)
		if !ok {
			return nil, errUnknownHandle(req.Msg.Handle)
		}
		prop, err := rt.GetProperty(v, req.Msg.Name)
		if err != nil {
			return nil, released(err)
		}
		return s.valueRef(rt, prop, req.Msg.Session), nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(ref), nil
}

// Release unpins a handle, or all handles of a session.
func (s *InspectService) Release(
	ctx context.Context,
	req *connect.Request[ReleaseRequest],
) (*connect.Response[ReleaseResponse], error) {
	if req.Msg.Handle == "" && req.Msg.Session == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle or session is required"))
	}
	n, err := do(ctx, s.worker, func(*vm.Runtime) (int, error) {
		n := 0
		if req.Msg.Handle != "" && s.handles.Release(req.Msg.Handle) {
			n++
		}
		if req.Msg.Session != "" {
			n += s.handles.ReleaseSession(req.Msg.Session)
		}
		return n, nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&ReleaseResponse{Released: n}), nil
}

// valueRef describes v, pinning heap values under a new handle.
func (s *InspectService) valueRef(rt *vm.Runtime, v vm.Value, session string) *ValueRef {
	return newValueRef(rt, s.handles, v, session)
}

func newValueRef(rt *vm.Runtime, handles *HandleStore, v vm.Value, session string) *ValueRef {
	ref := &ValueRef{Type: rt.TypeOf(v), Display: rt.Display(v)}
	if v.IsPointer() {
		ref.Handle = handles.Create(rt, v, session)
	}
	return ref
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

type unknownHandleError string

func (e unknownHandleError) Error() string { return fmt.Sprintf("handle %q not found", string(e)) }

func errUnknownHandle(id string) error { return unknownHandleError(id) }

// released unpins the thrown value of a script error. It must run on the
// worker goroutine.
func released(err error) error {
	var se *vm.ScriptError
	if errors.As(err, &se) {
		se.Release()
	}
	return err
}

// connectError maps runtime failures to Connect status codes.
func connectError(err error) error {
	var (
		unknown  unknownHandleError
		script   *vm.ScriptError
		resource *vm.ResourceError
	)
	switch {
	case errors.As(err, &unknown):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.As(err, &script):
		if script.Name == "ReferenceError" {
			return connect.NewError(connect.CodeNotFound, err)
		}
		return connect.NewError(connect.CodeAborted, err)
	case errors.As(err, &resource):
		switch {
		case errors.Is(err, vm.ErrInterrupted):
			return connect.NewError(connect.CodeCanceled, err)
		default:
			return connect.NewError(connect.CodeResourceExhausted, err)
		}
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrRuntimeHalted):
		return connect.NewError(connect.CodeInternal, err)
	case errors.Is(err, ErrWorkerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
