// Package server exposes a running runtime over Connect: heap statistics
// and snapshots, value inspection through pinned handles, and module
// execution. HTTP/JSON, Connect binary and gRPC clients share one port.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/protovm/vm"
	"github.com/chazu/protovm/vm/heapdb"
)

var log = commonlog.GetLogger("protovm.server")

// Server is the introspection server wrapping a runtime.
type Server struct {
	worker  *VMWorker
	handles *HandleStore
	mux     *http.ServeMux

	stopSweeper func()
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	db            *heapdb.Store
	sweepInterval time.Duration
	handleTTL     time.Duration
}

// WithSnapshotDB stores snapshots in db and enables snapshot queries.
func WithSnapshotDB(db *heapdb.Store) ServerOption {
	return func(c *serverConfig) { c.db = db }
}

// WithHandleTTL releases handles idle for longer than ttl, checking every
// interval.
func WithHandleTTL(interval, ttl time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.sweepInterval = interval
		c.handleTTL = ttl
	}
}

// New creates a Server. From here on the runtime belongs to the server's
// worker goroutine; use Do to reach it.
func New(rt *vm.Runtime, opts ...ServerOption) *Server {
	cfg := &serverConfig{
		sweepInterval: 5 * time.Minute,
		handleTTL:     30 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewVMWorker(rt)
	handles := NewHandleStore()

	s := &Server{
		worker:  worker,
		handles: handles,
		mux:     http.NewServeMux(),
	}

	inspect := NewInspectService(worker, handles)
	heap := NewHeapService(worker, cfg.db)
	eval := NewEvalService(worker, handles)

	unary(s.mux, GlobalProcedure, inspect.Global)
	unary(s.mux, InspectProcedure, inspect.Inspect)
	unary(s.mux, GetPropertyProcedure, inspect.GetProperty)
	unary(s.mux, ReleaseProcedure, inspect.Release)
	unary(s.mux, StatsProcedure, heap.Stats)
	unary(s.mux, CollectProcedure, heap.Collect)
	unary(s.mux, SnapshotProcedure, heap.Snapshot)
	unary(s.mux, ListSnapshotsProcedure, heap.ListSnapshots)
	unary(s.mux, LargestProcedure, heap.Largest)
	unary(s.mux, KindTotalsProcedure, heap.KindTotals)
	unary(s.mux, RetainersProcedure, heap.Retainers)
	unary(s.mux, RunProcedure, eval.Run)
	unary(s.mux, InterruptProcedure, eval.Interrupt)

	s.stopSweeper = handles.StartSweeper(worker, cfg.sweepInterval, cfg.handleTTL)
	return s
}

func unary[Req, Res any](
	mux *http.ServeMux,
	procedure string,
	fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error),
) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, codecOptions()...))
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler { return s.mux }

// Do runs fn on the runtime's goroutine.
func (s *Server) Do(ctx context.Context, fn func(*vm.Runtime) error) error {
	_, err := s.worker.Do(ctx, func(rt *vm.Runtime) (any, error) {
		return nil, fn(rt)
	})
	return err
}

// Handles returns the number of pinned handles held for clients.
func (s *Server) Handles() int { return s.handles.Len() }

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Noticef("introspection server listening on %s", l.Addr())
		log.Infof("  Connect (HTTP/JSON): http://%s%s", l.Addr(), StatsProcedure)
		if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ListenAndServe listens on addr ("host:port" or ":port") and serves
// until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Stop releases every handle and shuts down the worker.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	if _, err := s.worker.Do(context.Background(), func(*vm.Runtime) (any, error) {
		return s.handles.ReleaseAll(), nil
	}); err != nil {
		log.Warningf("releasing handles: %v", err)
	}
	s.worker.Stop()
}
