package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/protovm/hostlib"
	"github.com/chazu/protovm/vm"
	"github.com/chazu/protovm/vm/heapdb"
)

// HeapService implements the HeapService Connect handler: collector
// statistics, forced collections and heap snapshots. Snapshot queries need
// a snapshot database.
type HeapService struct {
	worker *VMWorker
	db     *heapdb.Store
}

// NewHeapService creates a HeapService. db may be nil.
func NewHeapService(worker *VMWorker, db *heapdb.Store) *HeapService {
	return &HeapService{worker: worker, db: db}
}

// Stats reports heap counters.
func (s *HeapService) Stats(
	ctx context.Context,
	req *connect.Request[StatsRequest],
) (*connect.Response[StatsResponse], error) {
	stats, err := do(ctx, s.worker, func(rt *vm.Runtime) (vm.HeapStats, error) {
		return rt.HeapStats(), nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(statsResponse(stats)), nil
}

// Collect forces a minor or full collection.
func (s *HeapService) Collect(
	ctx context.Context,
	req *connect.Request[CollectRequest],
) (*connect.Response[StatsResponse], error) {
	stats, err := do(ctx, s.worker, func(rt *vm.Runtime) (vm.HeapStats, error) {
		rt.Collect(req.Msg.Full)
		return rt.HeapStats(), nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	log.Infof("forced %s collection: %s", collectionKind(req.Msg.Full), hostlib.HeapSummary(stats))
	return connect.NewResponse(statsResponse(stats)), nil
}

func collectionKind(full bool) string {
	if full {
		return "full"
	}
	return "minor"
}

func statsResponse(stats vm.HeapStats) *StatsResponse {
	return &StatsResponse{Stats: stats, Summary: hostlib.HeapSummary(stats)}
}

// Snapshot captures the live heap graph and optionally stores it.
func (s *HeapService) Snapshot(
	ctx context.Context,
	req *connect.Request[SnapshotRequest],
) (*connect.Response[SnapshotResponse], error) {
	if req.Msg.Save && s.db == nil {
		return nil, errNoDatabase()
	}
	snap, err := do(ctx, s.worker, func(rt *vm.Runtime) (*vm.Snapshot, error) {
		return rt.TakeSnapshot(), nil
	})
	if err != nil {
		return nil, connectError(err)
	}

	resp := &SnapshotResponse{
		ID:        snap.ID.String(),
		Taken:     snap.Taken,
		Nodes:     len(snap.Nodes),
		Edges:     len(snap.Edges),
		TotalSize: snap.TotalSize(),
	}
	if req.Msg.Save {
		if err := s.db.Save(snap); err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		resp.Saved = true
		log.Infof("saved snapshot %s (%d cells) to %s", snap.ID, len(snap.Nodes), s.db.Path())
	}
	return connect.NewResponse(resp), nil
}

// ListSnapshots lists stored snapshots, newest first.
func (s *HeapService) ListSnapshots(
	ctx context.Context,
	req *connect.Request[ListSnapshotsRequest],
) (*connect.Response[ListSnapshotsResponse], error) {
	if s.db == nil {
		return nil, errNoDatabase()
	}
	list, err := s.db.List()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&ListSnapshotsResponse{Snapshots: list}), nil
}

// Largest returns the biggest cells of a stored snapshot.
func (s *HeapService) Largest(
	ctx context.Context,
	req *connect.Request[LargestRequest],
) (*connect.Response[NodesResponse], error) {
	id, err := s.snapshotID(req.Msg.Snapshot)
	if err != nil {
		return nil, err
	}
	limit := req.Msg.Limit
	if limit <= 0 {
		limit = 20
	}
	nodes, err := s.db.Largest(id, limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&NodesResponse{Nodes: nodes}), nil
}

// KindTotals groups a stored snapshot's cells by kind.
func (s *HeapService) KindTotals(
	ctx context.Context,
	req *connect.Request[KindTotalsRequest],
) (*connect.Response[KindTotalsResponse], error) {
	id, err := s.snapshotID(req.Msg.Snapshot)
	if err != nil {
		return nil, err
	}
	totals, err := s.db.KindTotals(id)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&KindTotalsResponse{Totals: totals}), nil
}

// Retainers lists who references a cell of a stored snapshot, and how
// much the cell keeps reachable.
func (s *HeapService) Retainers(
	ctx context.Context,
	req *connect.Request[RetainersRequest],
) (*connect.Response[RetainersResponse], error) {
	id, err := s.snapshotID(req.Msg.Snapshot)
	if err != nil {
		return nil, err
	}
	refs, err := s.db.Retainers(id, req.Msg.Node)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	size, err := s.db.ReachableSize(id, req.Msg.Node)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&RetainersResponse{References: refs, ReachableSize: size}), nil
}

// snapshotID parses id and checks the snapshot exists.
func (s *HeapService) snapshotID(raw string) (uuid.UUID, error) {
	if s.db == nil {
		return uuid.Nil, errNoDatabase()
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("snapshot id: %w", err))
	}
	list, err := s.db.List()
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInternal, err)
	}
	for _, sum := range list {
		if sum.ID == id {
			return id, nil
		}
	}
	return uuid.Nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("%w: %s", heapdb.ErrSnapshotNotFound, id))
}

func errNoDatabase() error {
	return connect.NewError(connect.CodeFailedPrecondition, errors.New("server has no snapshot database"))
}
