package server

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a Server. Responses are unwrapped from their envelopes.
type Client struct {
	global        *connect.Client[GlobalRequest, ValueRef]
	inspect       *connect.Client[InspectRequest, InspectResponse]
	getProperty   *connect.Client[GetPropertyRequest, ValueRef]
	release       *connect.Client[ReleaseRequest, ReleaseResponse]
	stats         *connect.Client[StatsRequest, StatsResponse]
	collect       *connect.Client[CollectRequest, StatsResponse]
	snapshot      *connect.Client[SnapshotRequest, SnapshotResponse]
	listSnapshots *connect.Client[ListSnapshotsRequest, ListSnapshotsResponse]
	largest       *connect.Client[LargestRequest, NodesResponse]
	kindTotals    *connect.Client[KindTotalsRequest, KindTotalsResponse]
	retainers     *connect.Client[RetainersRequest, RetainersResponse]
	run           *connect.Client[RunRequest, RunResponse]
	interrupt     *connect.Client[InterruptRequest, InterruptResponse]
}

// NewClient creates a client for the server at baseURL. Without options it
// speaks the Connect protocol with the JSON codec; pass connect.WithGRPC()
// or connect.WithCodec(CBORCodec()) to change either.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		global:        newClient[GlobalRequest, ValueRef](httpClient, baseURL, GlobalProcedure, opts),
		inspect:       newClient[InspectRequest, InspectResponse](httpClient, baseURL, InspectProcedure, opts),
		getProperty:   newClient[GetPropertyRequest, ValueRef](httpClient, baseURL, GetPropertyProcedure, opts),
		release:       newClient[ReleaseRequest, ReleaseResponse](httpClient, baseURL, ReleaseProcedure, opts),
		stats:         newClient[StatsRequest, StatsResponse](httpClient, baseURL, StatsProcedure, opts),
		collect:       newClient[CollectRequest, StatsResponse](httpClient, baseURL, CollectProcedure, opts),
		snapshot:      newClient[SnapshotRequest, SnapshotResponse](httpClient, baseURL, SnapshotProcedure, opts),
		listSnapshots: newClient[ListSnapshotsRequest, ListSnapshotsResponse](httpClient, baseURL, ListSnapshotsProcedure, opts),
		largest:       newClient[LargestRequest, NodesResponse](httpClient, baseURL, LargestProcedure, opts),
		kindTotals:    newClient[KindTotalsRequest, KindTotalsResponse](httpClient, baseURL, KindTotalsProcedure, opts),
		retainers:     newClient[RetainersRequest, RetainersResponse](httpClient, baseURL, RetainersProcedure, opts),
		run:           newClient[RunRequest, RunResponse](httpClient, baseURL, RunProcedure, opts),
		interrupt:     newClient[InterruptRequest, InterruptResponse](httpClient, baseURL, InterruptProcedure, opts),
	}
}

func newClient[Req, Res any](httpClient connect.HTTPClient, baseURL, procedure string, opts []connect.ClientOption) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](httpClient, baseURL+procedure, opts...)
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Global(ctx context.Context, req *GlobalRequest) (*ValueRef, error) {
	return call(ctx, c.global, req)
}

func (c *Client) Inspect(ctx context.Context, req *InspectRequest) (*InspectResponse, error) {
	return call(ctx, c.inspect, req)
}

func (c *Client) GetProperty(ctx context.Context, req *GetPropertyRequest) (*ValueRef, error) {
	return call(ctx, c.getProperty, req)
}

func (c *Client) Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error) {
	return call(ctx, c.release, req)
}

func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	return call(ctx, c.stats, &StatsRequest{})
}

func (c *Client) Collect(ctx context.Context, full bool) (*StatsResponse, error) {
	return call(ctx, c.collect, &CollectRequest{Full: full})
}

func (c *Client) Snapshot(ctx context.Context, save bool) (*SnapshotResponse, error) {
	return call(ctx, c.snapshot, &SnapshotRequest{Save: save})
}

func (c *Client) ListSnapshots(ctx context.Context) (*ListSnapshotsResponse, error) {
	return call(ctx, c.listSnapshots, &ListSnapshotsRequest{})
}

func (c *Client) Largest(ctx context.Context, req *LargestRequest) (*NodesResponse, error) {
	return call(ctx, c.largest, req)
}

func (c *Client) KindTotals(ctx context.Context, req *KindTotalsRequest) (*KindTotalsResponse, error) {
	return call(ctx, c.kindTotals, req)
}

func (c *Client) Retainers(ctx context.Context, req *RetainersRequest) (*RetainersResponse, error) {
	return call(ctx, c.retainers, req)
}

func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	return call(ctx, c.run, req)
}

func (c *Client) Interrupt(ctx context.Context) error {
	_, err := call(ctx, c.interrupt, &InterruptRequest{})
	return err
}
