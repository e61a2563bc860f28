package server

import (
	"time"

	"github.com/chazu/protovm/vm"
	"github.com/chazu/protovm/vm/heapdb"
)

// Procedure paths. Services follow Connect's /package.Service/Method form.
const (
	InspectionServiceName = "protovm.v1.InspectionService"
	HeapServiceName       = "protovm.v1.HeapService"
	EvaluationServiceName = "protovm.v1.EvaluationService"

	GlobalProcedure        = "/" + InspectionServiceName + "/Global"
	InspectProcedure       = "/" + InspectionServiceName + "/Inspect"
	GetPropertyProcedure   = "/" + InspectionServiceName + "/GetProperty"
	ReleaseProcedure       = "/" + InspectionServiceName + "/Release"
	StatsProcedure         = "/" + HeapServiceName + "/Stats"
	CollectProcedure       = "/" + HeapServiceName + "/Collect"
	SnapshotProcedure      = "/" + HeapServiceName + "/Snapshot"
	ListSnapshotsProcedure = "/" + HeapServiceName + "/ListSnapshots"
	LargestProcedure       = "/" + HeapServiceName + "/Largest"
	KindTotalsProcedure    = "/" + HeapServiceName + "/KindTotals"
	RetainersProcedure     = "/" + HeapServiceName + "/Retainers"
	RunProcedure           = "/" + EvaluationServiceName + "/Run"
	InterruptProcedure     = "/" + EvaluationServiceName + "/Interrupt"
)

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// ValueRef describes a value returned to a client. Heap values carry a
// handle that later requests can refer to.
type ValueRef struct {
	Handle  string `json:"handle,omitempty"`
	Type    string `json:"type"`
	Display string `json:"display"`
}

type GlobalRequest struct {
	Name    string `json:"name"`
	Session string `json:"session,omitempty"`
}

type InspectRequest struct {
	Handle string `json:"handle"`
	Depth  int    `json:"depth,omitempty"`
}

type InspectResponse struct {
	Result *vm.InspectionResult `json:"result"`
}

type GetPropertyRequest struct {
	Handle  string `json:"handle"`
	Name    string `json:"name"`
	Session string `json:"session,omitempty"`
}

// ReleaseRequest releases one handle, or every handle of a session.
type ReleaseRequest struct {
	Handle  string `json:"handle,omitempty"`
	Session string `json:"session,omitempty"`
}

type ReleaseResponse struct {
	Released int `json:"released"`
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

type StatsRequest struct{}

type CollectRequest struct {
	Full bool `json:"full"`
}

type StatsResponse struct {
	Stats   vm.HeapStats `json:"stats"`
	Summary string       `json:"summary"`
}

type SnapshotRequest struct {
	// Save stores the snapshot in the server's snapshot database.
	Save bool `json:"save"`
}

type SnapshotResponse struct {
	ID        string    `json:"id"`
	Taken     time.Time `json:"taken"`
	Nodes     int       `json:"nodes"`
	Edges     int       `json:"edges"`
	TotalSize int       `json:"totalSize"`
	Saved     bool      `json:"saved"`
}

type ListSnapshotsRequest struct{}

type ListSnapshotsResponse struct {
	Snapshots []heapdb.Summary `json:"snapshots"`
}

type LargestRequest struct {
	Snapshot string `json:"snapshot"`
	Limit    int    `json:"limit"`
}

type NodesResponse struct {
	Nodes []heapdb.Node `json:"nodes"`
}

type KindTotalsRequest struct {
	Snapshot string `json:"snapshot"`
}

type KindTotalsResponse struct {
	Totals []heapdb.KindTotal `json:"totals"`
}

type RetainersRequest struct {
	Snapshot string `json:"snapshot"`
	Node     uint32 `json:"node"`
}

type RetainersResponse struct {
	References []heapdb.Reference `json:"references"`
	// ReachableSize sums every cell reachable from the node.
	ReachableSize int `json:"reachableSize"`
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// RunRequest carries an encoded module artifact.
type RunRequest struct {
	Module []byte `json:"module"`
	// TimeoutMillis bounds execution; zero means no limit.
	TimeoutMillis int64  `json:"timeoutMillis,omitempty"`
	Session       string `json:"session,omitempty"`
	// Bind, when set, stores the result in that global.
	Bind string `json:"bind,omitempty"`
}

type RunResponse struct {
	Success bool       `json:"success"`
	Result  *ValueRef  `json:"result,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes an uncaught script exception or a resource failure.
type ErrorInfo struct {
	Name    string   `json:"name"`
	Message string   `json:"message"`
	Stack   []string `json:"stack,omitempty"`
}

type InterruptRequest struct{}

type InterruptResponse struct{}
