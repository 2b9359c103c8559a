package manager

import (
	"context"

	"github.com/fasttravel/realtime/internal/ids"
)

// CreateCospaceActorRequest is the cross-process message by which the
// Cospace Manager asks a node's CospaceNodeManager to instantiate an
// actor for a newly scheduled cospace.
type CreateCospaceActorRequest struct {
	ID   ids.CospaceID
	Root ids.ModelRoot
}

// NodeClient is the Cospace Manager's view of a node capable of hosting
// cospaces — the main node itself (in-process), or a remote worker
// reached over the cluster transport. Keeping this as an interface lets
// spawn_in_main/spawn_in_shared/spawn_in_dedicated share one code path
// regardless of whether the target node is local or remote.
type NodeClient interface {
	// CreateCospaceActor asks the node to host the cospace. ok=false
	// with a nil error means the node declined; a non-nil error means
	// the request itself failed (transport down, timeout).
	CreateCospaceActor(ctx context.Context, req CreateCospaceActorRequest) (ok bool, err error)
}

// WorkerLauncher spawns a new worker process (or Pod, via the k8s
// backend) and returns a NodeClient bound to its CospaceNodeManager once
// it has registered under the "node_mgr_root" discovery tag.
type WorkerLauncher interface {
	Launch(ctx context.Context) (nodeID uint32, client NodeClient, err error)
	Shutdown(ctx context.Context, nodeID uint32) error
}
