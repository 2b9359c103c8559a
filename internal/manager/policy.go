// Package manager implements the Cospace Manager (main-node placement
// allocator) and the Node Manager (worker-side actor instantiation),
// plus the pluggable PlacementPolicy decision point.
package manager

import "github.com/fasttravel/realtime/internal/ids"

// Placement is the allocation target chosen for a new cospace.
type Placement uint8

const (
	PlaceMain Placement = iota
	PlaceShared
	PlaceDedicated
)

func (p Placement) String() string {
	switch p {
	case PlaceMain:
		return "main"
	case PlaceShared:
		return "shared"
	default:
		return "dedicated"
	}
}

// PlacementPolicy decides where a new cospace should be hosted. Exposing
// this as an interface keeps the decision point swappable instead of a
// single hard-coded call site.
type PlacementPolicy interface {
	Decide(root ids.ModelRoot) Placement
}

// DedicatedOnly is the default policy: every cospace gets a freshly
// spawned dedicated worker.
type DedicatedOnly struct{}

func (DedicatedOnly) Decide(ids.ModelRoot) Placement { return PlaceDedicated }

// SharedOnly places every cospace on the node-wide shared worker.
type SharedOnly struct{}

func (SharedOnly) Decide(ids.ModelRoot) Placement { return PlaceShared }

// MainOnly hosts every cospace in the main process; useful for
// single-process deployments with no cluster transport.
type MainOnly struct{}

func (MainOnly) Decide(ids.ModelRoot) Placement { return PlaceMain }

// ResourceAware prefers Shared placement, switching to Dedicated while
// NodePressure reports the cluster under pressure (low spare capacity).
// With no NodePressure func it always chooses Shared.
// It is the hook point for k8s.io/metrics-informed
// decisions: the NodePressure func is typically backed by a
// placement.PressureMonitor reading live Pod resource metrics.
type ResourceAware struct {
	// NodePressure reports whether the cluster's shared worker capacity
	// is currently under pressure (e.g. mean CPU/memory above threshold).
	NodePressure func() bool
}

func (r ResourceAware) Decide(ids.ModelRoot) Placement {
	if r.NodePressure != nil && r.NodePressure() {
		return PlaceDedicated
	}
	return PlaceShared
}
