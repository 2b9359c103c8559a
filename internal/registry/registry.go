// Package registry implements the hosted-cospace registry: the single
// cross-actor shared structure in the whole fabric. Every other piece of
// state is messaged, not shared; this one is a sharded, per-key
// locked map because status lookups and placement transitions both need
// concurrent access from arbitrary goroutines (HTTP handlers, the Cospace
// Manager, sweepers) without funneling through one actor's mailbox.
//
// A cospace id is in at most one of {scheduled, hosted, failed} at a time
// at a time; this package enforces that by storing
// all three as one entry with a status field, so the invariant is
// structural rather than merely convention.
package registry

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/fasttravel/realtime/internal/ids"
)

// Status is the externally visible lifecycle state of a cospace, exactly
// the four values the /realtime/status/:cospace endpoint reports.
type Status uint8

const (
	NotFound Status = iota
	Scheduled
	Hosted
	Failed
)

func (s Status) String() string {
	switch s {
	case Scheduled:
		return "SCHEDULED"
	case Hosted:
		return "HOSTED"
	case Failed:
		return "FAILED"
	default:
		return "NOT_FOUND"
	}
}

// Mode records how a hosted cospace's service pool was allocated.
type Mode uint8

const (
	ModeMain Mode = iota
	ModeShared
	ModeDedicated
)

// Handle is the minimal surface the registry needs from a running cospace
// actor: enough to identify it without this package importing the actor
// implementation.
type Handle interface {
	ID() ids.CospaceID
}

// Entry is one cospace's full bookkeeping record. Fields not relevant to
// the current Status are left zero.
type Entry struct {
	ID        ids.CospaceID
	Root      ids.ModelRoot
	Status    Status
	Mode      Mode
	NodeID    uint32
	Actor     Handle
	Reason    string
	CreatedAt time.Time // when the scheduled entry was created
	UpdatedAt time.Time // last status transition
}

const shardCount = 32

type shard struct {
	mu sync.Mutex
	m  map[ids.CospaceID]*Entry
}

// Registry is the sharded hosted-cospace map: N independently-locked
// buckets keyed by a hash of the cospace id, the idiomatic Go analogue of
// a concurrent map with per-key locking.
type Registry struct {
	shards [shardCount]*shard
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{m: make(map[ids.CospaceID]*Entry)}
	}
	return r
}

func (r *Registry) shardFor(id ids.CospaceID) *shard {
	h := fnv.New32a()
	h.Write(id[:])
	return r.shards[h.Sum32()%shardCount]
}

// Schedule inserts a fresh entry in Scheduled status, the ∅→scheduled
// transition. Returns false if the id is already tracked.
func (r *Registry) Schedule(id ids.CospaceID, root ids.ModelRoot) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[id]; exists {
		return false
	}
	now := time.Now()
	s.m[id] = &Entry{
		ID:        id,
		Root:      root,
		Status:    Scheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true
}

// MarkHosted transitions scheduled→hosted. Returns false if the id
// isn't currently scheduled.
func (r *Registry) MarkHosted(id ids.CospaceID, mode Mode, nodeID uint32, actor Handle) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok || e.Status != Scheduled {
		return false
	}
	e.Status = Hosted
	e.Mode = mode
	e.NodeID = nodeID
	e.Actor = actor
	e.UpdatedAt = time.Now()
	return true
}

// MarkFailed transitions scheduled→failed, recording reason for
// diagnostics. Returns false if the id isn't currently scheduled.
func (r *Registry) MarkFailed(id ids.CospaceID, reason string) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok || e.Status != Scheduled {
		return false
	}
	e.Status = Failed
	e.Reason = reason
	e.UpdatedAt = time.Now()
	return true
}

// Terminate removes a hosted entry entirely, the hosted→∅ transition.
func (r *Registry) Terminate(id ids.CospaceID) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

// Lookup returns a copy of the entry for id, if tracked.
func (r *Registry) Lookup(id ids.CospaceID) (Entry, bool) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// StatusOf implements the /realtime/status/:cospace lookup: one of
// HOSTED, SCHEDULED, FAILED, or NOT_FOUND.
func (r *Registry) StatusOf(id ids.CospaceID) Status {
	e, ok := r.Lookup(id)
	if !ok {
		return NotFound
	}
	return e.Status
}

// SweepExpiredScheduled moves every Scheduled entry older than maxAge
// into Failed: a scheduled entry that never resolves to hosted or
// failed would otherwise linger forever. Returns the ids it expired.
func (r *Registry) SweepExpiredScheduled(maxAge time.Duration) []ids.CospaceID {
	var expired []ids.CospaceID
	now := time.Now()
	for _, s := range r.shards {
		s.mu.Lock()
		for id, e := range s.m {
			if e.Status == Scheduled && now.Sub(e.CreatedAt) >= maxAge {
				e.Status = Failed
				e.Reason = "scheduling timed out"
				e.UpdatedAt = now
				expired = append(expired, id)
			}
		}
		s.mu.Unlock()
	}
	return expired
}

// Hosted returns every currently hosted entry, backing the Cospace
// Manager's hosted-cospace status listing.
func (r *Registry) Hosted() []Entry {
	var out []Entry
	for _, s := range r.shards {
		s.mu.Lock()
		for _, e := range s.m {
			if e.Status == Hosted {
				out = append(out, *e)
			}
		}
		s.mu.Unlock()
	}
	return out
}
