// Package promise implements the request/response correlation table:
// every Ask a peer initiates registers a
// one-shot slot keyed by a locally-assigned RequestId; the matching
// Response, wherever it arrives from, completes and removes that slot.
//
// Each initiating peer keeps its own Table: a Client Connection Endpoint
// owns one for the requests it sends to its client on behalf of a
// service, and the client keeps its own for the requests it sends, so
// neither side needs to share counter state with the other.
package promise

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout is the bounded lifetime an entry is allowed before
// the sweeper completes it with a cancellation result, so a silent
// peer can never leak slots indefinitely.
const DefaultTimeout = 30 * time.Second

// Result is delivered to whatever is waiting on a registered slot.
type Result struct {
	Payload  []byte
	TimedOut bool
}

type slot struct {
	ch      chan Result
	created time.Time
}

// Table correlates outstanding requests with their responses by a
// monotonically increasing RequestId. Zero is never issued: it is
// reserved by the wire format to mean "not a request".
type Table struct {
	mu      sync.Mutex
	entries map[uint32]*slot
	next    uint32
	timeout time.Duration
	log     zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Table with the given per-entry timeout and starts its
// background sweeper goroutine. Call Close to stop the sweeper.
func New(timeout time.Duration, log zerolog.Logger) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &Table{
		entries: make(map[uint32]*slot),
		timeout: timeout,
		log:     log,
		stopCh:  make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// Register allocates the next RequestId and inserts a fresh slot for
// it, returning the id and a channel that will receive exactly one
// Result: either the matching Complete call, or a TimedOut result if
// no response arrives within the table's timeout.
func (t *Table) Register() (uint32, <-chan Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	id := t.next
	ch := make(chan Result, 1)
	t.entries[id] = &slot{ch: ch, created: time.Now()}
	return id, ch
}

// Complete delivers payload to the slot registered under id and
// removes it. An id with no matching entry (already completed,
// already timed out, or never registered) is a logged no-op.
func (t *Table) Complete(id uint32, payload []byte) {
	t.mu.Lock()
	s, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		t.log.Debug().Uint32("request_id", id).Msg("promise_complete_no_matching_entry")
		return
	}
	s.ch <- Result{Payload: payload}
}

// Cancel removes id's entry, if any, without delivering a result.
// Used when the initiator itself gives up (e.g. the socket closed).
func (t *Table) Cancel(id uint32) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Len reports the number of outstanding entries; exposed for tests
// and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ExpireAll completes every outstanding entry with the timeout
// sentinel and removes it. Called when the initiating side is going
// away (socket closed) so no waiter blocks until the sweeper would
// have caught up.
func (t *Table) ExpireAll() {
	t.mu.Lock()
	expired := make([]*slot, 0, len(t.entries))
	for id, s := range t.entries {
		expired = append(expired, s)
		delete(t.entries, id)
	}
	t.mu.Unlock()

	for _, s := range expired {
		s.ch <- Result{TimedOut: true}
	}
}

// Close stops the sweeper goroutine. Outstanding entries are left
// untouched; callers that need to drain them should call ExpireAll
// first.
func (t *Table) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *Table) sweepLoop() {
	interval := t.timeout / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.sweepOnce()
		}
	}
}

func (t *Table) sweepOnce() {
	now := time.Now()

	var expired []*slot
	t.mu.Lock()
	for id, s := range t.entries {
		if now.Sub(s.created) >= t.timeout {
			expired = append(expired, s)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, s := range expired {
		t.log.Warn().Msg("promise_timed_out")
		s.ch <- Result{TimedOut: true}
	}
}
