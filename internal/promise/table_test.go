package promise

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(timeout time.Duration) *Table {
	return New(timeout, zerolog.Nop())
}

func TestRegisterIssuesDistinctIDs(t *testing.T) {
	table := newTestTable(time.Minute)
	defer table.Close()

	const k = 64
	var wg sync.WaitGroup
	idCh := make(chan uint32, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := table.Register()
			idCh <- id
		}()
	}
	wg.Wait()
	close(idCh)

	seen := make(map[uint32]bool)
	for id := range idCh {
		assert.NotZero(t, id, "zero is reserved for non-requests")
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, k)
}

func TestCompleteDeliversOnceAndRemoves(t *testing.T) {
	table := newTestTable(time.Minute)
	defer table.Close()

	id, ch := table.Register()
	table.Complete(id, []byte("payload"))

	res := <-ch
	assert.Equal(t, []byte("payload"), res.Payload)
	assert.False(t, res.TimedOut)
	assert.Zero(t, table.Len())

	// Second completion of the same id is a no-op.
	table.Complete(id, []byte("again"))
	select {
	case <-ch:
		t.Fatal("slot delivered twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnmatchedCompleteIsNoOp(t *testing.T) {
	table := newTestTable(time.Minute)
	defer table.Close()

	table.Complete(999, []byte("nobody home"))
	assert.Zero(t, table.Len())
}

func TestCancelRemovesWithoutDelivery(t *testing.T) {
	table := newTestTable(time.Minute)
	defer table.Close()

	id, ch := table.Register()
	table.Cancel(id)
	assert.Zero(t, table.Len())

	select {
	case <-ch:
		t.Fatal("cancelled slot delivered a result")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExpireAllDeliversToEveryWaiter(t *testing.T) {
	table := newTestTable(time.Minute)
	defer table.Close()

	_, ch1 := table.Register()
	_, ch2 := table.Register()
	table.ExpireAll()

	for _, ch := range []<-chan Result{ch1, ch2} {
		select {
		case res := <-ch:
			assert.True(t, res.TimedOut)
		case <-time.After(time.Second):
			t.Fatal("ExpireAll left a waiter hanging")
		}
	}
	assert.Zero(t, table.Len())
}

func TestExpiredEntryDeliversTimeoutSentinel(t *testing.T) {
	table := newTestTable(50 * time.Millisecond)
	defer table.Close()

	_, ch := table.Register()

	select {
	case res := <-ch:
		assert.True(t, res.TimedOut)
		assert.Nil(t, res.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never expired the entry")
	}
	assert.Zero(t, table.Len())
}

func TestCompleteAfterExpiryIsNoOp(t *testing.T) {
	table := newTestTable(50 * time.Millisecond)
	defer table.Close()

	id, ch := table.Register()
	res := <-ch
	require.True(t, res.TimedOut)

	table.Complete(id, []byte("too late"))
	select {
	case <-ch:
		t.Fatal("expired slot delivered a second result")
	case <-time.After(50 * time.Millisecond):
	}
}
