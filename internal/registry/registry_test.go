package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fasttravel/realtime/internal/ids"
)

type fakeHandle struct{ id ids.CospaceID }

func (h fakeHandle) ID() ids.CospaceID { return h.id }

func TestScheduleHostLifecycle(t *testing.T) {
	r := New()
	id := ids.NewCospaceID()
	root := ids.ModelRoot{Namespace: "n", Workspace: "w"}

	assert.Equal(t, NotFound, r.StatusOf(id))

	require.True(t, r.Schedule(id, root))
	assert.Equal(t, Scheduled, r.StatusOf(id))

	// Double-schedule is refused.
	assert.False(t, r.Schedule(id, root))

	require.True(t, r.MarkHosted(id, ModeDedicated, 2, fakeHandle{id}))
	assert.Equal(t, Hosted, r.StatusOf(id))

	e, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, root, e.Root)
	assert.Equal(t, ModeDedicated, e.Mode)
	assert.Equal(t, uint32(2), e.NodeID)

	r.Terminate(id)
	assert.Equal(t, NotFound, r.StatusOf(id))
}

func TestFailedPath(t *testing.T) {
	r := New()
	id := ids.NewCospaceID()

	require.True(t, r.Schedule(id, ids.ModelRoot{}))
	require.True(t, r.MarkFailed(id, "worker launch failed"))
	assert.Equal(t, Failed, r.StatusOf(id))

	e, _ := r.Lookup(id)
	assert.Equal(t, "worker launch failed", e.Reason)

	// A failed cospace can't transition again.
	assert.False(t, r.MarkHosted(id, ModeMain, 0, fakeHandle{id}))
	assert.False(t, r.MarkFailed(id, "again"))
}

func TestStatesAreMutuallyExclusive(t *testing.T) {
	r := New()
	for i := 0; i < 50; i++ {
		id := ids.NewCospaceID()
		require.True(t, r.Schedule(id, ids.ModelRoot{}))
		switch i % 3 {
		case 0:
		case 1:
			r.MarkHosted(id, ModeShared, 1, fakeHandle{id})
		case 2:
			r.MarkFailed(id, "x")
		}

		e, ok := r.Lookup(id)
		require.True(t, ok)
		states := 0
		for _, s := range []Status{Scheduled, Hosted, Failed} {
			if e.Status == s {
				states++
			}
		}
		assert.Equal(t, 1, states)
	}
}

func TestTransitionsFromWrongState(t *testing.T) {
	r := New()
	id := ids.NewCospaceID()

	// Neither transition applies to an untracked id.
	assert.False(t, r.MarkHosted(id, ModeMain, 0, fakeHandle{id}))
	assert.False(t, r.MarkFailed(id, "x"))

	require.True(t, r.Schedule(id, ids.ModelRoot{}))
	require.True(t, r.MarkHosted(id, ModeMain, 0, fakeHandle{id}))

	// Hosted entries are terminal for these transitions.
	assert.False(t, r.MarkFailed(id, "x"))
	assert.False(t, r.MarkHosted(id, ModeMain, 0, fakeHandle{id}))
}

func TestSweepExpiredScheduled(t *testing.T) {
	r := New()
	stale := ids.NewCospaceID()
	fresh := ids.NewCospaceID()
	hosted := ids.NewCospaceID()

	require.True(t, r.Schedule(stale, ids.ModelRoot{}))
	require.True(t, r.Schedule(hosted, ids.ModelRoot{}))
	require.True(t, r.MarkHosted(hosted, ModeMain, 0, fakeHandle{hosted}))

	time.Sleep(20 * time.Millisecond)
	require.True(t, r.Schedule(fresh, ids.ModelRoot{}))

	expired := r.SweepExpiredScheduled(10 * time.Millisecond)
	assert.Equal(t, []ids.CospaceID{stale}, expired)
	assert.Equal(t, Failed, r.StatusOf(stale))
	assert.Equal(t, Scheduled, r.StatusOf(fresh))
	assert.Equal(t, Hosted, r.StatusOf(hosted))
}

func TestHostedListing(t *testing.T) {
	r := New()
	var hosted []ids.CospaceID
	for i := 0; i < 5; i++ {
		id := ids.NewCospaceID()
		require.True(t, r.Schedule(id, ids.ModelRoot{}))
		if i%2 == 0 {
			require.True(t, r.MarkHosted(id, ModeShared, 1, fakeHandle{id}))
			hosted = append(hosted, id)
		}
	}

	entries := r.Hosted()
	assert.Len(t, entries, len(hosted))
	for _, e := range entries {
		assert.Equal(t, Hosted, e.Status)
	}
}
