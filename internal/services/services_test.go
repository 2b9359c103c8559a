package services

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fasttravel/realtime/internal/activity"
	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

type fakeValidator struct{ accept bool }

func (f fakeValidator) ValidateMessageTicket(string) bool { return f.accept }

// fakeHandle records service-emitted messages.
type fakeHandle struct {
	id ids.CospaceID
	mu sync.Mutex

	tells []cospace.ServiceMessage
}

func (h *fakeHandle) ID() ids.CospaceID { return h.id }

func (h *fakeHandle) Tell(msg cospace.ServiceMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tells = append(h.tells, msg)
}

func (h *fakeHandle) Ask(cospace.ServiceMessage) (cospace.AskResult, error) {
	return cospace.AskResult{}, nil
}

func (h *fakeHandle) recorded() []cospace.ServiceMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]cospace.ServiceMessage, len(h.tells))
	copy(out, h.tells)
	return out
}

func newClient() ids.ClientID {
	return ids.ClientID{Seq: 1, Cospace: ids.NewCospaceID()}
}

func TestHandshakeSuccess(t *testing.T) {
	client := newClient()
	tracker := activity.NewTracker()
	svc := NewConnectionServiceActor(client, fakeValidator{accept: true}, tracker, nil, zerolog.Nop())

	payload := protocol.EncodeHandshakeReq(protocol.HandshakeReq{Ticket: "valid.jwt"})
	resp, ok := svc.HandleFrame(client, protocol.KindRequest, payload)
	require.True(t, ok)

	res, good := protocol.DecodeHandshakeRes(resp)
	require.True(t, good)
	assert.True(t, res.Success)
	assert.True(t, svc.HandshakeComplete())

	_, seen := tracker.LastSeen(client)
	assert.True(t, seen, "handshake must refresh liveness")
}

func TestHandshakeFailureSchedulesDisconnect(t *testing.T) {
	client := newClient()
	failed := make(chan struct{}, 1)
	svc := NewConnectionServiceActor(client, fakeValidator{accept: false}, activity.NewTracker(), func() {
		failed <- struct{}{}
	}, zerolog.Nop())
	svc.grace = 10 * time.Millisecond

	payload := protocol.EncodeHandshakeReq(protocol.HandshakeReq{Ticket: "expired.jwt"})
	resp, ok := svc.HandleFrame(client, protocol.KindRequest, payload)
	require.True(t, ok)

	res, good := protocol.DecodeHandshakeRes(resp)
	require.True(t, good)
	assert.False(t, res.Success)
	assert.False(t, svc.HandshakeComplete())

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("handshake failure never forced a disconnect")
	}
}

func TestHandshakeMissingTicketFails(t *testing.T) {
	client := newClient()
	svc := NewConnectionServiceActor(client, fakeValidator{accept: true}, activity.NewTracker(), nil, zerolog.Nop())

	resp, ok := svc.HandleFrame(client, protocol.KindRequest, nil)
	require.True(t, ok)
	res, good := protocol.DecodeHandshakeRes(resp)
	require.True(t, good)
	assert.False(t, res.Success)
}

func TestConnectionTellOnlyRefreshesLiveness(t *testing.T) {
	client := newClient()
	tracker := activity.NewTracker()
	svc := NewConnectionServiceActor(client, fakeValidator{accept: true}, tracker, nil, zerolog.Nop())

	_, ok := svc.HandleFrame(client, protocol.KindTell, []byte("ping"))
	assert.False(t, ok, "tells yield no response")
	_, seen := tracker.LastSeen(client)
	assert.True(t, seen)
}

func TestCoreTellRebroadcasts(t *testing.T) {
	h := &fakeHandle{id: ids.NewCospaceID()}
	svc := NewCoreService(zerolog.Nop())
	client := ids.ClientID{Seq: 3, Cospace: h.id}

	svc.Tell(h, cospace.TellMessage(client, cospace.ServiceRecipientOf(protocol.ServiceCore), cospace.Payload{Binary: []byte("edit")}))

	msgs := h.recorded()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].To.Broadcast)
	assert.Equal(t, protocol.ServiceCore, msgs[0].Sender)
	assert.Equal(t, []byte("edit"), msgs[0].Payload)
}

func TestCoreAskEchoes(t *testing.T) {
	h := &fakeHandle{id: ids.NewCospaceID()}
	svc := NewCoreService(zerolog.Nop())

	res := svc.Ask(h, cospace.AskMessage(newClient(), protocol.ServiceCore, cospace.Payload{Binary: []byte("q")}))
	assert.Equal(t, []byte("q"), res.Payload)
}

func TestPresenceAnnouncesJoinAndLeave(t *testing.T) {
	h := &fakeHandle{id: ids.NewCospaceID()}
	svc := NewPresenceService(zerolog.Nop())
	client := ids.ClientID{Seq: 9, Cospace: h.id}

	svc.Connect(h, client)
	svc.Disconnect(h, client)

	msgs := h.recorded()
	require.Len(t, msgs, 2)
	assert.Equal(t, byte(1), msgs[0].Payload[4], "join flag")
	assert.Equal(t, byte(0), msgs[1].Payload[4], "leave flag")
}

func TestActivityAskReportsLastSeen(t *testing.T) {
	h := &fakeHandle{id: ids.NewCospaceID()}
	tracker := activity.NewTracker()
	svc := NewActivityService(tracker, zerolog.Nop())
	client := ids.ClientID{Seq: 2, Cospace: h.id}

	// Never seen: empty payload.
	res := svc.Ask(h, cospace.AskMessage(client, protocol.ServiceActivity, cospace.Payload{}))
	assert.Nil(t, res.Payload)

	tracker.Touch(client)
	res = svc.Ask(h, cospace.AskMessage(client, protocol.ServiceActivity, cospace.Payload{}))
	assert.Len(t, res.Payload, 8)

	svc.Disconnect(h, client)
	_, seen := tracker.LastSeen(client)
	assert.False(t, seen)
}

func TestDefaultFactoryWiresTrackerThrough(t *testing.T) {
	impls := DefaultFactory(zerolog.Nop())()
	require.NotNil(t, impls.Tracker)

	h := &fakeHandle{id: ids.NewCospaceID()}
	client := ids.ClientID{Seq: 1, Cospace: h.id}

	// Liveness recorded through the bundle's tracker is visible to its
	// Activity service.
	impls.Tracker.Touch(client)
	res := impls.Activity.Ask(h, cospace.AskMessage(client, protocol.ServiceActivity, cospace.Payload{}))
	assert.NotNil(t, res.Payload)
}
