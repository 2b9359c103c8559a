package services

import (
	"encoding/binary"

	"github.com/rs/zerolog"

	"github.com/fasttravel/realtime/internal/activity"
	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

// CoreService is a minimal cospace.Service exercising the routing fabric
// for the Core service tag: Tells are re-broadcast to the rest of the
// cospace, Asks are echoed back to the caller. The concrete
// collaborative editing logic Core would host in a full deployment
// lives outside the fabric: this stub's job is to prove the fabric
// routes Core traffic correctly, not to implement a CRDT.
type CoreService struct {
	log zerolog.Logger
}

func NewCoreService(log zerolog.Logger) *CoreService { return &CoreService{log: log} }

func (s *CoreService) Tell(cosp cospace.CospaceHandle, msg cospace.ClientMessage) {
	cosp.Tell(cospace.ServiceTellBroadcast(protocol.ServiceCore, cospace.CospaceTopic(msg.Client.Cospace), msg.Payload.Binary))
}

func (s *CoreService) Ask(cosp cospace.CospaceHandle, msg cospace.ClientMessage) cospace.AskResult {
	return cospace.AskResult{Payload: msg.Payload.Binary}
}

func (s *CoreService) Connect(cospace.CospaceHandle, ids.ClientID)    {}
func (s *CoreService) Disconnect(cospace.CospaceHandle, ids.ClientID) {}

// PresenceService announces joins and departures to the rest of the
// cospace — the one piece of "business logic" simple and generic enough
// to belong in the core rather than a caller's concrete Service.
type PresenceService struct {
	log zerolog.Logger
}

func NewPresenceService(log zerolog.Logger) *PresenceService { return &PresenceService{log: log} }

func (s *PresenceService) Tell(cosp cospace.CospaceHandle, msg cospace.ClientMessage) {
	cosp.Tell(cospace.ServiceTellBroadcast(protocol.ServicePresence, cospace.CospaceTopic(msg.Client.Cospace), msg.Payload.Binary))
}

func (s *PresenceService) Ask(cosp cospace.CospaceHandle, msg cospace.ClientMessage) cospace.AskResult {
	return cospace.AskResult{Payload: msg.Payload.Binary}
}

func (s *PresenceService) Connect(cosp cospace.CospaceHandle, client ids.ClientID) {
	cosp.Tell(cospace.ServiceTellBroadcast(protocol.ServicePresence, cospace.CospaceTopic(client.Cospace), presenceEvent(client, true)))
}

func (s *PresenceService) Disconnect(cosp cospace.CospaceHandle, client ids.ClientID) {
	cosp.Tell(cospace.ServiceTellBroadcast(protocol.ServicePresence, cospace.CospaceTopic(client.Cospace), presenceEvent(client, false)))
}

func presenceEvent(client ids.ClientID, joined bool) []byte {
	b := make([]byte, 5)
	binary.BigEndian.PutUint32(b, client.Seq)
	if joined {
		b[4] = 1
	}
	return b
}

// ActivityService answers Ask(Activity) queries with the requesting
// client's last-seen liveness, backed by the Tracker the Connection
// Service Actor populates on every Connection frame.
type ActivityService struct {
	tracker *activity.Tracker
	log     zerolog.Logger
}

func NewActivityService(tracker *activity.Tracker, log zerolog.Logger) *ActivityService {
	return &ActivityService{tracker: tracker, log: log}
}

func (s *ActivityService) Tell(cospace.CospaceHandle, cospace.ClientMessage) {}

func (s *ActivityService) Ask(cosp cospace.CospaceHandle, msg cospace.ClientMessage) cospace.AskResult {
	ts, ok := s.tracker.LastSeen(msg.Client)
	if !ok {
		return cospace.AskResult{Payload: nil}
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ts.Unix()))
	return cospace.AskResult{Payload: b}
}

func (s *ActivityService) Connect(_ cospace.CospaceHandle, client ids.ClientID) {
	s.tracker.Touch(client)
}

func (s *ActivityService) Disconnect(_ cospace.CospaceHandle, client ids.ClientID) {
	s.tracker.Forget(client)
}

// ModelService relays payloads unchanged: the model-root mutation
// semantics a concrete deployment would apply (operational transform,
// CRDT merge, persistence) belong to a concrete deployment; this stub proves the
// fabric carries Model traffic end to end.
type ModelService struct {
	log zerolog.Logger
}

func NewModelService(log zerolog.Logger) *ModelService { return &ModelService{log: log} }

func (s *ModelService) Tell(cosp cospace.CospaceHandle, msg cospace.ClientMessage) {
	cosp.Tell(cospace.ServiceTellBroadcast(protocol.ServiceModel, cospace.CospaceTopic(msg.Client.Cospace), msg.Payload.Binary))
}

func (s *ModelService) Ask(cosp cospace.CospaceHandle, msg cospace.ClientMessage) cospace.AskResult {
	return cospace.AskResult{Payload: msg.Payload.Binary}
}

func (s *ModelService) Connect(cospace.CospaceHandle, ids.ClientID)    {}
func (s *ModelService) Disconnect(cospace.CospaceHandle, ids.ClientID) {}
