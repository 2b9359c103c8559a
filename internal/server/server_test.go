package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fasttravel/realtime/internal/activity"
	"github.com/fasttravel/realtime/internal/admission"
	"github.com/fasttravel/realtime/internal/cache"
	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/manager"
	"github.com/fasttravel/realtime/internal/protocol"
	"github.com/fasttravel/realtime/internal/registry"
)

type testFixture struct {
	key    *ecdsa.PrivateKey
	srv    *Server
	router http.Handler
	reg    *registry.Registry
}

type nopService struct{}

func (nopService) Tell(cospace.CospaceHandle, cospace.ClientMessage) {}
func (nopService) Ask(cospace.CospaceHandle, cospace.ClientMessage) cospace.AskResult {
	return cospace.AskResult{}
}
func (nopService) Connect(cospace.CospaceHandle, ids.ClientID)    {}
func (nopService) Disconnect(cospace.CospaceHandle, ids.ClientID) {}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	validator := admission.NewValidator(&key.PublicKey)

	reg := registry.New()
	factory := func() manager.ServiceImpls {
		return manager.ServiceImpls{
			Core: nopService{}, Presence: nopService{}, Activity: nopService{}, Model: nopService{},
			Tracker: activity.NewTracker(),
		}
	}
	nodes := manager.NewSharedNodeManager(factory, manager.PoolSizes{}, zerolog.Nop())
	cospaces := manager.New(reg, manager.MainOnly{}, localNode{nodes}, nil, nil, zerolog.Nop())

	disabled, _ := cache.NewCache(cache.Config{Enabled: false})
	mirror := cache.NewRegistryMirror(disabled, zerolog.Nop())

	srv := New(validator, cospaces, nodes, reg, nil, mirror, zerolog.Nop())
	return &testFixture{key: key, srv: srv, router: srv.Router(), reg: reg}
}

type localNode struct{ nm *manager.NodeManager }

func (l localNode) CreateCospaceActor(ctx context.Context, req manager.CreateCospaceActorRequest) (bool, error) {
	return l.nm.CreateCospaceActor(ctx, req)
}

func (f *testFixture) ticket(t *testing.T, sub, aud string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Subject:   sub,
		Audience:  jwt.ClaimStrings{aud},
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func (f *testFixture) hostCospace(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"model_workspace": "w", "model_namespace": "n"})
	req := httptest.NewRequest(http.MethodPost, "/realtime/host/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.ticket(t, admission.SubjectCertificate, admission.AudienceRealtime, time.Now().Add(time.Minute)))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		UUID string `json:"uuid"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.UUID, 32)
	return resp.UUID
}

func (f *testFixture) status(t *testing.T, uuid string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/realtime/status/"+uuid, nil)
	req.Header.Set("Authorization", "Bearer "+f.ticket(t, admission.SubjectSDK, admission.AudienceStatus, time.Now().Add(time.Minute)))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestHostThenStatusReachesHosted(t *testing.T) {
	f := newFixture(t)
	uuid := f.hostCospace(t)

	require.Eventually(t, func() bool {
		return f.status(t, uuid) == "HOSTED"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHostRejectsMissingAndInvalidTickets(t *testing.T) {
	f := newFixture(t)
	body, _ := json.Marshal(map[string]string{"model_workspace": "w", "model_namespace": "n"})

	// No Authorization header.
	req := httptest.NewRequest(http.MethodPost, "/realtime/host/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Wrong credentials")

	// Wrong audience on an otherwise valid ticket.
	req = httptest.NewRequest(http.MethodPost, "/realtime/host/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.ticket(t, admission.SubjectCertificate, admission.AudienceStatus, time.Now().Add(time.Minute)))
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid token")
}

func TestHostRejectsMissingModelRoot(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/realtime/host/", strings.NewReader(`{"model_workspace":"w"}`))
	req.Header.Set("Authorization", "Bearer "+f.ticket(t, admission.SubjectCertificate, admission.AudienceRealtime, time.Now().Add(time.Minute)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusUnknownCospaceIsNotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "NOT_FOUND", f.status(t, ids.NewCospaceID().Hyphenless()))
}

func TestConnectRejectsBadQueryTicket(t *testing.T) {
	f := newFixture(t)
	uuid := f.hostCospace(t)

	req := httptest.NewRequest(http.MethodGet, "/realtime/connect/"+uuid+"?ticket=invalid", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid token")
}

func TestConnectRejectsUnknownCospace(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, admission.SubjectSDK, admission.AudienceQuery, time.Now().Add(time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/realtime/connect/"+ids.NewCospaceID().Hyphenless()+"?ticket="+ticket, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFullSessionHandshake(t *testing.T) {
	f := newFixture(t)
	uuid := f.hostCospace(t)
	require.Eventually(t, func() bool {
		return f.status(t, uuid) == "HOSTED"
	}, 2*time.Second, 10*time.Millisecond)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	queryTicket := f.ticket(t, admission.SubjectSDK, admission.AudienceQuery, time.Now().Add(time.Minute))
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime/connect/" + uuid + "?ticket=" + queryTicket

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", Subprotocol)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, Subprotocol, resp.Header.Get("Sec-WebSocket-Protocol"))

	// First socket message: the handshake request with a message ticket.
	msgTicket := f.ticket(t, admission.SubjectSDK, admission.AudienceMessage, time.Now().Add(time.Minute))
	hs := protocol.EncodeHandshakeReq(protocol.HandshakeReq{Ticket: msgTicket})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage,
		protocol.MakeRequest(1, protocol.ServiceConnection, hs)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	frame := protocol.Process(data)
	require.Equal(t, protocol.KindResponse, frame.Kind)
	require.Equal(t, uint32(1), frame.ResponseID)
	res, ok := protocol.DecodeHandshakeRes(frame.Payload)
	require.True(t, ok)
	assert.True(t, res.Success)
}

func TestHandshakeWithExpiredTicketFailsOnSocket(t *testing.T) {
	f := newFixture(t)
	uuid := f.hostCospace(t)
	require.Eventually(t, func() bool {
		return f.status(t, uuid) == "HOSTED"
	}, 2*time.Second, 10*time.Millisecond)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	queryTicket := f.ticket(t, admission.SubjectSDK, admission.AudienceQuery, time.Now().Add(time.Minute))
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime/connect/" + uuid + "?ticket=" + queryTicket
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	expired := f.ticket(t, admission.SubjectSDK, admission.AudienceMessage, time.Now().Add(-time.Minute))
	hs := protocol.EncodeHandshakeReq(protocol.HandshakeReq{Ticket: expired})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage,
		protocol.MakeRequest(1, protocol.ServiceConnection, hs)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	frame := protocol.Process(data)
	require.Equal(t, protocol.KindResponse, frame.Kind)
	res, ok := protocol.DecodeHandshakeRes(frame.Payload)
	require.True(t, ok)
	assert.False(t, res.Success)
}
