package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

func TestCreateCospaceRoundTrip(t *testing.T) {
	id := ids.NewCospaceID()
	root := ids.ModelRoot{Namespace: "acme", Workspace: "design-review"}

	gotID, gotRoot, err := DecodeCreateCospace(EncodeCreateCospace(id, root))
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, root, gotRoot)
}

func TestCreateCospaceRejectsBadID(t *testing.T) {
	_, _, err := DecodeCreateCospace(appendBytesField(nil, 1, []byte("short")))
	assert.Error(t, err)
}

func TestAckRoundTrip(t *testing.T) {
	ok, reason, err := DecodeAck(EncodeAck(true, ""))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	ok, reason, err = DecodeAck(EncodeAck(false, "declined"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "declined", reason)
}

func TestRegisterRoundTrip(t *testing.T) {
	nodeID, err := DecodeRegister(EncodeRegister(42))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), nodeID)
}

func TestClientSeqRoundTrip(t *testing.T) {
	seq, err := DecodeClientSeq(EncodeClientSeq(7))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), seq)
}

func TestConnMessageRoundTrip(t *testing.T) {
	client := ids.ClientID{Seq: 3, Cospace: ids.NewCospaceID()}

	for _, kind := range []cospace.ConnKind{cospace.ConnConnect, cospace.ConnDisconnect} {
		gotKind, gotClient, err := DecodeConnMessage(EncodeConnMessage(kind, client))
		require.NoError(t, err)
		assert.Equal(t, kind, gotKind)
		assert.Equal(t, client, gotClient)
	}
}

func TestClientMessageRoundTrip(t *testing.T) {
	client := ids.ClientID{Seq: 12, Cospace: ids.NewCospaceID()}

	cases := []cospace.ClientMessage{
		cospace.TellMessage(client, cospace.ServiceRecipientOf(protocol.ServiceModel), cospace.Payload{Binary: []byte{0x01, 0x02}}),
		cospace.TellMessage(client, cospace.BroadcastRecipientOf(cospace.DefaultTopic), cospace.Payload{Text: "hello", IsText: true}),
		cospace.AskMessage(client, protocol.ServiceCore, cospace.Payload{Binary: []byte("query")}),
	}

	for _, msg := range cases {
		got, err := DecodeClientMessage(EncodeClientMessage(msg))
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}
}

func TestServiceMessageRoundTrip(t *testing.T) {
	client := ids.ClientID{Seq: 5, Cospace: ids.NewCospaceID()}

	cases := []cospace.ServiceMessage{
		cospace.ServiceTellClient(protocol.ServicePresence, client, []byte("joined")),
		cospace.ServiceTellBroadcast(protocol.ServiceCore, cospace.CospaceTopic(client.Cospace), []byte("fanout")),
		cospace.ServiceAskClient(protocol.ServiceActivity, client, []byte("alive?")),
	}

	for _, msg := range cases {
		got, err := DecodeServiceMessage(EncodeServiceMessage(msg))
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}
}

func TestAskResultRoundTrip(t *testing.T) {
	res, err := DecodeAskResult(EncodeAskResult(cospace.AskResult{Payload: []byte("answer")}))
	require.NoError(t, err)
	assert.Equal(t, []byte("answer"), res.Payload)
	assert.False(t, res.TimedOut)

	res, err = DecodeAskResult(EncodeAskResult(cospace.AskResult{TimedOut: true}))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	// Forward compatibility: a newer sender may attach fields this
	// decoder has never heard of.
	b := EncodeRegister(9)
	b = appendStringField(b, 15, "future-field")
	nodeID, err := DecodeRegister(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), nodeID)
}

func TestTruncatedMessageErrors(t *testing.T) {
	full := EncodeCreateCospace(ids.NewCospaceID(), ids.ModelRoot{Namespace: "n", Workspace: "w"})
	// Cut inside the 16-byte cospace id field so its declared length
	// overruns the buffer.
	_, _, err := DecodeCreateCospace(full[:10])
	assert.Error(t, err)
}
