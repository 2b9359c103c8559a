package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessTellRoundTrip(t *testing.T) {
	payload := []byte("hello-core")
	frame := Process(MakeTell(ServiceCore, payload))

	assert.Equal(t, KindTell, frame.Kind)
	assert.Equal(t, ServiceCore, frame.Service)
	assert.Equal(t, uint32(0), frame.RequestID)
	assert.Equal(t, uint32(0), frame.ResponseID)
	assert.Equal(t, payload, frame.Payload)
}

func TestProcessRequestRoundTrip(t *testing.T) {
	for _, id := range []uint32{1, 2, 42, 1 << 20} {
		payload := []byte("ask-presence")
		frame := Process(MakeRequest(id, ServicePresence, payload))

		assert.Equal(t, KindRequest, frame.Kind)
		assert.Equal(t, ServicePresence, frame.Service)
		assert.Equal(t, id, frame.RequestID)
		assert.Equal(t, uint32(0), frame.ResponseID)
		assert.Equal(t, payload, frame.Payload)
	}
}

func TestProcessResponseRoundTrip(t *testing.T) {
	for _, id := range []uint32{1, 7, 9999} {
		payload := []byte("reply")
		frame := Process(MakeResponse(id, ServiceModel, payload))

		assert.Equal(t, KindResponse, frame.Kind)
		assert.Equal(t, ServiceModel, frame.Service)
		assert.Equal(t, uint32(0), frame.RequestID)
		assert.Equal(t, id, frame.ResponseID)
		assert.Equal(t, payload, frame.Payload)
	}
}

func TestProcessMalformedBothIdsSet(t *testing.T) {
	raw := encodeEnvelope(5, 9, ServiceCore, []byte("x"))
	frame := Process(raw)
	assert.Equal(t, KindUndefined, frame.Kind)
}

func TestProcessMalformedMissingHeader(t *testing.T) {
	// Hand-build an envelope with only a body field, no header at all.
	var b []byte
	b = append(b, 0x1a) // field 3 (core), wire type 2 (bytes)
	b = append(b, 0x01, 'x')
	frame := Process(b)
	assert.Equal(t, KindUndefined, frame.Kind)
}

func TestProcessMalformedMissingBody(t *testing.T) {
	raw := encodeHeader(1, 0)
	var b []byte
	b = append(b, 0x0a) // field 1 (header), wire type 2
	b = append(b, byte(len(raw)))
	b = append(b, raw...)
	frame := Process(b)
	assert.Equal(t, KindUndefined, frame.Kind)
}

func TestProcessGarbageBytes(t *testing.T) {
	frame := Process([]byte{0xff, 0xff, 0xff})
	assert.Equal(t, KindUndefined, frame.Kind)
}

func TestHandshakeReqRoundTrip(t *testing.T) {
	req, ok := DecodeHandshakeReq(EncodeHandshakeReq(HandshakeReq{Ticket: "abc.def.ghi"}))
	require.True(t, ok)
	assert.Equal(t, "abc.def.ghi", req.Ticket)
}

func TestHandshakeResRoundTrip(t *testing.T) {
	for _, success := range []bool{true, false} {
		res, ok := DecodeHandshakeRes(EncodeHandshakeRes(HandshakeRes{Success: success}))
		require.True(t, ok)
		assert.Equal(t, success, res.Success)
	}
}

func TestServiceFieldNumbersAreDistinct(t *testing.T) {
	seen := map[uint64]bool{}
	for _, num := range bodyFieldNumbers {
		assert.False(t, seen[uint64(num)], "duplicate field number %d", num)
		seen[uint64(num)] = true
	}
}
