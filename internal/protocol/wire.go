package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Kind classifies a decoded envelope by which of its header ids (if
// any) is non-zero.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindTell
	KindRequest
	KindResponse
)

// Frame is the decoded form of a RealtimeMessage envelope: a
// classification, the service the body is tagged for, the correlation
// ids from the header, and the service body re-encoded as opaque
// bytes. Routing code never inspects Payload; only the service it
// names does.
type Frame struct {
	Kind       Kind
	Service    Service
	RequestID  uint32
	ResponseID uint32
	Payload    []byte
}

const (
	headerFieldNumber      protowire.Number = 1
	headerRequestIDField   protowire.Number = 1
	headerResponseIDField  protowire.Number = 2
)

// encodeHeader serializes the Header{request_id, response_id}
// submessage. Proto3 scalar fields equal to their zero value are
// omitted from the wire: a Tell frame (both ids zero) still carries a
// present-but-empty header submessage, which is what lets Process
// distinguish "header omitted entirely" (malformed) from "header
// present with both ids zero" (Tell).
func encodeHeader(requestID, responseID uint32) []byte {
	var b []byte
	if requestID != 0 {
		b = protowire.AppendTag(b, headerRequestIDField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(requestID))
	}
	if responseID != 0 {
		b = protowire.AppendTag(b, headerResponseIDField, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(responseID))
	}
	return b
}

func decodeHeader(b []byte) (requestID, responseID uint32, ok bool) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, false
		}
		b = b[n:]
		switch {
		case num == headerRequestIDField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return 0, 0, false
			}
			requestID = uint32(v)
			b = b[m:]
		case num == headerResponseIDField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return 0, 0, false
			}
			responseID = uint32(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return 0, 0, false
			}
			b = b[m:]
		}
	}
	return requestID, responseID, true
}

// encodeEnvelope builds a RealtimeMessage with the header set for the
// given ids and the body populated on the field belonging to svc.
func encodeEnvelope(requestID, responseID uint32, svc Service, payload []byte) []byte {
	fieldNum, ok := bodyFieldNumbers[svc]
	if !ok {
		fieldNum = bodyFieldNumbers[ServiceConnection]
	}
	var b []byte
	b = protowire.AppendTag(b, headerFieldNumber, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeHeader(requestID, responseID))
	b = protowire.AppendTag(b, fieldNum, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// MakeTell builds a one-way envelope: both header ids zero.
func MakeTell(svc Service, payload []byte) []byte {
	return encodeEnvelope(0, 0, svc, payload)
}

// MakeRequest builds a request envelope carrying requestID in the
// header's request_id field. requestID must be non-zero; callers are
// responsible for that invariant (the promise table never hands out 0).
func MakeRequest(requestID uint32, svc Service, payload []byte) []byte {
	return encodeEnvelope(requestID, 0, svc, payload)
}

// MakeResponse builds a response envelope carrying responseID in the
// header's response_id field, echoing the id of the request it answers.
func MakeResponse(responseID uint32, svc Service, payload []byte) []byte {
	return encodeEnvelope(0, responseID, svc, payload)
}

// Process decodes a raw binary frame into a Frame. A frame with no
// header submessage at all, no recognized body field, an unparseable
// header, or both header ids non-zero, decodes to KindUndefined; the
// caller is expected to log and drop it, keeping the socket open.
//
// The inner service body is not further decoded here: the bytes
// landing in Payload are exactly the bytes the sender placed in the
// body field, which is already the service's own serialized message.
// The routing layer never links against a service's message schema.
func Process(data []byte) Frame {
	var (
		headerBytes []byte
		haveHeader  bool
		bodyField   protowire.Number
		bodyBytes   []byte
		haveBody    bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Frame{Kind: KindUndefined}
		}
		data = data[n:]

		switch {
		case num == headerFieldNumber && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Frame{Kind: KindUndefined}
			}
			headerBytes, haveHeader = v, true
			data = data[m:]
		case isBodyField(num) && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Frame{Kind: KindUndefined}
			}
			bodyField, bodyBytes, haveBody = num, v, true
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return Frame{Kind: KindUndefined}
			}
			data = data[m:]
		}
	}

	if !haveHeader || !haveBody {
		return Frame{Kind: KindUndefined}
	}

	requestID, responseID, ok := decodeHeader(headerBytes)
	if !ok || (requestID != 0 && responseID != 0) {
		return Frame{Kind: KindUndefined}
	}

	svc := serviceFromFieldNumber(bodyField)
	if svc == ServiceUndefined {
		return Frame{Kind: KindUndefined}
	}

	kind := KindTell
	switch {
	case requestID != 0:
		kind = KindRequest
	case responseID != 0:
		kind = KindResponse
	}

	return Frame{
		Kind:       kind,
		Service:    svc,
		RequestID:  requestID,
		ResponseID: responseID,
		Payload:    bodyBytes,
	}
}

func isBodyField(n protowire.Number) bool {
	for _, num := range bodyFieldNumbers {
		if num == n {
			return true
		}
	}
	return false
}
