package protocol

import "google.golang.org/protobuf/encoding/protowire"

// HandshakeReq is the body of the first socket message a client sends:
// a Request(Connection, ...) carrying the message ticket issued for
// this socket.
type HandshakeReq struct {
	Ticket string
}

// HandshakeRes is the Connection service's reply to HandshakeReq.
type HandshakeRes struct {
	Success bool
}

const (
	handshakeReqTicketField  protowire.Number = 1
	handshakeResSuccessField protowire.Number = 1
)

// EncodeHandshakeReq serializes a HandshakeReq body.
func EncodeHandshakeReq(req HandshakeReq) []byte {
	if req.Ticket == "" {
		return nil
	}
	var b []byte
	b = protowire.AppendTag(b, handshakeReqTicketField, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(req.Ticket))
	return b
}

// DecodeHandshakeReq parses a HandshakeReq body. A missing ticket
// field decodes to an empty string, matching proto3 default-value
// semantics; the caller's validation rejects an empty ticket as
// MissingCredentials.
func DecodeHandshakeReq(payload []byte) (HandshakeReq, bool) {
	var req HandshakeReq
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return HandshakeReq{}, false
		}
		b = b[n:]
		if num == handshakeReqTicketField && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return HandshakeReq{}, false
			}
			req.Ticket = string(v)
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return HandshakeReq{}, false
		}
		b = b[m:]
	}
	return req, true
}

// EncodeHandshakeRes serializes a HandshakeRes body.
func EncodeHandshakeRes(res HandshakeRes) []byte {
	if !res.Success {
		return nil
	}
	var b []byte
	b = protowire.AppendTag(b, handshakeResSuccessField, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	return b
}

// DecodeHandshakeRes parses a HandshakeRes body.
func DecodeHandshakeRes(payload []byte) (HandshakeRes, bool) {
	var res HandshakeRes
	b := payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return HandshakeRes{}, false
		}
		b = b[n:]
		if num == handshakeResSuccessField && typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return HandshakeRes{}, false
			}
			res.Success = v != 0
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return HandshakeRes{}, false
		}
		b = b[m:]
	}
	return res, true
}
