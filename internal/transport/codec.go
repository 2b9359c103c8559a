package transport

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/fasttravel/realtime/internal/cospace"
	"github.com/fasttravel/realtime/internal/ids"
	"github.com/fasttravel/realtime/internal/protocol"
)

// The cluster boundary serializes every message with the same raw
// protobuf wire primitives the socket envelope uses, so both fabrics
// stay schema-evolvable the same way: unknown fields are skipped, zero
// values are omitted, and either side may grow fields without breaking
// the other.

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, num, 1)
}

// fieldVisitor is called once per decoded field; it returns false when a
// field value is malformed for its declared type.
type fieldVisitor func(num protowire.Number, typ protowire.Type, data []byte) (consumed int, ok bool)

func walkFields(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("transport: malformed field tag")
		}
		b = b[n:]
		m, ok := visit(num, typ, b)
		if !ok {
			return fmt.Errorf("transport: malformed field %d", num)
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("transport: malformed field %d value", num)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(b []byte, out *uint64) (int, bool) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, false
	}
	*out = v
	return n, true
}

func consumeBytes(b []byte, out *[]byte) (int, bool) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, false
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	*out = cp
	return n, true
}

func consumeString(b []byte, out *string) (int, bool) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, false
	}
	*out = string(v)
	return n, true
}

func decodeCospaceID(raw []byte) (ids.CospaceID, error) {
	var id ids.CospaceID
	if len(raw) != len(id) {
		return id, fmt.Errorf("transport: cospace id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// CreateCospaceActor request: {1: cospace id, 2: namespace, 3: workspace}.

func EncodeCreateCospace(id ids.CospaceID, root ids.ModelRoot) []byte {
	var b []byte
	b = appendBytesField(b, 1, id[:])
	b = appendStringField(b, 2, root.Namespace)
	b = appendStringField(b, 3, root.Workspace)
	return b
}

func DecodeCreateCospace(b []byte) (ids.CospaceID, ids.ModelRoot, error) {
	var rawID []byte
	var root ids.ModelRoot
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeBytes(data, &rawID)
		case num == 2 && typ == protowire.BytesType:
			return consumeString(data, &root.Namespace)
		case num == 3 && typ == protowire.BytesType:
			return consumeString(data, &root.Workspace)
		}
		return -1, true
	})
	if err != nil {
		return ids.CospaceID{}, ids.ModelRoot{}, err
	}
	id, err := decodeCospaceID(rawID)
	return id, root, err
}

// CreateCospaceActor reply and other ok/err acknowledgements:
// {1: ok, 2: reason}.

func EncodeAck(ok bool, reason string) []byte {
	var b []byte
	b = appendBoolField(b, 1, ok)
	b = appendStringField(b, 2, reason)
	return b
}

func DecodeAck(b []byte) (ok bool, reason string, err error) {
	err = walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			var v uint64
			n, good := consumeVarint(data, &v)
			ok = v != 0
			return n, good
		case num == 2 && typ == protowire.BytesType:
			return consumeString(data, &reason)
		}
		return -1, true
	})
	return ok, reason, err
}

// Worker registration announce: {1: node id}.

func EncodeRegister(nodeID uint32) []byte {
	return appendVarintField(nil, 1, uint64(nodeID))
}

func DecodeRegister(b []byte) (uint32, error) {
	var nodeID uint64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		if num == 1 && typ == protowire.VarintType {
			return consumeVarint(data, &nodeID)
		}
		return -1, true
	})
	return uint32(nodeID), err
}

// GenerateClientId reply: {1: sequence}.

func EncodeClientSeq(seq uint32) []byte {
	return appendVarintField(nil, 1, uint64(seq))
}

func DecodeClientSeq(b []byte) (uint32, error) {
	var seq uint64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		if num == 1 && typ == protowire.VarintType {
			return consumeVarint(data, &seq)
		}
		return -1, true
	})
	return uint32(seq), err
}

// ClientConnectionMessage: {1: kind, 2: client seq, 3: cospace id}. The
// endpoint's own address never travels: it is derived from the client id
// (one well-known subject per cospace/sequence pair), which is what makes
// the addressing location transparent.

func EncodeConnMessage(kind cospace.ConnKind, client ids.ClientID) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(kind))
	b = appendVarintField(b, 2, uint64(client.Seq))
	b = appendBytesField(b, 3, client.Cospace[:])
	return b
}

func DecodeConnMessage(b []byte) (cospace.ConnKind, ids.ClientID, error) {
	var kind, seq uint64
	var rawID []byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeVarint(data, &kind)
		case num == 2 && typ == protowire.VarintType:
			return consumeVarint(data, &seq)
		case num == 3 && typ == protowire.BytesType:
			return consumeBytes(data, &rawID)
		}
		return -1, true
	})
	if err != nil {
		return 0, ids.ClientID{}, err
	}
	id, err := decodeCospaceID(rawID)
	if err != nil {
		return 0, ids.ClientID{}, err
	}
	return cospace.ConnKind(kind), ids.ClientID{Seq: uint32(seq), Cospace: id}, nil
}

// ClientMessage: {1: client seq, 2: cospace id, 3: ask, 4: ask service,
// 5: recipient service, 6: broadcast, 7: topic, 8: binary payload,
// 9: text payload, 10: is-text}.

func EncodeClientMessage(msg cospace.ClientMessage) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(msg.Client.Seq))
	b = appendBytesField(b, 2, msg.Client.Cospace[:])
	b = appendBoolField(b, 3, msg.Ask)
	b = appendVarintField(b, 4, uint64(msg.AskService))
	b = appendVarintField(b, 5, uint64(msg.To.Service))
	b = appendBoolField(b, 6, msg.To.Broadcast)
	b = appendStringField(b, 7, msg.To.Topic.Label)
	b = appendBytesField(b, 8, msg.Payload.Binary)
	b = appendStringField(b, 9, msg.Payload.Text)
	b = appendBoolField(b, 10, msg.Payload.IsText)
	return b
}

func DecodeClientMessage(b []byte) (cospace.ClientMessage, error) {
	var msg cospace.ClientMessage
	var seq, ask, askSvc, svc, broadcast, isText uint64
	var rawID []byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeVarint(data, &seq)
		case num == 2 && typ == protowire.BytesType:
			return consumeBytes(data, &rawID)
		case num == 3 && typ == protowire.VarintType:
			return consumeVarint(data, &ask)
		case num == 4 && typ == protowire.VarintType:
			return consumeVarint(data, &askSvc)
		case num == 5 && typ == protowire.VarintType:
			return consumeVarint(data, &svc)
		case num == 6 && typ == protowire.VarintType:
			return consumeVarint(data, &broadcast)
		case num == 7 && typ == protowire.BytesType:
			return consumeString(data, &msg.To.Topic.Label)
		case num == 8 && typ == protowire.BytesType:
			return consumeBytes(data, &msg.Payload.Binary)
		case num == 9 && typ == protowire.BytesType:
			return consumeString(data, &msg.Payload.Text)
		case num == 10 && typ == protowire.VarintType:
			return consumeVarint(data, &isText)
		}
		return -1, true
	})
	if err != nil {
		return cospace.ClientMessage{}, err
	}
	id, err := decodeCospaceID(rawID)
	if err != nil {
		return cospace.ClientMessage{}, err
	}
	msg.Client = ids.ClientID{Seq: uint32(seq), Cospace: id}
	msg.Ask = ask != 0
	msg.AskService = protocol.Service(askSvc)
	msg.To.Service = protocol.Service(svc)
	msg.To.Broadcast = broadcast != 0
	msg.Payload.IsText = isText != 0
	return msg, nil
}

// ServiceMessage: {1: sender service, 2: ask, 3: client seq,
// 4: cospace id, 5: broadcast, 6: topic, 7: payload}.

func EncodeServiceMessage(msg cospace.ServiceMessage) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(msg.Sender))
	b = appendBoolField(b, 2, msg.Ask)
	b = appendVarintField(b, 3, uint64(msg.To.Client.Seq))
	b = appendBytesField(b, 4, msg.To.Client.Cospace[:])
	b = appendBoolField(b, 5, msg.To.Broadcast)
	b = appendStringField(b, 6, msg.To.Topic.Label)
	b = appendBytesField(b, 7, msg.Payload)
	return b
}

func DecodeServiceMessage(b []byte) (cospace.ServiceMessage, error) {
	var msg cospace.ServiceMessage
	var sender, ask, seq, broadcast uint64
	var rawID []byte
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeVarint(data, &sender)
		case num == 2 && typ == protowire.VarintType:
			return consumeVarint(data, &ask)
		case num == 3 && typ == protowire.VarintType:
			return consumeVarint(data, &seq)
		case num == 4 && typ == protowire.BytesType:
			return consumeBytes(data, &rawID)
		case num == 5 && typ == protowire.VarintType:
			return consumeVarint(data, &broadcast)
		case num == 6 && typ == protowire.BytesType:
			return consumeString(data, &msg.To.Topic.Label)
		case num == 7 && typ == protowire.BytesType:
			return consumeBytes(data, &msg.Payload)
		}
		return -1, true
	})
	if err != nil {
		return cospace.ServiceMessage{}, err
	}
	id, err := decodeCospaceID(rawID)
	if err != nil {
		return cospace.ServiceMessage{}, err
	}
	msg.Sender = protocol.Service(sender)
	msg.Ask = ask != 0
	msg.To.Client = ids.ClientID{Seq: uint32(seq), Cospace: id}
	msg.To.Broadcast = broadcast != 0
	return msg, nil
}

// Ask results crossing the cluster: {1: payload, 2: timed out}.

func EncodeAskResult(res cospace.AskResult) []byte {
	var b []byte
	b = appendBytesField(b, 1, res.Payload)
	b = appendBoolField(b, 2, res.TimedOut)
	return b
}

func DecodeAskResult(b []byte) (cospace.AskResult, error) {
	var res cospace.AskResult
	var timedOut uint64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, data []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeBytes(data, &res.Payload)
		case num == 2 && typ == protowire.VarintType:
			return consumeVarint(data, &timedOut)
		}
		return -1, true
	})
	res.TimedOut = timedOut != 0
	return res, err
}
