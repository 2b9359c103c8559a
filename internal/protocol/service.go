// Package protocol implements the wire envelope and per-service payload
// encoding shared by every node in the cluster: the frame codec that
// turns binary socket frames into typed Tell/Request/Response messages
// tagged by service.
package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Service identifies which service-actor pool a frame's payload belongs
// to. The zero value, ServiceUndefined, is never produced by a
// successful decode; it exists so a missing or unrecognized body field
// number has a safe zero value to report.
type Service uint8

const (
	ServiceUndefined Service = iota
	ServiceConnection
	ServiceCore
	ServicePresence
	ServiceActivity
	ServiceModel
)

func (s Service) String() string {
	switch s {
	case ServiceConnection:
		return "connection"
	case ServiceCore:
		return "core"
	case ServicePresence:
		return "presence"
	case ServiceActivity:
		return "activity"
	case ServiceModel:
		return "model"
	default:
		return "undefined"
	}
}

// bodyFieldNumbers maps each service to the protobuf field number its
// body occupies in the RealtimeMessage envelope (field 1 is reserved
// for the header submessage).
var bodyFieldNumbers = map[Service]protowire.Number{
	ServiceConnection: 2,
	ServiceCore:       3,
	ServicePresence:   4,
	ServiceActivity:   5,
	ServiceModel:      6,
}

func serviceFromFieldNumber(n protowire.Number) Service {
	for svc, num := range bodyFieldNumbers {
		if num == n {
			return svc
		}
	}
	return ServiceUndefined
}
