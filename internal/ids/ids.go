// Package ids defines the identifier types shared across the cluster:
// cospace identity, per-cospace client numbering, and the opaque
// model-root key a cospace is bound to.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// CospaceID is a globally-unique identifier for a collaboration space.
type CospaceID uuid.UUID

// NewCospaceID generates a fresh v4 CospaceID.
func NewCospaceID() CospaceID {
	return CospaceID(uuid.New())
}

// ParseCospaceID parses a UUID in either hyphenated or hyphenless form.
func ParseCospaceID(s string) (CospaceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CospaceID{}, fmt.Errorf("parse cospace id: %w", err)
	}
	return CospaceID(u), nil
}

// String returns the hyphenated form.
func (c CospaceID) String() string {
	return uuid.UUID(c).String()
}

// Hyphenless returns the 32-hex-character form returned by the
// /realtime/host/ HTTP endpoint.
func (c CospaceID) Hyphenless() string {
	u := uuid.UUID(c)
	return fmt.Sprintf("%x", u[:])
}

// ModelRoot identifies the persistent object tree a cospace hosts. It
// is opaque to the core: used only as an identity key, never
// interpreted.
type ModelRoot struct {
	Namespace string
	Workspace string
}

func (m ModelRoot) String() string {
	return m.Namespace + "/" + m.Workspace
}

// ClientID identifies one connected client within one cospace. The
// sequence number is assigned by the owning Cospace Actor starting at
// 1; it is never reused within the cospace's lifetime.
type ClientID struct {
	Seq     uint32
	Cospace CospaceID
}

func (c ClientID) String() string {
	return fmt.Sprintf("%s/%d", c.Cospace, c.Seq)
}
