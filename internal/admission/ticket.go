// Package admission implements the session-admission ticket chain:
// a host ticket authorizes scheduling a cospace, a status ticket
// authorizes a status lookup, a query ticket authorizes the WebSocket
// upgrade, and a message ticket authorizes the first-frame handshake.
// All four are ES256-signed JWTs issued by an external session
// authority; this package only verifies them against a preloaded public
// key, pinning the signing algorithm before trusting any claim.
package admission

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Audience values for the four ticket types.
const (
	AudienceRealtime = "realtime"
	AudienceStatus   = "status"
	AudienceQuery    = "query"
	AudienceMessage  = "message"
)

// Subject values the ticket chain expects.
const (
	SubjectCertificate = "certificate"
	SubjectSDK         = "sdk"
)

// Claims is the registered-claims-only payload every ticket carries; the
// session authority is free to add its own private claims, but the core
// never reads them.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator verifies tickets against a single preloaded ES256 public
// key preloaded at startup. A Validator is safe for
// concurrent use.
type Validator struct {
	key *ecdsa.PublicKey
}

// NewValidator builds a Validator from an already-parsed ECDSA public
// key. Missing key material is fatal at startup, never at request time.
func NewValidator(key *ecdsa.PublicKey) *Validator {
	return &Validator{key: key}
}

// Validate parses tokenString, verifies its signature, and checks that
// its subject and audience match sub/aud exactly. Expiration is enforced
// by the jwt library's own claim validation.
func (v *Validator) Validate(tokenString, sub, aud string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("admission: unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		return nil, fmt.Errorf("admission: parse ticket: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("admission: ticket not valid")
	}
	if claims.Subject != sub {
		return nil, fmt.Errorf("admission: unexpected subject %q", claims.Subject)
	}
	if !hasAudience(claims.Audience, aud) {
		return nil, fmt.Errorf("admission: unexpected audience %v", claims.Audience)
	}
	return claims, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

// ValidateHostTicket implements the /realtime/host/ boundary check
// (sub=certificate, aud=realtime).
func (v *Validator) ValidateHostTicket(tokenString string) (*Claims, error) {
	return v.Validate(tokenString, SubjectCertificate, AudienceRealtime)
}

// ValidateStatusTicket implements the /realtime/status/:cospace boundary
// check (sub=sdk, aud=status).
func (v *Validator) ValidateStatusTicket(tokenString string) (*Claims, error) {
	return v.Validate(tokenString, SubjectSDK, AudienceStatus)
}

// ValidateQueryTicket implements the /realtime/connect/:cospace boundary
// check (sub=sdk, aud=query).
func (v *Validator) ValidateQueryTicket(tokenString string) (*Claims, error) {
	return v.Validate(tokenString, SubjectSDK, AudienceQuery)
}

// ValidateMessageTicket implements the first-socket-message handshake
// check (sub=sdk, aud=message). It reports only success/failure, the
// surface the Connection Service Actor needs to fill HandshakeRes.success
// without propagating validation error detail across the socket.
func (v *Validator) ValidateMessageTicket(tokenString string) bool {
	_, err := v.Validate(tokenString, SubjectSDK, AudienceMessage)
	return err == nil
}
