package admission

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeyPair(t *testing.T) (*ecdsa.PrivateKey, *Validator) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key, NewValidator(&key.PublicKey)
}

func signTicket(t *testing.T, key *ecdsa.PrivateKey, sub, aud string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Subject:   sub,
		Audience:  jwt.ClaimStrings{aud},
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestTicketChainAudiences(t *testing.T) {
	key, v := newKeyPair(t)
	exp := time.Now().Add(time.Minute)

	_, err := v.ValidateHostTicket(signTicket(t, key, SubjectCertificate, AudienceRealtime, exp))
	assert.NoError(t, err)

	_, err = v.ValidateStatusTicket(signTicket(t, key, SubjectSDK, AudienceStatus, exp))
	assert.NoError(t, err)

	_, err = v.ValidateQueryTicket(signTicket(t, key, SubjectSDK, AudienceQuery, exp))
	assert.NoError(t, err)

	assert.True(t, v.ValidateMessageTicket(signTicket(t, key, SubjectSDK, AudienceMessage, exp)))
}

func TestWrongAudienceRejected(t *testing.T) {
	key, v := newKeyPair(t)
	exp := time.Now().Add(time.Minute)

	// A query ticket must not pass as a message ticket, and vice versa.
	assert.False(t, v.ValidateMessageTicket(signTicket(t, key, SubjectSDK, AudienceQuery, exp)))
	_, err := v.ValidateQueryTicket(signTicket(t, key, SubjectSDK, AudienceMessage, exp))
	assert.Error(t, err)
}

func TestWrongSubjectRejected(t *testing.T) {
	key, v := newKeyPair(t)
	exp := time.Now().Add(time.Minute)

	_, err := v.ValidateHostTicket(signTicket(t, key, SubjectSDK, AudienceRealtime, exp))
	assert.Error(t, err)
}

func TestExpiredTicketRejected(t *testing.T) {
	key, v := newKeyPair(t)

	expired := signTicket(t, key, SubjectSDK, AudienceMessage, time.Now().Add(-time.Minute))
	assert.False(t, v.ValidateMessageTicket(expired))
}

func TestForeignKeyRejected(t *testing.T) {
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	_, v := newKeyPair(t)

	forged := signTicket(t, otherKey, SubjectSDK, AudienceMessage, time.Now().Add(time.Minute))
	assert.False(t, v.ValidateMessageTicket(forged))
}

func TestNonECDSAAlgorithmRejected(t *testing.T) {
	_, v := newKeyPair(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   SubjectSDK,
		Audience:  jwt.ClaimStrings{AudienceMessage},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	assert.False(t, v.ValidateMessageTicket(signed))
}

func TestGarbageTicketRejected(t *testing.T) {
	_, v := newKeyPair(t)
	assert.False(t, v.ValidateMessageTicket("not.a.jwt"))
}
