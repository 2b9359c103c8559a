package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCospaceIDHyphenless(t *testing.T) {
	id := NewCospaceID()
	hex := id.Hyphenless()
	assert.Len(t, hex, 32)
	assert.NotContains(t, hex, "-")

	parsed, err := ParseCospaceID(hex)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseCospaceIDHyphenated(t *testing.T) {
	id := NewCospaceID()
	parsed, err := ParseCospaceID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseCospaceIDRejectsGarbage(t *testing.T) {
	_, err := ParseCospaceID("not-a-uuid")
	assert.Error(t, err)
}

func TestClientIDString(t *testing.T) {
	cospace := NewCospaceID()
	c := ClientID{Seq: 7, Cospace: cospace}
	assert.Contains(t, c.String(), "/7")
	assert.Contains(t, c.String(), cospace.String())
}
