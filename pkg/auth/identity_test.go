package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmailFromIDToken(t *testing.T) {
	token := forgeIDToken(t, map[string]interface{}{"email": "user@example.com", "sub": "1234"})
	assert.Equal(t, "user@example.com", EmailFromIDToken(token))
}

func TestEmailFromIDToken_NoEmailClaim(t *testing.T) {
	token := forgeIDToken(t, map[string]interface{}{"sub": "1234"})
	assert.Equal(t, "", EmailFromIDToken(token))
}

func TestEmailFromIDToken_Malformed(t *testing.T) {
	assert.Equal(t, "", EmailFromIDToken(""))
	assert.Equal(t, "", EmailFromIDToken("not-a-jwt"))
	assert.Equal(t, "", EmailFromIDToken("a.b"))
	assert.Equal(t, "", EmailFromIDToken("!!!.###.%%%"))
}
