package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-32bytes-padded!!"

func TestGenerateToken_Valid(t *testing.T) {
	tok, err := GenerateToken("p-42", nil, testSecret, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
}

func TestGenerateToken_EmptyPlayer(t *testing.T) {
	_, err := GenerateToken("", nil, testSecret, time.Hour)
	assert.Error(t, err)
}

func TestParseToken_Valid(t *testing.T) {
	tok, err := GenerateToken("p-99", []string{"quest.stone"}, testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "p-99", claims.PlayerID)
	assert.Equal(t, []string{"quest.stone"}, claims.Permissions)
	assert.Equal(t, "p-99", claims.Subject)
}

func TestParseToken_WrongSecret(t *testing.T) {
	tok, err := GenerateToken("p", nil, testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(tok, "wrong-secret")
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	tok, err := GenerateToken("p", nil, testSecret, -time.Second)
	require.NoError(t, err)

	_, err = ParseToken(tok, testSecret)
	assert.Error(t, err)
}

func TestParseToken_Malformed(t *testing.T) {
	_, err := ParseToken("not.a.jwt", testSecret)
	assert.Error(t, err)
}

func TestParseToken_Empty(t *testing.T) {
	_, err := ParseToken("", testSecret)
	assert.Error(t, err)
}

func TestGenerateToken_DifferentPlayers(t *testing.T) {
	t1, _ := GenerateToken("a", nil, testSecret, time.Hour)
	t2, _ := GenerateToken("b", nil, testSecret, time.Hour)
	assert.NotEqual(t, t1, t2)

	c1, _ := ParseToken(t1, testSecret)
	c2, _ := ParseToken(t2, testSecret)
	assert.Equal(t, "a", c1.PlayerID)
	assert.Equal(t, "b", c2.PlayerID)
}
