package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	t.Setenv("JWT_SECRET", "unit-test-secret")

	token, err := Generate("alice", time.Minute)
	require.NoError(t, err)
	claims, err := Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.PeerID())

	expired, err := Generate("alice", -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired)
	assert.ErrorIs(t, err, ErrInvalid)

	t.Setenv("JWT_SECRET", "rotated")
	_, err = Parse(token)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyPeer(t *testing.T) {
	t.Setenv("JWT_SECRET", "unit-test-secret")

	token, err := Generate("alice", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, VerifyPeer("alice", token, ""))
	assert.ErrorIs(t, VerifyPeer("bob", token, ""), ErrInvalid)

	hash, err := HashToken("s3cret")
	require.NoError(t, err)
	assert.NoError(t, VerifyPeer("bob", "s3cret", hash))
	assert.ErrorIs(t, VerifyPeer("bob", "wrong", hash), ErrInvalid)
	assert.ErrorIs(t, VerifyPeer("bob", "s3cret", ""), ErrInvalid)
	assert.ErrorIs(t, VerifyPeer("bob", "", hash), ErrInvalid)
}
