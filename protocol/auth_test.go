package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPasswordVerifyRoundTrip(t *testing.T) {
	encoded, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	require.Contains(t, encoded, "$argon2id$")

	ok, err := VerifyPassword(encoded, "correct-horse-battery-staple")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyPasswordRejectsWrongPassword(t *testing.T) {
	encoded, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)

	ok, err := VerifyPassword(encoded, "wrong-password")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCredentialsTableAuthenticate(t *testing.T) {
	table := NewCredentialsTable()
	require.NoError(t, table.SetPassword("alice", "s3cret"))

	ok, err := table.Authenticate("alice", "s3cret")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = table.Authenticate("alice", "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = table.Authenticate("bob", "anything")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSessionTokenRoundTrip(t *testing.T) {
	token := IssueSessionToken("alice")
	require.NotEmpty(t, token)

	username, err := VerifySessionToken(token)
	require.NoError(t, err)
	require.Equal(t, "alice", username)
}

func TestSessionTokenRejectsGarbage(t *testing.T) {
	_, err := VerifySessionToken("not-a-jwt")
	require.Error(t, err)
}
