package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueThenVerifyRoundTrips(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	token, err := issuer.Issue(42)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := issuer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", -time.Hour)

	token, err := issuer.Issue(1)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	issued, err := NewTokenIssuer("secret-a", time.Hour).Issue(1)
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret-b", time.Hour).Verify(issued)
	require.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	_, err := issuer.Verify("not-a-jwt")
	require.Error(t, err)
}
