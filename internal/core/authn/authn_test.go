package authn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDesktopModeFixedUserID(t *testing.T) {
	r := New(Config{Enabled: false, DesktopUserID: "operator"})
	id, err := r.ResolveToken("")
	require.NoError(t, err)
	require.Equal(t, "operator", id.UserID)
	require.Equal(t, "local", id.Tenant)
}

func TestDesktopModeGeneratesSessionUUID(t *testing.T) {
	r := New(Config{Enabled: false})
	a, err := r.ResolveToken("")
	require.NoError(t, err)
	b, err := r.ResolveToken("")
	require.NoError(t, err)
	require.NotEqual(t, a.UserID, b.UserID)
}

func TestEnabledModeRejectsMissingToken(t *testing.T) {
	r := New(Config{Enabled: true, JWTSecret: "0123456789012345678901234567890123"})
	_, err := r.ResolveToken("")
	require.ErrorIs(t, err, ErrNoToken)
}

func TestIssueAndResolveToken(t *testing.T) {
	r := New(Config{Enabled: true, JWTSecret: "0123456789012345678901234567890123"})
	token, err := r.IssueToken("tenant-a", "user-1", time.Hour)
	require.NoError(t, err)

	id, err := r.ResolveToken(token)
	require.NoError(t, err)
	require.Equal(t, "tenant-a", id.Tenant)
	require.Equal(t, "user-1", id.UserID)
}

func TestResolveTokenRejectsWrongSecret(t *testing.T) {
	issuer := New(Config{Enabled: true, JWTSecret: "0123456789012345678901234567890123"})
	token, err := issuer.IssueToken("tenant-a", "user-1", time.Hour)
	require.NoError(t, err)

	verifier := New(Config{Enabled: true, JWTSecret: "different-secret-different-secret-x"})
	_, err = verifier.ResolveToken(token)
	require.Error(t, err)
}
