package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("u1", RoleParticipant, "Ada", "ada@example.com", "focusattend", "secret", time.Minute, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, "secret", "focusattend")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, RoleParticipant, claims.Role)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, "ada@example.com", claims.Contact)
}

func TestIssue_RejectsUnknownRole(t *testing.T) {
	_, err := Issue("u1", "admin", "", "", "focusattend", "secret", time.Minute, time.Hour)
	assert.Error(t, err)
}

func TestParse_RejectsWrongKey(t *testing.T) {
	pair, err := Issue("u1", RoleOwner, "", "", "focusattend", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other", "focusattend")
	assert.Error(t, err)
}

func TestParse_RejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("u1", RoleOwner, "", "", "someone-else", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "focusattend")
	assert.Error(t, err)
}

func TestParse_RejectsExpired(t *testing.T) {
	pair, err := Issue("u1", RoleOwner, "", "", "focusattend", "secret", -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "focusattend")
	assert.Error(t, err)
}
