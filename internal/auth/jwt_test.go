package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)

	token, err := v.Issue(Identity{UserID: 123, Email: "a@b.test", Name: "Ada", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	id, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(123), id.UserID.Int64())
	assert.Equal(t, "a@b.test", id.Email)
	assert.Equal(t, RoleAdmin, id.Role)
	assert.True(t, id.IsStaff())
}

func TestParseDefaultsToCustomer(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)
	token, err := v.Issue(Identity{UserID: 9}, time.Hour)
	require.NoError(t, err)

	id, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, id.Role)
	assert.False(t, id.IsStaff())
}

func TestParseRejects(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)
	other, err := NewVerifier("other")
	require.NoError(t, err)

	foreign, err := other.Issue(Identity{UserID: 1}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Issue(Identity{UserID: 1}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	badRole, err := v.Issue(Identity{UserID: 1, Role: "root"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(badRole)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Parse(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Parse(none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Parse("  ")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = NewVerifier(" ")
	assert.ErrorIs(t, err, ErrNoSecret)
}
