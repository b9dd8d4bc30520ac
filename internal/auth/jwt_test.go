package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	ts := TokenService{
		Secret:   []byte("test-secret"),
		Issuer:   "readhub-test",
		Duration: time.Hour,
	}

	u := &User{ID: "u1", Username: "reader", TokenVersion: 3}

	signed, exp, err := ts.Sign(u)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := ts.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "reader", claims.Username)
	assert.Equal(t, 3, claims.TokenVersion)
	assert.Equal(t, "readhub-test", claims.Issuer)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	ts := TokenService{Secret: []byte("right"), Issuer: "readhub-test", Duration: time.Hour}
	other := TokenService{Secret: []byte("wrong"), Issuer: "readhub-test", Duration: time.Hour}

	signed, _, err := ts.Sign(&User{ID: "u1", Username: "reader"})
	require.NoError(t, err)

	_, err = other.Parse(signed)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	ts := TokenService{Secret: []byte("test-secret"), Issuer: "readhub-test", Duration: -time.Minute}

	signed, _, err := ts.Sign(&User{ID: "u1", Username: "reader"})
	require.NoError(t, err)

	_, err = ts.Parse(signed)
	assert.Error(t, err)
}
