package service_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/puppals/mediastore/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)

	token, err := auth.GenerateJWT("U1")
	require.NoError(t, err)

	id, err := auth.UserID(token)
	require.NoError(t, err)
	assert.Equal(t, "U1", id)
}

func TestAuthService_Rejects(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)

	other, err := service.NewAuthService("other", time.Hour).GenerateJWT("U1")
	require.NoError(t, err)
	expired, err := service.NewAuthService("secret", -time.Minute).GenerateJWT("U1")
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "U1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": other,
		"expired":      expired,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := auth.UserID(token)
			assert.ErrorIs(t, err, service.ErrInvalidToken)
		})
	}
}

func TestAuthService_LegacyUserIDClaim(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "U9",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := auth.UserID(token)
	require.NoError(t, err)
	assert.Equal(t, "U9", id)
}
