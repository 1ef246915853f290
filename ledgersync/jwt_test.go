package ledgersync

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestJWTAuth_GenerateAndValidate(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("user-123", "device-456", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtAuth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "device-456", claims.DeviceID)
	require.Equal(t, "user-123", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 2*time.Second)
}

func TestJWTAuth_ValidateToken_Failures(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	expired, err := jwtAuth.GenerateToken("user", "device", -time.Hour)
	require.NoError(t, err)
	_, err = jwtAuth.ValidateToken(expired)
	require.Error(t, err)

	otherSecret, err := NewJWTAuth("other-secret").GenerateToken("user", "device", time.Hour)
	require.NoError(t, err)
	_, err = jwtAuth.ValidateToken(otherSecret)
	require.Error(t, err)

	noDevice := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := noDevice.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = jwtAuth.ValidateToken(signed)
	require.ErrorContains(t, err, "did")

	_, err = jwtAuth.ValidateToken("garbage")
	require.Error(t, err)
}

func TestJWTAuth_Principal(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("shop-1", "till", time.Minute)
	require.NoError(t, err)
	p, err := jwtAuth.Principal(token)
	require.NoError(t, err)
	require.Equal(t, "shop-1", p.Owner)
	require.Equal(t, "till", p.Device)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &JWTClaims{DeviceID: "till"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = jwtAuth.Principal(unsigned)
	require.ErrorIs(t, err, ErrUnauthorized)
}
