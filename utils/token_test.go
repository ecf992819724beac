package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-access-key"

func sign(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testKey))
	require.NoError(t, err)
	return token
}

func TestCheckAndExtractTokenMetadata(t *testing.T) {
	t.Setenv("JWT_ACCESS_KEY", testKey)
	exp := time.Now().Add(time.Hour).Unix()

	metadata, err := CheckAndExtractTokenMetadata(sign(t, jwt.SigningMethodHS512, jwt.MapClaims{
		"id":  "u1",
		"otp": false,
		"exp": exp,
	}), "JWT_ACCESS_KEY")
	require.NoError(t, err)
	assert.Equal(t, &TokenMetadata{Id: "u1", Otp: false, Exp: exp}, metadata)

	// numeric ids and a missing otp claim are accepted
	metadata, err = CheckAndExtractTokenMetadata(sign(t, jwt.SigningMethodHS512, jwt.MapClaims{
		"id":  42,
		"exp": exp,
	}), "JWT_ACCESS_KEY")
	require.NoError(t, err)
	assert.Equal(t, "42", metadata.Id)
	assert.False(t, metadata.Otp)
}

func TestCheckAndExtractTokenMetadataRejects(t *testing.T) {
	t.Setenv("JWT_ACCESS_KEY", testKey)
	exp := time.Now().Add(time.Hour).Unix()

	_, err := CheckAndExtractTokenMetadata(sign(t, jwt.SigningMethodHS256, jwt.MapClaims{"id": "u1", "exp": exp}), "JWT_ACCESS_KEY")
	assert.Error(t, err, "wrong algorithm")

	_, err = CheckAndExtractTokenMetadata(sign(t, jwt.SigningMethodHS512, jwt.MapClaims{"id": "u1", "exp": time.Now().Add(-time.Minute).Unix()}), "JWT_ACCESS_KEY")
	assert.Error(t, err, "expired")

	_, err = CheckAndExtractTokenMetadata(sign(t, jwt.SigningMethodHS512, jwt.MapClaims{"exp": exp}), "JWT_ACCESS_KEY")
	assert.ErrorIs(t, err, ErrInvalidClaims)

	_, err = CheckAndExtractTokenMetadata("garbage", "JWT_ACCESS_KEY")
	assert.Error(t, err)
}
