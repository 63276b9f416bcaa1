package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/Daskott/guardian/server/auth/key"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
)

func testKeyPair(t *testing.T) *key.KeyPair {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.Nil(t, err)

	return &key.KeyPair{
		Kid:        "test-key-id",
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}
}

func TestEncodeDecodeJWT(t *testing.T) {
	keyPair := testKeyPair(t)

	claims := GuardianTokenClaims{
		IsAdmin: true,
		StandardClaims: jwt.StandardClaims{
			Subject:   "1",
			Issuer:    "guardian",
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(time.Minute).Unix(),
		},
	}

	tokenString, err := EncodeJWT(claims, keyPair)
	assert.Nil(t, err)
	assert.NotEmpty(t, tokenString)

	decoded, err := DecodeJWT(tokenString, keyPair)
	assert.Nil(t, err)
	assert.Equal(t, "1", decoded.Subject)
	assert.True(t, decoded.IsAdmin)
}

func TestDecodeJWTRejectsExpiredToken(t *testing.T) {
	keyPair := testKeyPair(t)

	claims := GuardianTokenClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   "1",
			ExpiresAt: time.Now().Add(-time.Minute).Unix(),
		},
	}

	tokenString, err := EncodeJWT(claims, keyPair)
	assert.Nil(t, err)

	_, err = DecodeJWT(tokenString, keyPair)
	assert.NotNil(t, err, "An expired token should not decode")
}

func TestDecodeJWTRejectsTokenFromAnotherKey(t *testing.T) {
	keyPair := testKeyPair(t)
	otherKeyPair := testKeyPair(t)

	claims := GuardianTokenClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   "1",
			ExpiresAt: time.Now().Add(time.Minute).Unix(),
		},
	}

	tokenString, err := EncodeJWT(claims, otherKeyPair)
	assert.Nil(t, err)

	_, err = DecodeJWT(tokenString, keyPair)
	assert.NotNil(t, err, "A token signed with a different key should not decode")
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("very-secure")
	assert.Nil(t, err)
	assert.NotEqual(t, "very-secure", hash)

	assert.True(t, CheckPasswordHash("very-secure", hash))
	assert.False(t, CheckPasswordHash("not-the-password", hash))
}

func TestRefreshToken(t *testing.T) {
	token, hashHex, err := GenerateRefreshToken()
	assert.Nil(t, err)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, token, hashHex, "Only the hash should be persisted")
	assert.Equal(t, hashHex, HashRefreshToken(token))

	otherToken, otherHash, err := GenerateRefreshToken()
	assert.Nil(t, err)
	assert.NotEqual(t, token, otherToken)
	assert.NotEqual(t, hashHex, otherHash)
}
