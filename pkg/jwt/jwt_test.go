package jwt

import (
	"testing"
	"time"

	"breezy-server/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:     "test-secret",
		ExpireTime: time.Hour,
		Issuer:     "breezy",
	})
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := testService()

	token, err := svc.GenerateToken("u1", "sess1", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "sess1", claims.SessionID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "breezy", claims.Issuer)
}

func TestGenerateTokenRequiresIDs(t *testing.T) {
	svc := testService()

	_, err := svc.GenerateToken("", "sess1", "alice")
	assert.Error(t, err)
	_, err = svc.GenerateToken("u1", "", "alice")
	assert.Error(t, err)
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc := testService()
	token, err := svc.GenerateToken("u1", "sess1", "alice")
	require.NoError(t, err)

	_, err = svc.ValidateToken("")
	assert.Error(t, err)
	_, err = svc.ValidateToken(token + "x")
	assert.Error(t, err)

	// 密钥不同的服务签出的token必须被拒
	other := NewJWTService(config.JWTConfig{
		Secret:     "another-secret",
		ExpireTime: time.Hour,
		Issuer:     "breezy",
	})
	otherToken, err := other.GenerateToken("u1", "sess1", "alice")
	require.NoError(t, err)
	_, err = svc.ValidateToken(otherToken)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{
		Secret:     "test-secret",
		ExpireTime: -time.Minute,
		Issuer:     "breezy",
	})
	token, err := svc.GenerateToken("u1", "sess1", "alice")
	require.NoError(t, err)

	_, err = testService().ValidateToken(token)
	assert.Error(t, err)
}

func TestVerifyAdaptsClaims(t *testing.T) {
	svc := testService()
	token, err := svc.GenerateToken("u1", "sess1", "alice")
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "sess1", claims.SessionID)
	assert.False(t, claims.IssuedAt.IsZero())
}
