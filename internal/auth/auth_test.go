package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-config/internal/secrets"
)

func TestTokenRoundTrip(t *testing.T) {
	cfg := JWTConfig{Secret: "test-secret", TokenTTL: time.Minute}
	token, err := GenerateToken(cfg, "id-1", "ops", RoleAdmin)
	require.NoError(t, err)

	claims, err := ValidateToken(cfg.Secret, token)
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.UserID)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = ValidateToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = ValidateToken("", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	claims := Claims{
		Username: "ops",
		Role:     RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ValidateToken("test-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	_, err := GenerateToken(JWTConfig{}, "id", "ops", RoleAdmin)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	hash, err := secrets.Hash("correct horse")
	require.NoError(t, err)
	svc := NewService([]Operator{{Username: "ops", PasswordHash: hash}}, JWTConfig{Secret: "s"})

	token, err := svc.Login(context.Background(), "ops", "correct horse")
	require.NoError(t, err)
	claims, err := ValidateToken(svc.Secret(), token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, err = svc.Login(context.Background(), "ops", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(context.Background(), "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
