package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-config/internal/api/http/dto"
	"github.com/EternisAI/silo-config/internal/auth"
)

func TestOperatorLogin(t *testing.T, env *Env) {
	t.Run("wrong password", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{Username: "root", Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("token grants admin access", func(t *testing.T) {
		rr := env.do(http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{Username: "root", Password: "changeme"})
		require.Equal(t, http.StatusOK, rr.Code)
		token := decode[dto.LoginResponse](t, rr).Token

		claims, err := auth.ValidateToken(env.JWTSecret, token)
		require.NoError(t, err)
		assert.Equal(t, "root", claims.Username)
		assert.Equal(t, auth.RoleAdmin, claims.Role)

		rr = env.do(http.MethodGet, "/api/v1/admin/clients", nil, "Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("no credentials", func(t *testing.T) {
		rr := env.do(http.MethodGet, "/api/v1/admin/clients", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
