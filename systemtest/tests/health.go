package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/EternisAI/silo-config/internal/api/http/dto"
)

func TestHealthCheck(t *testing.T, env *Env) {
	rr := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[dto.HealthResponse](t, rr).Status)
}
