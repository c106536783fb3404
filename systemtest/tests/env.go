// Package tests holds the system scenarios run against a server backed by a
// real Postgres database.
package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-config/pkg/settings"
)

type Env struct {
	Router    *gin.Engine
	URL       string
	APIKey    string
	JWTSecret string
	Pool      *pgxpool.Pool
}

func (e *Env) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.Router.ServeHTTP(rr, req)
	return rr
}

func (e *Env) admin(method, path string, body any) *httptest.ResponseRecorder {
	return e.do(method, path, body, "X-API-Key", e.APIKey)
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func appSchema(t *testing.T) settings.Schema {
	t.Helper()
	b := settings.NewSchemaBuilder()
	b.String("db.host", "localhost").Group("database").Required()
	b.Int("db.port", 5432).Group("database").Range(1, 65535)
	b.Bool("feature.beta", false)
	b.String("api.token", "").Secret()
	schema, err := b.Build()
	require.NoError(t, err)
	return schema
}
