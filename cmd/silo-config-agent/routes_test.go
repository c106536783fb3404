package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-config/pkg/configapi"
	"github.com/EternisAI/silo-config/pkg/settings"
	"github.com/EternisAI/silo-config/pkg/syncagent"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticTransport struct {
	values settings.Values
}

func (s staticTransport) Register(context.Context, *configapi.RegisterRequest) (*configapi.RegisterResponse, error) {
	return &configapi.RegisterResponse{Status: "no_existing_registration", Outcome: "initial_registration"}, nil
}

func (s staticTransport) Heartbeat(context.Context, *configapi.HeartbeatRequest) (*configapi.HeartbeatResponse, error) {
	return &configapi.HeartbeatResponse{}, nil
}

func (s staticTransport) Values(context.Context, *configapi.ValuesRequest) (*configapi.ValuesResponse, error) {
	return &configapi.ValuesResponse{Values: s.values, ChangedAt: time.Now(), LiveReload: true}, nil
}

func TestSettingsRouteMasksSecrets(t *testing.T) {
	schema, err := settings.ParseSchemaYAML([]byte(`
settings:
  - name: db.host
    kind: string
    default: localhost
  - name: db.password
    kind: string
    secret: true
`))
	require.NoError(t, err)

	agent, err := syncagent.New(syncagent.Config{
		ClientName:   "shop",
		Secret:       "pw",
		Schema:       schema,
		PollInterval: time.Hour,
	}, staticTransport{values: settings.Values{
		"db.host":     settings.StringValue("db.internal"),
		"db.password": settings.StringValue("hunter2"),
	}})
	require.NoError(t, err)

	engine := gin.New()
	setupRoutes(engine, agent, schema)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/settings", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "nothing loaded before Start")

	require.NoError(t, agent.Start(context.Background()))
	defer agent.Stop()

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var view settingsView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "db.internal", view.Values["db.host"])
	assert.Equal(t, "********", view.Values["db.password"])
	assert.Equal(t, "server", view.Provenance)
	assert.NotContains(t, w.Body.String(), "hunter2")
}
