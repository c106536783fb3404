package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-config/pkg/settings"
	"github.com/EternisAI/silo-config/pkg/syncagent"
)

type settingsView struct {
	ClientName   string            `json:"client_name"`
	Instance     string            `json:"instance,omitempty"`
	Provenance   string            `json:"provenance"`
	ChangedAt    string            `json:"changed_at"`
	PollInterval string            `json:"poll_interval"`
	LiveReload   bool              `json:"live_reload"`
	SessionID    string            `json:"session_id"`
	Values       map[string]string `json:"values"`
}

// setupRoutes exposes what the embedded agent currently holds. Secret
// settings are masked.
func setupRoutes(engine *gin.Engine, agent *syncagent.Agent, schema settings.Schema) {
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/settings", func(c *gin.Context) {
		snap := agent.Snapshot()
		if snap == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no settings loaded"})
			return
		}
		values := make(map[string]string, len(snap.Values))
		for name, v := range snap.Values {
			if def, ok := schema.Lookup(name); ok && def.Secret && !v.IsZero() {
				values[name] = "********"
				continue
			}
			values[name] = v.String()
		}
		c.JSON(http.StatusOK, settingsView{
			ClientName:   snap.ClientName,
			Instance:     snap.Instance,
			Provenance:   string(snap.Provenance),
			ChangedAt:    snap.ChangedAt.Format(time.RFC3339),
			PollInterval: agent.Interval().String(),
			LiveReload:   agent.LiveReload(),
			SessionID:    agent.SessionID(),
			Values:       values,
		})
	})
}
