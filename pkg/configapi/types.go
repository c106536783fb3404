// Package configapi holds the request and response messages exchanged between
// config clients and the server, over both HTTP and gRPC.
package configapi

import (
	"time"

	"github.com/EternisAI/silo-config/pkg/settings"
)

const (
	RegisterPath          = "/api/v1/clients/register"
	HeartbeatPath         = "/api/v1/clients/heartbeat"
	ValuesPath            = "/api/v1/clients/values"
	InstanceHeartbeatPath = "/api/v1/instances/heartbeat"
)

type HostInfo struct {
	Hostname    string `json:"hostname,omitempty"`
	IP          string `json:"ip,omitempty"`
	MemoryBytes uint64 `json:"memory_bytes,omitempty"`
	Version     string `json:"version,omitempty"`
}

type RegisterRequest struct {
	ClientName string          `json:"client_name" binding:"required"`
	Instance   string          `json:"instance,omitempty"`
	Secret     string          `json:"secret" binding:"required"`
	Schema     settings.Schema `json:"schema"`
	Hostname   string          `json:"hostname,omitempty"`
}

type RegisterResponse struct {
	Status        string    `json:"status"`
	Outcome       string    `json:"outcome"`
	Added         []string  `json:"added,omitempty"`
	Removed       []string  `json:"removed,omitempty"`
	Changed       []string  `json:"changed,omitempty"`
	Metadata      []string  `json:"metadata,omitempty"`
	SchemaVersion int       `json:"schema_version"`
	ChangedAt     time.Time `json:"changed_at"`
}

type HeartbeatRequest struct {
	ClientName      string    `json:"client_name" binding:"required"`
	Instance        string    `json:"instance,omitempty"`
	Secret          string    `json:"secret" binding:"required"`
	SessionID       string    `json:"session_id" binding:"required"`
	UptimeMs        int64     `json:"uptime_ms"`
	LastLocalUpdate time.Time `json:"last_local_update"`
	PollIntervalMs  int64     `json:"poll_interval_ms"`
	LiveReload      bool      `json:"live_reload"`
	Host            HostInfo  `json:"host"`
}

type HeartbeatResponse struct {
	PollIntervalMs  int64     `json:"poll_interval_ms"`
	LiveReload      bool      `json:"live_reload"`
	UpdateAvailable bool      `json:"update_available"`
	ChangedAt       time.Time `json:"changed_at"`
}

type ValuesRequest struct {
	ClientName string `json:"client_name" binding:"required"`
	Instance   string `json:"instance,omitempty"`
	Secret     string `json:"secret" binding:"required"`
}

type ValuesResponse struct {
	Values        settings.Values `json:"values"`
	ChangedAt     time.Time       `json:"changed_at"`
	LiveReload    bool            `json:"live_reload"`
	SchemaVersion int             `json:"schema_version"`
}

type InstanceHeartbeatRequest struct {
	RuntimeID string   `json:"runtime_id" binding:"required"`
	Host      HostInfo `json:"host"`
}

type InstanceHeartbeatResponse struct {
	Generation int `json:"generation"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

func FromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
