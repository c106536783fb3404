// Package liveness tracks which client run-sessions and server instances are
// alive, based on their heartbeats.
package liveness

import "time"

type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
)

// HostMeta is process metadata reported with a heartbeat.
type HostMeta struct {
	Hostname    string `json:"hostname,omitempty"`
	IP          string `json:"ip,omitempty"`
	MemoryBytes int64  `json:"memory_bytes,omitempty"`
	Version     string `json:"version,omitempty"`
}

// ClientRunSession is one process lifetime of a client. Generation grows by
// one each time a demoted session id heartbeats again.
type ClientRunSession struct {
	ID                string        `json:"id"`
	Generation        int           `json:"generation"`
	ClientName        string        `json:"client_name"`
	Instance          string        `json:"instance,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	LastSeen          time.Time     `json:"last_seen"`
	PollInterval      time.Duration `json:"poll_interval"`
	LiveReload        bool          `json:"live_reload"`
	LastSettingUpdate time.Time     `json:"last_setting_update,omitempty"`
	Host              HostMeta      `json:"host"`
	State             State         `json:"state"`
}

// ApiInstanceStatus is the liveness record of one server replica.
type ApiInstanceStatus struct {
	RuntimeID  string    `json:"runtime_id"`
	Generation int       `json:"generation"`
	StartedAt  time.Time `json:"started_at"`
	LastSeen   time.Time `json:"last_seen"`
	Host       HostMeta  `json:"host"`
	State      State     `json:"state"`
}

// ClientHeartbeat is what a run-session reports on each poll.
type ClientHeartbeat struct {
	SessionID       string
	ClientName      string
	Instance        string
	Uptime          time.Duration
	LastLocalUpdate time.Time
	PollInterval    time.Duration
	LiveReload      bool
	Host            HostMeta
}
