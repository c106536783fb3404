package liveness

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// SelfReporter heartbeats the running server's own ApiInstanceStatus.
type SelfReporter struct {
	tracker   *Tracker
	runtimeID string
	host      HostMeta
	interval  time.Duration
}

func NewSelfReporter(tracker *Tracker, version, ip string) *SelfReporter {
	hostname, _ := os.Hostname()
	return &SelfReporter{
		tracker:   tracker,
		runtimeID: uuid.NewString(),
		host: HostMeta{
			Hostname: hostname,
			IP:       ip,
			Version:  version,
		},
		interval: tracker.Config().InstanceHeartbeatInterval,
	}
}

func (r *SelfReporter) RuntimeID() string { return r.runtimeID }

func (r *SelfReporter) beat() ApiInstanceStatus {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	host := r.host
	host.MemoryBytes = int64(mem.Sys)
	return r.tracker.InstanceHeartbeat(r.runtimeID, host)
}

// Run reports immediately and then once per heartbeat interval until ctx is
// cancelled.
func (r *SelfReporter) Run(ctx context.Context) {
	r.beat()
	slog.Info("API instance self-reporting started", "runtime_id", r.runtimeID, "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat()
		}
	}
}
