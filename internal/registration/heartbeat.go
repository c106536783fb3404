package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/registry"
)

// WithLiveness lets Heartbeat record run-sessions and widen poll intervals
// under load.
func WithLiveness(tracker *liveness.Tracker, policy liveness.PollPolicy) Option {
	return func(s *Service) {
		s.tracker = tracker
		s.policy = policy
	}
}

type HeartbeatRequest struct {
	Identity  registry.Identity
	Secret    string
	SessionID string
	Uptime    time.Duration
	// LastLocalUpdate echoes the ChangedAt of the values the client holds.
	LastLocalUpdate time.Time
	PollInterval    time.Duration
	LiveReload      bool
	Host            liveness.HostMeta
	Caller          Caller
}

type HeartbeatResponse struct {
	PollInterval    time.Duration
	LiveReload      bool
	UpdateAvailable bool
	ChangedAt       time.Time
}

// Heartbeat authenticates a run-session, records it as alive and tells it
// whether newer values exist. Both timestamps compared come from the server:
// the client only echoes the ChangedAt it last received.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	reg, _, err := s.authenticate(ctx, req.Identity, req.Secret, req.Caller, "heartbeat")
	if err != nil {
		return nil, err
	}

	interval := req.PollInterval
	if s.tracker != nil {
		if req.SessionID == "" {
			return nil, fmt.Errorf("%w: run-session id is required", ErrInvalidRequest)
		}
		host := req.Host
		if host.IP == "" {
			host.IP = req.Caller.IP
		}
		// Staleness is measured against the interval the client is told to use.
		interval = s.policy.Interval(req.PollInterval, s.tracker.ActiveSessionCount())
		s.tracker.ClientHeartbeat(liveness.ClientHeartbeat{
			SessionID:       req.SessionID,
			ClientName:      req.Identity.ClientName,
			Instance:        req.Identity.Instance,
			Uptime:          req.Uptime,
			LastLocalUpdate: req.LastLocalUpdate,
			PollInterval:    interval,
			LiveReload:      req.LiveReload,
			Host:            host,
		})
	} else if interval <= 0 {
		interval = liveness.DefaultPollPolicy().Base
	}

	return &HeartbeatResponse{
		PollInterval:    interval,
		LiveReload:      reg.LiveReload,
		UpdateAvailable: reg.ValuesChangedAt.After(req.LastLocalUpdate),
		ChangedAt:       reg.ValuesChangedAt,
	}, nil
}
