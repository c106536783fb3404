package liveness

import "time"

// PollPolicy decides the poll interval handed back to clients. The interval
// widens by Step for every SessionsPerStep active sessions, up to Max, so a
// loaded server slows its clients down.
type PollPolicy struct {
	Base            time.Duration `mapstructure:"base"`
	Max             time.Duration `mapstructure:"max"`
	Step            time.Duration `mapstructure:"step"`
	SessionsPerStep int           `mapstructure:"sessions_per_step"`
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Base:            30 * time.Second,
		Max:             5 * time.Minute,
		Step:            5 * time.Second,
		SessionsPerStep: 500,
	}
}

// Interval returns the interval for a client that asked for requested while
// activeSessions sessions are alive. A client asking to poll less often than
// the policy allows is honoured.
func (p PollPolicy) Interval(requested time.Duration, activeSessions int) time.Duration {
	interval := p.Base
	if p.SessionsPerStep > 0 && p.Step > 0 {
		interval += time.Duration(activeSessions/p.SessionsPerStep) * p.Step
	}
	if p.Max > 0 && interval > p.Max {
		interval = p.Max
	}
	if requested > interval {
		return requested
	}
	return interval
}
