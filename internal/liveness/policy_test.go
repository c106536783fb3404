package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollPolicyInterval(t *testing.T) {
	p := PollPolicy{Base: 30 * time.Second, Max: time.Minute, Step: 10 * time.Second, SessionsPerStep: 100}

	tests := []struct {
		name      string
		requested time.Duration
		active    int
		want      time.Duration
	}{
		{"idle server uses base", 0, 0, 30 * time.Second},
		{"faster request is widened to base", 5 * time.Second, 10, 30 * time.Second},
		{"load widens interval", 0, 250, 50 * time.Second},
		{"widening is capped", 0, 10_000, time.Minute},
		{"slower request is honoured", 2 * time.Minute, 0, 2 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Interval(tt.requested, tt.active))
		})
	}
}
