package audit

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventIDsAreSortable(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := NewEvent(EventInitialRegistration, "billing", "", at)
	second := NewEvent(EventRegistrationNoChange, "billing", "", at)
	later := NewEvent(EventSecretRotated, "billing", "", at.Add(time.Second))

	assert.Len(t, first.ID, 26)
	assert.Less(t, first.ID, second.ID)
	assert.Less(t, second.ID, later.ID)
}

func TestEventWithDoesNotAlias(t *testing.T) {
	base := NewEvent(EventValuesUpdated, "billing", "eu", time.Now())
	a := base.With("names", []string{"x"})
	b := base.With("names", []string{"y"})

	assert.Empty(t, base.Details)
	assert.Equal(t, []string{"x"}, a.Details["names"])
	assert.Equal(t, []string{"y"}, b.Details["names"])
}

func TestLogSinkWritesWarningForMismatch(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	ev := NewEvent(EventSecretMismatch, "billing", "", time.Now()).WithCaller("10.0.0.7", "worker-3")
	sink.Emit(context.Background(), ev)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "remote_ip=10.0.0.7")
	assert.Contains(t, out, "host=worker-3")
}

func TestMultiSinkAndRecorder(t *testing.T) {
	r1, r2 := &Recorder{}, &Recorder{}
	sink := MultiSink{r1, nil, r2}

	sink.Emit(context.Background(), NewEvent(EventClientDeleted, "a", "", time.Now()))
	sink.Emit(context.Background(), NewEvent(EventSecretRotated, "a", "", time.Now()))

	require.Len(t, r1.Events(), 2)
	assert.Len(t, r2.OfType(EventSecretRotated), 1)
}
