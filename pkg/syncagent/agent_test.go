package syncagent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-config/pkg/configapi"
	"github.com/EternisAI/silo-config/pkg/settings"
)

// MockTransport is a mock implementation of Transport
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Register(_ context.Context, req *configapi.RegisterRequest) (*configapi.RegisterResponse, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*configapi.RegisterResponse)
	return resp, args.Error(1)
}

func (m *MockTransport) Heartbeat(_ context.Context, req *configapi.HeartbeatRequest) (*configapi.HeartbeatResponse, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*configapi.HeartbeatResponse)
	return resp, args.Error(1)
}

func (m *MockTransport) Values(_ context.Context, req *configapi.ValuesRequest) (*configapi.ValuesResponse, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*configapi.ValuesResponse)
	return resp, args.Error(1)
}

type notifications struct {
	mu    sync.Mutex
	calls [][]string
}

func (n *notifications) observe(changed []string, _ *Snapshot) {
	n.mu.Lock()
	n.calls = append(n.calls, changed)
	n.mu.Unlock()
}

func (n *notifications) all() [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]string(nil), n.calls...)
}

var (
	t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func testConfig() Config {
	return Config{
		ClientName:      "billing",
		Secret:          "s1",
		PollInterval:    time.Hour,
		StartupAttempts: 2,
		StartupBackoff:  time.Millisecond,
	}
}

func initialValues() *configapi.ValuesResponse {
	return &configapi.ValuesResponse{
		Values: settings.Values{
			"db.host": settings.StringValue("primary"),
			"db.port": settings.IntValue(5432),
		},
		ChangedAt:  t0,
		LiveReload: true,
	}
}

func startedAgent(t *testing.T, tr *MockTransport, opts ...Option) (*Agent, *notifications) {
	t.Helper()
	tr.On("Register", mock.Anything).Return(&configapi.RegisterResponse{Status: "no_existing_registration"}, nil).Once()
	tr.On("Values", mock.Anything).Return(initialValues(), nil).Once()

	n := &notifications{}
	agent, err := New(testConfig(), tr, append(opts, WithObserver(n.observe))...)
	require.NoError(t, err)
	require.NoError(t, agent.Start(context.Background()))
	t.Cleanup(agent.Stop)
	return agent, n
}

func TestStartPublishesServerSnapshot(t *testing.T) {
	tr := &MockTransport{}
	agent, n := startedAgent(t, tr)

	snap := agent.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, ProvenanceServer, snap.Provenance)
	assert.Equal(t, t0, snap.ChangedAt)
	assert.Equal(t, "primary", snap.String("db.host"))
	assert.True(t, agent.LiveReload())
	assert.Equal(t, [][]string{{"db.host", "db.port"}}, n.all())
}

func TestNoUpdateLeavesSnapshotUntouched(t *testing.T) {
	tr := &MockTransport{}
	agent, n := startedAgent(t, tr)
	before := agent.Snapshot()

	tr.On("Heartbeat", mock.MatchedBy(func(req *configapi.HeartbeatRequest) bool {
		return req.LastLocalUpdate.Equal(t0) && req.SessionID == agent.SessionID()
	})).Return(&configapi.HeartbeatResponse{
		PollIntervalMs:  5000,
		LiveReload:      true,
		UpdateAvailable: false,
		ChangedAt:       t0,
	}, nil).Once()

	require.NoError(t, agent.SyncOnce(context.Background()))

	after := agent.Snapshot()
	assert.Same(t, before, after)
	assert.Equal(t, t0, after.ChangedAt)
	assert.Equal(t, ProvenanceServer, after.Provenance)
	assert.Equal(t, 5*time.Second, agent.Interval())
	assert.Len(t, n.all(), 1, "only the initial load notified")
	tr.AssertNumberOfCalls(t, "Values", 1)
	tr.AssertExpectations(t)
}

func TestUpdateAvailablePullsAndReportsChangedNames(t *testing.T) {
	tr := &MockTransport{}
	agent, n := startedAgent(t, tr)
	before := agent.Snapshot()

	tr.On("Heartbeat", mock.Anything).Return(&configapi.HeartbeatResponse{
		PollIntervalMs:  1000,
		LiveReload:      true,
		UpdateAvailable: true,
		ChangedAt:       t1,
	}, nil).Once()
	tr.On("Values", mock.Anything).Return(&configapi.ValuesResponse{
		Values: settings.Values{
			"db.host":      settings.StringValue("primary"),
			"db.port":      settings.IntValue(6432),
			"feature.beta": settings.BoolValue(true),
		},
		ChangedAt:  t1,
		LiveReload: true,
	}, nil).Once()

	require.NoError(t, agent.SyncOnce(context.Background()))

	after := agent.Snapshot()
	assert.NotSame(t, before, after)
	assert.Equal(t, t1, after.ChangedAt)
	assert.Equal(t, ProvenanceServer, after.Provenance)
	port, _ := after.Int("db.port")
	assert.Equal(t, int64(6432), port)

	calls := n.all()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"db.port", "feature.beta"}, calls[1])

	assert.Equal(t, int64(5432), mustInt(t, before, "db.port"), "old snapshot is never mutated")
}

func mustInt(t *testing.T, s *Snapshot, name string) int64 {
	t.Helper()
	v, ok := s.Int(name)
	require.True(t, ok)
	return v
}

func TestLiveReloadOffDefersPull(t *testing.T) {
	tr := &MockTransport{}
	agent, _ := startedAgent(t, tr)
	before := agent.Snapshot()

	tr.On("Heartbeat", mock.Anything).Return(&configapi.HeartbeatResponse{
		LiveReload:      false,
		UpdateAvailable: true,
		ChangedAt:       t1,
	}, nil).Once()

	require.NoError(t, agent.SyncOnce(context.Background()))
	assert.Same(t, before, agent.Snapshot())
	assert.False(t, agent.LiveReload())
	assert.Equal(t, time.Hour, agent.Interval(), "zero interval from the server keeps the current one")
}

func TestTransportFailureKeepsSnapshot(t *testing.T) {
	tr := &MockTransport{}
	agent, _ := startedAgent(t, tr)
	before := agent.Snapshot()

	tr.On("Heartbeat", mock.Anything).Return(nil, &TransportError{Op: "heartbeat", StatusCode: 503}).Once()

	err := agent.SyncOnce(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Same(t, before, agent.Snapshot())
	assert.Equal(t, ProvenanceServer, agent.Snapshot().Provenance)
}

func TestUnknownClientTriggersReregistration(t *testing.T) {
	tr := &MockTransport{}
	agent, _ := startedAgent(t, tr)

	tr.On("Heartbeat", mock.Anything).Return(nil, ErrUnknownClient).Once()
	assert.ErrorIs(t, agent.SyncOnce(context.Background()), ErrUnknownClient)

	tr.On("Register", mock.Anything).Return(&configapi.RegisterResponse{Status: "no_existing_registration"}, nil).Once()
	tr.On("Values", mock.Anything).Return(initialValues(), nil).Once()
	require.NoError(t, agent.SyncOnce(context.Background()))
	tr.AssertNumberOfCalls(t, "Register", 2)
}

func TestStartFallsBackToOfflineSnapshot(t *testing.T) {
	cache := NewFileCache(t.TempDir())
	require.NoError(t, cache.Save(context.Background(), &Snapshot{
		ClientName: "billing",
		Values:     settings.Values{"db.host": settings.StringValue("cached")},
		ChangedAt:  t0,
		ObtainedAt: t0,
		Provenance: ProvenanceServer,
	}))

	tr := &MockTransport{}
	tr.On("Register", mock.Anything).Return(nil, &TransportError{Op: "register", Err: context.DeadlineExceeded})

	cfg := testConfig()
	cfg.AllowOffline = true
	agent, err := New(cfg, tr, WithCache(cache))
	require.NoError(t, err)
	require.NoError(t, agent.Start(context.Background()))
	defer agent.Stop()

	snap := agent.Snapshot()
	assert.Equal(t, ProvenanceOffline, snap.Provenance)
	assert.Equal(t, "cached", snap.String("db.host"))
	tr.AssertNumberOfCalls(t, "Register", 2)
}

func TestStartWithoutConfigurationFails(t *testing.T) {
	unreachable := func() *MockTransport {
		tr := &MockTransport{}
		tr.On("Register", mock.Anything).Return(nil, &TransportError{Op: "register", Err: context.DeadlineExceeded})
		return tr
	}

	t.Run("offline allowed but nothing cached", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowOffline = true
		agent, err := New(cfg, unreachable(), WithCache(NewFileCache(t.TempDir())))
		require.NoError(t, err)
		err = agent.Start(context.Background())
		assert.ErrorIs(t, err, ErrNoConfiguration)
		assert.ErrorIs(t, err, ErrTransport)
		assert.Nil(t, agent.Snapshot())
	})

	t.Run("offline disallowed", func(t *testing.T) {
		cache := NewFileCache(t.TempDir())
		require.NoError(t, cache.Save(context.Background(), &Snapshot{ClientName: "billing", ChangedAt: t0}))
		agent, err := New(testConfig(), unreachable(), WithCache(cache))
		require.NoError(t, err)
		assert.ErrorIs(t, agent.Start(context.Background()), ErrNoConfiguration)
		assert.Nil(t, agent.Snapshot())
	})
}

func TestStartDoesNotRetryRejectedSecret(t *testing.T) {
	tr := &MockTransport{}
	tr.On("Register", mock.Anything).Return(nil, ErrAuthentication)

	cfg := testConfig()
	cfg.StartupAttempts = 5
	agent, err := New(cfg, tr)
	require.NoError(t, err)
	assert.ErrorIs(t, agent.Start(context.Background()), ErrAuthentication)
	tr.AssertNumberOfCalls(t, "Register", 1)
}

func TestLoopRunsAndStopsPromptly(t *testing.T) {
	tr := &MockTransport{}
	tr.On("Register", mock.Anything).Return(&configapi.RegisterResponse{}, nil).Once()
	tr.On("Values", mock.Anything).Return(initialValues(), nil).Once()
	var heartbeats atomic.Int32
	tr.On("Heartbeat", mock.Anything).
		Return(&configapi.HeartbeatResponse{PollIntervalMs: 10, LiveReload: true}, nil).
		Run(func(mock.Arguments) { heartbeats.Add(1) })

	cfg := testConfig()
	cfg.PollInterval = 10 * time.Millisecond
	agent, err := New(cfg, tr)
	require.NoError(t, err)
	require.NoError(t, agent.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return heartbeats.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		agent.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Secret: "s"}, &MockTransport{})
	assert.Error(t, err)
	_, err = New(Config{ClientName: "c"}, &MockTransport{})
	assert.Error(t, err)
	_, err = New(Config{ClientName: "c", Secret: "s"}, nil)
	assert.Error(t, err)
}
