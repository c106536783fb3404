// Package syncagent keeps a client's settings in step with the config server.
// It registers the client's schema, heartbeats on a server-driven interval,
// pulls new values when the server reports them, and falls back to a cached
// snapshot when the server cannot be reached.
package syncagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/EternisAI/silo-config/pkg/configapi"
	"github.com/EternisAI/silo-config/pkg/settings"
)

const (
	defaultPollInterval    = 30 * time.Second
	defaultStartupAttempts = 5
	defaultStartupBackoff  = 500 * time.Millisecond
	maxStartupBackoff      = 10 * time.Second
	defaultRequestTimeout  = 10 * time.Second
)

type Config struct {
	ClientName string
	Instance   string
	Secret     string
	Schema     settings.Schema
	// PollInterval is used until the server suggests another.
	PollInterval time.Duration
	// AllowOffline lets Start fall back to a cached snapshot.
	AllowOffline    bool
	Version         string
	StartupAttempts uint
	StartupBackoff  time.Duration
	RequestTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.StartupAttempts == 0 {
		c.StartupAttempts = defaultStartupAttempts
	}
	if c.StartupBackoff <= 0 {
		c.StartupBackoff = defaultStartupBackoff
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Observer is told which settings changed, with the snapshot now in effect.
// Observers run on the agent's goroutine and should return quickly.
type Observer func(changed []string, snap *Snapshot)

type Agent struct {
	cfg       Config
	transport Transport
	cache     Cache
	clock     func() time.Time
	sessionID string
	startedAt time.Time
	hostname  string

	snapshot   atomic.Pointer[Snapshot]
	interval   atomic.Int64
	liveReload atomic.Bool
	registered atomic.Bool

	mu        sync.Mutex
	observers []Observer

	cancel context.CancelFunc
	doneCh chan struct{}
}

type Option func(*Agent)

func WithCache(cache Cache) Option {
	return func(a *Agent) { a.cache = cache }
}

func WithClock(clock func() time.Time) Option {
	return func(a *Agent) { a.clock = clock }
}

func WithObserver(obs Observer) Option {
	return func(a *Agent) { a.observers = append(a.observers, obs) }
}

func New(cfg Config, transport Transport, opts ...Option) (*Agent, error) {
	if cfg.ClientName == "" {
		return nil, errors.New("client name is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("client secret is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	cfg = cfg.withDefaults()

	hostname, _ := os.Hostname()
	a := &Agent{
		cfg:       cfg,
		transport: transport,
		clock:     time.Now,
		sessionID: uuid.NewString(),
		hostname:  hostname,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.startedAt = a.clock()
	a.interval.Store(int64(cfg.PollInterval))
	return a, nil
}

// Snapshot returns the values currently in effect, or nil before Start.
func (a *Agent) Snapshot() *Snapshot { return a.snapshot.Load() }

func (a *Agent) Interval() time.Duration { return time.Duration(a.interval.Load()) }

func (a *Agent) LiveReload() bool { return a.liveReload.Load() }

func (a *Agent) SessionID() string { return a.sessionID }

func (a *Agent) Subscribe(obs Observer) {
	a.mu.Lock()
	a.observers = append(a.observers, obs)
	a.mu.Unlock()
}

// Start registers the client and loads its values, retrying with exponential
// backoff, then runs the poll loop in the background until ctx is cancelled
// or Stop is called. If the server stays unreachable Start falls back to the
// offline cache when allowed, and otherwise fails with ErrNoConfiguration.
func (a *Agent) Start(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.StartupBackoff
	b.MaxInterval = maxStartupBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := a.registerAndPull(ctx)
		if terminal(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(a.cfg.StartupAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Initial sync failed, retrying", "client", a.cfg.ClientName, "error", err, "retry_in", next)
		}),
	)
	switch {
	case err == nil:
	case terminal(err):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		if err := a.startOffline(ctx, err); err != nil {
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.doneCh = make(chan struct{})
	go a.run(loopCtx)

	slog.Info("Sync agent started",
		"client", a.cfg.ClientName,
		"instance", a.cfg.Instance,
		"session_id", a.sessionID,
		"provenance", a.Snapshot().Provenance,
		"poll_interval", a.Interval())
	return nil
}

func (a *Agent) startOffline(ctx context.Context, cause error) error {
	if !a.cfg.AllowOffline || a.cache == nil {
		return fmt.Errorf("%w: %w", ErrNoConfiguration, cause)
	}
	snap, err := a.cache.Load(ctx, a.cfg.ClientName, a.cfg.Instance)
	if err != nil {
		slog.Warn("Failed to load offline snapshot", "client", a.cfg.ClientName, "error", err)
	}
	if snap == nil {
		return fmt.Errorf("%w: no offline snapshot: %w", ErrNoConfiguration, cause)
	}
	a.publish(ctx, snap, false)
	slog.Warn("Config server unreachable, serving offline snapshot",
		"client", a.cfg.ClientName,
		"changed_at", snap.ChangedAt,
		"error", cause)
	return nil
}

// Stop ends the poll loop and waits for it to exit. An in-flight request is
// cancelled.
func (a *Agent) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.doneCh
	slog.Info("Sync agent stopped", "client", a.cfg.ClientName)
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.doneCh)

	timer := time.NewTimer(a.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := a.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				logSyncError(a.cfg.ClientName, err, a.Interval())
			}
			timer.Reset(a.Interval())
		}
	}
}

func logSyncError(client string, err error, retryIn time.Duration) {
	if errors.Is(err, ErrTransport) {
		slog.Warn("Config server unreachable", "client", client, "error", err, "retry_in", retryIn)
		return
	}
	slog.Error("Sync failed", "client", client, "error", err, "retry_in", retryIn)
}

// SyncOnce runs one poll iteration: a heartbeat, then a pull if the server
// has newer values and live reload is on. Until the client has registered in
// this process it registers instead.
func (a *Agent) SyncOnce(ctx context.Context) error {
	if !a.registered.Load() {
		return a.registerAndPull(ctx)
	}

	var lastUpdate time.Time
	if snap := a.snapshot.Load(); snap != nil {
		lastUpdate = snap.ChangedAt
	}

	rctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	resp, err := a.transport.Heartbeat(rctx, &configapi.HeartbeatRequest{
		ClientName:      a.cfg.ClientName,
		Instance:        a.cfg.Instance,
		Secret:          a.cfg.Secret,
		SessionID:       a.sessionID,
		UptimeMs:        configapi.Millis(a.clock().Sub(a.startedAt)),
		LastLocalUpdate: lastUpdate,
		PollIntervalMs:  configapi.Millis(a.Interval()),
		LiveReload:      a.liveReload.Load(),
		Host:            a.hostInfo(),
	})
	if err != nil {
		if errors.Is(err, ErrUnknownClient) {
			a.registered.Store(false)
		}
		return err
	}

	if resp.PollIntervalMs > 0 {
		a.interval.Store(int64(configapi.FromMillis(resp.PollIntervalMs)))
	}
	a.liveReload.Store(resp.LiveReload)
	if !resp.UpdateAvailable || !resp.LiveReload {
		return nil
	}
	slog.Debug("Newer values available", "client", a.cfg.ClientName, "changed_at", resp.ChangedAt)
	return a.pull(ctx)
}

func (a *Agent) registerAndPull(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	resp, err := a.transport.Register(rctx, &configapi.RegisterRequest{
		ClientName: a.cfg.ClientName,
		Instance:   a.cfg.Instance,
		Secret:     a.cfg.Secret,
		Schema:     a.cfg.Schema,
		Hostname:   a.hostname,
	})
	if err != nil {
		return err
	}
	a.registered.Store(true)
	slog.Info("Registered with config server",
		"client", a.cfg.ClientName,
		"instance", a.cfg.Instance,
		"status", resp.Status,
		"outcome", resp.Outcome,
		"schema_version", resp.SchemaVersion)
	return a.pull(ctx)
}

func (a *Agent) pull(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	resp, err := a.transport.Values(rctx, &configapi.ValuesRequest{
		ClientName: a.cfg.ClientName,
		Instance:   a.cfg.Instance,
		Secret:     a.cfg.Secret,
	})
	if err != nil {
		return err
	}
	a.liveReload.Store(resp.LiveReload)
	a.publish(ctx, &Snapshot{
		ClientName: a.cfg.ClientName,
		Instance:   a.cfg.Instance,
		Values:     resp.Values.Clone(),
		ChangedAt:  resp.ChangedAt,
		ObtainedAt: a.clock(),
		Provenance: ProvenanceServer,
	}, true)
	return nil
}

// publish swaps in snap and notifies observers of the names whose values
// differ from the previous snapshot.
func (a *Agent) publish(ctx context.Context, snap *Snapshot, persist bool) {
	prev := a.snapshot.Swap(snap)
	changed := settings.ChangedNames(prev.values(), snap.Values)

	if persist && a.cache != nil {
		if err := a.cache.Save(ctx, snap); err != nil {
			slog.Warn("Failed to save offline snapshot", "client", a.cfg.ClientName, "error", err)
		}
	}
	if len(changed) == 0 {
		return
	}
	slog.Info("Settings updated",
		"client", a.cfg.ClientName,
		"changed", changed,
		"provenance", snap.Provenance)

	a.mu.Lock()
	observers := append([]Observer(nil), a.observers...)
	a.mu.Unlock()
	for _, obs := range observers {
		obs(changed, snap)
	}
}

func (a *Agent) hostInfo() configapi.HostInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return configapi.HostInfo{
		Hostname:    a.hostname,
		MemoryBytes: ms.Sys,
		Version:     a.cfg.Version,
	}
}
