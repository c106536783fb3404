package liveness

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/EternisAI/silo-config/internal/metrics"
)

const (
	DefaultStaleMultiplier = 5
	defaultSweepInterval   = 30 * time.Second
	defaultPollInterval    = 30 * time.Second
	defaultRetainInactive  = 1000
	persistTimeout         = 5 * time.Second
)

type Config struct {
	StaleMultiplier int           `mapstructure:"stale_multiplier"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	// DefaultPollInterval applies to sessions that report no interval.
	DefaultPollInterval       time.Duration `mapstructure:"default_poll_interval"`
	InstanceHeartbeatInterval time.Duration `mapstructure:"instance_heartbeat_interval"`
	// RetainInactive bounds how many demoted records are kept in memory.
	RetainInactive int `mapstructure:"retain_inactive"`
}

func (c Config) withDefaults() Config {
	if c.StaleMultiplier <= 0 {
		c.StaleMultiplier = DefaultStaleMultiplier
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.DefaultPollInterval <= 0 {
		c.DefaultPollInterval = defaultPollInterval
	}
	if c.InstanceHeartbeatInterval <= 0 {
		c.InstanceHeartbeatInterval = defaultPollInterval
	}
	if c.RetainInactive <= 0 {
		c.RetainInactive = defaultRetainInactive
	}
	return c
}

// Store persists liveness records. Writes are made off the heartbeat path.
type Store interface {
	SaveSession(ctx context.Context, s ClientRunSession) error
	SaveInstance(ctx context.Context, s ApiInstanceStatus) error
}

// entry guards one tracked entity. Heartbeats and the sweep both modify it
// under mu.
type entry[T any] struct {
	mu       sync.Mutex
	rec      T
	lastSeen time.Time
	interval time.Duration
	active   bool
}

// table maps ids to entries. Its lock only guards the map itself.
type table[T any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[T]
	retired []T
}

func newTable[T any]() *table[T] {
	return &table[T]{entries: make(map[string]*entry[T])}
}

func (t *table[T]) getOrCreate(id string) (*entry[T], bool) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if ok {
		return e, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[id]; ok {
		return e, false
	}
	e = &entry[T]{}
	t.entries[id] = e
	return e, true
}

func (t *table[T]) retire(rec T, limit int) {
	t.mu.Lock()
	t.retired = append(t.retired, rec)
	if over := len(t.retired) - limit; over > 0 {
		t.retired = append(t.retired[:0:0], t.retired[over:]...)
	}
	t.mu.Unlock()
}

func (t *table[T]) snapshot() []*entry[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*entry[T], 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Tracker records heartbeats and demotes entities that stop sending them.
type Tracker struct {
	cfg       Config
	clock     func() time.Time
	store     Store
	metrics   *metrics.Metrics
	sessions  *table[ClientRunSession]
	instances *table[ApiInstanceStatus]
}

type Option func(*Tracker)

func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) { t.clock = clock }
}

func WithStore(store Store) Option {
	return func(t *Tracker) { t.store = store }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func NewTracker(cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:       cfg.withDefaults(),
		clock:     time.Now,
		sessions:  newTable[ClientRunSession](),
		instances: newTable[ApiInstanceStatus](),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Config() Config { return t.cfg }

func (t *Tracker) now() time.Time {
	return t.clock().UTC()
}

// ClientHeartbeat refreshes a run-session, creating it on first contact. A
// heartbeat for a demoted session retires the old record and starts the next
// generation.
func (t *Tracker) ClientHeartbeat(hb ClientHeartbeat) ClientRunSession {
	e, created := t.sessions.getOrCreate(hb.SessionID)

	e.mu.Lock()
	now := t.now()
	switch {
	case created:
		e.rec = ClientRunSession{ID: hb.SessionID, Generation: 1, StartedAt: now.Add(-hb.Uptime)}
	case !e.active:
		t.sessions.retire(e.rec, t.cfg.RetainInactive)
		e.rec = ClientRunSession{ID: hb.SessionID, Generation: e.rec.Generation + 1, StartedAt: now.Add(-hb.Uptime)}
		slog.Info("Inactive run-session resumed, starting new generation",
			"session_id", hb.SessionID,
			"client", hb.ClientName,
			"generation", e.rec.Generation)
	}
	interval := hb.PollInterval
	if interval <= 0 {
		interval = t.cfg.DefaultPollInterval
	}
	e.rec.ClientName = hb.ClientName
	e.rec.Instance = hb.Instance
	e.rec.LastSeen = now
	e.rec.PollInterval = interval
	e.rec.LiveReload = hb.LiveReload
	e.rec.LastSettingUpdate = hb.LastLocalUpdate
	e.rec.Host = hb.Host
	e.rec.State = StateActive
	e.lastSeen = now
	e.interval = interval
	e.active = true
	rec := e.rec
	e.mu.Unlock()

	t.persistSession(rec)
	return rec
}

// InstanceHeartbeat refreshes the status of a server replica.
func (t *Tracker) InstanceHeartbeat(runtimeID string, host HostMeta) ApiInstanceStatus {
	e, created := t.instances.getOrCreate(runtimeID)

	e.mu.Lock()
	now := t.now()
	switch {
	case created:
		e.rec = ApiInstanceStatus{RuntimeID: runtimeID, Generation: 1, StartedAt: now}
	case !e.active:
		t.instances.retire(e.rec, t.cfg.RetainInactive)
		e.rec = ApiInstanceStatus{RuntimeID: runtimeID, Generation: e.rec.Generation + 1, StartedAt: now}
		slog.Info("Inactive API instance resumed, starting new generation",
			"runtime_id", runtimeID,
			"generation", e.rec.Generation)
	}
	e.rec.LastSeen = now
	e.rec.Host = host
	e.rec.State = StateActive
	e.lastSeen = now
	e.interval = t.cfg.InstanceHeartbeatInterval
	e.active = true
	rec := e.rec
	e.mu.Unlock()

	t.persistInstance(rec)
	return rec
}

type SweepResult struct {
	DemotedSessions  int
	DemotedInstances int
}

// Sweep demotes every active entity whose last heartbeat is older than its
// staleness threshold. The cutoff time is read once; each candidate is then
// re-checked under its own lock, so a heartbeat that landed after the
// snapshot keeps the entity active.
func (t *Tracker) Sweep() SweepResult {
	now := t.now()

	demotedSessions := sweepTable(t.sessions, now, t.cfg.StaleMultiplier, func(rec *ClientRunSession) {
		rec.State = StateInactive
	})
	for _, rec := range demotedSessions {
		slog.Info("Run-session marked inactive",
			"session_id", rec.ID,
			"client", rec.ClientName,
			"instance", rec.Instance,
			"last_seen", rec.LastSeen)
		t.persistSession(rec)
	}

	demotedInstances := sweepTable(t.instances, now, t.cfg.StaleMultiplier, func(rec *ApiInstanceStatus) {
		rec.State = StateInactive
	})
	for _, rec := range demotedInstances {
		slog.Warn("API instance marked inactive",
			"runtime_id", rec.RuntimeID,
			"hostname", rec.Host.Hostname,
			"last_seen", rec.LastSeen)
		t.persistInstance(rec)
	}

	t.metrics.RecordDemotions("session", len(demotedSessions))
	t.metrics.RecordDemotions("instance", len(demotedInstances))
	t.metrics.SetActive(t.ActiveSessionCount(), len(t.ActiveInstances()))

	return SweepResult{DemotedSessions: len(demotedSessions), DemotedInstances: len(demotedInstances)}
}

func sweepTable[T any](tbl *table[T], now time.Time, multiplier int, demote func(*T)) []T {
	var demoted []T
	for _, e := range tbl.snapshot() {
		e.mu.Lock()
		if e.active {
			cutoff := now.Add(-time.Duration(multiplier) * e.interval)
			if e.lastSeen.Before(cutoff) {
				e.active = false
				demote(&e.rec)
				demoted = append(demoted, e.rec)
			}
		}
		e.mu.Unlock()
	}
	return demoted
}

// Run sweeps on the configured interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	slog.Info("Liveness sweep started",
		"interval", t.cfg.SweepInterval,
		"stale_multiplier", t.cfg.StaleMultiplier)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Liveness sweep stopped")
			return
		case <-ticker.C:
			res := t.Sweep()
			if res.DemotedSessions > 0 || res.DemotedInstances > 0 {
				slog.Debug("Liveness sweep completed",
					"demoted_sessions", res.DemotedSessions,
					"demoted_instances", res.DemotedInstances)
			}
		}
	}
}

func (t *Tracker) Session(id string) (ClientRunSession, bool) {
	t.sessions.mu.RLock()
	e, ok := t.sessions.entries[id]
	t.sessions.mu.RUnlock()
	if !ok {
		return ClientRunSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Sessions lists run-sessions, most recently seen first. Retired generations
// are included only with includeInactive.
func (t *Tracker) Sessions(clientName string, includeInactive bool) []ClientRunSession {
	var out []ClientRunSession
	for _, e := range t.sessions.snapshot() {
		e.mu.Lock()
		rec := e.rec
		e.mu.Unlock()
		if (rec.State == StateActive || includeInactive) && (clientName == "" || rec.ClientName == clientName) {
			out = append(out, rec)
		}
	}
	if includeInactive {
		t.sessions.mu.RLock()
		for _, rec := range t.sessions.retired {
			if clientName == "" || rec.ClientName == clientName {
				out = append(out, rec)
			}
		}
		t.sessions.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

func (t *Tracker) ActiveSessionCount() int {
	n := 0
	for _, e := range t.sessions.snapshot() {
		e.mu.Lock()
		if e.active {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func (t *Tracker) ActiveInstances() []ApiInstanceStatus {
	return t.Instances(false)
}

func (t *Tracker) Instances(includeInactive bool) []ApiInstanceStatus {
	var out []ApiInstanceStatus
	for _, e := range t.instances.snapshot() {
		e.mu.Lock()
		if e.active || includeInactive {
			out = append(out, e.rec)
		}
		e.mu.Unlock()
	}
	if includeInactive {
		t.instances.mu.RLock()
		out = append(out, t.instances.retired...)
		t.instances.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RuntimeID != out[j].RuntimeID {
			return out[i].RuntimeID < out[j].RuntimeID
		}
		return out[i].Generation > out[j].Generation
	})
	return out
}

func (t *Tracker) persistSession(rec ClientRunSession) {
	if t.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := t.store.SaveSession(ctx, rec); err != nil {
			slog.Debug("Failed to persist run-session", "session_id", rec.ID, "error", err)
		}
	}()
}

func (t *Tracker) persistInstance(rec ApiInstanceStatus) {
	if t.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := t.store.SaveInstance(ctx, rec); err != nil {
			slog.Debug("Failed to persist API instance status", "runtime_id", rec.RuntimeID, "error", err)
		}
	}()
}
