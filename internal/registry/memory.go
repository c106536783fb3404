package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/EternisAI/silo-config/internal/audit"
	"github.com/EternisAI/silo-config/pkg/settings"
)

// MemoryStore keeps registrations in process memory. Writes staged by a
// transaction are applied under a single lock at commit.
type MemoryStore struct {
	locks *keyedMutex

	mu            sync.RWMutex
	regs          map[Identity]*Registration
	history       map[Identity][]HistoryEntry
	audit         []audit.Event
	nextHistoryID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:   newKeyedMutex(),
		regs:    make(map[Identity]*Registration),
		history: make(map[Identity][]HistoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, id Identity) (*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.regs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return reg.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Registration, error) {
	s.mu.RLock()
	out := make([]*Registration, 0, len(s.regs))
	for _, reg := range s.regs {
		out = append(out, reg.Clone())
	}
	s.mu.RUnlock()
	sortRegistrations(out)
	return out, nil
}

func (s *MemoryStore) History(_ context.Context, id Identity, name string, limit int) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[id]
	var out []HistoryEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if name != "" && entries[i].Name != name {
			continue
		}
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AuditEvents(_ context.Context, filter AuditFilter) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for i := len(s.audit) - 1; i >= 0 && len(out) < filter.limit(); i-- {
		ev := s.audit[i]
		if filter.ClientName != "" && ev.ClientName != filter.ClientName {
			continue
		}
		if filter.Type != "" && string(ev.Type) != filter.Type {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *MemoryStore) WithTx(ctx context.Context, clientName string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(clientName)
	defer unlock()

	tx := &memoryTx{
		store:   s,
		client:  clientName,
		staged:  make(map[Identity]*Registration),
		deleted: make(map[Identity]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range tx.deleted {
		delete(s.regs, id)
	}
	for id, reg := range tx.staged {
		s.regs[id] = reg
	}
	for _, e := range tx.history {
		s.nextHistoryID++
		e.ID = s.nextHistoryID
		s.history[e.Identity] = append(s.history[e.Identity], e)
	}
	s.audit = append(s.audit, tx.audit...)
}

type memoryTx struct {
	store   *MemoryStore
	client  string
	staged  map[Identity]*Registration
	deleted map[Identity]bool
	history []HistoryEntry
	audit   []audit.Event
}

func (t *memoryTx) checkScope(id Identity) error {
	if id.ClientName != t.client {
		return fmt.Errorf("identity %s is outside the transaction for %q", id, t.client)
	}
	return nil
}

func (t *memoryTx) Get(_ context.Context, id Identity) (*Registration, error) {
	if err := t.checkScope(id); err != nil {
		return nil, err
	}
	if reg, ok := t.staged[id]; ok {
		return reg.Clone(), nil
	}
	if t.deleted[id] {
		return nil, ErrNotFound
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	reg, ok := t.store.regs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return reg.Clone(), nil
}

func (t *memoryTx) Instances(_ context.Context) ([]*Registration, error) {
	found := make(map[Identity]*Registration)
	t.store.mu.RLock()
	for id, reg := range t.store.regs {
		if id.ClientName == t.client && !id.IsBase() && !t.deleted[id] {
			found[id] = reg
		}
	}
	t.store.mu.RUnlock()
	for id, reg := range t.staged {
		if !id.IsBase() {
			found[id] = reg
		}
	}

	out := make([]*Registration, 0, len(found))
	for _, reg := range found {
		out = append(out, reg.Clone())
	}
	sortRegistrations(out)
	return out, nil
}

func (t *memoryTx) Put(_ context.Context, reg *Registration) error {
	if err := t.checkScope(reg.Identity); err != nil {
		return err
	}
	t.staged[reg.Identity] = reg.Clone()
	delete(t.deleted, reg.Identity)
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, id Identity) error {
	if _, err := t.Get(ctx, id); err != nil {
		return err
	}
	targets := []Identity{id}
	if id.IsBase() {
		instances, _ := t.Instances(ctx)
		for _, inst := range instances {
			targets = append(targets, inst.Identity)
		}
	}
	for _, target := range targets {
		delete(t.staged, target)
		t.deleted[target] = true
	}
	return nil
}

func (t *memoryTx) AppendHistory(_ context.Context, entries ...HistoryEntry) error {
	for _, e := range entries {
		if err := t.checkScope(e.Identity); err != nil {
			return err
		}
	}
	t.history = append(t.history, entries...)
	return nil
}

func (t *memoryTx) LastValue(_ context.Context, id Identity, name string, kind settings.Kind) (settings.Value, bool, error) {
	match := func(e HistoryEntry) bool {
		return e.Identity == id && e.Name == name && e.Kind == kind
	}
	for i := len(t.history) - 1; i >= 0; i-- {
		if match(t.history[i]) {
			return t.history[i].Value, true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	entries := t.store.history[id]
	for i := len(entries) - 1; i >= 0; i-- {
		if match(entries[i]) {
			return entries[i].Value, true, nil
		}
	}
	return settings.Value{}, false, nil
}

func (t *memoryTx) RecordAudit(_ context.Context, ev audit.Event) error {
	t.audit = append(t.audit, ev)
	return nil
}

func sortRegistrations(regs []*Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].ClientName != regs[j].ClientName {
			return regs[i].ClientName < regs[j].ClientName
		}
		return regs[i].Instance < regs[j].Instance
	})
}

var _ Store = (*MemoryStore)(nil)
