package accountstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Memory Store
// =============================================================================

// MemoryStore keeps accounts in process. Each account has its own mutex so
// unrelated accounts never contend. It suits tests and single-node
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	mu      sync.Mutex
	account *domain.Account
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uuid.UUID]*memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *domain.Account) error {
	const op = "accountstore.memory.create"
	if err := contextError(ctx, op); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[a.ID]; exists {
		return domain.AccountExists(op, a.ID.String())
	}
	s.entries[a.ID] = &memoryEntry{account: a.Clone()}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "accountstore.memory.get"
	if err := contextError(ctx, op); err != nil {
		return nil, err
	}

	entry, ok := s.lookup(id)
	if !ok {
		return nil, domain.AccountNotFound(op, id.String())
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.account.Clone(), nil
}

func (s *MemoryStore) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*domain.Account, error) {
	const op = "accountstore.memory.mutate"
	if err := contextError(ctx, op); err != nil {
		return nil, err
	}

	entry, ok := s.lookup(id)
	if !ok {
		return nil, domain.AccountNotFound(op, id.String())
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	working := entry.account.Clone()
	changed, err := fn(working)
	if err != nil {
		return nil, err
	}
	if !changed {
		return entry.account.Clone(), nil
	}

	// Commit point: a context that ended while fn ran discards the write.
	if err := contextError(ctx, op); err != nil {
		return nil, err
	}

	working.Version = entry.account.Version + 1
	working.UpdatedAt = s.now().UTC()
	entry.account = working
	return working.Clone(), nil
}

func (s *MemoryStore) ListStale(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	const op = "accountstore.memory.list_stale"
	if err := contextError(ctx, op); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make(map[uuid.UUID]*memoryEntry, len(s.entries))
	for id, e := range s.entries {
		entries[id] = e
	}
	s.mu.RUnlock()

	var ids []uuid.UUID
	for id, e := range entries {
		e.mu.Lock()
		stale := e.account.UsageCount > 0 && e.account.CycleAnchor.Before(before)
		e.mu.Unlock()
		if stale {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryStore) lookup(id uuid.UUID) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// =============================================================================
// Memory Action Log
// =============================================================================

// MemoryActionLog is an in-process append-only action log.
type MemoryActionLog struct {
	mu      sync.RWMutex
	actions []domain.BillableAction
}

// NewMemoryActionLog creates an empty log.
func NewMemoryActionLog() *MemoryActionLog {
	return &MemoryActionLog{}
}

func (l *MemoryActionLog) Append(ctx context.Context, a *domain.BillableAction) error {
	if err := contextError(ctx, "accountstore.memory.append"); err != nil {
		return err
	}

	rec := *a
	if a.Metadata != nil {
		rec.Metadata = append([]byte(nil), a.Metadata...)
	}

	l.mu.Lock()
	l.actions = append(l.actions, rec)
	l.mu.Unlock()
	return nil
}

func (l *MemoryActionLog) ListByAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]domain.BillableAction, error) {
	if err := contextError(ctx, "accountstore.memory.list_actions"); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.BillableAction
	for _, a := range l.actions {
		if a.AccountID == accountID && inRange(a.CreatedAt, from, to) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (l *MemoryActionLog) Summarize(ctx context.Context, from, to time.Time) ([]domain.ActionSummary, error) {
	if err := contextError(ctx, "accountstore.memory.summarize"); err != nil {
		return nil, err
	}

	l.mu.RLock()
	var window []domain.BillableAction
	for _, a := range l.actions {
		if inRange(a.CreatedAt, from, to) {
			window = append(window, a)
		}
	}
	l.mu.RUnlock()

	out := domain.Summarize(window)
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
