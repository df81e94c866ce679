package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

type sessionRecord struct {
	entry domain.SessionEntry
	seq   uint64
}

// SessionRegistry tracks sessions in process memory.
type SessionRegistry struct {
	mu            sync.RWMutex
	byHandle      map[string]sessionRecord
	seq           uint64
	singleSession bool
	now           func() time.Time
}

// NewSessionRegistry constructs a registry. With singleSession set,
// registering a session drops every other session of the same principal.
func NewSessionRegistry(singleSession bool) *SessionRegistry {
	return &SessionRegistry{
		byHandle:      make(map[string]sessionRecord),
		singleSession: singleSession,
		now:           time.Now,
	}
}

// WithClock overrides the clock used for expiry checks.
func (r *SessionRegistry) WithClock(now func() time.Time) *SessionRegistry {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *SessionRegistry) Register(_ context.Context, entry domain.SessionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.singleSession {
		for handle, rec := range r.byHandle {
			if rec.entry.PrincipalID == entry.PrincipalID && handle != entry.Handle {
				delete(r.byHandle, handle)
			}
		}
	}

	r.seq++
	entry.Authorities = append([]string(nil), entry.Authorities...)
	r.byHandle[entry.Handle] = sessionRecord{entry: entry, seq: r.seq}
	return nil
}

func (r *SessionRegistry) Unregister(_ context.Context, handle string) error {
	r.mu.Lock()
	delete(r.byHandle, handle)
	r.mu.Unlock()
	return nil
}

func (r *SessionRegistry) UnregisterPrincipal(_ context.Context, principalID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for handle, rec := range r.byHandle {
		if rec.entry.PrincipalID == principalID {
			delete(r.byHandle, handle)
			removed++
		}
	}
	return removed, nil
}

func (r *SessionRegistry) Get(_ context.Context, handle string) (*domain.SessionEntry, error) {
	r.mu.RLock()
	rec, ok := r.byHandle[handle]
	r.mu.RUnlock()

	if !ok || rec.entry.IsExpired(r.now()) {
		return nil, repository.ErrNotFound
	}
	entry := rec.entry
	entry.Authorities = append([]string(nil), rec.entry.Authorities...)
	return &entry, nil
}

func (r *SessionRegistry) ListActivePrincipals(_ context.Context) ([]string, error) {
	records := r.live(func(domain.SessionEntry) bool { return true })

	seen := make(map[string]struct{}, len(records))
	principals := make([]string, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.entry.PrincipalID]; ok {
			continue
		}
		seen[rec.entry.PrincipalID] = struct{}{}
		principals = append(principals, rec.entry.PrincipalID)
	}
	return principals, nil
}

func (r *SessionRegistry) ListSessions(_ context.Context, principalID string) ([]domain.SessionEntry, error) {
	records := r.live(func(e domain.SessionEntry) bool { return e.PrincipalID == principalID })

	out := make([]domain.SessionEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.entry)
	}
	return out, nil
}

// live returns unexpired records matching keep in registration order.
func (r *SessionRegistry) live(keep func(domain.SessionEntry) bool) []sessionRecord {
	now := r.now()

	r.mu.RLock()
	records := make([]sessionRecord, 0, len(r.byHandle))
	for _, rec := range r.byHandle {
		if rec.entry.IsExpired(now) || !keep(rec.entry) {
			continue
		}
		records = append(records, rec)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
	return records
}

var _ port.SessionRegistry = (*SessionRegistry)(nil)
