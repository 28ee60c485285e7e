package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps entries in process memory. Used for ephemeral
// sessions and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{now: func() time.Time { return time.Now().UTC() }}
}

func (s *InMemoryStore) Remember(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) Retrieve(ctx context.Context, scope Scope, category string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, entry := range s.entries {
		if entry.Scope != scope {
			continue
		}
		if category != "" && entry.Category != category {
			continue
		}
		out = append(out, entry)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) Search(ctx context.Context, query string, scope Scope) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, entry := range s.entries {
		if scope != ScopeAny && entry.Scope != scope {
			continue
		}
		if !entry.Matches(query) {
			continue
		}
		out = append(out, entry)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) Forget(ctx context.Context, category, contentMatch string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, entry := range s.entries {
		if entry.Category == category && entry.Content == contentMatch {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	if removed == 0 {
		return 0, ErrNotFound
	}
	return removed, nil
}

func (s *InMemoryStore) Clear(ctx context.Context, scope Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.Scope == scope {
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

var _ Store = (*InMemoryStore)(nil)
