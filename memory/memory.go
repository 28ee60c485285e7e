// Package memory stores categorized, tagged entries partitioned by scope.
// It is exposed to the agent as a builtin extension; every read and write
// arrives through the tool invocation path.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Scope is the storage partition of an entry. The partition is the sole
// access boundary: local entries are invisible to global reads and vice
// versa.
type Scope string

const (
	// ScopeGlobal is process-wide storage.
	ScopeGlobal Scope = "global"
	// ScopeLocal is storage tied to the current working context.
	ScopeLocal Scope = "local"
	// ScopeAny selects both partitions where an operation allows it.
	ScopeAny Scope = ""
)

// ParseScope maps a string to a scope. Empty means ScopeAny.
func ParseScope(value string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(value))) {
	case ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeLocal:
		return ScopeLocal, nil
	case ScopeAny:
		return ScopeAny, nil
	default:
		return ScopeAny, errors.New("memory: scope must be \"global\" or \"local\"")
	}
}

var (
	// ErrInvalidCategory rejects entries with an empty category.
	ErrInvalidCategory = errors.New("memory: category must not be empty")
	// ErrNotFound indicates forget matched no entries.
	ErrNotFound = errors.New("memory: no matching entries")
)

// Entry is one stored memory.
type Entry struct {
	Category  string    `json:"category"`
	Tags      []string  `json:"tags,omitempty"`
	Scope     Scope     `json:"scope"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the query appears in the entry's content,
// category, or any tag, compared case-insensitively.
func (e Entry) Matches(query string) bool {
	needle := strings.ToLower(query)
	if strings.Contains(strings.ToLower(e.Content), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(e.Category), needle) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Store is the persistence contract for memory entries.
type Store interface {
	// Remember appends an entry. Fails with ErrInvalidCategory when the
	// category is empty.
	Remember(ctx context.Context, entry Entry) error
	// Retrieve returns the entries of one category in one scope, newest
	// first. Empty category returns the whole scope.
	Retrieve(ctx context.Context, scope Scope, category string) ([]Entry, error)
	// Search returns entries matching the query, newest first. ScopeAny
	// searches both partitions.
	Search(ctx context.Context, query string, scope Scope) ([]Entry, error)
	// Forget removes every entry in the category whose content exactly
	// equals contentMatch, across both scopes. All matches are removed,
	// never just the first. Returns ErrNotFound when nothing matched.
	Forget(ctx context.Context, category, contentMatch string) (int, error)
	// Clear wipes one scope. Clearing an empty scope succeeds.
	Clear(ctx context.Context, scope Scope) error
	Close() error
}

func validateEntry(entry Entry) error {
	if strings.TrimSpace(entry.Category) == "" {
		return ErrInvalidCategory
	}
	if entry.Scope != ScopeGlobal && entry.Scope != ScopeLocal {
		return errors.New("memory: entry scope must be global or local")
	}
	return nil
}
