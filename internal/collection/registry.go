package collection

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlekbai/docql/internal/docql"
)

const loadQuery = `SELECT name FROM docql.collections ORDER BY name`

// Registry is the set of known collections. It resolves request sources for
// the query builder and is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	names map[string]bool
	def   string
}

// NewRegistry creates a registry whose default collection is def. The
// default always resolves, even before it holds any document.
func NewRegistry(def string) *Registry {
	r := &Registry{names: make(map[string]bool), def: def}
	if def != "" {
		r.names[def] = true
	}
	return r
}

// NewRegistryFromNames builds a registry without a database, for tests and
// tools.
func NewRegistryFromNames(def string, names ...string) *Registry {
	r := NewRegistry(def)
	for _, n := range names {
		r.names[n] = true
	}
	return r
}

// Load replaces the registry contents with the collections stored in Postgres.
func (r *Registry) Load(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, loadQuery)
	if err != nil {
		return fmt.Errorf("collection registry load: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("collection registry scan: %w", err)
		}
		names[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("collection registry rows: %w", err)
	}

	r.mu.Lock()
	if r.def != "" {
		names[r.def] = true
	}
	r.names = names
	r.mu.Unlock()

	return nil
}

// Add registers name, typically after the first document was saved into it.
func (r *Registry) Add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = true
}

// Has reports whether name is a known collection.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[name]
}

// Default returns the default collection name.
func (r *Registry) Default() string {
	return r.def
}

// Resolve maps "" to the default collection and reports whether the result
// is known.
func (r *Registry) Resolve(name string) (string, bool) {
	if name == "" {
		name = r.def
	}
	if name == "" {
		return "", false
	}
	return name, r.Has(name)
}

// ResolveSource implements docql.SourceResolver.
func (r *Registry) ResolveSource(name string) (docql.Source, bool) {
	resolved, ok := r.Resolve(name)
	if !ok {
		return docql.Source{}, false
	}
	return docql.Source{Collection: resolved}, true
}

// Names returns the known collections in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of known collections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
