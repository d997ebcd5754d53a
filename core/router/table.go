package router

import (
	"slices"
	"strings"
	"sync"
)

// Key builds the composite lookup key "/{METHOD}/{path}" with exactly one
// slash between method and path.
func Key(method, path string) string {
	return "/" + method + "/" + strings.TrimPrefix(path, "/")
}

// Route describes a registered route.
type Route struct {
	Method  string
	Pattern string
}

func (r Route) String() string { return r.Method + " " + r.Pattern }

// Table is a route table safe for concurrent use. Lookups share a read lock,
// so routes may be inserted while requests are being served.
type Table[H any] struct {
	mu     sync.RWMutex
	tree   Tree[H]
	routes []Route
}

// NewTable creates an empty route table.
func NewTable[H any]() *Table[H] {
	return &Table[H]{}
}

// Insert registers h for method and pattern.
func (t *Table[H]) Insert(method, pattern string, h H) {
	if pattern == "" || pattern[0] != '/' {
		panic("path must begin with '/' in path '" + pattern + "'")
	}
	key := Key(method, pattern)

	t.mu.Lock()
	defer t.mu.Unlock()
	before := t.tree.Len()
	t.tree.Insert(key, h)
	if t.tree.Len() > before {
		t.routes = append(t.routes, Route{Method: method, Pattern: pattern})
	}
}

// Find looks up the handler for method and path. It is equivalent to
// Lookup(Key(method, path)) without building the key, so parameter values
// are sub-strings of path.
func (t *Table[H]) Find(method, path string) (H, Params, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.find(method, path)
}

// Lookup looks up a composite key built by Key.
func (t *Table[H]) Lookup(key string) (H, Params, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Find(key)
}

// Len returns the number of routes.
func (t *Table[H]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}

// Routes returns the registered routes sorted by pattern, then method.
func (t *Table[H]) Routes() []Route {
	t.mu.RLock()
	routes := slices.Clone(t.routes)
	t.mu.RUnlock()

	slices.SortFunc(routes, func(a, b Route) int {
		if c := strings.Compare(a.Pattern, b.Pattern); c != 0 {
			return c
		}
		return strings.Compare(a.Method, b.Method)
	})
	return routes
}
