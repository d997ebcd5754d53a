package router

import "strings"

type nodeType uint8

const (
	static   nodeType = iota // default
	param                    // :param
	catchAll                 // *param
)

// Param is a single path parameter captured by a wildcard segment.
type Param struct {
	Key   string
	Value string
}

// Params holds path parameters in the order they appear in the pattern.
// Values are sub-strings of the looked-up path.
type Params []Param

// Get returns the value of the first parameter with the given key.
func (ps Params) Get(key string) string {
	for _, p := range ps {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

type node[H any] struct {
	path      string
	nType     nodeType
	paramName string

	children []*node[H] // static children
	wildcard *node[H]   // :param child
	catchAll *node[H]   // *param child

	handler    H
	hasHandler bool
	pattern    string
}

// Tree is a segment tree keyed by slash-separated paths. Segments are either
// literal, ":name" (exactly one non-empty segment) or "*name" (the rest of
// the path, only as the last segment). Literal segments are tried first,
// then parameters, then catch-alls; a branch that dead-ends falls back to
// the next candidate.
//
// Tree is not safe for concurrent mutation; see Table.
type Tree[H any] struct {
	root node[H]
	size int
}

// Insert registers h under pattern. Registering the same pattern again
// replaces the handler. Invalid patterns panic.
func (t *Tree[H]) Insert(pattern string, h H) {
	if pattern == "" || pattern[0] != '/' {
		panic("path must begin with '/' in path '" + pattern + "'")
	}

	n := &t.root
	rest := pattern[1:]
	for {
		seg, tail, more := strings.Cut(rest, "/")
		n = n.child(seg, more, pattern)
		if !more {
			break
		}
		rest = tail
	}

	if !n.hasHandler {
		t.size++
	}
	n.handler = h
	n.hasHandler = true
	n.pattern = pattern
}

func (n *node[H]) child(seg string, more bool, pattern string) *node[H] {
	wildcard, valid := findWildcard(seg)
	if !valid {
		panic("only one wildcard per path segment is allowed in path '" + pattern + "'")
	}
	if wildcard == "" {
		for _, c := range n.children {
			if c.path == seg {
				return c
			}
		}
		c := &node[H]{path: seg}
		n.children = append(n.children, c)
		return c
	}

	if len(wildcard) < 2 {
		panic("wildcards must be named with a non-empty name in path '" + pattern + "'")
	}
	name := wildcard[1:]

	if wildcard[0] == ':' {
		if n.wildcard == nil {
			n.wildcard = &node[H]{path: seg, nType: param, paramName: name}
		} else if n.wildcard.paramName != name {
			panic("'" + seg + "' conflicts with existing wildcard '" + n.wildcard.path + "' in path '" + pattern + "'")
		}
		return n.wildcard
	}

	if more {
		panic("catch-all routes are only allowed at the end of the path in path '" + pattern + "'")
	}
	if n.catchAll == nil {
		n.catchAll = &node[H]{path: seg, nType: catchAll, paramName: name}
	} else if n.catchAll.paramName != name {
		panic("'" + seg + "' conflicts with existing catch-all '" + n.catchAll.path + "' in path '" + pattern + "'")
	}
	return n.catchAll
}

// findWildcard reports the wildcard a segment declares, if any. A segment is
// valid when it is a plain literal or a single wildcard spanning the whole
// segment.
func findWildcard(seg string) (wildcard string, valid bool) {
	i := strings.IndexAny(seg, ":*")
	if i < 0 {
		return "", true
	}
	if i > 0 || strings.ContainsAny(seg[1:], ":*") {
		return "", false
	}
	return seg, true
}

// Find looks up path, which must begin with '/'.
func (t *Tree[H]) Find(path string) (h H, ps Params, ok bool) {
	if path == "" || path[0] != '/' {
		return h, nil, false
	}
	n := t.root.search(path, &ps)
	if n == nil {
		return h, nil, false
	}
	return n.handler, ps, true
}

// find is Find(Key(method, path)) without the concatenation.
func (t *Tree[H]) find(method, path string) (h H, ps Params, ok bool) {
	if path == "" || path[0] != '/' {
		return t.Find(Key(method, path))
	}
	for _, c := range t.root.children {
		if c.path != method {
			continue
		}
		if n := c.search(path, &ps); n != nil {
			return n.handler, ps, true
		}
		break
	}
	// A method segment may still match a wildcard route.
	if t.root.wildcard != nil || t.root.catchAll != nil {
		return t.Find(Key(method, path))
	}
	return h, nil, false
}

// Len returns the number of registered patterns.
func (t *Tree[H]) Len() int { return t.size }

// search matches path, which is either empty (all segments consumed) or a
// '/' followed by the next segment.
func (n *node[H]) search(path string, ps *Params) *node[H] {
	if path == "" {
		if n.hasHandler {
			return n
		}
		return nil
	}

	seg, rest := path[1:], ""
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg, rest = seg[:i], seg[i:]
	}

	for _, c := range n.children {
		if c.path == seg {
			if found := c.search(rest, ps); found != nil {
				return found
			}
			break
		}
	}

	if n.wildcard != nil && seg != "" {
		mark := len(*ps)
		*ps = append(*ps, Param{Key: n.wildcard.paramName, Value: seg})
		if found := n.wildcard.search(rest, ps); found != nil {
			return found
		}
		*ps = (*ps)[:mark]
	}

	if n.catchAll != nil && n.catchAll.hasHandler {
		*ps = append(*ps, Param{Key: n.catchAll.paramName, Value: path[1:]})
		return n.catchAll
	}
	return nil
}
