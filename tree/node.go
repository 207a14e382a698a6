// Package tree is the client side of the remote hierarchical store: path addressing, raw nodes,
// the Store contract every backend implements, live subscriptions, and the helpers that turn
// an opaque node into a typed record.
package tree

import (
	"fmt"
	"sort"
	"strings"
)

// Path addresses a node by its sequence of keys, root first.
type Path []string

// P builds a Path from segments.
func P(segments ...string) Path {
	return Path(segments)
}

// Child returns a new path extended by keys. The receiver is never modified.
func (p Path) Child(keys ...string) Path {
	out := make(Path, 0, len(p)+len(keys))
	out = append(out, p...)
	return append(out, keys...)
}

// Key is the last segment, or "" for the root.
func (p Path) Key() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// HasPrefix reports whether q is an ancestor of (or equal to) p.
func (p Path) HasPrefix(q Path) bool {
	if len(q) > len(p) {
		return false
	}
	for i := range q {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Valid rejects empty segments and segments containing a slash.
func (p Path) Valid() error {
	for _, s := range p {
		if s == "" || strings.Contains(s, "/") {
			return fmt.Errorf("invalid path segment %q in %s", s, p)
		}
	}
	return nil
}

func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}

// Node is a snapshot of one location in the tree. Value holds the decoded JSON: a
// map[string]interface{} for structured nodes, a scalar for leaves, nil when nothing is stored.
// The backend never embeds Key in Value; it comes from the path.
type Node struct {
	Key   string
	Value interface{}
}

// Exists reports whether anything is stored at the node.
func (n Node) Exists() bool {
	return n.Value != nil
}

// IsObject reports whether the node holds a keyed object.
func (n Node) IsObject() bool {
	_, ok := n.Value.(map[string]interface{})
	return ok
}

// Child returns the node stored under key. Missing children and children of scalars are
// returned as absent nodes.
func (n Node) Child(key string) Node {
	m, ok := n.Value.(map[string]interface{})
	if !ok {
		return Node{Key: key}
	}
	return Node{Key: key, Value: m[key]}
}

// Children lists the node's children ordered by key. An absent node means "no children yet"
// and yields an empty list; a scalar where an object was expected is ErrInvalidJSONType.
func (n Node) Children() ([]Node, error) {
	if n.Value == nil {
		return []Node{}, nil
	}
	m, ok := n.Value.(map[string]interface{})
	if !ok {
		return nil, InvalidType(n.Key, n.Value)
	}
	out := make([]Node, 0, len(m))
	for k, v := range m {
		out = append(out, Node{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Keys lists the child keys in order, ignoring scalar nodes.
func (n Node) Keys() []string {
	m, ok := n.Value.(map[string]interface{})
	if !ok {
		return []string{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the node's value as a string.
func (n Node) String() (string, error) {
	switch v := n.Value.(type) {
	case nil:
		return "", fmt.Errorf("%w: %q", ErrNoChild, n.Key)
	case string:
		return v, nil
	default:
		return "", InvalidType(n.Key, n.Value)
	}
}

// Float returns the node's numeric value. Backends disagree on integer representation so every
// numeric kind is accepted.
func (n Node) Float() (float64, error) {
	if n.Value == nil {
		return 0, fmt.Errorf("%w: %q", ErrNoChild, n.Key)
	}
	f, ok := Number(n.Value)
	if !ok {
		return 0, InvalidType(n.Key, n.Value)
	}
	return f, nil
}

// Bool returns the node's boolean value, or fallback if nothing is stored.
func (n Node) Bool(fallback bool) (bool, error) {
	switch v := n.Value.(type) {
	case nil:
		return fallback, nil
	case bool:
		return v, nil
	default:
		return false, InvalidType(n.Key, n.Value)
	}
}

// Number converts any numeric JSON value to float64.
func Number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
