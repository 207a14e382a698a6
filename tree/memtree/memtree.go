// Package memtree is an in-memory tree.Store with live listeners. It backs the hermetic tests of
// the carpool API and the server's memory backend.
package memtree

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"carpool/tree"
)

// Store keeps the whole tree in a nested map. Values are normalised through JSON on the way in,
// so numbers come back as float64 like they do from the Realtime Database.
type Store struct {
	mu        sync.Mutex
	root      map[string]interface{}
	listeners map[*listener]struct{}
	writeErr  error
}

type listener struct {
	path   tree.Path
	sub    *tree.Subscription
	signal chan struct{}
}

var _ tree.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		root:      map[string]interface{}{},
		listeners: map[*listener]struct{}{},
	}
}

// SetWriteError makes every following write fail with err until it is reset with nil.
func (s *Store) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Listeners is the number of live observations.
func (s *Store) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Get implements tree.Store.
func (s *Store) Get(ctx context.Context, path tree.Path) (tree.Node, error) {
	if err := ctx.Err(); err != nil {
		return tree.Node{}, err
	}
	if err := path.Valid(); err != nil {
		return tree.Node{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tree.Node{Key: path.Key(), Value: deepCopy(s.lookup(path))}, nil
}

// Observe implements tree.Store.
func (s *Store) Observe(ctx context.Context, path tree.Path) (*tree.Subscription, error) {
	if err := path.Valid(); err != nil {
		return nil, err
	}
	l := &listener{
		path:   path,
		sub:    tree.NewSubscription(ctx, path),
		signal: make(chan struct{}, 1),
	}
	s.mu.Lock()
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	// The first delivery is the current state.
	l.signal <- struct{}{}
	go s.pump(l)
	return l.sub, nil
}

// pump coalesces change signals and always delivers the latest state.
func (s *Store) pump(l *listener) {
	defer func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
		l.sub.Finish(nil)
	}()
	ctx := l.sub.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.signal:
		}
		s.mu.Lock()
		node := tree.Node{Key: l.path.Key(), Value: deepCopy(s.lookup(l.path))}
		s.mu.Unlock()
		if !l.sub.Emit(node) {
			return
		}
	}
}

// Set implements tree.Store.
func (s *Store) Set(ctx context.Context, path tree.Path, value interface{}) error {
	normalized, err := normalize(value)
	if err != nil {
		return err
	}
	return s.write(ctx, path, func() {
		s.assign(path, normalized)
	})
}

// Update implements tree.Store.
func (s *Store) Update(ctx context.Context, path tree.Path, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return fmt.Errorf("update of %s with no fields", path)
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if err := path.Child(k).Valid(); err != nil {
			return err
		}
		n, err := normalize(v)
		if err != nil {
			return err
		}
		values[k] = n
	}
	return s.write(ctx, path, func() {
		for k, v := range values {
			s.assign(path.Child(k), v)
		}
	})
}

// Remove implements tree.Store.
func (s *Store) Remove(ctx context.Context, path tree.Path) error {
	return s.write(ctx, path, func() {
		s.assign(path, nil)
	})
}

func (s *Store) write(ctx context.Context, path tree.Path, apply func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(path) == 0 {
		return fmt.Errorf("writes to the root are not allowed")
	}
	if err := path.Valid(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}
	apply()
	var notify []*listener
	for l := range s.listeners {
		if l.path.HasPrefix(path) || path.HasPrefix(l.path) {
			notify = append(notify, l)
		}
	}
	s.mu.Unlock()

	for _, l := range notify {
		select {
		case l.signal <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Store) lookup(path tree.Path) interface{} {
	var cur interface{} = s.root
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// assign stores value at path, creating intermediate objects (replacing scalars in the way)
// and pruning objects left empty.
func (s *Store) assign(path tree.Path, value interface{}) {
	parents := make([]map[string]interface{}, 0, len(path))
	cur := s.root
	for _, key := range path[:len(path)-1] {
		parents = append(parents, cur)
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			if value == nil {
				return
			}
			next = map[string]interface{}{}
			cur[key] = next
		}
		cur = next
	}
	if value == nil {
		delete(cur, path.Key())
	} else {
		cur[path.Key()] = value
	}
	for i := len(parents) - 1; i >= 0; i-- {
		child := parents[i][path[i]].(map[string]interface{})
		if len(child) > 0 {
			break
		}
		delete(parents[i], path[i])
	}
}

// normalize round-trips through JSON and prunes empty objects, which do not exist in the tree.
func normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return prune(out), nil
}

func prune(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	for k, child := range m {
		if p := prune(child); p == nil {
			delete(m, k)
		} else {
			m[k] = p
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func deepCopy(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	out := make(map[string]interface{}, len(m))
	for k, child := range m {
		out[k] = deepCopy(child)
	}
	return out
}
