// Package state implements the daemon's single in-memory source of truth.
// State lives in three namespaces addressed by dotted paths:
//
//	global.<key>
//	device.<host>.<key>
//	scene.<host>.<sceneName>.<key>
//
// Mutations within one namespace are serialized; observers fire after the
// lock is released, in mutation order, and may themselves mutate the store
// (re-entrant mutations are queued, never recursive).
package state

import (
	"fmt"
	"strings"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/mitchellh/copystructure"
)

const (
	NamespaceGlobal = "global"
	NamespaceDevice = "device"
	NamespaceScene  = "scene"
)

// SnapshotVersion tags full-store snapshots so Restore can reject
// incompatible shapes.
const SnapshotVersion = 1

// Observer receives one change notification. Observers must be cheap;
// anything slow should hand off to its own goroutine.
type Observer func(path string, oldVal, newVal any)

type subscription struct {
	id     int
	prefix string
	cb     Observer
}

type notification struct {
	path     string
	oldVal   any
	newVal   any
}

// Store is the process-wide state repository.
type Store struct {
	logger hclog.Logger

	mu    sync.Mutex // guards namespaces map structure
	nsMu  map[string]*sync.Mutex
	ns    map[string]map[string]any

	subMu  sync.Mutex
	subs   []*subscription
	nextID int

	// notifyMu serializes observer dispatch; pending queues
	// notifications raised while a dispatch is in progress (including
	// re-entrant mutations from observers).
	notifyMu  sync.Mutex
	pending   []notification
	notifying bool

	// onMutate, when set, is invoked (outside locks) after every
	// mutation. The persister hooks in here.
	onMutate func(path string)
}

func NewStore(logger hclog.Logger) *Store {
	s := &Store{
		logger: logger.Named("state"),
		nsMu:   make(map[string]*sync.Mutex),
		ns:     make(map[string]map[string]any),
	}
	for _, name := range []string{NamespaceGlobal, NamespaceDevice, NamespaceScene} {
		s.nsMu[name] = &sync.Mutex{}
		s.ns[name] = make(map[string]any)
	}
	return s
}

// splitPath returns the namespace and the remaining key segments.
func splitPath(path string) (string, []string, error) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("path %q must have at least a namespace and a key", path)
	}
	return parts[0], parts[1:], nil
}

func (s *Store) namespace(name string) (*sync.Mutex, map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.nsMu[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown state namespace %q", name)
	}
	return mu, s.ns[name], nil
}

// Get returns the value at path, or def when absent.
func (s *Store) Get(path string, def any) any {
	nsName, keys, err := splitPath(path)
	if err != nil {
		return def
	}
	mu, root, err := s.namespace(nsName)
	if err != nil {
		return def
	}

	mu.Lock()
	defer mu.Unlock()
	v, ok := lookup(root, keys)
	if !ok {
		return def
	}
	return v
}

// GetString is Get with a string assertion.
func (s *Store) GetString(path, def string) string {
	if v, ok := s.Get(path, def).(string); ok {
		return v
	}
	return def
}

// GetBool is Get with a bool assertion.
func (s *Store) GetBool(path string, def bool) bool {
	if v, ok := s.Get(path, def).(bool); ok {
		return v
	}
	return def
}

// GetInt is Get with an int assertion, tolerating float64 from JSON.
func (s *Store) GetInt(path string, def int) int {
	switch v := s.Get(path, def).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Set writes value at path and notifies observers.
func (s *Store) Set(path string, value any) error {
	nsName, keys, err := splitPath(path)
	if err != nil {
		return err
	}
	mu, root, err := s.namespace(nsName)
	if err != nil {
		return err
	}

	mu.Lock()
	old, _ := lookup(root, keys)
	insert(root, keys, value)
	mu.Unlock()

	s.afterMutate(path, old, value)
	return nil
}

// Update applies fn atomically to the value at path. fn receives the
// current value (or nil) and returns the replacement.
func (s *Store) Update(path string, fn func(cur any) any) error {
	nsName, keys, err := splitPath(path)
	if err != nil {
		return err
	}
	mu, root, err := s.namespace(nsName)
	if err != nil {
		return err
	}

	mu.Lock()
	old, _ := lookup(root, keys)
	newVal := fn(old)
	insert(root, keys, newVal)
	mu.Unlock()

	s.afterMutate(path, old, newVal)
	return nil
}

// Delete removes the subtree at path. Observers see newVal=nil.
func (s *Store) Delete(path string) error {
	nsName, keys, err := splitPath(path)
	if err != nil {
		return err
	}
	mu, root, err := s.namespace(nsName)
	if err != nil {
		return err
	}

	mu.Lock()
	old, existed := lookup(root, keys)
	remove(root, keys)
	mu.Unlock()

	if existed {
		s.afterMutate(path, old, nil)
	}
	return nil
}

// Subscribe registers cb for every mutation whose path starts with prefix.
// The returned function unsubscribes and is idempotent.
func (s *Store) Subscribe(prefix string, cb Observer) func() {
	s.subMu.Lock()
	s.nextID++
	sub := &subscription{id: s.nextID, prefix: prefix, cb: cb}
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, cand := range s.subs {
				if cand.id == sub.id {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// afterMutate queues the notification and drains the queue unless another
// drain is already in progress on some goroutine. Draining outside the
// namespace locks keeps observers free to read and mutate the store; the
// queue keeps re-entrant mutations iterative instead of recursive.
func (s *Store) afterMutate(path string, oldVal, newVal any) {
	if s.onMutate != nil {
		s.onMutate(path)
	}

	s.notifyMu.Lock()
	s.pending = append(s.pending, notification{path: path, oldVal: oldVal, newVal: newVal})
	if s.notifying {
		s.notifyMu.Unlock()
		return
	}
	s.notifying = true

	for len(s.pending) > 0 {
		n := s.pending[0]
		s.pending = s.pending[1:]
		s.notifyMu.Unlock()

		s.subMu.Lock()
		subs := make([]*subscription, len(s.subs))
		copy(subs, s.subs)
		s.subMu.Unlock()

		for _, sub := range subs {
			if strings.HasPrefix(n.path, sub.prefix) {
				sub.cb(n.path, n.oldVal, n.newVal)
			}
		}

		s.notifyMu.Lock()
	}
	s.notifying = false
	s.notifyMu.Unlock()
}

// Snapshot deep-copies the full store contents with a version tag.
func (s *Store) Snapshot() (map[string]any, error) {
	out := map[string]any{"version": SnapshotVersion}
	for _, name := range []string{NamespaceGlobal, NamespaceDevice, NamespaceScene} {
		mu, root, err := s.namespace(name)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		cp, err := copystructure.Copy(root)
		mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to copy namespace %q: %w", name, err)
		}
		out[name] = cp
	}
	return out, nil
}

// Restore replaces the store contents from a Snapshot. Namespaces missing
// from the snapshot are left untouched; unknown top-level keys are ignored
// but preserved in the input. A version mismatch is an error; callers
// reset to defaults.
func (s *Store) Restore(snap map[string]any) error {
	if v, ok := snap["version"].(int); ok && v != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", v)
	}
	for _, name := range []string{NamespaceGlobal, NamespaceDevice, NamespaceScene} {
		raw, ok := snap[name].(map[string]any)
		if !ok {
			continue
		}
		cp, err := copystructure.Copy(raw)
		if err != nil {
			return fmt.Errorf("failed to copy namespace %q: %w", name, err)
		}
		mu, _, err := s.namespace(name)
		if err != nil {
			return err
		}
		mu.Lock()
		s.mu.Lock()
		s.ns[name] = cp.(map[string]any)
		s.mu.Unlock()
		mu.Unlock()
	}
	return nil
}

// DeviceTree returns a deep copy of one device's subtree. Dotted hosts
// descend one level per segment.
func (s *Store) DeviceTree(host string) map[string]any {
	mu, root, err := s.namespace(NamespaceDevice)
	if err != nil {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	cur := root
	for _, seg := range strings.Split(host, ".") {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return map[string]any{}
		}
		cur = next
	}
	cp, err := copystructure.Copy(cur)
	if err != nil {
		return map[string]any{}
	}
	return cp.(map[string]any)
}

func lookup(root map[string]any, keys []string) (any, bool) {
	cur := root
	for i, k := range keys {
		v, ok := cur[k]
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return v, true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

func insert(root map[string]any, keys []string, value any) {
	cur := root
	for i, k := range keys {
		if i == len(keys)-1 {
			cur[k] = value
			return
		}
		next, ok := cur[k].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[k] = next
		}
		cur = next
	}
}

func remove(root map[string]any, keys []string) {
	cur := root
	for i, k := range keys {
		if i == len(keys)-1 {
			delete(cur, k)
			return
		}
		next, ok := cur[k].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}
