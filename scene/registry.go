package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pixelfleet/pixeld/drivers"
)

var (
	errSceneUnnamed  = errors.New("scene has no name")
	errSceneNoRender = errors.New("scene has no render function")

	// ErrUnknownScene is returned by lookups for unregistered names.
	ErrUnknownScene = errors.New("unknown scene")
)

// Registry maps scene names to modules. Registration happens once at
// startup; lookups are concurrent.
type Registry struct {
	mu     sync.RWMutex
	scenes map[string]*Scene
}

func NewRegistry() *Registry {
	return &Registry{scenes: make(map[string]*Scene)}
}

// Register adds a scene module. Names must be unique.
func (r *Registry) Register(s *Scene) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid scene %q: %w", s.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.scenes[s.Name]; exists {
		return fmt.Errorf("scene %q already registered", s.Name)
	}
	r.scenes[s.Name] = s
	return nil
}

// Get returns the named scene module.
func (r *Registry) Get(name string) (*Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScene, name)
	}
	return s, nil
}

// List returns the scenes compatible with the given device type and
// capabilities, sorted by name. A nil caps lists everything.
func (r *Registry) List(deviceType string, caps *drivers.Capabilities) []*Scene {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Scene, 0, len(r.scenes))
	for _, s := range r.scenes {
		if caps == nil || s.CompatibleWith(deviceType, caps) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Scheduled returns the scenes carrying scheduling metadata, sorted by
// name. The scheduler polls these for window activation.
func (r *Registry) Scheduled() []*Scene {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Scene
	for _, s := range r.scenes {
		if s.Schedule != nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
