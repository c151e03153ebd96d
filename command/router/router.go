// Package router parses inbound control commands from the MQTT topic tree
// and the HTTP control plane into typed scheduler operations. The router
// validates, resolves the target device and hands off to the device's
// mailbox; it never touches driver or scene APIs directly.
package router

import (
	"errors"
	"fmt"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/pixelfleet/pixeld/device"
	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/scene"
	"github.com/pixelfleet/pixeld/scheduler"
	"github.com/pixelfleet/pixeld/state"
)

// ErrValidation marks malformed commands: unknown scene, out-of-range
// parameter, bad payload shape. Validation failures never mutate state.
var ErrValidation = errors.New("validation error")

// Router is stateless aside from subscription bookkeeping.
type Router struct {
	logger   hclog.Logger
	registry *device.Registry
	manager  *scheduler.Manager
	scenes   *scene.Registry
	store    *state.Store
}

func New(registry *device.Registry, manager *scheduler.Manager, scenes *scene.Registry,
	store *state.Store, logger hclog.Logger) *Router {

	return &Router{
		logger:   logger.Named("router"),
		registry: registry,
		manager:  manager,
		scenes:   scenes,
		store:    store,
	}
}

func (r *Router) sched(host string) (*scheduler.DeviceScheduler, error) {
	if _, err := r.registry.Get(host); err != nil {
		return nil, err
	}
	return r.manager.Get(host)
}

// SwitchScene validates and enqueues a scene switch. Extra payload keys
// ride along as scene parameters.
func (r *Router) SwitchScene(host, sceneName string, payload map[string]any, clear bool) error {
	if sceneName == "" {
		return fmt.Errorf("%w: scene name must be set", ErrValidation)
	}
	if _, err := r.scenes.Get(sceneName); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}
	s, err := r.sched(host)
	if err != nil {
		return err
	}
	return s.Enqueue(scheduler.Command{
		Op:      scheduler.OpSwitch,
		Scene:   sceneName,
		Payload: payload,
		Clear:   clear,
	})
}

func (r *Router) Pause(host string) error   { return r.simple(host, scheduler.OpPause) }
func (r *Router) Resume(host string) error  { return r.simple(host, scheduler.OpResume) }
func (r *Router) Stop(host string) error    { return r.simple(host, scheduler.OpStop) }
func (r *Router) Restart(host string) error { return r.simple(host, scheduler.OpRestart) }
func (r *Router) Reset(host string) error   { return r.simple(host, scheduler.OpReset) }

func (r *Router) simple(host string, op scheduler.Op) error {
	s, err := r.sched(host)
	if err != nil {
		return err
	}
	return s.Enqueue(scheduler.Command{Op: op})
}

// SetBrightness validates the range before it ever reaches the mailbox.
func (r *Router) SetBrightness(host string, pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: brightness %d out of range 0..100", ErrValidation, pct)
	}
	s, err := r.sched(host)
	if err != nil {
		return err
	}
	return s.Enqueue(scheduler.Command{Op: scheduler.OpSetBrightness, Brightness: pct})
}

func (r *Router) SetPower(host string, on bool) error {
	s, err := r.sched(host)
	if err != nil {
		return err
	}
	return s.Enqueue(scheduler.Command{Op: scheduler.OpSetPower, On: on})
}

// SwitchDriver hot-swaps between real and mock through the registry.
func (r *Router) SwitchDriver(host string, kind string) error {
	k := drivers.Kind(kind)
	if !k.Valid() {
		return fmt.Errorf("%w: unknown driver kind %q", ErrValidation, kind)
	}
	return r.registry.SetDriver(host, k)
}

// UpdateSceneState writes one key into a scene's per-device state bag,
// the external state-injection path.
func (r *Router) UpdateSceneState(host, sceneName, key string, value any) error {
	if host == "" || sceneName == "" || key == "" {
		return fmt.Errorf("%w: deviceIp, sceneName and stateKey must be set", ErrValidation)
	}
	if _, err := r.registry.Get(host); err != nil {
		return err
	}
	if _, err := r.scenes.Get(sceneName); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}
	path := fmt.Sprintf("%s.%s.%s.%s", state.NamespaceScene, host, sceneName, key)
	return r.store.Set(path, value)
}
