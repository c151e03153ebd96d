// Package builtin carries the small scene library the daemon ships with:
// a static fill, a startup banner, a looping clock and a bouncing-pixel
// animation. They double as living examples of the scene contract.
package builtin

import (
	"fmt"

	"github.com/pixelfleet/pixeld/scene"
)

// RegisterAll adds the builtin scenes to the registry.
func RegisterAll(reg *scene.Registry) error {
	for _, s := range []*scene.Scene{
		Fill(),
		Startup(),
		Clock(),
		Bounce(),
	} {
		if err := reg.Register(s); err != nil {
			return fmt.Errorf("failed to register builtin scene: %w", err)
		}
	}
	return nil
}
