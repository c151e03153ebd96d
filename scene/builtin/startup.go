package builtin

import (
	"time"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/scene"
	"github.com/pixelfleet/pixeld/version"
)

// Startup draws a one-shot version banner, the default scene after boot.
func Startup() *scene.Scene {
	return &scene.Scene{
		Name:                 "startup",
		WantsLoop:            false,
		RequiredCapabilities: []drivers.Capability{drivers.CapText},
		Render: func(ctx *scene.Context) (*time.Duration, error) {
			caps := ctx.Driver.Capabilities()
			white := drivers.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

			ctx.Driver.Clear()
			if err := ctx.Driver.DrawText("PIXELD",
				drivers.Point{X: caps.Width / 2, Y: caps.Height/2 - 8},
				white, drivers.AlignCenter); err != nil {
				return nil, err
			}
			if err := ctx.Driver.DrawText("V"+version.Version,
				drivers.Point{X: caps.Width / 2, Y: caps.Height / 2},
				drivers.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
				drivers.AlignCenter); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}
}
