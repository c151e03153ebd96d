package builtin

import (
	"time"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/scene"
)

// Clock renders HH:MM centered and ticks at the next minute boundary.
// Payload: {color: "white"|"red"|"green"|"blue"}.
func Clock() *scene.Scene {
	return &scene.Scene{
		Name:                 "clock",
		WantsLoop:            true,
		AdaptiveTiming:       true,
		RequiredCapabilities: []drivers.Capability{drivers.CapText},
		Render: func(ctx *scene.Context) (*time.Duration, error) {
			caps := ctx.Driver.Capabilities()
			now := time.Now()

			ctx.Driver.Clear()
			if err := ctx.Driver.DrawText(now.Format("15:04"),
				drivers.Point{X: caps.Width / 2, Y: (caps.Height - 7) / 2},
				clockColor(ctx.PayloadString("color", "white")),
				drivers.AlignCenter); err != nil {
				return nil, err
			}

			// Wake just past the next minute boundary.
			next := now.Truncate(time.Minute).Add(time.Minute).Sub(now) + 50*time.Millisecond
			return scene.Delay(next), nil
		},
	}
}

func clockColor(name string) drivers.RGBA {
	switch name {
	case "red":
		return drivers.RGBA{R: 0xff, A: 0xff}
	case "green":
		return drivers.RGBA{G: 0xff, A: 0xff}
	case "blue":
		return drivers.RGBA{B: 0xff, A: 0xff}
	default:
		return drivers.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	}
}
