package builtin

import (
	"time"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/scene"
)

// Bounce animates a single pixel ricocheting off the display edges.
// Velocity lives in the scene's state bag, so pause/resume and driver
// hot-swaps keep the trajectory.
func Bounce() *scene.Scene {
	return &scene.Scene{
		Name:      "bounce",
		WantsLoop: true,
		Init: func(ctx *scene.Context) error {
			ctx.Set("x", 0)
			ctx.Set("y", 0)
			ctx.Set("dx", 1)
			ctx.Set("dy", 1)
			return nil
		},
		Render: func(ctx *scene.Context) (*time.Duration, error) {
			caps := ctx.Driver.Capabilities()
			x := toInt(ctx.Get("x", 0))
			y := toInt(ctx.Get("y", 0))
			dx := toInt(ctx.Get("dx", 1))
			dy := toInt(ctx.Get("dy", 1))

			x += dx
			y += dy
			if x <= 0 || x >= caps.Width-1 {
				dx = -dx
			}
			if y <= 0 || y >= caps.Height-1 {
				dy = -dy
			}

			ctx.Driver.Clear()
			if err := ctx.Driver.DrawPixel(drivers.Point{X: x, Y: y},
				drivers.RGBA{R: 0xff, G: 0xa5, A: 0xff}); err != nil {
				return nil, err
			}

			ctx.Set("x", x)
			ctx.Set("y", y)
			ctx.Set("dx", dx)
			ctx.Set("dy", dy)
			return scene.Delay(100 * time.Millisecond), nil
		},
		Cleanup: func(ctx *scene.Context) error {
			ctx.ClearInstance()
			return nil
		},
	}
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
