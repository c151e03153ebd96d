package builtin

import (
	"time"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/scene"
)

// Fill paints the whole display one color and completes. Payload:
// {r, g, b} each 0..255, defaulting to black.
func Fill() *scene.Scene {
	return &scene.Scene{
		Name:      "fill",
		WantsLoop: false,
		Render: func(ctx *scene.Context) (*time.Duration, error) {
			caps := ctx.Driver.Capabilities()
			c := drivers.RGBA{
				R: uint8(ctx.PayloadInt("r", 0)),
				G: uint8(ctx.PayloadInt("g", 0)),
				B: uint8(ctx.PayloadInt("b", 0)),
				A: 0xff,
			}
			if err := ctx.Driver.FillRect(
				drivers.Point{X: 0, Y: 0},
				drivers.Point{X: caps.Width - 1, Y: caps.Height - 1},
				c,
			); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}
}
