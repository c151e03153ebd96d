package drivers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	red   = RGBA{R: 0xff, A: 0xff}
	white = RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

func TestFramebuffer_SetAt(t *testing.T) {
	fb := NewFramebuffer(8, 8)

	require.NoError(t, fb.Set(Point{0, 0}, red))
	require.NoError(t, fb.Set(Point{7, 7}, white))
	require.Equal(t, red, fb.At(Point{0, 0}))
	require.Equal(t, white, fb.At(Point{7, 7}))

	// Out of bounds is rejected and reads back zero.
	require.ErrorIs(t, fb.Set(Point{8, 0}, red), ErrOutOfBounds)
	require.ErrorIs(t, fb.Set(Point{0, -1}, red), ErrOutOfBounds)
	require.Equal(t, RGBA{}, fb.At(Point{8, 0}))
}

func TestFramebuffer_Clear(t *testing.T) {
	fb := NewFramebuffer(4, 4)
	require.NoError(t, fb.Set(Point{1, 1}, red))

	fb.Clear()
	require.Equal(t, RGBA{A: 0xff}, fb.At(Point{1, 1}))
	require.Equal(t, RGBA{A: 0xff}, fb.At(Point{0, 0}))
}

func TestFramebuffer_Line(t *testing.T) {
	fb := NewFramebuffer(8, 8)

	// Horizontal line covers every pixel between the endpoints.
	fb.Line(Point{0, 3}, Point{7, 3}, red)
	for x := 0; x < 8; x++ {
		require.Equal(t, red, fb.At(Point{x, 3}), "x=%d", x)
	}

	// Diagonal hits the exact diagonal pixels.
	fb.Clear()
	fb.Line(Point{0, 0}, Point{7, 7}, white)
	for i := 0; i < 8; i++ {
		require.Equal(t, white, fb.At(Point{i, i}), "i=%d", i)
	}

	// Endpoints outside the display clip instead of panicking.
	fb.Line(Point{-4, -4}, Point{12, 12}, red)
}

func TestFramebuffer_FillRect(t *testing.T) {
	fb := NewFramebuffer(8, 8)

	// Corners given in any order; the rectangle is inclusive.
	fb.FillRect(Point{5, 5}, Point{2, 2}, red)
	for y := 2; y <= 5; y++ {
		for x := 2; x <= 5; x++ {
			require.Equal(t, red, fb.At(Point{x, y}))
		}
	}
	require.Equal(t, RGBA{}, fb.At(Point{1, 1}))
	require.Equal(t, RGBA{}, fb.At(Point{6, 6}))
}

func TestFramebuffer_Text(t *testing.T) {
	fb := NewFramebuffer(64, 16)

	fb.Text("HI", Point{0, 0}, white, AlignLeft)
	lit := 0
	for _, px := range fb.Snapshot() {
		if px == white {
			lit++
		}
	}
	require.Positive(t, lit, "text should light pixels")

	// Unknown runes render as blanks, not panics.
	fb.Clear()
	fb.Text("éè", Point{0, 0}, white, AlignLeft)
}

func TestTextWidth(t *testing.T) {
	require.Equal(t, 0, TextWidth(""))
	require.Equal(t, 5, TextWidth("A"))
	// n glyphs plus n-1 spacing columns.
	require.Equal(t, 5*3+2, TextWidth("ABC"))
}

func TestFramebuffer_TextAlign(t *testing.T) {
	w := TextWidth("X")

	leftFB := NewFramebuffer(32, 8)
	leftFB.Text("X", Point{16, 0}, white, AlignLeft)

	rightFB := NewFramebuffer(32, 8)
	rightFB.Text("X", Point{16 + w, 0}, white, AlignRight)

	// Right-aligned at x+width matches left-aligned at x.
	require.Equal(t, leftFB.Snapshot(), rightFB.Snapshot())
}

func TestFramebuffer_Snapshot(t *testing.T) {
	fb := NewFramebuffer(4, 4)
	require.NoError(t, fb.Set(Point{1, 2}, red))

	snap := fb.Snapshot()
	require.Len(t, snap, 16)
	require.Equal(t, red, snap[2*4+1])

	// The snapshot is a copy.
	snap[0] = white
	require.Equal(t, RGBA{}, fb.At(Point{0, 0}))
}
