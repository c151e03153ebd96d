package drivers

import (
	"sync"
)

// Framebuffer is the shared in-memory pixel buffer drivers draw into
// between pushes. It implements the geometric draw operations and the
// bitmap-font text fallback so individual drivers only translate the
// committed buffer into their wire format.
//
// A Framebuffer is safe for concurrent use, though in practice only one
// render loop draws into it at a time.
type Framebuffer struct {
	mu     sync.Mutex
	width  int
	height int
	pix    []RGBA
}

func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		width:  width,
		height: height,
		pix:    make([]RGBA, width*height),
	}
}

func (f *Framebuffer) Width() int  { return f.width }
func (f *Framebuffer) Height() int { return f.height }

// Clear resets every pixel to opaque black.
func (f *Framebuffer) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.pix {
		f.pix[i] = RGBA{A: 0xff}
	}
}

// Set writes one pixel. Out-of-bounds writes are rejected.
func (f *Framebuffer) Set(p Point, c RGBA) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set(p, c)
}

func (f *Framebuffer) set(p Point, c RGBA) error {
	if p.X < 0 || p.X >= f.width || p.Y < 0 || p.Y >= f.height {
		return ErrOutOfBounds
	}
	f.pix[p.Y*f.width+p.X] = c
	return nil
}

// At returns the pixel at p, or zero RGBA when out of bounds.
func (f *Framebuffer) At(p Point) RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.X < 0 || p.X >= f.width || p.Y < 0 || p.Y >= f.height {
		return RGBA{}
	}
	return f.pix[p.Y*f.width+p.X]
}

// Line draws with Bresenham's algorithm, clipping to the display.
func (f *Framebuffer) Line(p0, p1 Point, c RGBA) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dx := abs(p1.X - p0.X)
	dy := -abs(p1.Y - p0.Y)
	sx, sy := 1, 1
	if p0.X > p1.X {
		sx = -1
	}
	if p0.Y > p1.Y {
		sy = -1
	}
	err := dx + dy

	x, y := p0.X, p0.Y
	for {
		f.set(Point{x, y}, c) //nolint:errcheck // clipping, not an error
		if x == p1.X && y == p1.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// FillRect fills the inclusive rectangle [tl, br], clipping to the display.
func (f *Framebuffer) FillRect(tl, br Point, c RGBA) {
	f.mu.Lock()
	defer f.mu.Unlock()

	x0, x1 := minInt(tl.X, br.X), maxInt(tl.X, br.X)
	y0, y1 := minInt(tl.Y, br.Y), maxInt(tl.Y, br.Y)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			f.set(Point{x, y}, c) //nolint:errcheck
		}
	}
}

// Text renders s with the builtin 5x7 bitmap font, anchored at pos
// according to align. Characters outside the font render as blanks. This
// is the fallback path for displays without native text support.
func (f *Framebuffer) Text(s string, pos Point, c RGBA, align TextAlign) {
	w := TextWidth(s)
	x := pos.X
	switch align {
	case AlignCenter:
		x -= w / 2
	case AlignRight:
		x -= w
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range s {
		glyph := lookupGlyph(r)
		for col := 0; col < fontWidth; col++ {
			bits := glyph[col]
			for row := 0; row < fontHeight; row++ {
				if bits&(1<<uint(row)) != 0 {
					f.set(Point{x + col, pos.Y + row}, c) //nolint:errcheck
				}
			}
		}
		x += fontWidth + 1
	}
}

// TextWidth returns the pixel width of s in the builtin font.
func TextWidth(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return n*fontWidth + (n - 1)
}

// Snapshot returns a copy of the pixel data in row-major order.
func (f *Framebuffer) Snapshot() []RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RGBA, len(f.pix))
	copy(out, f.pix)
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
