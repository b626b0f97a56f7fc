// Package canvas draws plot frames: the server raster, axes, labels and the brush overlay.
package canvas

import (
	"math"

	"github.com/signac/viewer/internal/protocol"
)

// Frame layout in pixels. The raster sits at (MarginX+Padding, MarginY+Padding).
const (
	MarginX = 20
	MarginY = 20
	Padding = 40
)

// Scale is a linear map from a data domain onto a pixel range.
type Scale struct {
	D0, D1 float64
	R0, R1 float64
}

// NewScale returns a scale mapping [d0,d1] onto [r0,r1].
func NewScale(d0, d1, r0, r1 float64) Scale {
	return Scale{D0: d0, D1: d1, R0: r0, R1: r1}
}

// Map converts a data value to pixels.
func (s Scale) Map(v float64) float64 {
	if s.D1 == s.D0 {
		return s.R0
	}
	return s.R0 + (v-s.D0)/(s.D1-s.D0)*(s.R1-s.R0)
}

// Invert converts a pixel position back to data units.
func (s Scale) Invert(p float64) float64 {
	if s.R1 == s.R0 {
		return s.D0
	}
	return s.D0 + (p-s.R0)/(s.R1-s.R0)*(s.D1-s.D0)
}

// Clamp limits p to the pixel range.
func (s Scale) Clamp(p float64) float64 {
	lo, hi := s.R0, s.R1
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Max(lo, math.Min(hi, p))
}

// Ticks returns roughly n evenly spaced round values inside the domain.
func (s Scale) Ticks(n int) []float64 {
	lo, hi := s.D0, s.D1
	if lo > hi {
		lo, hi = hi, lo
	}
	if n <= 0 || lo == hi || math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(hi-lo, 0) {
		return nil
	}

	step := tickStep(lo, hi, n)
	start := math.Ceil(lo / step)
	stop := math.Floor(hi / step)
	ticks := make([]float64, 0, int(stop-start)+1)
	for i := start; i <= stop; i++ {
		// Multiplying avoids accumulating float error across steps.
		ticks = append(ticks, i*step)
	}
	return ticks
}

func tickStep(lo, hi float64, n int) float64 {
	raw := (hi - lo) / float64(n)
	step := math.Pow(10, math.Floor(math.Log10(raw)))
	e := raw / step
	switch {
	case e >= math.Sqrt(50):
		step *= 10
	case e >= math.Sqrt(10):
		step *= 5
	case e >= math.Sqrt(2):
		step *= 2
	}
	return step
}

// Geometry places a width x height raster inside a frame.
type Geometry struct {
	Left, Top     int
	Width, Height int
}

// PlotGeometry returns the frame geometry for a raster of the given size.
func PlotGeometry(width, height int) Geometry {
	return Geometry{Left: MarginX + Padding, Top: MarginY + Padding, Width: width, Height: height}
}

// FrameSize is the full frame size including axis margins.
func (g Geometry) FrameSize() (int, int) {
	return g.Left + g.Width, g.Top + g.Height
}

// Scales builds the axis scales for info over the raster area. Both axes grow
// from the top-left corner, matching the server raster orientation.
func (g Geometry) Scales(info protocol.AxisInfo) (x, y Scale) {
	l, t := float64(g.Left), float64(g.Top)
	x = NewScale(info.XMin, info.XMax, l, l+float64(g.Width))
	y = NewScale(info.YMin, info.YMax, t, t+float64(g.Height))
	return x, y
}

// Extent is a rectangle in frame pixels, as reported by the brush overlay.
type Extent struct {
	X0, Y0, X1, Y1 float64
}

// Normalize orders the corners so X0<=X1 and Y0<=Y1.
func (e Extent) Normalize() Extent {
	if e.X0 > e.X1 {
		e.X0, e.X1 = e.X1, e.X0
	}
	if e.Y0 > e.Y1 {
		e.Y0, e.Y1 = e.Y1, e.Y0
	}
	return e
}

// Empty reports whether the extent has no area.
func (e Extent) Empty() bool {
	return e.X0 == e.X1 || e.Y0 == e.Y1
}
