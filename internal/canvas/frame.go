package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strconv"

	"github.com/fogleman/gg"
)

// BrushFunc receives brush extents in frame pixels.
type BrushFunc func(Extent)

// Surface is the drawing target of one plot.
type Surface interface {
	// Clear discards the previous drawing and sizes the frame for a raster.
	Clear(width, height int)
	DrawImage(img image.Image)
	DrawXAxis(s Scale, label string)
	DrawYAxis(s Scale, label string)
	// AttachBrush installs a fresh brush overlay. Like browser brush widgets,
	// attaching fires one calibration callback with an empty extent.
	AttachBrush(fn BrushFunc)
	// Present marks the end of a redraw.
	Present()
	Close()
}

const tickCount = 10

var (
	axisColor  = color.RGBA{60, 60, 60, 255}
	brushFill  = color.RGBA{70, 130, 180, 60}
	brushEdge  = color.RGBA{70, 130, 180, 255}
	background = color.White
)

// Frame is a headless Surface drawn with gg.
type Frame struct {
	plotID    int
	dc        *gg.Context
	geom      Geometry
	brush     BrushFunc
	extent    Extent
	presented int
	closed    bool
	onPresent func(*Frame)
}

// NewFrame returns an empty frame for a plot.
func NewFrame(plotID int, onPresent func(*Frame)) *Frame {
	f := &Frame{plotID: plotID, onPresent: onPresent}
	f.Clear(1, 1)
	return f
}

// PlotID returns the plot this frame belongs to.
func (f *Frame) PlotID() int { return f.plotID }

// Geometry returns the current raster placement.
func (f *Frame) Geometry() Geometry { return f.geom }

// Presented counts completed redraws.
func (f *Frame) Presented() int { return f.presented }

// Clear resets the frame for a width x height raster.
func (f *Frame) Clear(width, height int) {
	f.geom = PlotGeometry(width, height)
	w, h := f.geom.FrameSize()
	f.dc = gg.NewContext(w, h)
	f.dc.SetColor(background)
	f.dc.Clear()
	f.brush = nil
	f.extent = Extent{}
}

// DrawImage draws the server raster at the plot origin.
func (f *Frame) DrawImage(img image.Image) {
	f.dc.DrawImage(img, f.geom.Left, f.geom.Top)
}

// DrawXAxis draws the top axis line, ticks and label.
func (f *Frame) DrawXAxis(s Scale, label string) {
	dc := f.dc
	y := float64(f.geom.Top)
	dc.SetColor(axisColor)
	dc.SetLineWidth(1)
	dc.DrawLine(s.R0, y, s.R1, y)
	dc.Stroke()
	for _, v := range s.Ticks(tickCount) {
		x := s.Map(v)
		dc.DrawLine(x, y, x, y-6)
		dc.Stroke()
		dc.DrawStringAnchored(formatTick(v), x, y-8, 0.5, 0)
	}
	dc.DrawStringAnchored(label, float64(f.geom.Left)+float64(f.geom.Width)/2, MarginY, 0.5, 0)
}

// DrawYAxis draws the left axis line, ticks and a rotated label.
func (f *Frame) DrawYAxis(s Scale, label string) {
	dc := f.dc
	x := float64(f.geom.Left)
	dc.SetColor(axisColor)
	dc.SetLineWidth(1)
	dc.DrawLine(x, s.R0, x, s.R1)
	dc.Stroke()
	for _, v := range s.Ticks(tickCount) {
		y := s.Map(v)
		dc.DrawLine(x, y, x-6, y)
		dc.Stroke()
		dc.DrawStringAnchored(formatTick(v), x-8, y, 1, 0.5)
	}
	cy := float64(f.geom.Top) + float64(f.geom.Height)/2
	dc.Push()
	dc.RotateAbout(-math.Pi/2, MarginX, cy)
	dc.DrawStringAnchored(label, MarginX, cy, 0.5, 0)
	dc.Pop()
}

// AttachBrush installs fn and fires the calibration callback.
func (f *Frame) AttachBrush(fn BrushFunc) {
	f.brush = fn
	f.extent = Extent{}
	if fn != nil {
		fn(f.extent)
	}
}

// Drag simulates a user brush gesture over the raster.
func (f *Frame) Drag(e Extent) {
	if f.brush == nil || f.closed {
		return
	}
	f.extent = e.Normalize()
	f.brush(f.extent)
}

// Present finishes a redraw.
func (f *Frame) Present() {
	f.presented++
	if f.onPresent != nil && !f.closed {
		f.onPresent(f)
	}
}

// Close detaches the brush; the frame stops reporting gestures.
func (f *Frame) Close() {
	f.closed = true
	f.brush = nil
}

// Image returns the frame with the current brush overlay composited on top.
func (f *Frame) Image() image.Image {
	if f.extent.Empty() {
		return f.dc.Image()
	}
	w, h := f.geom.FrameSize()
	out := gg.NewContext(w, h)
	out.DrawImage(f.dc.Image(), 0, 0)
	e := f.extent
	out.DrawRectangle(e.X0, e.Y0, e.X1-e.X0, e.Y1-e.Y0)
	out.SetColor(brushFill)
	out.FillPreserve()
	out.SetColor(brushEdge)
	out.SetLineWidth(1)
	out.Stroke()
	return out.Image()
}

// EncodePNG writes the frame as PNG.
func (f *Frame) EncodePNG(w io.Writer) error {
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	return encoder.Encode(w, f.Image())
}

// PNG returns the encoded frame.
func (f *Frame) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTick(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
