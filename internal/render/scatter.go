// Package render rasterises scatterplots using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/signac/viewer/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	PointSize       float64
	DefaultColormap string
	// MaxPoints caps the points drawn by a flat layer; larger layers are
	// sampled deterministically. Zero draws every point.
	MaxPoints int
}

// Layer is one brush: a subset of rows drawn in one style.
type Layer struct {
	// Rows lists the rows to draw when Filtered is set; otherwise every row is drawn.
	Rows     []int32
	Filtered bool
	// Blend accumulates point density through the colormap; flat layers
	// overdraw points in Color.
	Blend bool
	Color color.Color
}

// Scene is everything needed to draw one plot.
type Scene struct {
	Width, Height int
	X, Y          []float32
	XMin, XMax    float64
	YMin, YMax    float64
	Layers        []Layer
	Colormap      string
}

// Renderer draws scenes to PNG.
type Renderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewRenderer creates a new renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.PointSize <= 0 {
		cfg.PointSize = 1.5
	}
	if _, ok := colormap.ByName(cfg.DefaultColormap); !ok {
		cfg.DefaultColormap = "viridis"
	}
	return &Renderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// Render draws the scene's layers in order over a white background. The
// data minimum of each axis maps to the top-left corner.
func (r *Renderer) Render(s Scene) ([]byte, error) {
	dc := gg.NewContext(s.Width, s.Height)
	dc.SetColor(color.White)
	dc.Clear()

	cmap, ok := colormap.ByName(s.Colormap)
	if !ok {
		cmap, _ = colormap.ByName(r.config.DefaultColormap)
	}

	n := min(len(s.X), len(s.Y))
	for _, layer := range s.Layers {
		if layer.Blend {
			dc.DrawImage(r.density(s, layer, n, cmap), 0, 0)
			continue
		}
		layer = r.capped(layer, n)
		dc.SetColor(layer.Color)
		radius := r.config.PointSize
		eachPoint(s, layer, n, func(px, py float64) {
			dc.DrawPoint(px, py, radius)
		})
		dc.Fill()
	}
	return r.encode(dc.Image())
}

// RenderBlank returns an empty white image.
func (r *Renderer) RenderBlank(width, height int) ([]byte, error) {
	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	return r.encode(dc.Image())
}

func (r *Renderer) capped(layer Layer, n int) Layer {
	count := n
	if layer.Filtered {
		count = len(layer.Rows)
	}
	if r.config.MaxPoints <= 0 || count <= r.config.MaxPoints {
		return layer
	}
	rows := layer.Rows
	if !layer.Filtered {
		rows = make([]int32, n)
		for i := range rows {
			rows[i] = int32(i)
		}
	}
	layer.Rows = deterministicSample(rows, r.config.MaxPoints, 0)
	layer.Filtered = true
	return layer
}

// density counts points per pixel and colours non-empty pixels on a log scale.
func (r *Renderer) density(s Scene, layer Layer, n int, cmap colormap.Colormap) image.Image {
	w, h := s.Width, s.Height
	counts := make([]uint32, w*h)
	var peak uint32
	eachPoint(s, layer, n, func(px, py float64) {
		i := int(py)*w + int(px)
		counts[i]++
		if counts[i] > peak {
			peak = counts[i]
		}
	})

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if peak == 0 {
		return img
	}
	scale := math.Log1p(float64(peak))
	for i, c := range counts {
		if c == 0 {
			continue
		}
		t := math.Log1p(float64(c)) / scale
		img.Set(i%w, i/w, cmap.At(t))
	}
	return img
}

// eachPoint calls fn with the pixel position of every drawn row.
func eachPoint(s Scene, layer Layer, n int, fn func(px, py float64)) {
	xs := axisScale(s.XMin, s.XMax, s.Width)
	ys := axisScale(s.YMin, s.YMax, s.Height)
	draw := func(i int) {
		if i < 0 || i >= n {
			return
		}
		x, y := float64(s.X[i]), float64(s.Y[i])
		if math.IsNaN(x) || math.IsNaN(y) {
			return
		}
		fn(xs(x), ys(y))
	}
	if layer.Filtered {
		for _, row := range layer.Rows {
			draw(int(row))
		}
		return
	}
	for i := 0; i < n; i++ {
		draw(i)
	}
}

func axisScale(lo, hi float64, size int) func(float64) float64 {
	last := float64(size) - 1
	if hi == lo {
		return func(float64) float64 { return last / 2 }
	}
	k := float64(size) / (hi - lo)
	return func(v float64) float64 {
		p := (v - lo) * k
		return math.Max(0, math.Min(last, p))
	}
}

func (r *Renderer) encode(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
