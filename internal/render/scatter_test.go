package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func isWhite(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r == 0xffff && g == 0xffff && b == 0xffff
}

func TestRenderBlank(t *testing.T) {
	r := NewRenderer(Config{})
	data, err := r.RenderBlank(30, 20)
	require.NoError(t, err)
	img := decode(t, data)
	assert.Equal(t, image.Rect(0, 0, 30, 20), img.Bounds())
	assert.True(t, isWhite(img.At(15, 10)))
}

func TestRender_DensityLayer(t *testing.T) {
	r := NewRenderer(Config{DefaultColormap: "viridis"})
	data, err := r.Render(Scene{
		Width: 10, Height: 10,
		X: []float32{0, 0, 9.9, float32(math.NaN())}, Y: []float32{0, 0, 9.9, 1},
		XMin: 0, XMax: 10, YMin: 0, YMax: 10,
		Layers: []Layer{{Blend: true}},
	})
	require.NoError(t, err)
	img := decode(t, data)

	// The minimum of both axes is the top-left pixel.
	assert.False(t, isWhite(img.At(0, 0)))
	assert.False(t, isWhite(img.At(9, 9)))
	assert.True(t, isWhite(img.At(5, 5)))
	assert.NotEqual(t, img.At(0, 0), img.At(9, 9), "denser pixels map higher on the colormap")
}

func TestRender_FilteredFlatLayer(t *testing.T) {
	r := NewRenderer(Config{PointSize: 1})
	red := color.RGBA{255, 0, 0, 255}
	data, err := r.Render(Scene{
		Width: 20, Height: 20,
		X: []float32{2, 18}, Y: []float32{2, 18},
		XMin: 0, XMax: 20, YMin: 0, YMax: 20,
		Layers: []Layer{{Filtered: true, Rows: []int32{1, 7}, Color: red}},
	})
	require.NoError(t, err)
	img := decode(t, data)

	assert.True(t, isWhite(img.At(2, 2)), "row 0 is filtered out")
	rr, g, b, _ := img.At(18, 18).RGBA()
	assert.Equal(t, uint32(0xffff), rr)
	assert.Less(t, g, uint32(0x8000))
	assert.Less(t, b, uint32(0x8000))
}

func TestAxisScale(t *testing.T) {
	s := axisScale(0, 10, 100)
	assert.Equal(t, 0.0, s(0))
	assert.Equal(t, 50.0, s(5))
	assert.Equal(t, 99.0, s(10), "clamped to the last pixel")
	assert.Equal(t, 0.0, s(-4))

	flat := axisScale(3, 3, 11)
	assert.Equal(t, 5.0, flat(3))
}
