package colormap

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeuratEndpoints(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 211, G: 211, B: 211, A: 255}, Seurat.At(0))
	assert.Equal(t, color.RGBA{R: 255, G: 0, B: 0, A: 255}, Seurat.At(1))
	assert.Equal(t, color.RGBA{R: 233, G: 105, B: 105, A: 255}, Seurat.At(0.5))
}

func TestLinearClamps(t *testing.T) {
	assert.Equal(t, Viridis.At(0), Viridis.At(-3))
	assert.Equal(t, Viridis.At(1), Viridis.At(7))
}

func TestCategoricalWraps(t *testing.T) {
	assert.Equal(t, Categorical.AtIndex(0), Categorical.AtIndex(20))
	assert.NotEqual(t, Categorical.AtIndex(0), Categorical.AtIndex(1))
}

func TestByName(t *testing.T) {
	c, ok := ByName("Viridis")
	require.True(t, ok)
	assert.Equal(t, Viridis.At(0.3), c.At(0.3))

	_, ok = ByName("jet")
	assert.False(t, ok)
	assert.Contains(t, Names(), "seurat")
}
