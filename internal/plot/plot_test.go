package plot

import (
	"context"
	"testing"
	"time"

	"github.com/signac/viewer/internal/dataset"
	"github.com/signac/viewer/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLoader struct{}

func (memLoader) Columns() ([]string, error) { return []string{"x", "y"}, nil }
func (memLoader) Column(i int) ([]float32, error) {
	return []float32{float32(i), float32(i + 1), float32(i + 2)}, nil
}
func (memLoader) Close() error { return nil }

func clean(t *testing.T, p *Plot) {
	t.Helper()
	p.MarkRendered(p.Begin())
	require.False(t, p.Dirty())
}

func TestPlot_Dirty(t *testing.T) {
	p := New(0, 400, 400)
	assert.True(t, p.Dirty(), "new plots are dirty")
	clean(t, p)

	t.Run("same size", func(t *testing.T) {
		p.SetSize(400, 400)
		p.SetSize(0, 10)
		assert.False(t, p.Dirty())
	})
	t.Run("resize", func(t *testing.T) {
		p.SetSize(300, 200)
		assert.True(t, p.Dirty())
		w, h := p.Size()
		assert.Equal(t, 300, w)
		assert.Equal(t, 200, h)
		clean(t, p)
	})
	t.Run("brush toggle", func(t *testing.T) {
		b := NewBrush(KindSelection)
		b.SetEnabled(false)
		require.NoError(t, p.SetBrush(SelectionBrush, b))
		clean(t, p)

		b.SetEnabled(false)
		assert.False(t, p.Dirty())
		b.SetEnabled(true)
		assert.True(t, p.Dirty())
		clean(t, p)
	})
}

func TestPlot_DirtyOnFilterIndex(t *testing.T) {
	ds, err := dataset.New(memLoader{}, dataset.Config{Workers: 1})
	require.NoError(t, err)
	defer ds.Close()
	x, err := ds.Field("x")
	require.NoError(t, err)
	require.NoError(t, ds.WaitLoaded(context.Background(), x))

	flt := filter.New(nil)
	defer flt.Close()
	p := New(1, 10, 10)
	p.Brush(BaseBrush).SetFilter(flt)
	p.SetX(x)
	clean(t, p)

	require.NoError(t, flt.SetField(0, x))
	require.NoError(t, flt.SetRange(0, 0, 1))
	require.Eventually(t, p.Dirty, 2*time.Second, 5*time.Millisecond)
}

func TestPlot_Ready(t *testing.T) {
	ds, err := dataset.New(memLoader{}, dataset.Config{Workers: 1})
	require.NoError(t, err)
	defer ds.Close()

	p := New(0, 10, 10)
	assert.False(t, p.Ready())

	x, _ := ds.Field("x")
	y, _ := ds.Field("y")
	p.SetX(x)
	p.SetY(y)
	assert.False(t, p.Ready(), "fields not loaded")

	require.NoError(t, ds.WaitLoaded(context.Background(), x))
	require.NoError(t, ds.WaitLoaded(context.Background(), y))
	assert.True(t, p.Ready())
}

func TestPlot_Brushes(t *testing.T) {
	p := New(0, 10, 10)
	require.Len(t, p.Brushes(), 1)
	assert.Equal(t, KindBase, p.Brush(BaseBrush).Kind())
	assert.True(t, p.Brush(BaseBrush).Blend())
	assert.Nil(t, p.Brush(SelectionBrush))
	assert.Nil(t, p.Brush(MaxBrushes))
	assert.Error(t, p.SetBrush(MaxBrushes, NewBrush(KindBase)))
}
