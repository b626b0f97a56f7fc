package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowHash(t *testing.T) {
	assert.Equal(t, rowHash(42, 12345), rowHash(42, 12345), "deterministic")
	assert.NotEqual(t, rowHash(42, 12345), rowHash(43, 12345), "seed matters")
	assert.NotEqual(t, rowHash(42, 12345), rowHash(42, 12346), "row matters")
}

func seqRows(n int) []int32 {
	rows := make([]int32, n)
	for i := range rows {
		rows[i] = int32(i*7 + 13)
	}
	return rows
}

func TestDeterministicSample(t *testing.T) {
	rows := seqRows(100)

	first := deterministicSample(rows, 10, 42)
	require.Len(t, first, 10)
	assert.Equal(t, first, deterministicSample(rows, 10, 42))
	assert.IsIncreasing(t, first, "original order kept")

	t.Run("seed changes the sample", func(t *testing.T) {
		assert.NotEqual(t, first, deterministicSample(rows, 10, 43))
	})
	t.Run("k above length returns all", func(t *testing.T) {
		all := deterministicSample(rows, 200, 42)
		assert.Equal(t, rows, all)
		all[0] = -1
		assert.NotEqual(t, int32(-1), rows[0], "copy, not alias")
	})
	t.Run("k zero", func(t *testing.T) {
		assert.Empty(t, deterministicSample(rows, 0, 42))
	})
}

func BenchmarkDeterministicSample(b *testing.B) {
	rows := seqRows(50000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = deterministicSample(rows, 5000, 0)
	}
}

func TestRenderer_Capped(t *testing.T) {
	r := NewRenderer(Config{MaxPoints: 3})

	small := Layer{Rows: []int32{1, 2}, Filtered: true}
	assert.Equal(t, small, r.capped(small, 10))

	all := r.capped(Layer{}, 10)
	assert.True(t, all.Filtered)
	assert.Len(t, all.Rows, 3)

	uncapped := NewRenderer(Config{})
	assert.False(t, uncapped.capped(Layer{}, 10).Filtered)
}
