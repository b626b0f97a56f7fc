package render

import "sort"

// rowHash mixes seed and row into a uniformly distributed key (splitmix64).
func rowHash(seed int64, row int32) uint64 {
	z := uint64(seed) + uint64(row)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// deterministicSample keeps the k rows with the smallest hash, in their
// original order. The same rows, k and seed always give the same sample.
func deterministicSample(rows []int32, k int, seed int64) []int32 {
	if k <= 0 {
		return []int32{}
	}
	if k >= len(rows) {
		return append([]int32(nil), rows...)
	}

	type keyed struct {
		pos  int
		hash uint64
	}
	keys := make([]keyed, len(rows))
	for i, r := range rows {
		keys[i] = keyed{pos: i, hash: rowHash(seed, r)}
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].hash < keys[b].hash })

	picked := keys[:k]
	sort.Slice(picked, func(a, b int) bool { return picked[a].pos < picked[b].pos })
	out := make([]int32, k)
	for i, kk := range picked {
		out[i] = rows[kk.pos]
	}
	return out
}
