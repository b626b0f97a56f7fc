// Package filter computes the rows passing a set of per-field ranges.
//
// Index sets are rebuilt in the background after every range change; a
// rebuild that is overtaken by a newer change is abandoned.
package filter

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/signac/viewer/internal/dataset"
)

// MaxFields is the number of ranges a filter holds.
const MaxFields = 4

// checkEvery is how many rows a rebuild scans between staleness checks.
const checkEvery = 4096

// Filter holds up to MaxFields (field, range) pairs.
type Filter struct {
	logger *slog.Logger

	mu         sync.Mutex
	fields     [MaxFields]*dataset.Field
	min        [MaxFields]float64
	max        [MaxFields]float64
	rangeGen   uint64
	indices    []int32
	filtered   bool
	indexStamp uint64
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates an empty filter that passes every row.
func New(logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{logger: logger.With("component", "filter"), stop: make(chan struct{})}
}

// SetField binds f to slot i and resets the slot's range to the field's domain.
// The index set is not rebuilt until the next range change.
func (flt *Filter) SetField(i int, f *dataset.Field) error {
	if i < 0 || i >= MaxFields {
		return fmt.Errorf("filter slot %d out of range", i)
	}
	if f == nil {
		return nil
	}
	flt.mu.Lock()
	defer flt.mu.Unlock()
	flt.fields[i] = f
	if f.Loaded() {
		flt.min[i], flt.max[i] = f.Range()
	} else {
		flt.min[i], flt.max[i] = math.Inf(-1), math.Inf(1)
	}
	return nil
}

// SetRange sets slot i to [lo, hi] in field units and rebuilds the index set.
func (flt *Filter) SetRange(i int, lo, hi float64) error {
	if i < 0 || i >= MaxFields {
		return fmt.Errorf("filter slot %d out of range", i)
	}
	flt.mu.Lock()
	flt.min[i], flt.max[i] = lo, hi
	flt.mu.Unlock()
	flt.rebuild()
	return nil
}

// Range returns slot i's field and bounds.
func (flt *Filter) Range(i int) (*dataset.Field, float64, float64) {
	flt.mu.Lock()
	defer flt.mu.Unlock()
	return flt.fields[i], flt.min[i], flt.max[i]
}

// Indices returns the passing rows. ok is false while no index set exists,
// meaning every row passes.
func (flt *Filter) Indices() (indices []int32, ok bool) {
	flt.mu.Lock()
	defer flt.mu.Unlock()
	return flt.indices, flt.filtered
}

// Stamp changes every time a new index set is published.
func (flt *Filter) Stamp() uint64 {
	flt.mu.Lock()
	defer flt.mu.Unlock()
	return flt.indexStamp
}

// Close stops pending rebuilds.
func (flt *Filter) Close() {
	flt.stopOnce.Do(func() { close(flt.stop) })
	flt.wg.Wait()
}

type snapshot struct {
	gen    uint64
	fields []*dataset.Field
	min    []float64
	max    []float64
}

func (flt *Filter) rebuild() {
	flt.mu.Lock()
	flt.rangeGen++
	snap := snapshot{gen: flt.rangeGen}
	for i, f := range flt.fields {
		if f == nil {
			continue
		}
		snap.fields = append(snap.fields, f)
		snap.min = append(snap.min, flt.min[i])
		snap.max = append(snap.max, flt.max[i])
	}
	flt.mu.Unlock()

	select {
	case <-flt.stop:
		return
	default:
	}
	flt.wg.Add(1)
	go func() {
		defer flt.wg.Done()
		flt.compute(snap)
	}()
}

func (flt *Filter) stale(gen uint64) bool {
	select {
	case <-flt.stop:
		return true
	default:
	}
	flt.mu.Lock()
	defer flt.mu.Unlock()
	return flt.rangeGen != gen
}

func (flt *Filter) compute(snap snapshot) {
	if len(snap.fields) == 0 {
		flt.publish(snap.gen, nil, false)
		return
	}

	// Fields still loading are waited for; a newer change wins meanwhile.
	columns := make([][]float32, len(snap.fields))
	for j, f := range snap.fields {
		select {
		case <-f.Ready():
		case <-flt.stop:
			return
		}
		if err := f.Err(); err != nil {
			flt.logger.Warn("filter field unavailable", "field", f.Label, "error", err)
			return
		}
		columns[j] = f.Values()
	}
	if flt.stale(snap.gen) {
		return
	}

	n := len(columns[0])
	for _, c := range columns[1:] {
		n = min(n, len(c))
	}
	indices := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		if i%checkEvery == 0 && i > 0 && flt.stale(snap.gen) {
			return
		}
		pass := true
		for j, c := range columns {
			v := float64(c[i])
			if v < snap.min[j] || v > snap.max[j] {
				pass = false
				break
			}
		}
		if pass {
			indices = append(indices, int32(i))
		}
	}
	flt.publish(snap.gen, indices, true)
}

func (flt *Filter) publish(gen uint64, indices []int32, filtered bool) {
	flt.mu.Lock()
	defer flt.mu.Unlock()
	if flt.rangeGen != gen {
		return
	}
	flt.indices = indices
	flt.filtered = filtered
	flt.indexStamp = dataset.NextStamp()
}
