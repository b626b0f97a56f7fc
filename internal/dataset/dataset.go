// Package dataset holds the float columns served to viewers. Columns are read
// lazily: a field's values are loaded on a worker pool the first time a plot
// or filter needs them.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/signac/viewer/internal/metrics"
)

// ErrUnknownField is returned for labels not present in the dataset.
var ErrUnknownField = errors.New("unknown field")

var stampCounter atomic.Uint64

// NextStamp returns a process-wide, strictly increasing change stamp. Fields,
// filters and plots share it so their stamps can be compared.
func NextStamp() uint64 {
	return stampCounter.Add(1)
}

// Field is one float column.
type Field struct {
	ID    string
	Label string
	Index int

	mu      sync.RWMutex
	values  []float32
	min     float64
	max     float64
	loading bool
	loaded  bool
	err     error
	stamp   uint64
	ready   chan struct{}
}

func newField(id, label string, index int) *Field {
	return &Field{ID: id, Label: label, Index: index, ready: make(chan struct{})}
}

// Loaded reports whether the values are available.
func (f *Field) Loaded() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loaded
}

// Values returns the loaded column. The slice must not be modified.
func (f *Field) Values() []float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.values
}

// Len returns the number of loaded rows.
func (f *Field) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.values)
}

// Range returns the native domain computed while loading.
func (f *Field) Range() (float64, float64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.min, f.max
}

// Stamp changes every time the values change.
func (f *Field) Stamp() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stamp
}

// Ready is closed once loading finished, successfully or not.
func (f *Field) Ready() <-chan struct{} {
	return f.ready
}

// Err returns the load error, if any.
func (f *Field) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

func (f *Field) set(values []float32, err error) {
	f.mu.Lock()
	if err != nil {
		f.err = err
	} else {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range values {
			lo = math.Min(lo, float64(v))
			hi = math.Max(hi, float64(v))
		}
		if len(values) == 0 {
			lo, hi = 0, 0
		}
		f.values, f.min, f.max = values, lo, hi
		f.loaded = true
		f.stamp = NextStamp()
	}
	f.loading = false
	f.mu.Unlock()
	close(f.ready)
}

// Config contains dataset settings.
type Config struct {
	Path   string
	Format string
	Table  string
	// Fields restricts the exposed columns; empty exposes every column.
	Fields  []string
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Server
}

// Dataset is an opened source with its fields.
type Dataset struct {
	loader  Loader
	fields  []*Field
	byLabel map[string]*Field
	pool    *loaderPool
	logger  *slog.Logger
}

// Open reads the column header of cfg.Path and starts the loader pool.
func Open(cfg Config) (*Dataset, error) {
	loader, err := NewLoader(cfg.Path, cfg.Format, cfg.Table)
	if err != nil {
		return nil, err
	}
	ds, err := New(loader, cfg)
	if err != nil {
		loader.Close()
		return nil, err
	}
	return ds, nil
}

// New builds a dataset on top of an existing loader.
func New(loader Loader, cfg Config) (*Dataset, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dataset")

	cols, err := loader.Columns()
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}

	names := cfg.Fields
	if len(names) == 0 {
		names = cols
	}
	ds := &Dataset{loader: loader, byLabel: make(map[string]*Field), logger: logger}
	for _, name := range names {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: column %q not in source", ErrUnknownField, name)
		}
		if _, dup := ds.byLabel[name]; dup {
			continue
		}
		f := newField(name, name, i)
		ds.fields = append(ds.fields, f)
		ds.byLabel[name] = f
	}
	ds.pool = newLoaderPool(loader, cfg.Workers, cfg.Metrics, logger)
	ds.pool.start()
	logger.Info("dataset opened", "path", cfg.Path, "fields", len(ds.fields))
	return ds, nil
}

// Fields returns the fields in source order.
func (d *Dataset) Fields() []*Field {
	return append([]*Field(nil), d.fields...)
}

// Field finds a field by label.
func (d *Dataset) Field(label string) (*Field, error) {
	f, ok := d.byLabel[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, label)
	}
	return f, nil
}

// Load queues f for loading unless it is loaded or already queued.
func (d *Dataset) Load(f *Field) {
	f.mu.Lock()
	if f.loaded || f.loading || f.err != nil {
		f.mu.Unlock()
		return
	}
	f.loading = true
	f.mu.Unlock()
	d.pool.submit(f)
}

// WaitLoaded loads f if needed and blocks until it is available.
func (d *Dataset) WaitLoaded(ctx context.Context, f *Field) error {
	d.Load(f)
	select {
	case <-f.Ready():
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loader pool and releases the source.
func (d *Dataset) Close() error {
	d.pool.stop()
	return d.loader.Close()
}
