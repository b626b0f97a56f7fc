// Package plot holds the server-side state of one scatterplot: its size,
// axis fields and brushes, and whether its pixels are out of date.
package plot

import (
	"fmt"
	"sync"

	"github.com/signac/viewer/internal/dataset"
	"github.com/signac/viewer/internal/filter"
)

// MaxBrushes is the number of brush layers a plot draws.
const MaxBrushes = 4

// Brush indices used by the viewer.
const (
	BaseBrush      = 0
	SelectionBrush = 1
)

// Brush kinds.
const (
	KindBase      = "base"
	KindSelection = "selection"
)

// Brush is one drawing layer: the rows passing Filter drawn in the kind's style.
type Brush struct {
	mu      sync.Mutex
	kind    string
	filter  *filter.Filter
	enabled bool
	blend   bool
	stamp   uint64
}

// NewBrush creates an enabled, blending brush.
func NewBrush(kind string) *Brush {
	return &Brush{kind: kind, enabled: true, blend: true, stamp: dataset.NextStamp()}
}

func (b *Brush) Kind() string { return b.kind }

func (b *Brush) touch() { b.stamp = dataset.NextStamp() }

// SetFilter changes the rows the brush draws. nil draws every row.
func (b *Brush) SetFilter(f *filter.Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = f
	b.touch()
}

func (b *Brush) Filter() *filter.Filter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filter
}

func (b *Brush) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled != enabled {
		b.enabled = enabled
		b.touch()
	}
}

func (b *Brush) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetBlend selects additive density drawing (true) or flat overdraw.
func (b *Brush) SetBlend(blend bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blend != blend {
		b.blend = blend
		b.touch()
	}
}

func (b *Brush) Blend() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blend
}

// Timestamp is the latest change of the brush or of its filter's index set.
func (b *Brush) Timestamp() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.stamp
	if b.filter != nil {
		ts = max(ts, b.filter.Stamp())
	}
	return ts
}

// Plot is one scatterplot.
type Plot struct {
	ID int

	mu       sync.Mutex
	width    int
	height   int
	x, y     *dataset.Field
	brushes  [MaxBrushes]*Brush
	stamp    uint64
	rendered uint64
}

// New creates a plot with a base brush.
func New(id, width, height int) *Plot {
	p := &Plot{ID: id, width: 1, height: 1, stamp: dataset.NextStamp()}
	p.brushes[BaseBrush] = NewBrush(KindBase)
	p.SetSize(width, height)
	return p
}

// SetSize resizes the plot. Non-positive or unchanged sizes are ignored.
func (p *Plot) SetSize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if width <= 0 || height <= 0 || (width == p.width && height == p.height) {
		return
	}
	p.width, p.height = width, height
	p.stamp = dataset.NextStamp()
}

func (p *Plot) Size() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

func (p *Plot) SetX(f *dataset.Field) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.x = f
	p.stamp = dataset.NextStamp()
}

func (p *Plot) SetY(f *dataset.Field) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.y = f
	p.stamp = dataset.NextStamp()
}

// Fields returns the axis fields; either may be nil.
func (p *Plot) Fields() (x, y *dataset.Field) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.x, p.y
}

// SetBrush installs b at index i.
func (p *Plot) SetBrush(i int, b *Brush) error {
	if i < 0 || i >= MaxBrushes {
		return fmt.Errorf("brush %d out of range", i)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.brushes[i] = b
	p.stamp = dataset.NextStamp()
	return nil
}

// Brush returns the brush at index i, or nil.
func (p *Plot) Brush(i int) *Brush {
	if i < 0 || i >= MaxBrushes {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.brushes[i]
}

// Brushes returns the installed brushes in drawing order.
func (p *Plot) Brushes() []*Brush {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Brush
	for _, b := range p.brushes {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// Ready reports whether both axes are bound and loaded.
func (p *Plot) Ready() bool {
	x, y := p.Fields()
	return x != nil && y != nil && x.Loaded() && y.Loaded()
}

// Timestamp is the latest change of anything the pixels depend on.
func (p *Plot) Timestamp() uint64 {
	p.mu.Lock()
	ts := p.stamp
	x, y := p.x, p.y
	brushes := p.brushes
	p.mu.Unlock()

	if x != nil {
		ts = max(ts, x.Stamp())
	}
	if y != nil {
		ts = max(ts, y.Stamp())
	}
	for _, b := range brushes {
		if b != nil {
			ts = max(ts, b.Timestamp())
		}
	}
	return ts
}

// Dirty reports whether the pixels changed since the last MarkRendered.
func (p *Plot) Dirty() bool {
	ts := p.Timestamp()
	p.mu.Lock()
	defer p.mu.Unlock()
	return ts > p.rendered
}

// Begin returns the stamp a render should commit with MarkRendered. Taking it
// before reading state keeps changes made during the render dirty.
func (p *Plot) Begin() uint64 {
	return dataset.NextStamp()
}

// MarkRendered records that pixels reflecting state up to stamp were sent.
func (p *Plot) MarkRendered(stamp uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stamp > p.rendered {
		p.rendered = stamp
	}
}
