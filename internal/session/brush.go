package session

import (
	"log/slog"

	"github.com/signac/viewer/internal/canvas"
	"github.com/signac/viewer/internal/protocol"
)

// BrushState is the per-plot brush state.
type BrushState int

const (
	// BrushDetached: no overlay is attached (no image drawn yet, or plot closed).
	BrushDetached BrushState = iota
	// BrushInitializing: the overlay was just attached; its next callback is the
	// synthetic calibration event and is swallowed.
	BrushInitializing
	// BrushActive: callbacks are user drags and are forwarded as selections.
	BrushActive
)

func (s BrushState) String() string {
	switch s {
	case BrushInitializing:
		return "initializing"
	case BrushActive:
		return "active"
	default:
		return "detached"
	}
}

type brushEntry struct {
	state BrushState
	gen   uint64
	x, y  canvas.Scale
}

// BrushTranslator turns pixel brush extents into data-domain selections and
// keeps the directed brush links between plots.
type BrushTranslator struct {
	entries map[int]*brushEntry
	links   map[int]int // target -> source
	out     *outbox
	logger  *slog.Logger
	gen     uint64
}

func newBrushTranslator(out *outbox, logger *slog.Logger) *BrushTranslator {
	return &BrushTranslator{
		entries: make(map[int]*brushEntry),
		links:   make(map[int]int),
		out:     out,
		logger:  logger,
	}
}

// Attach enters Initializing for a freshly redrawn plot and returns the
// callback for its new overlay. The callback maps through x and y, the scales
// of the image just drawn; callbacks of earlier overlays are ignored.
func (t *BrushTranslator) Attach(plotID int, x, y canvas.Scale) canvas.BrushFunc {
	t.gen++
	gen := t.gen
	t.entries[plotID] = &brushEntry{state: BrushInitializing, gen: gen, x: x, y: y}
	return func(e canvas.Extent) {
		t.Brushed(plotID, gen, e)
	}
}

// State returns the brush state of a plot.
func (t *BrushTranslator) State(plotID int) BrushState {
	if e, ok := t.entries[plotID]; ok {
		return e.state
	}
	return BrushDetached
}

// Brushed handles one overlay callback.
func (t *BrushTranslator) Brushed(plotID int, gen uint64, px canvas.Extent) {
	e, ok := t.entries[plotID]
	if !ok || e.gen != gen {
		return
	}
	if e.state == BrushInitializing {
		e.state = BrushActive
		return
	}

	px = px.Normalize()
	x0, x1 := ordered(e.x.Invert(e.x.Clamp(px.X0)), e.x.Invert(e.x.Clamp(px.X1)))
	y0, y1 := ordered(e.y.Invert(e.y.Clamp(px.Y0)), e.y.Invert(e.y.Clamp(px.Y1)))
	t.out.send(protocol.MethodSetSelection, protocol.SelectionRequest{
		PlotID: plotID, X0: x0, X1: x1, Y0: y0, Y1: y1,
	})
}

// Link makes target's selection follow source's brush. Repeating an existing
// link issues nothing.
func (t *BrushTranslator) Link(target, source int) error {
	if target == source {
		return &PlotError{PlotID: target, Err: ErrSelfLink}
	}
	if cur, ok := t.links[target]; ok && cur == source {
		return nil
	}
	t.links[target] = source
	t.out.send(protocol.MethodSetBrushFilter, protocol.BrushFilterRequest{Target: target, Source: source})
	t.out.send(protocol.MethodSetBrushEnabled, protocol.BrushEnabledRequest{PlotID: source, Enabled: false})
	t.logger.Debug("brush linked", "target", target, "source", source)
	return nil
}

// Source returns the plot whose brush feeds target.
func (t *BrushTranslator) Source(target int) (int, bool) {
	s, ok := t.links[target]
	return s, ok
}

// Forget drops a closed plot's overlay and every link it takes part in.
func (t *BrushTranslator) Forget(plotID int) {
	delete(t.entries, plotID)
	delete(t.links, plotID)
	for target, source := range t.links {
		if source == plotID {
			delete(t.links, target)
		}
	}
}

func ordered(a, b float64) (float64, float64) {
	if a > b {
		return b, a
	}
	return a, b
}
