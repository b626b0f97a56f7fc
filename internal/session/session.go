// Package session is the viewer's client-side state: the field list, the
// shared filter slots, plots with their axis bindings, brush translation and
// each plot's image refresh loop.
//
// A Session is not safe for concurrent use. Every method must run on one
// goroutine; Loop provides that goroutine and the Scheduler for timers.
package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"log/slog"
	"sort"
	"time"

	"github.com/signac/viewer/internal/canvas"
	"github.com/signac/viewer/internal/metrics"
	"github.com/signac/viewer/internal/protocol"
	"github.com/signac/viewer/internal/rpc"
)

// Layout opens plot panels and reports their live size.
type Layout interface {
	Open(plotID, width, height int) canvas.Surface
	Viewport(plotID int) (width, height int, ok bool)
	Remove(plotID int)
}

// Config contains session settings and collaborators.
type Config struct {
	Caller    rpc.Caller
	Layout    Layout
	Scheduler Scheduler

	FilterSlots     int
	DefaultWidth    int
	DefaultHeight   int
	RefreshInterval time.Duration
	// InsetX and InsetY are subtracted from the panel size to get the raster size.
	InsetX, InsetY  int
	ImageTimeout    time.Duration
	MaxImageRetries int

	OnFieldsChanged func([]protocol.Field)

	Logger  *slog.Logger
	Metrics *metrics.Viewer
	Context context.Context
}

func (c *Config) applyDefaults() {
	if c.FilterSlots <= 0 {
		c.FilterSlots = 4
	}
	if c.DefaultWidth <= 0 {
		c.DefaultWidth = 400
	}
	if c.DefaultHeight <= 0 {
		c.DefaultHeight = 400
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Context == nil {
		c.Context = context.Background()
	}
}

// Size is a width x height in pixels.
type Size struct {
	Width, Height int
}

// SelectionKind says what feeds a plot's selection brush.
type SelectionKind int

const (
	SelectionNone SelectionKind = iota
	SelectionBrush
)

// SelectionSource is a plot's selection input. Source is the linked plot for SelectionBrush.
type SelectionSource struct {
	Kind   SelectionKind
	Source int
}

// Plot is one remotely rendered view.
type Plot struct {
	ID        int
	XField    string
	YField    string
	Selection SelectionSource
	// Viewport is the raster size of the latest image request.
	Viewport Size

	surface canvas.Surface
	loop    *renderLoop
}

// Session is the client-side state of one viewer connection.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Viewer
	out     *outbox

	fields  *FieldRegistry
	filters *FilterSlots
	brushes *BrushTranslator
	plots   map[int]*Plot
	nextID  int
}

// New creates a session. Nothing is sent until Start.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	logger := cfg.Logger.With("component", "session")
	out := &outbox{ctx: cfg.Context, caller: cfg.Caller, logger: logger, metrics: cfg.Metrics}
	return &Session{
		cfg:     cfg,
		logger:  logger,
		metrics: cfg.Metrics,
		out:     out,
		fields:  NewFieldRegistry(cfg.OnFieldsChanged, logger),
		filters: newFilterSlots(cfg.FilterSlots, out),
		brushes: newBrushTranslator(out, logger),
		plots:   make(map[int]*Plot),
	}
}

// Start asks the backend for the field list.
func (s *Session) Start() {
	s.out.send(protocol.MethodRequestFieldList, protocol.FieldListRequest{})
}

func (s *Session) Fields() *FieldRegistry { return s.fields }
func (s *Session) Filters() *FilterSlots { return s.filters }
func (s *Session) Brushes() *BrushTranslator { return s.brushes }

// CreatePlot opens a new plot and requests its first image at the default size.
func (s *Session) CreatePlot() *Plot {
	id := s.nextID
	s.nextID++

	w, h := s.cfg.DefaultWidth, s.cfg.DefaultHeight
	p := &Plot{ID: id, Viewport: Size{w, h}}
	p.surface = s.cfg.Layout.Open(id, w, h)
	p.loop = newRenderLoop(renderLoopConfig{
		Scheduler:  s.cfg.Scheduler,
		Interval:   s.cfg.RefreshInterval,
		Timeout:    s.cfg.ImageTimeout,
		MaxRetries: s.cfg.MaxImageRetries,
		Request: func(w, h int) {
			p.Viewport = Size{w, h}
			s.out.send(protocol.MethodRequestImage, protocol.ImageRequest{PlotID: id, Width: w, Height: h})
		},
		Measure: func() (int, int) { return s.measure(p) },
		OnRetry: func(attempt int) {
			s.metrics.ImageRetried()
			s.logger.Debug("image request timed out, retrying", "plot", id, "attempt", attempt)
		},
		OnStall: func() {
			s.metrics.PlotStalled()
			s.logger.Warn("plot stalled, no image after retries", "plot", id, "retries", s.cfg.MaxImageRetries)
		},
	})
	s.plots[id] = p
	s.metrics.PlotsActive(len(s.plots))

	s.out.send(protocol.MethodRequestNewPlot, protocol.NewPlotRequest{PlotID: id, Width: w, Height: h})
	p.loop.request(w, h)
	return p
}

// measure returns the raster size that fits the plot's live panel.
func (s *Session) measure(p *Plot) (int, int) {
	vw, vh, ok := s.cfg.Layout.Viewport(p.ID)
	if !ok {
		return p.Viewport.Width, p.Viewport.Height
	}
	return max(vw-s.cfg.InsetX, 1), max(vh-s.cfg.InsetY, 1)
}

// SetAxis binds field to one axis of a plot. Equal X and Y fields are allowed.
func (s *Session) SetAxis(plotID int, axis protocol.Axis, field string) error {
	if !axis.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAxis, axis)
	}
	p, ok := s.plots[plotID]
	if !ok {
		return &PlotError{PlotID: plotID, Err: ErrUnknownPlot}
	}
	if axis == protocol.AxisX {
		p.XField = field
	} else {
		p.YField = field
	}
	s.out.send(protocol.MethodSetAxis, protocol.AxisRequest{PlotID: plotID, Axis: axis, Field: field})
	return nil
}

// ClosePlot stops a plot's refresh loop and forgets it. Unknown ids are ignored.
func (s *Session) ClosePlot(plotID int) {
	p, ok := s.plots[plotID]
	if !ok {
		return
	}
	p.loop.stop()
	s.brushes.Forget(plotID)
	for _, other := range s.plots {
		if other.Selection.Kind == SelectionBrush && other.Selection.Source == plotID {
			other.Selection = SelectionSource{}
		}
	}
	p.surface.Close()
	s.cfg.Layout.Remove(plotID)
	delete(s.plots, plotID)
	s.metrics.PlotsActive(len(s.plots))
}

// BindFilter binds field to a filter slot.
func (s *Session) BindFilter(slot int, field string) error {
	return s.filters.Bind(slot, field)
}

// SetFilterRange commits a range on a filter slot.
func (s *Session) SetFilterRange(slot int, low, high float64) error {
	return s.filters.SetRange(slot, low, high)
}

// LinkBrush makes target's selection follow source's brush.
func (s *Session) LinkBrush(target, source int) error {
	if target == source {
		return &PlotError{PlotID: target, Err: ErrSelfLink}
	}
	p, ok := s.plots[target]
	if !ok {
		return &PlotError{PlotID: target, Err: ErrUnknownPlot}
	}
	if _, ok := s.plots[source]; !ok {
		return &PlotError{PlotID: source, Err: ErrUnknownPlot}
	}
	if err := s.brushes.Link(target, source); err != nil {
		return err
	}
	p.Selection = SelectionSource{Kind: SelectionBrush, Source: source}
	return nil
}

// Drop applies a payload dropped on target. Payloads the target does not take
// are ignored.
func (s *Session) Drop(target DropTarget, payload Payload) error {
	if !target.accepts(payload.Kind) {
		s.logger.Debug("drop ignored", "target", target.Kind, "payload", payload.Kind)
		return nil
	}
	switch target.Kind {
	case TargetFilterSlot:
		return s.BindFilter(target.Index, payload.Value)
	case TargetX:
		return s.SetAxis(target.Index, protocol.AxisX, payload.Value)
	case TargetY:
		return s.SetAxis(target.Index, protocol.AxisY, payload.Value)
	case TargetSelection:
		source, err := payload.PlotID()
		if err != nil {
			return err
		}
		return s.LinkBrush(target.Index, source)
	}
	return nil
}

// DropText parses a text payload and drops it on target.
func (s *Session) DropText(target DropTarget, text string) error {
	p, err := ParsePayload(text)
	if err != nil {
		s.logger.Warn("malformed drop payload", "payload", text, "error", err)
		return err
	}
	return s.Drop(target, p)
}

// HandleEvent dispatches an inbound backend event.
func (s *Session) HandleEvent(ev protocol.Event) {
	switch {
	case ev.FieldList != nil:
		s.ReceiveFieldList(*ev.FieldList)
	case ev.Image != nil:
		s.ReceiveImage(*ev.Image)
	case ev.FilterDomain != nil:
		s.ReceiveFilterDomain(*ev.FilterDomain)
	default:
		s.logger.Warn("event without payload", "event", ev.Name)
	}
}

// ReceiveFieldList replaces the field registry.
func (s *Session) ReceiveFieldList(list protocol.FieldList) {
	s.fields.Load(list.Fields)
}

// ReceiveFilterDomain adopts a field's native range on its filter slot.
func (s *Session) ReceiveFilterDomain(d protocol.FilterDomain) {
	if !s.filters.ApplyDomain(d) {
		s.logger.Debug("stale filter domain ignored", "slot", d.Slot, "field", d.Field)
	}
}

// ReceiveImage redraws a plot, unless the image is the unchanged sentinel, and
// schedules its next request. Images for closed plots are dropped.
func (s *Session) ReceiveImage(img protocol.Image) {
	p, ok := s.plots[img.PlotID]
	if !ok {
		s.metrics.ImageArrived("orphan")
		s.logger.Warn("image for unknown plot", "plot", img.PlotID)
		return
	}
	if img.Unchanged() {
		s.metrics.ImageArrived("unchanged")
	} else {
		s.metrics.ImageArrived("redraw")
		if err := s.redraw(p, img); err != nil {
			s.logger.Warn("redraw failed", "plot", p.ID, "error", err)
		}
	}
	p.loop.arrived()
}

func (s *Session) redraw(p *Plot, img protocol.Image) error {
	raw, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return fmt.Errorf("failed to decode image data: %w", err)
	}
	raster, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode png: %w", err)
	}

	info := protocol.DefaultAxisInfo()
	if img.Axis != nil {
		info = *img.Axis
	}
	x, y := canvas.PlotGeometry(img.Width, img.Height).Scales(info)

	p.surface.Clear(img.Width, img.Height)
	p.surface.DrawImage(raster)
	p.surface.DrawXAxis(x, info.XLabel)
	p.surface.DrawYAxis(y, info.YLabel)
	p.surface.AttachBrush(s.brushes.Attach(p.ID, x, y))
	p.surface.Present()
	return nil
}

// Plot returns a snapshot of a plot.
func (s *Session) Plot(plotID int) (Plot, bool) {
	p, ok := s.plots[plotID]
	if !ok {
		return Plot{}, false
	}
	return *p, true
}

// PlotIDs returns the open plot ids in ascending order.
func (s *Session) PlotIDs() []int {
	ids := make([]int, 0, len(s.plots))
	for id := range s.plots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// RenderState returns the refresh state of a plot.
func (s *Session) RenderState(plotID int) (RenderState, bool) {
	p, ok := s.plots[plotID]
	if !ok {
		return Stopped, false
	}
	return p.loop.state, true
}

// BrushState returns the brush state of a plot.
func (s *Session) BrushState(plotID int) BrushState {
	return s.brushes.State(plotID)
}
