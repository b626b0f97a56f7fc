// Package backend implements the render server's side of the viewer protocol:
// per-client plots, the shared range filter, selection filters and image rendering.
package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/signac/viewer/internal/cache"
	"github.com/signac/viewer/internal/dataset"
	"github.com/signac/viewer/internal/filter"
	"github.com/signac/viewer/internal/metrics"
	"github.com/signac/viewer/internal/plot"
	"github.com/signac/viewer/internal/protocol"
	"github.com/signac/viewer/internal/render"
	"github.com/signac/viewer/pkg/colormap"
)

var (
	// ErrUnknownPlot is returned for plot ids the client never created.
	ErrUnknownPlot = errors.New("unknown plot")
	// ErrUnknownMethod is returned for calls outside the protocol.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrBadArgs is returned when call arguments do not decode or are out of range.
	ErrBadArgs = errors.New("bad arguments")
)

// Pusher delivers an event to one client.
type Pusher func(event string, payload any) error

// Config contains service dependencies.
type Config struct {
	Dataset     *dataset.Dataset
	Renderer    *render.Renderer
	Cache       *cache.Manager // optional
	Metrics     *metrics.Server
	Colormap    string
	LoadTimeout time.Duration
	Logger      *slog.Logger
}

// Service owns the state of every connected client.
type Service struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewService creates a service.
func NewService(cfg Config) *Service {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	if cfg.Colormap == "" {
		cfg.Colormap = "viridis"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		logger:  logger.With("component", "backend"),
		clients: make(map[string]*Client),
	}
}

// Fields lists the dataset fields as exposed to clients.
func (s *Service) Fields() []protocol.Field {
	fields := s.cfg.Dataset.Fields()
	out := make([]protocol.Field, len(fields))
	for i, f := range fields {
		out[i] = protocol.Field{Label: f.Label}
	}
	return out
}

// Dataset returns the served dataset.
func (s *Service) Dataset() *dataset.Dataset {
	return s.cfg.Dataset
}

// Connect registers a client. A reconnecting id replaces the previous state.
func (s *Service) Connect(clientID string, push Pusher) *Client {
	c := &Client{
		id:         clientID,
		svc:        s,
		push:       push,
		logger:     s.logger.With("client", clientID),
		plots:      make(map[int]*plot.Plot),
		selections: make(map[int]*filter.Filter),
		done:       make(chan struct{}),
	}
	c.global = filter.New(c.logger)

	s.mu.Lock()
	old := s.clients[clientID]
	s.clients[clientID] = c
	n := len(s.clients)
	s.mu.Unlock()

	if old != nil {
		old.release()
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ClientsConnected.Set(float64(n))
	}
	return c
}

// Disconnect releases a client's state.
func (s *Service) Disconnect(c *Client) {
	s.mu.Lock()
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
	}
	n := len(s.clients)
	s.mu.Unlock()

	c.release()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ClientsConnected.Set(float64(n))
	}
}

// Clients returns the number of connected clients.
func (s *Service) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Client is the server-side state of one viewer connection.
type Client struct {
	id     string
	svc    *Service
	push   Pusher
	logger *slog.Logger

	mu         sync.Mutex
	plots      map[int]*plot.Plot
	global     *filter.Filter
	selections map[int]*filter.Filter
	released   bool
	done       chan struct{}
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

func (c *Client) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	close(c.done)
	c.global.Close()
	for _, f := range c.selections {
		f.Close()
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	return v, nil
}

// Handle executes one call. Calls of a client must not run concurrently.
func (c *Client) Handle(ctx context.Context, method string, args json.RawMessage) error {
	switch method {
	case protocol.MethodRequestFieldList:
		return c.requestFieldList()
	case protocol.MethodRequestNewPlot:
		req, err := decode[protocol.NewPlotRequest](args)
		if err != nil {
			return err
		}
		return c.requestNewPlot(req)
	case protocol.MethodRequestImage:
		req, err := decode[protocol.ImageRequest](args)
		if err != nil {
			return err
		}
		return c.requestImage(req)
	case protocol.MethodSetAxis:
		req, err := decode[protocol.AxisRequest](args)
		if err != nil {
			return err
		}
		return c.setAxis(req)
	case protocol.MethodSetFilter:
		req, err := decode[protocol.FilterRequest](args)
		if err != nil {
			return err
		}
		return c.setFilter(ctx, req)
	case protocol.MethodSetFilterRange:
		req, err := decode[protocol.FilterRangeRequest](args)
		if err != nil {
			return err
		}
		return c.setFilterRange(req)
	case protocol.MethodSetSelection:
		req, err := decode[protocol.SelectionRequest](args)
		if err != nil {
			return err
		}
		return c.setSelection(req)
	case protocol.MethodSetBrushFilter:
		req, err := decode[protocol.BrushFilterRequest](args)
		if err != nil {
			return err
		}
		return c.setBrushFilter(req)
	case protocol.MethodSetBrushEnabled:
		req, err := decode[protocol.BrushEnabledRequest](args)
		if err != nil {
			return err
		}
		return c.setBrushEnabled(req)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

func (c *Client) requestFieldList() error {
	return c.push(protocol.EventFieldList, protocol.FieldList{Fields: c.svc.Fields()})
}

func (c *Client) plot(id int) (*plot.Plot, error) {
	p, ok := c.plots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPlot, id)
	}
	return p, nil
}

func (c *Client) requestNewPlot(req protocol.NewPlotRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.plots[req.PlotID]; exists {
		return fmt.Errorf("%w: plot %d already exists", ErrBadArgs, req.PlotID)
	}
	if req.Width < 1 || req.Height < 1 {
		return fmt.Errorf("%w: plot size %dx%d", ErrBadArgs, req.Width, req.Height)
	}

	p := plot.New(req.PlotID, req.Width, req.Height)
	p.Brush(plot.BaseBrush).SetFilter(c.global)

	sel := plot.NewBrush(plot.KindSelection)
	sel.SetBlend(false)
	sel.SetEnabled(false)
	if err := p.SetBrush(plot.SelectionBrush, sel); err != nil {
		return err
	}

	c.plots[req.PlotID] = p
	c.selections[req.PlotID] = filter.New(c.logger)
	c.logger.Debug("plot created", "plot", req.PlotID, "width", req.Width, "height", req.Height)
	return nil
}

func (c *Client) setAxis(req protocol.AxisRequest) error {
	if !req.Axis.Valid() {
		return fmt.Errorf("%w: axis %q", ErrBadArgs, req.Axis)
	}
	f, err := c.svc.cfg.Dataset.Field(req.Field)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.plot(req.PlotID)
	if err != nil {
		return err
	}
	if req.Axis == protocol.AxisX {
		p.SetX(f)
	} else {
		p.SetY(f)
	}
	c.svc.cfg.Dataset.Load(f)
	return nil
}

// setFilter binds a field to a global filter slot and reports the field's
// domain back to the client once its column is loaded.
func (c *Client) setFilter(ctx context.Context, req protocol.FilterRequest) error {
	if req.Slot < 0 || req.Slot >= filter.MaxFields {
		return fmt.Errorf("%w: filter slot %d", ErrBadArgs, req.Slot)
	}
	ds := c.svc.cfg.Dataset
	f, err := ds.Field(req.Field)
	if err != nil {
		return err
	}

	c.mu.Lock()
	err = c.global.SetField(req.Slot, f)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	ds.Load(f)
	go c.reportDomain(ctx, req.Slot, f)
	return nil
}

// reportDomain waits for f's column and pushes its domain, unless the slot was
// rebound or the client went away in the meantime.
func (c *Client) reportDomain(ctx context.Context, slot int, f *dataset.Field) {
	timer := time.NewTimer(c.svc.cfg.LoadTimeout)
	defer timer.Stop()
	select {
	case <-f.Ready():
	case <-c.done:
		return
	case <-ctx.Done():
		return
	case <-timer.C:
		c.logger.Warn("filter field load timed out", "field", f.Label, "slot", slot)
		return
	}
	if err := f.Err(); err != nil {
		c.logger.Warn("failed to load filter field", "field", f.Label, "slot", slot, "error", err)
		return
	}

	lo, hi := f.Range()
	c.mu.Lock()
	bound, low, high := c.global.Range(slot)
	if c.released || bound != f {
		c.mu.Unlock()
		return
	}
	// The client resets the slot to the domain it receives; so does the filter.
	var err error
	switch {
	case low == lo && high == hi:
	case math.IsInf(low, -1) && math.IsInf(high, 1):
		err = c.global.SetField(slot, f)
	default:
		err = c.global.SetRange(slot, lo, hi)
	}
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("failed to bind filter field", "field", f.Label, "slot", slot, "error", err)
		return
	}

	if err := c.push(protocol.EventFilterDomain, protocol.FilterDomain{
		Slot: slot, Field: f.Label, Min: lo, Max: hi,
	}); err != nil {
		c.logger.Debug("filter domain not delivered", "slot", slot, "error", err)
	}
}

func (c *Client) setFilterRange(req protocol.FilterRangeRequest) error {
	if req.Slot < 0 || req.Slot >= filter.MaxFields || req.Low > req.High {
		return fmt.Errorf("%w: filter slot %d range [%g, %g]", ErrBadArgs, req.Slot, req.Low, req.High)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, _, _ := c.global.Range(req.Slot); f == nil {
		c.logger.Debug("range for unbound filter slot ignored", "slot", req.Slot)
		return nil
	}
	return c.global.SetRange(req.Slot, req.Low, req.High)
}

func (c *Client) setSelection(req protocol.SelectionRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.plot(req.PlotID)
	if err != nil {
		return err
	}
	x, y := p.Fields()
	if x == nil || y == nil {
		c.logger.Debug("selection on plot without axes ignored", "plot", req.PlotID)
		return nil
	}
	sel := c.selections[req.PlotID]
	if err := sel.SetField(0, x); err != nil {
		return err
	}
	if err := sel.SetField(1, y); err != nil {
		return err
	}
	if err := sel.SetRange(0, req.X0, req.X1); err != nil {
		return err
	}
	return sel.SetRange(1, req.Y0, req.Y1)
}

func (c *Client) setBrushFilter(req protocol.BrushFilterRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	target, err := c.plot(req.Target)
	if err != nil {
		return err
	}
	source, ok := c.selections[req.Source]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPlot, req.Source)
	}
	b := target.Brush(plot.SelectionBrush)
	b.SetFilter(source)
	b.SetEnabled(true)
	return nil
}

func (c *Client) setBrushEnabled(req protocol.BrushEnabledRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.plot(req.PlotID)
	if err != nil {
		return err
	}
	p.Brush(plot.SelectionBrush).SetEnabled(req.Enabled)
	return nil
}

// requestImage resizes the plot and answers with its pixels, or with the
// unchanged sentinel when nothing it depends on changed since the last image.
func (c *Client) requestImage(req protocol.ImageRequest) error {
	c.mu.Lock()
	p, err := c.plot(req.PlotID)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	p.SetSize(req.Width, req.Height)
	img, err := c.svc.image(p)
	if err != nil {
		return err
	}
	return c.push(protocol.EventImage, img)
}

func (s *Service) image(p *plot.Plot) (protocol.Image, error) {
	unchanged := protocol.Image{PlotID: p.ID}
	if !p.Dirty() {
		s.countUnchanged()
		return unchanged, nil
	}

	x, y := p.Fields()
	if x != nil && y != nil && !p.Ready() {
		// Pixels follow once the columns are in.
		s.cfg.Dataset.Load(x)
		s.cfg.Dataset.Load(y)
		s.countUnchanged()
		return unchanged, nil
	}

	stamp := p.Begin()
	w, h := p.Size()
	info := protocol.DefaultAxisInfo()

	var data []byte
	var err error
	if x == nil || y == nil {
		data, err = s.cfg.Renderer.RenderBlank(w, h)
	} else {
		info.XMin, info.XMax = x.Range()
		info.YMin, info.YMax = y.Range()
		info.XLabel, info.YLabel = x.Label, y.Label
		data, err = s.renderScene(p, x, y, w, h, info)
	}
	if err != nil {
		return protocol.Image{}, fmt.Errorf("failed to render plot %d: %w", p.ID, err)
	}
	p.MarkRendered(stamp)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ImagesRendered.Inc()
	}
	return protocol.Image{
		PlotID: p.ID,
		Width:  w,
		Height: h,
		Data:   base64.StdEncoding.EncodeToString(data),
		Axis:   &info,
	}, nil
}

func (s *Service) renderScene(p *plot.Plot, x, y *dataset.Field, w, h int, info protocol.AxisInfo) ([]byte, error) {
	var layers []render.Layer
	var states []cache.BrushState
	for i, b := range p.Brushes() {
		if !b.Enabled() {
			continue
		}
		layer := render.Layer{Blend: b.Blend(), Color: colormap.Categorical.AtIndex(i)}
		state := cache.BrushState{Kind: b.Kind(), Blend: layer.Blend}
		if f := b.Filter(); f != nil {
			layer.Rows, layer.Filtered = f.Indices()
			if layer.Filtered {
				state.IndexStamp = f.Stamp()
			}
		}
		layers = append(layers, layer)
		states = append(states, state)
	}

	key := cache.ImageKey(x.Label, y.Label, w, h, s.cfg.Colormap, states)
	if s.cfg.Cache != nil {
		if data, ok := s.cfg.Cache.GetImage(key); ok {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.ImageCacheHits.Inc()
			}
			return data, nil
		}
	}

	start := time.Now()
	data, err := s.cfg.Renderer.Render(render.Scene{
		Width: w, Height: h,
		X: x.Values(), Y: y.Values(),
		XMin: info.XMin, XMax: info.XMax,
		YMin: info.YMin, YMax: info.YMax,
		Layers:   layers,
		Colormap: s.cfg.Colormap,
	})
	if err != nil {
		return nil, err
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RenderDuration.Observe(time.Since(start).Seconds())
	}
	if s.cfg.Cache != nil {
		if err := s.cfg.Cache.SetImage(key, data); err != nil {
			s.logger.Debug("image not cached", "key", key, "error", err)
		}
	}
	return data, nil
}

func (s *Service) countUnchanged() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ImagesUnchanged.Inc()
	}
}
