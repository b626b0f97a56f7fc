package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/signac/viewer/internal/canvas"
	"github.com/signac/viewer/internal/protocol"
	"github.com/signac/viewer/internal/rpc"
	"github.com/stretchr/testify/require"
)

type sentCall struct {
	Method string
	Args   any
}

type fakeCaller struct {
	calls []sentCall
	err   error
}

func (c *fakeCaller) Go(_ context.Context, method string, args any) *rpc.Call {
	c.calls = append(c.calls, sentCall{Method: method, Args: args})
	return rpc.Completed(method, args, c.err)
}

func (c *fakeCaller) methods() []string {
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.Method
	}
	return out
}

func (c *fakeCaller) byMethod(method string) []sentCall {
	var out []sentCall
	for _, call := range c.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (c *fakeCaller) reset() {
	c.calls = nil
}

type fakeSurface struct {
	cleared   []canvas.Geometry
	images    int
	xLabels   []string
	yLabels   []string
	xScale    canvas.Scale
	yScale    canvas.Scale
	brush     canvas.BrushFunc
	presented int
	closed    bool
}

func (f *fakeSurface) Clear(w, h int) {
	f.cleared = append(f.cleared, canvas.PlotGeometry(w, h))
}
func (f *fakeSurface) DrawImage(image.Image) { f.images++ }
func (f *fakeSurface) DrawXAxis(s canvas.Scale, label string) {
	f.xScale = s
	f.xLabels = append(f.xLabels, label)
}
func (f *fakeSurface) DrawYAxis(s canvas.Scale, label string) {
	f.yScale = s
	f.yLabels = append(f.yLabels, label)
}
func (f *fakeSurface) AttachBrush(fn canvas.BrushFunc) { f.brush = fn }
func (f *fakeSurface) Present() { f.presented++ }
func (f *fakeSurface) Close() { f.closed = true }

// drag fires the current brush callback, as the overlay would.
func (f *fakeSurface) drag(e canvas.Extent) {
	if f.brush != nil {
		f.brush(e)
	}
}

type fakeLayout struct {
	insetX, insetY int
	surfaces       map[int]*fakeSurface
	sizes          map[int]Size
}

func newFakeLayout(insetX, insetY int) *fakeLayout {
	return &fakeLayout{
		insetX:   insetX,
		insetY:   insetY,
		surfaces: make(map[int]*fakeSurface),
		sizes:    make(map[int]Size),
	}
}

func (l *fakeLayout) Open(plotID, w, h int) canvas.Surface {
	s := &fakeSurface{}
	l.surfaces[plotID] = s
	l.sizes[plotID] = Size{w + l.insetX, h + l.insetY}
	return s
}

func (l *fakeLayout) Viewport(plotID int) (int, int, bool) {
	s, ok := l.sizes[plotID]
	return s.Width, s.Height, ok
}

func (l *fakeLayout) Remove(plotID int) {
	delete(l.sizes, plotID)
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) func() bool {
	t := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() bool {
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

func (s *fakeScheduler) pending(d time.Duration) []*fakeTimer {
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.d == d {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single pending timer of duration d.
func (s *fakeScheduler) fire(t *testing.T, d time.Duration) {
	t.Helper()
	p := s.pending(d)
	require.Len(t, p, 1, "pending timers of %s", d)
	p[0].fired = true
	p[0].fn()
}

const (
	testInterval = 100 * time.Millisecond
	testTimeout  = 5 * time.Second
)

type harness struct {
	s      *Session
	caller *fakeCaller
	layout *fakeLayout
	sched  *fakeScheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		caller: &fakeCaller{},
		layout: newFakeLayout(80, 180),
		sched:  &fakeScheduler{},
	}
	h.s = New(Config{
		Caller:          h.caller,
		Layout:          h.layout,
		Scheduler:       h.sched,
		FilterSlots:     4,
		DefaultWidth:    400,
		DefaultHeight:   400,
		RefreshInterval: testInterval,
		InsetX:          80,
		InsetY:          180,
		ImageTimeout:    testTimeout,
		MaxImageRetries: 2,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func pngData(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func imageFor(t *testing.T, plotID, w, h int, axis *protocol.AxisInfo) protocol.Image {
	return protocol.Image{PlotID: plotID, Width: w, Height: h, Data: pngData(t, w, h), Axis: axis}
}
