package canvas

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DeskConfig contains headless layout settings.
type DeskConfig struct {
	// InsetX and InsetY are the panel chrome around a raster: a panel of
	// (w+InsetX) x (h+InsetY) shows a w x h raster.
	InsetX, InsetY int
	// OutputDir receives plot-<id>.png after every redraw; empty disables writing.
	OutputDir string
	Logger    *slog.Logger
}

// Desk is a headless panel layout. It opens one Frame per plot and reports
// each panel's live size.
type Desk struct {
	cfg    DeskConfig
	logger *slog.Logger

	mu     sync.Mutex
	frames map[int]*Frame
	sizes  map[int][2]int
}

// NewDesk creates an empty desk.
func NewDesk(cfg DeskConfig) *Desk {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Desk{
		cfg:    cfg,
		logger: logger.With("component", "desk"),
		frames: make(map[int]*Frame),
		sizes:  make(map[int][2]int),
	}
}

// Open creates the panel for a plot sized to hold a width x height raster.
func (d *Desk) Open(plotID, width, height int) Surface {
	f := NewFrame(plotID, d.save)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames[plotID] = f
	d.sizes[plotID] = [2]int{width + d.cfg.InsetX, height + d.cfg.InsetY}
	return f
}

// Viewport returns the live panel size of a plot.
func (d *Desk) Viewport(plotID int) (int, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sizes[plotID]
	return s[0], s[1], ok
}

// Resize changes a panel's outer size. Unknown plots are ignored.
func (d *Desk) Resize(plotID, width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sizes[plotID]; ok {
		d.sizes[plotID] = [2]int{width, height}
	}
}

// Remove forgets a closed plot's panel.
func (d *Desk) Remove(plotID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.frames, plotID)
	delete(d.sizes, plotID)
}

// Frame returns the frame of a plot.
func (d *Desk) Frame(plotID int) (*Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.frames[plotID]
	return f, ok
}

func (d *Desk) save(f *Frame) {
	if d.cfg.OutputDir == "" {
		return
	}
	if err := os.MkdirAll(d.cfg.OutputDir, 0755); err != nil {
		d.logger.Warn("cannot create output dir", "dir", d.cfg.OutputDir, "error", err)
		return
	}
	path := filepath.Join(d.cfg.OutputDir, fmt.Sprintf("plot-%d.png", f.PlotID()))
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		d.logger.Warn("cannot write frame", "path", path, "error", err)
		return
	}
	err = f.EncodePNG(out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		d.logger.Warn("cannot write frame", "path", path, "error", err)
	}
}
