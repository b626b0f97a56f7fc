package dataset

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/signac/viewer/internal/metrics"
)

var errPoolStopped = errors.New("loader pool stopped")

// loaderPool reads field columns on a fixed number of workers.
type loaderPool struct {
	loader   Loader
	workers  int
	metrics  *metrics.Server
	logger   *slog.Logger
	queue    chan *Field
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
}

func newLoaderPool(loader Loader, workers int, m *metrics.Server, logger *slog.Logger) *loaderPool {
	if workers <= 0 {
		workers = 4
	}
	return &loaderPool{
		loader:  loader,
		workers: workers,
		metrics: m,
		logger:  logger,
		queue:   make(chan *Field, 128),
	}
}

func (p *loaderPool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *loaderPool) stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

// submit queues f. Once the pool is stopped the field fails immediately.
func (p *loaderPool) submit(f *Field) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		f.set(nil, errPoolStopped)
		return
	}
	select {
	case p.queue <- f:
	default:
		p.logger.Warn("load queue full, loading outside the pool", "field", f.Label)
		go p.load(f)
	}
}

func (p *loaderPool) worker() {
	defer p.wg.Done()
	for f := range p.queue {
		p.load(f)
	}
}

func (p *loaderPool) load(f *Field) {
	start := time.Now()
	values, err := p.loader.Column(f.Index)
	f.set(values, err)
	if err != nil {
		p.logger.Error("field load failed", "field", f.Label, "error", err)
		if p.metrics != nil {
			p.metrics.FieldLoads.WithLabelValues("error").Inc()
		}
		return
	}
	lo, hi := f.Range()
	p.logger.Info("field loaded", "field", f.Label, "rows", len(values),
		"min", lo, "max", hi, "duration", time.Since(start))
	if p.metrics != nil {
		p.metrics.FieldLoads.WithLabelValues("ok").Inc()
	}
}
