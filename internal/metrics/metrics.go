// Package metrics holds the Prometheus collectors of the render server and the viewer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signac"

// Registry owns a Prometheus registry with both metric sets registered.
type Registry struct {
	prom   *prometheus.Registry
	Server *Server
	Viewer *Viewer
}

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		prom:   prometheus.NewRegistry(),
		Server: NewServer(),
		Viewer: NewViewer(),
	}
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.prom.MustRegister(r.Server.collectors()...)
	r.prom.MustRegister(r.Viewer.collectors()...)
	return r
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{Registry: r.prom})
}

// Server contains render server metrics.
type Server struct {
	ClientsConnected prometheus.Gauge
	CallsTotal       *prometheus.CounterVec
	ImagesRendered   prometheus.Counter
	ImagesUnchanged  prometheus.Counter
	ImageCacheHits   prometheus.Counter
	RenderDuration   prometheus.Histogram
	FieldLoads       *prometheus.CounterVec
}

// NewServer creates unregistered server metrics.
func NewServer() *Server {
	return &Server{
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "clients_connected",
			Help: "Number of connected viewer clients",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "calls_total",
			Help: "Calls received from clients",
		}, []string{"method", "status"}),
		ImagesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "images_total",
			Help: "Plot images sent with pixels",
		}),
		ImagesUnchanged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "unchanged_total",
			Help: "Image requests answered with the unchanged sentinel",
		}),
		ImageCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "render", Name: "cache_hits_total",
			Help: "Encoded images served from cache",
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "render", Name: "duration_seconds",
			Help:    "Time spent rasterising and encoding a plot",
			Buckets: prometheus.DefBuckets,
		}),
		FieldLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dataset", Name: "field_loads_total",
			Help: "Field column loads",
		}, []string{"status"}),
	}
}

func (m *Server) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ClientsConnected, m.CallsTotal, m.ImagesRendered, m.ImagesUnchanged,
		m.ImageCacheHits, m.RenderDuration, m.FieldLoads,
	}
}

// Viewer contains client session metrics. A nil *Viewer is valid and records nothing.
type Viewer struct {
	calls       *prometheus.CounterVec
	callErrors  *prometheus.CounterVec
	arrivals    *prometheus.CounterVec
	retries     prometheus.Counter
	stalled     prometheus.Counter
	activePlots prometheus.Gauge
}

// NewViewer creates unregistered viewer metrics.
func NewViewer() *Viewer {
	return &Viewer{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "viewer", Name: "calls_total",
			Help: "Backend calls issued by the viewer",
		}, []string{"method"}),
		callErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "viewer", Name: "call_errors_total",
			Help: "Backend calls that failed to leave the viewer",
		}, []string{"method"}),
		arrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "viewer", Name: "image_arrivals_total",
			Help: "Images received, by kind (redraw, unchanged, orphan)",
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "viewer", Name: "image_retries_total",
			Help: "Image requests re-issued after a timeout",
		}),
		stalled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "viewer", Name: "plots_stalled_total",
			Help: "Plots that stopped refreshing after exhausting retries",
		}),
		activePlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "viewer", Name: "plots_active",
			Help: "Open plots",
		}),
	}
}

func (m *Viewer) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.calls, m.callErrors, m.arrivals, m.retries, m.stalled, m.activePlots}
}

func (m *Viewer) CallIssued(method string) {
	if m != nil {
		m.calls.WithLabelValues(method).Inc()
	}
}

func (m *Viewer) CallFailed(method string) {
	if m != nil {
		m.callErrors.WithLabelValues(method).Inc()
	}
}

func (m *Viewer) ImageArrived(kind string) {
	if m != nil {
		m.arrivals.WithLabelValues(kind).Inc()
	}
}

func (m *Viewer) ImageRetried() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Viewer) PlotStalled() {
	if m != nil {
		m.stalled.Inc()
	}
}

func (m *Viewer) PlotsActive(n int) {
	if m != nil {
		m.activePlots.Set(float64(n))
	}
}
