// Package api provides the HTTP and WebSocket surface of the render server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/signac/viewer/internal/backend"
	"github.com/signac/viewer/internal/cache"
	"github.com/signac/viewer/internal/dataset"
	"github.com/signac/viewer/internal/metrics"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *backend.Service
	Hub         *Hub
	Cache       *cache.Manager // optional; caches field stats
	Metrics     *metrics.Registry
	CORSOrigins []string
	WSPath      string
	Logger      *slog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger.With("component", "http")))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	if cfg.Hub != nil {
		r.Get(cfg.WSPath, cfg.Hub.ServeHTTP)
	}

	// Compression only for JSON; upgrades need the raw ResponseWriter.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Get("/fields", fieldsHandler(cfg.Service))
		r.Get("/fields/{label}/stats", fieldStatsHandler(cfg.Service, cfg.Cache))
		r.Get("/clients", clientsHandler(cfg.Service))
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// fieldsHandler lists the dataset's fields with their load state.
func fieldsHandler(svc *backend.Service) http.HandlerFunc {
	type fieldInfo struct {
		ID     string `json:"id"`
		Label  string `json:"label"`
		Loaded bool   `json:"loaded"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		fields := svc.Dataset().Fields()
		out := make([]fieldInfo, len(fields))
		for i, f := range fields {
			out[i] = fieldInfo{ID: f.ID, Label: f.Label, Loaded: f.Loaded()}
		}
		writeJSON(w, map[string]any{"fields": out})
	}
}

// FieldStats summarises one loaded field.
type FieldStats struct {
	Label string  `json:"label"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	NaN   int     `json:"nan"`
}

func computeStats(f *dataset.Field) FieldStats {
	values := f.Values()
	lo, hi := f.Range()
	st := FieldStats{Label: f.Label, Count: len(values), Min: lo, Max: hi}
	var sum float64
	for _, v := range values {
		if math.IsNaN(float64(v)) {
			st.NaN++
			continue
		}
		sum += float64(v)
	}
	if n := len(values) - st.NaN; n > 0 {
		st.Mean = sum / float64(n)
	}
	return st
}

// fieldStatsHandler loads a field if needed and returns its summary.
func fieldStatsHandler(svc *backend.Service, c *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := svc.Dataset()
		f, err := ds.Field(chi.URLParam(r, "label"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := ds.WaitLoaded(ctx, f); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			http.Error(w, "failed to load field: "+err.Error(), status)
			return
		}

		key := cache.FieldStatsKey(f.Label, f.Stamp())
		if c != nil {
			if data, ok := c.GetQuery(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "HIT")
				w.Write(data)
				return
			}
		}

		data, err := json.Marshal(computeStats(f))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if c != nil {
			c.SetQuery(key, data)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "MISS")
		w.Write(data)
	}
}

func clientsHandler(svc *backend.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]int{"clients": svc.Clients()})
	}
}
