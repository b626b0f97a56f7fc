package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signac/viewer/internal/api"
	"github.com/signac/viewer/internal/backend"
	"github.com/signac/viewer/internal/cache"
	"github.com/signac/viewer/internal/dataset"
	"github.com/signac/viewer/internal/metrics"
	"github.com/signac/viewer/internal/render"
)

func newServeCmd() *cobra.Command {
	var port int
	var dataPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the render server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if dataPath != "" {
				cfg.Data.Path = dataPath
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := metrics.NewRegistry()

			cacheManager, err := cache.NewManager(cache.Config{
				ImageCacheSizeMB: cfg.Cache.ImageSizeMB,
				ImageTTL:         time.Duration(cfg.Cache.ImageTTLMinutes) * time.Minute,
				QueryCacheSize:   cfg.Cache.QueryCacheSize,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize cache: %w", err)
			}
			defer cacheManager.Close()

			ds, err := dataset.Open(dataset.Config{
				Path:    cfg.Data.Path,
				Format:  cfg.Data.Format,
				Table:   cfg.Data.Table,
				Fields:  cfg.Data.Fields,
				Workers: cfg.Data.LoaderWorkers,
				Logger:  logger,
				Metrics: reg.Server,
			})
			if err != nil {
				return fmt.Errorf("failed to open dataset: %w", err)
			}
			defer ds.Close()
			logger.Info("dataset opened", "path", cfg.Data.Path, "fields", len(ds.Fields()))

			svc := backend.NewService(backend.Config{
				Dataset: ds,
				Renderer: render.NewRenderer(render.Config{
					PointSize:       cfg.Render.PointSize,
					DefaultColormap: cfg.Render.DefaultColormap,
					MaxPoints:       cfg.Render.MaxPoints,
				}),
				Cache:    cacheManager,
				Metrics:  reg.Server,
				Colormap: cfg.Render.DefaultColormap,
				Logger:   logger,
			})
			hub := api.NewHub(api.HubConfig{
				Service:        svc,
				Metrics:        reg.Server,
				AllowedOrigins: cfg.Server.CORSOrigins,
				Logger:         logger,
			})
			router := api.NewRouter(api.RouterConfig{
				Service:     svc,
				Hub:         hub,
				Cache:       cacheManager,
				Metrics:     reg,
				CORSOrigins: cfg.Server.CORSOrigins,
				WSPath:      cfg.Server.WSPath,
				Logger:      logger,
			})

			// No WriteTimeout: WebSocket connections are long-lived.
			server := &http.Server{
				Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:     router,
				ReadTimeout: 30 * time.Second,
				IdleTimeout: 120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", server.Addr, "ws_path", cfg.Server.WSPath)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			hub.Close()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server forced to shutdown", "error", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Override server.port")
	cmd.Flags().StringVar(&dataPath, "data", "", "Override data.path")
	return cmd
}
