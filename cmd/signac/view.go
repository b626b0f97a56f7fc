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

	"github.com/signac/viewer/internal/canvas"
	"github.com/signac/viewer/internal/metrics"
	"github.com/signac/viewer/internal/protocol"
	"github.com/signac/viewer/internal/rpc"
	"github.com/signac/viewer/internal/session"
)

type viewOptions struct {
	serverURL   string
	plots       int
	x, y        string
	filter      string
	link        bool
	duration    time.Duration
	outputDir   string
	metricsAddr string
}

func newViewCmd() *cobra.Command {
	var opts viewOptions
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Run a headless viewer session and write every redrawn plot as PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(opts)
		},
	}
	cmd.Flags().StringVar(&opts.serverURL, "server", "", "Override viewer.server_url")
	cmd.Flags().IntVar(&opts.plots, "plots", 1, "Number of plots to open")
	cmd.Flags().StringVar(&opts.x, "x", "", "Field for every plot's X axis")
	cmd.Flags().StringVar(&opts.y, "y", "", "Field for every plot's Y axis")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Field to bind to filter slot 0")
	cmd.Flags().BoolVar(&opts.link, "link", false, "Highlight plot 0's brush in every other plot")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 = until interrupted)")
	cmd.Flags().StringVar(&opts.outputDir, "output", "", "Override viewer.output_dir")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve viewer metrics on this address, e.g. :9100")
	return cmd
}

func runView(opts viewOptions) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	vc := cfg.Viewer
	if opts.serverURL != "" {
		vc.ServerURL = opts.serverURL
	}
	if opts.outputDir != "" {
		vc.OutputDir = opts.outputDir
	}
	if opts.plots < 1 {
		return fmt.Errorf("--plots must be at least 1, got %d", opts.plots)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	reg := metrics.NewRegistry()
	if opts.metricsAddr != "" {
		srv := &http.Server{Addr: opts.metricsAddr, Handler: reg.Handler(), ReadTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	// Session state is only touched from the loop goroutine.
	loop := session.NewLoop(256)
	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(ctx) }()

	desk := canvas.NewDesk(canvas.DeskConfig{
		InsetX:    vc.InsetX,
		InsetY:    vc.InsetY,
		OutputDir: vc.OutputDir,
		Logger:    logger,
	})

	var sess *session.Session
	client, err := rpc.Dial(ctx, rpc.Config{
		URL:    vc.ServerURL,
		Logger: logger,
		OnEvent: func(ev protocol.Event) {
			loop.Post(func() { sess.HandleEvent(ev) })
		},
	})
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("connected", "url", vc.ServerURL, "client_id", client.ID())

	configured := false
	sess = session.New(session.Config{
		Caller:          client,
		Layout:          desk,
		Scheduler:       loop,
		FilterSlots:     vc.FilterSlots,
		DefaultWidth:    vc.DefaultWidth,
		DefaultHeight:   vc.DefaultHeight,
		RefreshInterval: vc.RefreshInterval(),
		InsetX:          vc.InsetX,
		InsetY:          vc.InsetY,
		ImageTimeout:    vc.ImageTimeout(),
		MaxImageRetries: vc.MaxImageRetries,
		Logger:          logger,
		Metrics:         reg.Viewer,
		Context:         ctx,
		OnFieldsChanged: func(fields []protocol.Field) {
			logger.Info("fields received", "count", len(fields))
			if configured {
				return
			}
			configured = true
			applyViewOptions(sess, opts, logger.Warn)
		},
	})

	err = loop.Call(ctx, func() {
		sess.Start()
		for i := 0; i < opts.plots; i++ {
			sess.CreatePlot()
		}
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-client.Done():
		logger.Warn("connection closed by server")
	case err := <-loopErr:
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

// applyViewOptions binds the requested axes, filter and links once fields are known.
func applyViewOptions(sess *session.Session, opts viewOptions, warn func(string, ...any)) {
	for _, id := range sess.PlotIDs() {
		if opts.x != "" {
			if err := sess.SetAxis(id, protocol.AxisX, opts.x); err != nil {
				warn("set x axis", "plot", id, "error", err)
			}
		}
		if opts.y != "" {
			if err := sess.SetAxis(id, protocol.AxisY, opts.y); err != nil {
				warn("set y axis", "plot", id, "error", err)
			}
		}
		if opts.link && id != 0 {
			if err := sess.LinkBrush(id, 0); err != nil {
				warn("link brush", "plot", id, "error", err)
			}
		}
	}
	if opts.filter != "" {
		if err := sess.BindFilter(0, opts.filter); err != nil {
			warn("bind filter", "field", opts.filter, "error", err)
		}
	}
}
