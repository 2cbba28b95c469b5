package command

import (
	"context"
	"image"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stolasapp/framecast/internal/app"
	"github.com/stolasapp/framecast/internal/app/devsource"
	"github.com/stolasapp/framecast/internal/config"
	"github.com/stolasapp/framecast/internal/observability"
	"github.com/stolasapp/framecast/internal/sec"
	"github.com/stolasapp/framecast/internal/server"
	"github.com/stolasapp/framecast/internal/storage"
	"github.com/stolasapp/framecast/internal/stream"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "serve the live stream and web app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			grp, ctx := errgroup.WithContext(cmd.Context())
			metrics := observability.NewMetrics()

			gate, store, err := newGate(ctx, cfg, logger, metrics)
			if err != nil {
				return err
			}

			streamer, err := stream.NewStreamer(stream.NewSlot(metrics), streamConfig(cfg), metrics)
			if err != nil {
				return err
			}

			appServer := app.New(cfg, logger, gate, streamer, store)

			serveApp(ctx, grp, cfg, logger, appServer)
			serveMetrics(ctx, grp, cfg, logger, metrics)
			if cfg.DevMode {
				runDevSource(ctx, grp, cfg, logger, streamer)
			} else {
				logger.WarnContext(ctx, "no frame producer attached, enable dev_mode for a test pattern")
			}
			return grp.Wait()
		},
	}
}

// newGate opens the credential store when authentication is required. The
// returned store is nil otherwise.
func newGate(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	metrics *observability.Metrics,
) (*sec.Gate, storage.Store, error) {
	if !cfg.RequireAuth {
		logger.WarnContext(ctx, "authentication disabled")
		return sec.Passthrough(sec.WithMetrics(metrics)), nil, nil
	}

	file, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	gate, err := sec.NewGate(ctx, file,
		sec.WithRealm(cfg.Realm),
		sec.WithGuestTTL(cfg.GuestTTL),
		sec.WithLogger(logger.With(slog.String("address", cfg.WebAddress))),
		sec.WithMetrics(metrics),
	)
	if err != nil {
		return nil, nil, err
	}
	return gate, file, nil
}

func streamConfig(cfg *config.Config) stream.Config {
	return stream.Config{
		FrameRate: cfg.FrameRate,
		Size:      image.Pt(cfg.StreamWidth, cfg.StreamHeight),
		Quality:   cfg.JPEGQuality,
	}
}

func serveApp(
	ctx context.Context,
	grp *errgroup.Group,
	cfg *config.Config,
	logger *slog.Logger,
	srv *echo.Echo,
) {
	addr := cfg.WebAddress
	listener, err := server.Listen(ctx, addr)
	if err != nil {
		grp.Go(func() error { return err })
		return
	}

	logger.InfoContext(ctx,
		"starting app server...",
		slog.String("address", addr),
	)
	server.Serve(ctx, grp, srv.Server, listener, server.ShutdownTimeout, server.WithoutWriteTimeout())
}

func serveMetrics(
	ctx context.Context,
	grp *errgroup.Group,
	cfg *config.Config,
	logger *slog.Logger,
	metrics *observability.Metrics,
) {
	addr := cfg.MetricsAddress
	if addr == "" {
		return
	}

	listener, err := server.Listen(ctx, addr)
	if err != nil {
		grp.Go(func() error { return err })
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux} //nolint:gosec // Serve() sets timeouts

	logger.InfoContext(ctx,
		"starting metrics server...",
		slog.String("address", addr),
	)
	server.Serve(ctx, grp, srv, listener, server.ShutdownTimeout)
}

func runDevSource(
	ctx context.Context,
	grp *errgroup.Group,
	cfg *config.Config,
	logger *slog.Logger,
	streamer *stream.Streamer,
) {
	seed := devsource.Seed()
	source := devsource.New(seed)

	logger.InfoContext(ctx,
		"starting dev frame source...",
		slog.Uint64("seed", seed),
		slog.Int("frame_rate", cfg.FrameRate),
	)
	grp.Go(func() error {
		return source.Run(ctx, streamer, cfg.FrameRate)
	})
}
