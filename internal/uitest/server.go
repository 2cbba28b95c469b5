// Package uitest runs the full stream server stack on a loopback port for
// end-to-end tests.
package uitest

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
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

// TestSeed is the fixed seed used for reproducible test frames.
const TestSeed uint64 = 12345

// Stream settings used by the test server.
const (
	TestFrameRate = 50
	TestWidth     = 320
	TestHeight    = 180
)

// Server is a test server that runs the app with authentication and the dev
// frame source.
type Server struct {
	baseURL string
	dataDir string
	cancel  context.CancelFunc
	grp     *errgroup.Group
	store   *storage.File
	gate    *sec.Gate
	metrics *observability.Metrics
}

// newTestServer creates and starts a new test server for use in TestMain.
// It panics on errors since TestMain cannot use testing.TB.
func newTestServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	grp, ctx := errgroup.WithContext(ctx)

	logger := slog.New(slog.DiscardHandler)
	metrics := observability.NewMetrics()

	dataDir, err := os.MkdirTemp("", "framecast-uitest-")
	if err != nil {
		cancel()
		panic(fmt.Sprintf("failed to create data dir: %v", err))
	}
	cfg := testConfig(dataDir)

	store, err := storage.NewFile(ctx, cfg.LoginFile, cfg.KeyFile, logger)
	if err != nil {
		cancel()
		panic(fmt.Sprintf("failed to create storage: %v", err))
	}

	gate, err := sec.NewGate(ctx, store,
		sec.WithRealm(cfg.Realm),
		sec.WithGuestTTL(cfg.GuestTTL),
		sec.WithLogger(logger),
		sec.WithMetrics(metrics),
	)
	if err != nil {
		cancel()
		panic(fmt.Sprintf("failed to create gate: %v", err))
	}

	streamer, err := stream.NewStreamer(stream.NewSlot(metrics), stream.Config{
		FrameRate: cfg.FrameRate,
		Size:      image.Pt(cfg.StreamWidth, cfg.StreamHeight),
		Quality:   cfg.JPEGQuality,
	}, metrics)
	if err != nil {
		cancel()
		panic(fmt.Sprintf("failed to create streamer: %v", err))
	}

	source := devsource.New(TestSeed)
	grp.Go(func() error { return source.Run(ctx, streamer, cfg.FrameRate) })

	appServer := app.New(cfg, logger, gate, streamer, store)
	appAddr, err := startAppServer(ctx, grp, appServer)
	if err != nil {
		cancel()
		panic(fmt.Sprintf("failed to start app server: %v", err))
	}

	return &Server{
		baseURL: "http://" + appAddr,
		dataDir: dataDir,
		cancel:  cancel,
		grp:     grp,
		store:   store,
		gate:    gate,
		metrics: metrics,
	}
}

// BaseURL returns the base URL of the test server.
func (s *Server) BaseURL() string {
	return s.baseURL
}

// Close shuts down the test server.
// Errors are ignored since this runs during test cleanup where failures
// are typically unrecoverable and already logged by the errgroup.
func (s *Server) Close() {
	s.cancel()
	_ = s.grp.Wait()
	_ = os.RemoveAll(s.dataDir)
}

// URL constructs a full URL from the server base URL and a path.
func (s *Server) URL(path string) string {
	return fmt.Sprintf("%s%s", s.baseURL, path)
}

// AddLogin stores a login directly, as the user command would.
func (s *Server) AddLogin(ctx context.Context, username, password string) error {
	_, err := s.store.Add(ctx, username, password)
	return err
}

// OpenStore opens a second store on the server's credential and key files,
// as a separate management process would.
func (s *Server) OpenStore(ctx context.Context) (*storage.File, error) {
	cfg := testConfig(s.dataDir)
	return storage.NewFile(ctx, cfg.LoginFile, cfg.KeyFile, slog.New(slog.DiscardHandler))
}

// GuestPassword returns the current guest password.
func (s *Server) GuestPassword(ctx context.Context) (string, error) {
	password, _, err := s.gate.Guest(ctx)
	return password, err
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *observability.Metrics {
	return s.metrics
}

func testConfig(dataDir string) *config.Config {
	cfg := config.Default()
	cfg.LogLevel = slog.LevelDebug
	cfg.LoginFile = filepath.Join(dataDir, "logins")
	cfg.KeyFile = filepath.Join(dataDir, ".login")
	cfg.FrameRate = TestFrameRate
	cfg.StreamWidth = TestWidth
	cfg.StreamHeight = TestHeight
	cfg.DevMode = true
	return cfg
}

func startAppServer(ctx context.Context, grp *errgroup.Group, srv *echo.Echo) (string, error) {
	listener, err := server.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	addr := listener.Addr().String()

	server.Serve(ctx, grp, srv.Server, listener, server.ShutdownTimeout, server.WithoutWriteTimeout())

	return addr, nil
}
