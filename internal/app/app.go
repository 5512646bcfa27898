// Package app wires all voxhall subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes them until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject fake transports and audio endpoints via functional
// options (WithDialer, WithCaptureOpener, WithOutput). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxhall/voxhall/internal/capture"
	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/health"
	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/internal/playout"
	"github.com/voxhall/voxhall/internal/session"
	"github.com/voxhall/voxhall/internal/transcript"
	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/audio/playback"
)

// statsInterval is how often buffer counters are mirrored into metrics.
const statsInterval = time.Second

// Option customises App construction.
type Option func(*App)

// WithDialer replaces the websocket dialer, for tests.
func WithDialer(d session.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithCaptureOpener replaces the capture device opener, for tests.
func WithCaptureOpener(o capture.Opener) Option {
	return func(a *App) { a.opener = o }
}

// WithOutput replaces the playout sink, for tests.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.output = w }
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observe.Metrics

	dialer session.Dialer
	opener capture.Opener
	output io.Writer

	buffer  *playback.Buffer
	router  *session.Router
	manager *session.Manager
	capture *capture.Engine
	driver  *playout.Driver
	ring    *transcript.Ring

	telemetry  *http.Server
	ownsOutput bool

	lastStats playback.Stats
}

// New wires the client from cfg. The returned App is inert until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: observe.DefaultMetrics(),
		dialer:  session.WSDialer{},
	}
	for _, opt := range opts {
		opt(a)
	}

	a.buffer = playback.New(playback.Config{
		LowWatermark:         cfg.Playback.LowWatermark,
		ExtendedLowWatermark: cfg.Playback.ExtendedLowWatermark,
		StarvationTimeout:    cfg.Playback.StarvationTimeout.Std(),
		ExtendedTimeout:      cfg.Playback.ExtendedTimeout.Std(),
		MaxRecoveryAttempts:  cfg.Playback.MaxRecoveryAttempts,
		MaxSilentPulls:       cfg.Playback.MaxSilentPulls,
	})

	a.ring = transcript.NewRing(256)
	sink := transcript.Tee(a.ring, transcript.SlogSink{Logger: a.logger})

	a.router = session.NewRouter(a.buffer, sink, session.RouterConfig{
		KnowledgeBaseID: cfg.Service.KnowledgeBaseID,
		OnTalking: func(on bool) {
			a.logger.Debug("talking state", "talking", on)
		},
	}, a.logger, a.metrics)

	a.manager = session.NewManager(session.Config{
		URL:                  cfg.Service.URL,
		APIKey:               cfg.Service.APIKey,
		KnowledgeBaseID:      cfg.Service.KnowledgeBaseID,
		Region:               cfg.Service.Region,
		HeartbeatInterval:    cfg.Service.HeartbeatInterval.Std(),
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectBackoff:     cfg.Reconnect.Backoff.Std(),
	}, a.dialer, a.router, a.logger, a.metrics)

	if a.opener == nil {
		a.opener = streamOpener(cfg.Capture.Device)
	}
	a.capture = capture.New(capture.Config{
		BlockSize:   cfg.Audio.BlockSize,
		InitRetries: cfg.Capture.InitRetries,
		RetryDelay:  cfg.Capture.RetryDelay.Std(),
		StartMuted:  cfg.Capture.StartMuted,
	}, a.opener, a.manager.SendAudio, a.logger)

	if a.output == nil {
		out, owned, err := openOutput(cfg.Audio.OutputPath)
		if err != nil {
			return nil, err
		}
		a.output = out
		a.ownsOutput = owned
	}
	a.driver = playout.New(playout.Config{BlockSize: cfg.Audio.BlockSize}, a.buffer, a.output, a.logger)

	if cfg.Telemetry.ListenAddr != "" {
		a.telemetry = a.newTelemetryServer(cfg.Telemetry.ListenAddr)
	}

	return a, nil
}

// Transcript returns the bounded transcript ring for UI consumption.
func (a *App) Transcript() *transcript.Ring { return a.ring }

// Capture returns the capture engine, for mute/unmute control surfaces.
func (a *App) Capture() *capture.Engine { return a.capture }

// Run engages the session and drives all loops until ctx is cancelled or a
// subsystem fails fatally.
func (a *App) Run(ctx context.Context) error {
	if err := a.manager.Engage(ctx); err != nil {
		return fmt.Errorf("app: engage: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.driver.Run(ctx) })
	g.Go(func() error { return a.capture.Run(ctx) })
	g.Go(func() error { return a.signalLoop(ctx) })
	if a.telemetry != nil {
		g.Go(func() error {
			err := a.telemetry.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.telemetry.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown disengages the session. Safe after Run returns; idempotent.
func (a *App) Shutdown(context.Context) error {
	a.manager.Disengage()
	if c, ok := a.output.(io.Closer); ok && a.ownsOutput {
		_ = c.Close()
	}
	return nil
}

// signalLoop consumes buffer notifications and mirrors buffer counters into
// metrics. The need-data signal has no outbound protocol message; the
// service pushes audio on its own schedule, so the signal is surfaced as
// telemetry for operators watching a starving session.
func (a *App) signalLoop(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.buffer.NeedData():
			a.logger.Debug("playback buffer below watermark")
		case <-a.buffer.Resets():
			a.logger.Warn("playback buffer hard reset",
				"session_state", a.manager.State().String())
		case <-ticker.C:
			a.publishStats(ctx)
		}
	}
}

// publishStats converts cumulative buffer counters into metric increments.
func (a *App) publishStats(ctx context.Context) {
	s := a.buffer.Stats()
	a.metrics.BufferedSamples.Record(ctx, s.BufferedSamples)
	if d := s.Underruns - a.lastStats.Underruns; d > 0 {
		a.metrics.PlaybackUnderruns.Add(ctx, d)
	}
	if d := s.HardResets - a.lastStats.HardResets; d > 0 {
		a.metrics.BufferResets.Add(ctx, d)
	}
	if d := s.DataRequests - a.lastStats.DataRequests; d > 0 {
		a.metrics.DataRequests.Add(ctx, d)
	}
	a.lastStats = s
}

// newTelemetryServer serves /metrics, /healthz and /readyz.
func (a *App) newTelemetryServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.SessionChecker(
			func() bool { return a.manager.State() == session.StateActive },
			func() bool { return a.manager.Failure() != nil },
		),
		health.CaptureChecker(a.capture.Degraded),
		health.BufferChecker(func() int64 { return a.buffer.Stats().HardResets }, 10),
	).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// streamOpener opens the configured PCM16 capture stream, standard input
// when no device path is set.
func streamOpener(path string) capture.Opener {
	return func(_ context.Context, _ audio.Format, _ int) (capture.Source, error) {
		if path == "" {
			return &capture.PCMStreamSource{R: os.Stdin}, nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open capture device %q: %w", path, err)
		}
		return &capture.PCMStreamSource{R: f}, nil
	}
}

// openOutput opens the playout sink, standard output when no path is set.
// The second return reports whether the app owns the handle and should
// close it on shutdown.
func openOutput(path string) (io.Writer, bool, error) {
	if path == "" {
		return os.Stdout, false, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("app: open output %q: %w", path, err)
	}
	return f, true, nil
}
