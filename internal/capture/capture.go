package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voxhall/voxhall/pkg/audio"
)

// Defaults for device initialization.
const (
	defaultInitRetries = 3
	defaultRetryDelay  = time.Second
	defaultBlockSize   = 512
)

// Config tunes the capture engine.
type Config struct {
	// Format is the stream format. Zero selects the service default.
	Format audio.Format

	// BlockSize is the samples per captured block. Zero selects 512.
	BlockSize int

	// InitRetries is the total device-open attempt budget before degrading
	// to the silent source. Zero selects 3.
	InitRetries int

	// RetryDelay is the fixed delay between open attempts. Zero selects 1s.
	RetryDelay time.Duration

	// StartMuted suppresses outbound frames until Unmute is called.
	StartMuted bool
}

func (c Config) withDefaults() Config {
	if c.Format.SampleRate == 0 {
		c.Format = audio.DefaultFormat()
	}
	if c.BlockSize <= 0 {
		c.BlockSize = defaultBlockSize
	}
	if c.InitRetries <= 0 {
		c.InitRetries = defaultInitRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// Opener constructs the capture device. Separated from the engine so tests
// and alternative inputs (pipes, files) can stand in for a microphone.
type Opener func(ctx context.Context, format audio.Format, blockSize int) (Source, error)

// SendFunc transmits one encoded PCM16 frame. The session layer silently
// drops frames while it is not active.
type SendFunc func(pcm []byte)

// Engine drives the capture loop: open the device with bounded retries,
// read blocks, encode, send. Safe to run once per instance.
type Engine struct {
	cfg    Config
	open   Opener
	send   SendFunc
	logger *slog.Logger

	muted    atomic.Bool
	degraded atomic.Bool
	sent     atomic.Int64
}

// New creates an Engine. A nil logger selects slog.Default.
func New(cfg Config, open Opener, send SendFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{cfg: cfg.withDefaults(), open: open, send: send, logger: logger}
	e.muted.Store(cfg.StartMuted)
	return e
}

// Mute suppresses outbound frames. The device keeps running so unmuting
// resumes instantly without a reopen.
func (e *Engine) Mute() { e.muted.Store(true) }

// Unmute resumes outbound frames.
func (e *Engine) Unmute() { e.muted.Store(false) }

// Muted reports whether outbound frames are currently suppressed.
func (e *Engine) Muted() bool { return e.muted.Load() }

// Degraded reports whether the engine is running on the silent fallback
// source because the real device could not be opened.
func (e *Engine) Degraded() bool { return e.degraded.Load() }

// SentFrames returns the number of frames handed to the send function.
func (e *Engine) SentFrames() int64 { return e.sent.Load() }

// Run opens the source and pumps blocks until ctx is cancelled or the
// source reports io.EOF. It returns nil on clean shutdown.
func (e *Engine) Run(ctx context.Context) error {
	src, err := e.openWithRetry(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	block := make([]float32, e.cfg.BlockSize)
	for {
		if err := src.Read(ctx, block); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				e.logger.Info("capture source exhausted")
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			default:
				return fmt.Errorf("capture: %w", err)
			}
		}
		if e.muted.Load() {
			continue
		}
		e.send(audio.EncodePCM16(block))
		e.sent.Add(1)
	}
}

// openWithRetry tries the configured opener a bounded number of times, then
// degrades to the silent source so the session survives without a working
// microphone.
func (e *Engine) openWithRetry(ctx context.Context) (Source, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.InitRetries; attempt++ {
		src, err := e.open(ctx, e.cfg.Format, e.cfg.BlockSize)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("capture device opened", "attempt", attempt)
			}
			return src, nil
		}
		lastErr = err
		e.logger.Warn("capture device open failed",
			"attempt", attempt,
			"max_attempts", e.cfg.InitRetries,
			"error", err)

		if attempt == e.cfg.InitRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.RetryDelay):
		}
	}

	e.degraded.Store(true)
	e.logger.Error("capture degraded to silent source", "error", lastErr)
	return SilentSource{Format: e.cfg.Format}, nil
}
