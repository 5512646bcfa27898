// Package playout is the real-time context of the playback path: a fixed
// clock that pulls one block per tick from the playback buffer and writes it
// to the host audio output.
//
// The driver performs no decisions of its own. Starvation handling lives in
// the buffer; the driver only guarantees the cadence and that each tick's
// block, samples or silence, reaches the device.
package playout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/voxhall/voxhall/pkg/audio"
)

const defaultBlockSize = 512

// Puller is the pull side of the playback buffer. Implemented by
// *playback.Buffer.
type Puller interface {
	Pull(out []float32)
}

// Config tunes the driver.
type Config struct {
	// Format is the stream format. Zero selects the service default.
	Format audio.Format

	// BlockSize is the samples per tick. Zero selects 512.
	BlockSize int
}

func (c Config) withDefaults() Config {
	if c.Format.SampleRate == 0 {
		c.Format = audio.DefaultFormat()
	}
	if c.BlockSize <= 0 {
		c.BlockSize = defaultBlockSize
	}
	return c
}

// Driver pumps blocks from a [Puller] to an output sink at the sample
// clock's pace.
type Driver struct {
	cfg    Config
	src    Puller
	out    io.Writer
	logger *slog.Logger
}

// New creates a Driver writing PCM16 blocks to out. A nil logger selects
// slog.Default.
func New(cfg Config, src Puller, out io.Writer, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{cfg: cfg.withDefaults(), src: src, out: out, logger: logger}
}

// Run ticks until ctx is cancelled. A write error is fatal for the driver:
// losing the output device is not recoverable from here.
func (d *Driver) Run(ctx context.Context) error {
	period := d.cfg.Format.BlockDuration(d.cfg.BlockSize)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	block := make([]float32, d.cfg.BlockSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.src.Pull(block)
			if _, err := d.out.Write(audio.EncodePCM16(block)); err != nil {
				return fmt.Errorf("playout: write output: %w", err)
			}
		}
	}
}
