// Package capture reads microphone audio, encodes it to wire PCM16, and
// hands frames to the session for transmission.
//
// Device access is abstracted behind [Source] so the engine, the retry
// policy, and the silent fallback are testable without hardware. Sources
// pace themselves: Read blocks until a full block is available, the way a
// real capture device delivers data at the sample clock.
package capture

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/voxhall/voxhall/pkg/audio"
)

// Source delivers fixed-size blocks of float32 samples in [-1, 1].
type Source interface {
	// Read fills block completely or returns an error. io.EOF means the
	// source is exhausted and capture should stop cleanly.
	Read(ctx context.Context, block []float32) error

	// Close releases the underlying device or stream.
	Close() error
}

// SilentSource is the degraded fallback used when the real device cannot be
// opened: it produces silence at the correct sample pacing so the rest of
// the pipeline keeps its timing behaviour.
type SilentSource struct {
	Format audio.Format
}

var _ Source = SilentSource{}

// Read fills block with zeros after sleeping for the block's duration.
func (s SilentSource) Read(ctx context.Context, block []float32) error {
	f := s.Format
	if f.SampleRate == 0 {
		f = audio.DefaultFormat()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(f.BlockDuration(len(block))):
	}
	audio.Silence(block)
	return nil
}

// Close implements [Source].
func (SilentSource) Close() error { return nil }

// PCMStreamSource adapts a little-endian PCM16 byte stream (a capture pipe,
// a file, a test buffer) into a [Source]. The underlying reader provides the
// pacing.
type PCMStreamSource struct {
	R io.Reader

	buf []byte
}

var _ Source = (*PCMStreamSource)(nil)

// Read fills block from the stream. A trailing short read is reported as
// io.EOF; a torn sample is a corrupt stream and reported as an error.
func (p *PCMStreamSource) Read(ctx context.Context, block []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	need := len(block) * 2
	if cap(p.buf) < need {
		p.buf = make([]byte, need)
	}
	buf := p.buf[:need]
	n, err := io.ReadFull(p.R, buf)
	if err != nil {
		if err == io.ErrUnexpectedEOF && n%2 != 0 {
			return fmt.Errorf("capture: torn sample at stream end")
		}
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("capture: read stream: %w", err)
	}
	samples, err := audio.DecodePCM16(buf)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	copy(block, samples)
	return nil
}

// Close closes the underlying reader when it is an io.Closer.
func (p *PCMStreamSource) Close() error {
	if c, ok := p.R.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
