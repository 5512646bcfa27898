// Package playback implements the real-time playback buffer that sits
// between the network session and the host audio output.
//
// The buffer is mutated from two execution contexts that must never share
// mutable state: the event-driven control context (socket reads, the message
// router) and the real-time audio context that drains samples on a fixed
// clock. All control-side operations ([Buffer.Append], [Buffer.Clear],
// [Buffer.SetExtendedTimeout]) are posted onto a command queue and applied
// by the real-time side at the start of each [Buffer.Pull]. Pull itself never
// blocks, never performs I/O, and substitutes silence when data is missing.
//
// Starvation is recovered in bounded steps: silence substitution first, then
// re-armed data requests, and finally a hard reset that empties the buffer
// and notifies the session layer exactly once.
package playback

import (
	"sync/atomic"
	"time"

	"github.com/voxhall/voxhall/pkg/audio"
)

// Default tuning. Sample counts assume the 16 kHz mono service format.
const (
	defaultLowWatermark         = 4000  // 250 ms
	defaultExtendedLowWatermark = 16000 // 1 s
	defaultStarvationTimeout    = 10 * time.Second
	defaultExtendedTimeout      = 30 * time.Second
	defaultMaxRecoveryAttempts  = 3
	defaultMaxSilentPulls       = 4096  // ~32 s of 128-sample ticks
	defaultCompactAfter         = 80000 // 5 s of consumed prefix
	defaultCommandQueue         = 256
)

// Config tunes the buffer thresholds. Zero values select the defaults above.
type Config struct {
	// LowWatermark is the remaining-sample count below which a single
	// need-data signal is raised.
	LowWatermark int

	// ExtendedLowWatermark replaces LowWatermark while extended-timeout mode
	// is active.
	ExtendedLowWatermark int

	// StarvationTimeout is the wall-clock time since the last append after
	// which a pull records a recovery attempt.
	StarvationTimeout time.Duration

	// ExtendedTimeout replaces StarvationTimeout while extended-timeout mode
	// is active, covering legitimately long server-side work.
	ExtendedTimeout time.Duration

	// MaxRecoveryAttempts is the recovery-attempt ceiling past which the
	// buffer performs a hard reset.
	MaxRecoveryAttempts int

	// MaxSilentPulls is the ceiling on consecutive silence-filled ticks past
	// which the buffer performs a hard reset.
	MaxSilentPulls int

	// CompactAfter is the consumed-prefix sample count past which the
	// underlying storage is compacted to bound memory growth.
	CompactAfter int

	// CommandQueue is the capacity of the control→real-time command channel.
	CommandQueue int
}

func (c Config) withDefaults() Config {
	if c.LowWatermark <= 0 {
		c.LowWatermark = defaultLowWatermark
	}
	if c.ExtendedLowWatermark <= 0 {
		c.ExtendedLowWatermark = defaultExtendedLowWatermark
	}
	if c.StarvationTimeout <= 0 {
		c.StarvationTimeout = defaultStarvationTimeout
	}
	if c.ExtendedTimeout <= 0 {
		c.ExtendedTimeout = defaultExtendedTimeout
	}
	if c.MaxRecoveryAttempts <= 0 {
		c.MaxRecoveryAttempts = defaultMaxRecoveryAttempts
	}
	if c.MaxSilentPulls <= 0 {
		c.MaxSilentPulls = defaultMaxSilentPulls
	}
	if c.CompactAfter <= 0 {
		c.CompactAfter = defaultCompactAfter
	}
	if c.CommandQueue <= 0 {
		c.CommandQueue = defaultCommandQueue
	}
	return c
}

type commandKind int

const (
	cmdAppend commandKind = iota
	cmdClear
	cmdExtended
)

type command struct {
	kind    commandKind
	samples []float32
	on      bool
}

// Option is a functional option for configuring a [Buffer].
type Option func(*Buffer)

// WithClock overrides the wall-clock source used for starvation detection.
// Used in tests to make timeout behaviour deterministic.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		b.now = now
	}
}

// Buffer is a growable FIFO sample queue with watermark-triggered data
// requests and bounded starvation recovery.
//
// Append, Clear and SetExtendedTimeout are safe to call from the control
// context. Pull must only be called from the single real-time context; all
// other state is owned by the pull side and is never touched directly from
// outside.
type Buffer struct {
	cfg Config
	now func() time.Time

	commands chan command
	needData chan struct{}
	resets   chan struct{}

	// Pull-side state. Owned exclusively by the real-time context.
	samples          []float32
	cursor           int
	armed            bool
	extended         bool
	dataRequested    bool
	lastData         time.Time
	recoveryAttempts int
	silentPulls      int

	// Stats observable from any context.
	buffered   atomic.Int64
	underruns  atomic.Int64
	hardResets atomic.Int64
	requests   atomic.Int64
}

// New creates a Buffer with cfg (zero values select defaults) and options
// applied in order.
func New(cfg Config, opts ...Option) *Buffer {
	b := &Buffer{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		needData: make(chan struct{}, 1),
		resets:   make(chan struct{}, 1),
	}
	b.commands = make(chan command, b.cfg.CommandQueue)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append queues samples for playback at the tail of the buffer. The samples
// are applied on the next real-time tick; the slice is owned by the buffer
// after the call. Appending also re-arms the starvation timeout, clears any
// outstanding data request, and zeroes the recovery-attempt counter.
func (b *Buffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.commands <- command{kind: cmdAppend, samples: samples}
}

// Clear drops all buffered samples and resets the cursor on the next
// real-time tick. Idempotent.
func (b *Buffer) Clear() {
	b.commands <- command{kind: cmdClear}
}

// SetExtendedTimeout toggles extended-timeout mode: a wider starvation
// timeout and low watermark for workloads with legitimately long silences,
// such as server-side knowledge lookups.
func (b *Buffer) SetExtendedTimeout(on bool) {
	b.commands <- command{kind: cmdExtended, on: on}
}

// NeedData returns the channel on which the buffer raises need-data signals.
// At most one signal is outstanding at a time; the next one is armed by an
// append or a hard reset.
func (b *Buffer) NeedData() <-chan struct{} { return b.needData }

// Resets returns the channel on which the buffer raises one-shot hard-reset
// notifications. The session layer may choose to restart engagement.
func (b *Buffer) Resets() <-chan struct{} { return b.resets }

// Pull fills out with the next samples in arrival order, advancing the read
// cursor. Called once per real-time tick by the host audio callback. It
// never blocks: when fewer than len(out) samples are buffered the block is
// filled with silence and starvation handling runs instead.
func (b *Buffer) Pull(out []float32) {
	b.drainCommands()

	if len(out) == 0 {
		return
	}

	if avail := len(b.samples) - b.cursor; avail >= len(out) {
		copy(out, b.samples[b.cursor:b.cursor+len(out)])
		b.cursor += len(out)
		b.silentPulls = 0
		b.buffered.Store(int64(len(b.samples) - b.cursor))
		b.maybeCompact()
		b.maybeRequestData()
		return
	}

	// Underrun: the real-time deadline wins. Emit silence and recover out
	// of band.
	audio.Silence(out)
	b.underruns.Add(1)

	if !b.armed {
		// Nothing has been appended since the last reset; an idle buffer is
		// not starving, it is waiting for the conversation to start.
		return
	}

	b.silentPulls++
	if b.silentPulls > b.cfg.MaxSilentPulls {
		b.hardReset()
		return
	}

	if b.now().Sub(b.lastData) > b.timeout() {
		b.recoveryAttempts++
		if b.recoveryAttempts > b.cfg.MaxRecoveryAttempts {
			b.hardReset()
			return
		}
		// Re-arm both the timeout and the data request so the next attempt
		// happens only after another full starvation window.
		b.lastData = b.now()
		b.dataRequested = false
		b.requestData()
		return
	}

	b.maybeRequestData()
}

// drainCommands applies every queued control command. Runs on the real-time
// side; the loop is bounded by the command queue capacity.
func (b *Buffer) drainCommands() {
	for {
		select {
		case cmd := <-b.commands:
			switch cmd.kind {
			case cmdAppend:
				b.samples = append(b.samples, cmd.samples...)
				b.lastData = b.now()
				b.armed = true
				b.dataRequested = false
				b.recoveryAttempts = 0
				b.buffered.Store(int64(len(b.samples) - b.cursor))
			case cmdClear:
				b.reset()
			case cmdExtended:
				b.extended = cmd.on
			}
		default:
			return
		}
	}
}

func (b *Buffer) timeout() time.Duration {
	if b.extended {
		return b.cfg.ExtendedTimeout
	}
	return b.cfg.StarvationTimeout
}

func (b *Buffer) lowWatermark() int {
	if b.extended {
		return b.cfg.ExtendedLowWatermark
	}
	return b.cfg.LowWatermark
}

// maybeRequestData raises a single need-data signal once the remaining
// samples fall below the low watermark. The outstanding flag clears only on
// append or hard reset, so no duplicate signal is raised.
func (b *Buffer) maybeRequestData() {
	if b.dataRequested || !b.armed {
		return
	}
	if len(b.samples)-b.cursor >= b.lowWatermark() {
		return
	}
	b.requestData()
}

func (b *Buffer) requestData() {
	b.dataRequested = true
	b.requests.Add(1)
	select {
	case b.needData <- struct{}{}:
	default:
	}
}

// maybeCompact drops the consumed prefix once it exceeds the configured
// threshold, bounding memory growth without affecting the Pull/Append
// contract.
func (b *Buffer) maybeCompact() {
	if b.cursor <= b.cfg.CompactAfter {
		return
	}
	n := copy(b.samples, b.samples[b.cursor:])
	b.samples = b.samples[:n]
	b.cursor = 0
}

// reset empties the buffer and zeroes all recovery state. Shared by Clear
// and hard reset; idempotent.
func (b *Buffer) reset() {
	b.samples = b.samples[:0]
	b.cursor = 0
	b.armed = false
	b.dataRequested = false
	b.recoveryAttempts = 0
	b.silentPulls = 0
	b.buffered.Store(0)
}

// hardReset performs the terminal recovery step: drop everything and raise a
// one-shot buffer-reset notification for the session layer.
func (b *Buffer) hardReset() {
	b.reset()
	b.hardResets.Add(1)
	select {
	case b.resets <- struct{}{}:
	default:
	}
}

// Stats is a point-in-time snapshot of buffer counters, safe to read from
// any context.
type Stats struct {
	BufferedSamples int64
	Underruns       int64
	HardResets      int64
	DataRequests    int64
}

// Stats returns the current counter snapshot.
func (b *Buffer) Stats() Stats {
	return Stats{
		BufferedSamples: b.buffered.Load(),
		Underruns:       b.underruns.Load(),
		HardResets:      b.hardResets.Load(),
		DataRequests:    b.requests.Load(),
	}
}
