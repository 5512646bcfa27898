package playback

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBuffer(cfg Config) (*Buffer, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	return New(cfg, WithClock(clock.Now)), clock
}

// ramp produces n distinguishable samples so FIFO order violations show up
// as value mismatches, not just length mismatches.
func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start+i) / 100000
	}
	return out
}

func signalled(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestPullPreservesArrivalOrder(t *testing.T) {
	b, _ := newTestBuffer(Config{LowWatermark: 1})

	b.Append(ramp(0, 300))
	b.Append(ramp(300, 200))

	got := make([]float32, 0, 500)
	block := make([]float32, 128)
	for len(got) < 384 {
		b.Pull(block)
		got = append(got, block...)
	}

	want := ramp(0, 384)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestUnderrunEmitsSilenceAndOneNeedData(t *testing.T) {
	b, _ := newTestBuffer(Config{LowWatermark: 100})

	b.Append(ramp(0, 4096))

	block := make([]float32, 2048)
	b.Pull(block)
	if block[0] != ramp(0, 1)[0] || block[2047] != ramp(2047, 1)[0] {
		t.Fatal("first pull did not return the appended samples")
	}
	b.Pull(block)
	if block[0] != ramp(2048, 1)[0] {
		t.Fatal("second pull did not continue from the cursor")
	}

	// Third pull finds the buffer empty: silence plus a data request.
	block[0] = 0.5
	b.Pull(block)
	for i, s := range block {
		if s != 0 {
			t.Fatalf("underrun block[%d] = %v, want silence", i, s)
		}
	}
	if !signalled(b.NeedData()) {
		t.Fatal("expected a need-data signal after draining the buffer")
	}

	// The request stays outstanding: no second signal until new data lands.
	b.Pull(block)
	b.Pull(block)
	if signalled(b.NeedData()) {
		t.Fatal("duplicate need-data signal while one is outstanding")
	}
	if got := b.Stats().DataRequests; got != 1 {
		t.Fatalf("DataRequests = %d, want 1", got)
	}

	// Appending re-arms the request.
	b.Append(ramp(0, 16))
	b.Pull(block)
	if !signalled(b.NeedData()) {
		t.Fatal("expected a fresh need-data signal after append")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	b, clock := newTestBuffer(Config{LowWatermark: 1})

	b.Append(ramp(0, 1024))
	block := make([]float32, 256)
	b.Pull(block)

	b.Clear()
	b.Clear()

	b.Pull(block)
	for i, s := range block {
		if s != 0 {
			t.Fatalf("block[%d] = %v after Clear, want silence", i, s)
		}
	}

	// A cleared buffer is idle, not starving: no recovery activity even far
	// past the timeout.
	clock.Advance(time.Minute)
	for range 10 {
		b.Pull(block)
	}
	if signalled(b.Resets()) {
		t.Fatal("idle buffer raised a reset after Clear")
	}
	if signalled(b.NeedData()) {
		t.Fatal("idle buffer requested data after Clear")
	}
}

func TestStarvationHardResetAfterAttemptCeiling(t *testing.T) {
	b, clock := newTestBuffer(Config{
		LowWatermark:        1,
		StarvationTimeout:   10 * time.Second,
		MaxRecoveryAttempts: 2,
	})

	b.Append(ramp(0, 64))
	block := make([]float32, 128)
	b.Pull(block) // underrun, arms starvation tracking
	signalled(b.NeedData())

	// Each elapsed timeout yields one recovery attempt.
	clock.Advance(11 * time.Second)
	b.Pull(block)
	if signalled(b.Resets()) {
		t.Fatal("reset after first recovery attempt")
	}
	clock.Advance(11 * time.Second)
	b.Pull(block)
	if signalled(b.Resets()) {
		t.Fatal("reset after second recovery attempt")
	}

	// Past the ceiling: exactly one reset notification.
	clock.Advance(11 * time.Second)
	b.Pull(block)
	if !signalled(b.Resets()) {
		t.Fatal("expected a hard reset past the attempt ceiling")
	}
	if got := b.Stats().HardResets; got != 1 {
		t.Fatalf("HardResets = %d, want 1", got)
	}

	// The reset disarms the buffer; continued silence stays quiet.
	clock.Advance(time.Minute)
	for range 20 {
		b.Pull(block)
	}
	if signalled(b.Resets()) {
		t.Fatal("second reset notification from a disarmed buffer")
	}
}

func TestExtendedTimeoutSingleRecoveryAttempt(t *testing.T) {
	b, clock := newTestBuffer(Config{
		LowWatermark:         1,
		ExtendedLowWatermark: 1,
		StarvationTimeout:    10 * time.Second,
		ExtendedTimeout:      30 * time.Second,
	})

	b.SetExtendedTimeout(true)
	b.Append(ramp(0, 64))
	block := make([]float32, 128)
	b.Pull(block) // underrun; extended window active
	signalled(b.NeedData())
	before := b.Stats().DataRequests

	// 11 s of silence would trip the normal timeout but not the extended one.
	clock.Advance(11 * time.Second)
	b.Pull(block)
	if got := b.Stats().DataRequests; got != before {
		t.Fatalf("recovery attempt before the extended timeout elapsed")
	}

	// 31 s total: exactly one recovery attempt and no reset.
	clock.Advance(20 * time.Second)
	b.Pull(block)
	if got := b.Stats().DataRequests; got != before+1 {
		t.Fatalf("DataRequests = %d, want %d", got, before+1)
	}
	if signalled(b.Resets()) {
		t.Fatal("hard reset on the first extended-mode recovery attempt")
	}

	// The attempt re-arms the window: 29 s more does not trigger another.
	clock.Advance(29 * time.Second)
	b.Pull(block)
	if got := b.Stats().DataRequests; got != before+1 {
		t.Fatalf("second recovery attempt inside the re-armed window")
	}
}

func TestInterruptionMidPlayback(t *testing.T) {
	b, clock := newTestBuffer(Config{})

	b.Append(ramp(0, 8000))
	block := make([]float32, 256)
	b.Pull(block)
	b.Pull(block)

	// Interruption: the service said stop, the control side clears.
	b.Clear()

	b.Pull(block)
	for i, s := range block {
		if s != 0 {
			t.Fatalf("block[%d] = %v after interruption, want silence", i, s)
		}
	}

	// New utterance plays from its own start, not the stale cursor.
	b.Append(ramp(9000, 512))
	b.Pull(block)
	if block[0] != ramp(9000, 1)[0] {
		t.Fatalf("block[0] = %v, want first sample of the new utterance", block[0])
	}

	clock.Advance(time.Minute)
	b.Pull(make([]float32, 256))
	if signalled(b.Resets()) {
		t.Fatal("reset raised after a normal interruption")
	}
}

func TestSilentPullCeilingForcesReset(t *testing.T) {
	b, _ := newTestBuffer(Config{MaxSilentPulls: 5})

	b.Append(ramp(0, 16))
	block := make([]float32, 128)
	for range 6 {
		b.Pull(block)
	}
	if !signalled(b.Resets()) {
		t.Fatal("expected a hard reset past the silent-pull ceiling")
	}
	if got := b.Stats().HardResets; got != 1 {
		t.Fatalf("HardResets = %d, want 1", got)
	}
}

func TestCompactionKeepsSampleContinuity(t *testing.T) {
	b, _ := newTestBuffer(Config{LowWatermark: 1, CompactAfter: 1000})

	total := 10000
	b.Append(ramp(0, total))

	got := make([]float32, 0, total)
	block := make([]float32, 250)
	for len(got) < total {
		b.Pull(block)
		got = append(got, block...)
	}

	want := ramp(0, total)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %v after compaction, want %v", i, got[i], want[i])
		}
	}
}

func TestStatsTracksBufferedSamples(t *testing.T) {
	b, _ := newTestBuffer(Config{})

	b.Append(ramp(0, 1000))
	block := make([]float32, 400)
	b.Pull(block)
	if got := b.Stats().BufferedSamples; got != 600 {
		t.Fatalf("BufferedSamples = %d, want 600", got)
	}
	b.Pull(block)
	if got := b.Stats().BufferedSamples; got != 200 {
		t.Fatalf("BufferedSamples = %d, want 200", got)
	}
	b.Pull(block) // underrun
	if got := b.Stats().Underruns; got != 1 {
		t.Fatalf("Underruns = %d, want 1", got)
	}
}
