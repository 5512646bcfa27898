// Package audio defines the sample-domain types shared by the capture and
// playback paths and the PCM16 wire conversion used by both.
//
// Two representations exist: on the wire a sample is a little-endian signed
// 16-bit integer; inside the client it is a float32 in [-1, 1]. The service
// and the client agree on one fixed format — no resampling is performed
// anywhere in the pipeline; a rate mismatch is a configuration error caught
// by config validation, not a runtime condition.
package audio

import "time"

// Default wire format shared with the speech service.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// Format pins the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat returns the 16 kHz mono format the speech service speaks.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

// BlockDuration returns the wall-clock duration of n samples in this format.
// Used by the playout pacer and for time-equivalent buffer thresholds.
func (f Format) BlockDuration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.SampleRate))
}

// Samples returns the number of samples covering d in this format.
func (f Format) Samples(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}
