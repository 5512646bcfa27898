// Package transcript collects conversation lines and knowledge-base results
// for display. Persistence is out of scope; the ring keeps a bounded window
// of recent entries and older ones fall off.
package transcript

import (
	"log/slog"
	"sync"
	"time"
)

// EntryKind distinguishes transcript line types.
type EntryKind int

const (
	// KindLine is a spoken transcript line.
	KindLine EntryKind = iota
	// KindKnowledge is a normalized knowledge-base result summary.
	KindKnowledge
	// KindNotice is a status line, such as a long-task processing notice.
	KindNotice
)

// Entry is one transcript record.
type Entry struct {
	Kind    EntryKind
	Speaker string
	Text    string
	At      time.Time
}

// Sink receives transcript entries from the message router.
type Sink interface {
	Write(e Entry)
}

// Ring is a bounded in-memory [Sink] holding the most recent entries.
// Safe for concurrent use.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

var _ Sink = (*Ring)(nil)

// NewRing creates a ring holding at most capacity entries. A non-positive
// capacity defaults to 256.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Write records e, evicting the oldest entry when full.
func (r *Ring) Write(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Entries returns the stored entries in arrival order.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// SlogSink logs each entry through an [slog.Logger]. Used as the default
// sink when no UI is attached.
type SlogSink struct {
	Logger *slog.Logger
}

var _ Sink = SlogSink{}

// Write logs e at info level with speaker and kind attributes.
func (s SlogSink) Write(e Entry) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	switch e.Kind {
	case KindKnowledge:
		l.Info("knowledge base result", "text", e.Text)
	case KindNotice:
		l.Info("status", "text", e.Text)
	default:
		l.Info("transcript", "speaker", e.Speaker, "text", e.Text)
	}
}

// Tee fans entries out to multiple sinks.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

type teeSink []Sink

func (t teeSink) Write(e Entry) {
	for _, s := range t {
		s.Write(e)
	}
}
