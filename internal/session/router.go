package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/internal/transcript"
	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/wire"
)

// Player is the playback-buffer surface the router drives. Implemented by
// *playback.Buffer.
type Player interface {
	Append(samples []float32)
	Clear()
	SetExtendedTimeout(on bool)
}

// RouterConfig carries the router's collaborator hooks.
type RouterConfig struct {
	// KnowledgeBaseID is cross-checked against identifiers carried in
	// processing notices. A mismatch is logged, never fatal.
	KnowledgeBaseID string

	// OnTalking is invoked when the service starts or stops producing
	// audio, for UI indicators. May be nil. Called only on changes.
	OnTalking func(talking bool)
}

// Router dispatches decoded inbound messages to the playback buffer, the
// transcript sink, and mode-switch signals. Parse failures are logged and
// dropped; nothing that arrives on the socket can break the pipeline.
type Router struct {
	player  Player
	sink    transcript.Sink
	cfg     RouterConfig
	logger  *slog.Logger
	metrics *observe.Metrics

	talking atomic.Bool
}

// NewRouter creates a Router. A nil logger selects slog.Default; nil metrics
// selects the package default instruments.
func NewRouter(player Player, sink transcript.Sink, cfg RouterConfig, logger *slog.Logger, metrics *observe.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Router{player: player, sink: sink, cfg: cfg, logger: logger, metrics: metrics}
}

// Dispatch routes one decoded message by tag.
func (r *Router) Dispatch(ctx context.Context, msg wire.Message) {
	switch msg.Kind {
	case wire.KindMedia:
		r.handleMedia(ctx, msg.Audio)

	case wire.KindStop:
		r.player.Clear()
		r.setTalking(false)

	case wire.KindText:
		r.sink.Write(transcript.Entry{
			Kind:    transcript.KindLine,
			Speaker: msg.Speaker,
			Text:    msg.Text,
			At:      time.Now(),
		})

	case wire.KindProcessing:
		r.handleProcessing(msg.Payload)

	case wire.KindKnowledge:
		r.handleKnowledge(msg.Payload)

	case wire.KindPong:
		// Heartbeat acknowledged; nothing to route.

	default:
		r.logger.Warn("unrecognized message dropped",
			"event", msg.RawEvent,
			"error", msg.Err)
	}
}

// Stopped reports whether the service is currently not producing audio.
func (r *Router) Stopped() bool { return !r.talking.Load() }

// Shutdown clears playback state on disengage.
func (r *Router) Shutdown() {
	r.player.Clear()
	r.setTalking(false)
}

func (r *Router) handleMedia(ctx context.Context, pcm []byte) {
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		r.logger.Warn("media frame dropped", "error", err)
		return
	}
	r.player.Append(samples)
	r.setTalking(true)
	r.metrics.AudioReceivedSeconds.Add(ctx, audio.DefaultFormat().BlockDuration(len(samples)).Seconds())
}

func (r *Router) handleProcessing(payload string) {
	r.player.SetExtendedTimeout(true)

	notice, err := wire.ParseProcessingNotice(payload)
	if err != nil {
		// Extended mode is already on; a malformed notice only costs the
		// display text.
		r.logger.Warn("processing notice unparseable", "error", err)
		return
	}
	if notice.KnowledgeBaseID != "" && r.cfg.KnowledgeBaseID != "" && notice.KnowledgeBaseID != r.cfg.KnowledgeBaseID {
		r.logger.Warn("processing notice for unexpected knowledge base",
			"got", notice.KnowledgeBaseID,
			"configured", r.cfg.KnowledgeBaseID)
	}

	text := notice.Message
	if text == "" {
		text = "processing request"
	}
	r.sink.Write(transcript.Entry{Kind: transcript.KindNotice, Text: text, At: time.Now()})
}

func (r *Router) handleKnowledge(payload string) {
	r.player.SetExtendedTimeout(false)

	res, err := wire.NormalizeKnowledge(payload)
	if err != nil {
		r.logger.Warn("knowledge result unparseable", "error", err)
		return
	}
	r.sink.Write(transcript.Entry{
		Kind: transcript.KindKnowledge,
		Text: summarizeKnowledge(res),
		At:   time.Now(),
	})
}

func (r *Router) setTalking(on bool) {
	if r.talking.Swap(on) == on {
		return
	}
	if r.cfg.OnTalking != nil {
		r.cfg.OnTalking(on)
	}
}

// summarizeKnowledge renders a canonical result as one transcript line.
func summarizeKnowledge(res wire.KnowledgeResult) string {
	switch {
	case res.Err != "":
		return fmt.Sprintf("%s: %s", res.Title, res.Err)
	case len(res.Records) > 0:
		top := res.Records[0]
		return fmt.Sprintf("%s (%d results, top: %s)", res.Title, len(res.Records), top.Content)
	case res.Content != "":
		return fmt.Sprintf("%s: %s", res.Title, res.Content)
	default:
		return res.Title
	}
}
