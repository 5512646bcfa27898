// Package wire implements the JSON envelope spoken with the speech service:
// decoding of inbound events, encoding of the outbound control messages, and
// normalization of the heterogeneous knowledge-base result payloads.
//
// The protocol is asymmetric. Outbound control messages carry a "type" tag
// (config, ping) and outbound audio is a bare base64 text frame with no JSON
// wrapper at all. Inbound messages carry an "event" tag. Anything that fails
// to parse becomes a [KindUnrecognized] message so a hostile or buggy frame
// can never take down the read loop.
package wire

// Kind discriminates the inbound message union.
type Kind int

const (
	// KindUnrecognized marks frames with an unknown tag or a payload that
	// failed to parse. Carried instead of an error so the read loop treats
	// garbage as data, not as a failure.
	KindUnrecognized Kind = iota
	// KindMedia carries a synthesized audio frame.
	KindMedia
	// KindStop interrupts playback mid-utterance.
	KindStop
	// KindText carries a transcript line with a speaker tag.
	KindText
	// KindPong acknowledges a heartbeat ping.
	KindPong
	// KindProcessing announces long-running server-side work.
	KindProcessing
	// KindKnowledge carries the final knowledge-base result.
	KindKnowledge
)

var kindNames = map[Kind]string{
	KindUnrecognized: "unrecognized",
	KindMedia:        "media",
	KindStop:         "stop",
	KindText:         "text",
	KindPong:         "pong",
	KindProcessing:   "kb_processing",
	KindKnowledge:    "knowledge_base",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// Message is one decoded inbound frame. Which fields are meaningful depends
// on Kind; the rest are zero.
type Message struct {
	Kind Kind

	// Audio is the decoded PCM16 payload of a media frame.
	Audio []byte

	// Speaker and Text belong to transcript lines.
	Speaker string
	Text    string

	// Payload is the raw embedded JSON string of kb_processing and
	// knowledge_base frames, normalized downstream.
	Payload string

	// RawEvent preserves the tag of an unrecognized frame and Err the parse
	// failure, both for logging only.
	RawEvent string
	Err      error
}
