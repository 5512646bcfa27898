package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// envelope is the inbound frame layout. Every event uses a subset of these
// fields.
type envelope struct {
	Event   string `json:"event"`
	Data    string `json:"data"`
	Speaker string `json:"speaker"`
}

// Decode parses one inbound text frame. It never returns an error: frames
// that cannot be parsed come back as [KindUnrecognized] with Err set, and
// the caller decides whether to log them.
func Decode(frame []byte) Message {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{Kind: KindUnrecognized, Err: fmt.Errorf("wire: decode envelope: %w", err)}
	}

	switch env.Event {
	case "media":
		pcm, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return Message{
				Kind:     KindUnrecognized,
				RawEvent: env.Event,
				Err:      fmt.Errorf("wire: decode media payload: %w", err),
			}
		}
		return Message{Kind: KindMedia, Audio: pcm}
	case "stop":
		return Message{Kind: KindStop}
	case "text":
		return Message{Kind: KindText, Speaker: env.Speaker, Text: env.Data}
	case "pong":
		return Message{Kind: KindPong}
	case "kb_processing":
		return Message{Kind: KindProcessing, Payload: env.Data}
	case "knowledge_base":
		return Message{Kind: KindKnowledge, Payload: env.Data}
	default:
		return Message{
			Kind:     KindUnrecognized,
			RawEvent: env.Event,
			Err:      fmt.Errorf("wire: unknown event %q", env.Event),
		}
	}
}

type configMessage struct {
	Type            string `json:"type"`
	KnowledgeBaseID string `json:"knowledgeBaseId"`
	Region          string `json:"region"`
}

// EncodeConfig builds the session configuration handshake sent once per
// socket, before any audio.
func EncodeConfig(knowledgeBaseID, region string) ([]byte, error) {
	data, err := json.Marshal(configMessage{
		Type:            "config",
		KnowledgeBaseID: knowledgeBaseID,
		Region:          region,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: encode config: %w", err)
	}
	return data, nil
}

// EncodePing builds the heartbeat frame.
func EncodePing() []byte {
	return []byte(`{"type":"ping"}`)
}

// EncodeAudio wraps a captured PCM16 frame for transmission. Outbound audio
// is a bare base64 text frame, not JSON.
func EncodeAudio(pcm []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(pcm)))
	base64.StdEncoding.Encode(out, pcm)
	return out
}
