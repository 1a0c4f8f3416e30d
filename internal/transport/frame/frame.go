package frame

import (
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// Kind describes the inbound frame category.
type Kind int

const (
	// KindControl indicates a textual payload surfaced as diagnostics.
	KindControl Kind = iota
	// KindAudio indicates an encoded audio clip.
	KindAudio
)

// String returns the log name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	default:
		return "control"
	}
}

// Frame is one inbound message. It is consumed once by the dispatcher.
type Frame struct {
	Kind Kind
	Data []byte
}

// Classify decides the kind from the websocket message type alone.
// Unknown message types are treated as control.
func Classify(messageType int, data []byte) Frame {
	if messageType == websocket.BinaryMessage {
		return Frame{Kind: KindAudio, Data: data}
	}
	return Frame{Kind: KindControl, Data: data}
}

// Text returns the payload as a string, cut to at most max bytes on a rune
// boundary when max > 0.
func (f Frame) Text(max int) string {
	if max > 0 && len(f.Data) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(f.Data[cut]) {
			cut--
		}
		return string(f.Data[:cut]) + "..."
	}
	return string(f.Data)
}
