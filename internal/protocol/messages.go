package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ActionSpeak is the only client action understood by the speech server.
const ActionSpeak = "speak"

// ErrInvalidRequest is returned for speak requests that must not reach the wire.
var ErrInvalidRequest = errors.New("invalid speak request")

// SpeakRequest is the text message sent from client to server.
// Field order is the wire order.
type SpeakRequest struct {
	Action string `json:"action"`
	Text   string `json:"text"`
	Voice  int    `json:"voice"`
}

// NewSpeakRequest builds a validated speak request.
func NewSpeakRequest(text string, voice int) (SpeakRequest, error) {
	req := SpeakRequest{Action: ActionSpeak, Text: text, Voice: voice}
	if err := req.Validate(); err != nil {
		return SpeakRequest{}, err
	}
	return req, nil
}

// Validate rejects empty or whitespace-only text and unknown actions.
func (r SpeakRequest) Validate() error {
	if r.Action != ActionSpeak {
		return fmt.Errorf("%w: unsupported action %q", ErrInvalidRequest, r.Action)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidRequest)
	}
	return nil
}

// Encode serializes a speak request for text and voice.
func Encode(text string, voice int) ([]byte, error) {
	req, err := NewSpeakRequest(text, voice)
	if err != nil {
		return nil, err
	}
	return req.Marshal()
}

// Marshal renders the request without HTML escaping and without a trailing newline.
func (r SpeakRequest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a speak request, the way the server reads it.
func Decode(data []byte) (SpeakRequest, error) {
	var req SpeakRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return SpeakRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return SpeakRequest{}, err
	}
	return req, nil
}
