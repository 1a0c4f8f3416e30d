//go:build cgo

package opusx

import "github.com/hraban/opus"

// Backend names the opus implementation compiled in.
func Backend() string {
	return "libopus-hraban/opus"
}

// Decoder decodes single opus packets into interleaved PCM16.
type Decoder struct {
	dec *opus.Decoder
}

// NewDecoder creates a decoder for the given output rate and channel count.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &Decoder{dec: dec}, nil
}

// Decode returns the number of samples per channel written to pcm.
func (d *Decoder) Decode(data []byte, pcm []int16) (int, error) {
	return d.dec.Decode(data, pcm)
}
