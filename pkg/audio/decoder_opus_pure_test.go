//go:build !cgo

package audio

import (
	"testing"

	"github.com/godeps/opus"
)

func encodeOpusFrame(t *testing.T, sampleRate, channels int, pcm []int16) []byte {
	t.Helper()
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		t.Fatalf("NewEncoder returned error: %v", err)
	}
	buf := make([]byte, 4000)
	n, err := enc.Encode(pcm, buf)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	return buf[:n]
}
