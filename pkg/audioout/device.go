// Package audioout provides the audio output device capability.
//
// A Device is opened once per session and yields a Handle. Clips are played
// through the handle; closing the handle abandons any clip still playing.
//
// Backends:
//   - process: pipes PCM16 into an external player (ffplay by default)
//   - memory: records clips in memory, for headless runs and tests
package audioout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/saker-ai/voicestream/pkg/audio"
)

// ErrDeviceClosed is returned by handles after Close.
var ErrDeviceClosed = errors.New("audio device closed")

// Backend names.
const (
	BackendProcess = "process"
	BackendMemory  = "memory"
)

// Device opens output endpoints.
type Device interface {
	Open() (Handle, error)
}

// Handle is one open output endpoint. Play may be called concurrently.
type Handle interface {
	// Play blocks until the clip finished playing, ctx is done or the handle closes.
	Play(ctx context.Context, clip audio.Clip) error
	// SampleRate is the rate clips should have; 0 accepts any rate.
	SampleRate() int
	// Channels is the channel count clips should have; 0 accepts any count.
	Channels() int
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend    string
	Command    string
	Args       []string
	SampleRate int
	Channels   int
}

// New builds the device named by cfg.Backend.
func New(cfg Config, logger *zap.Logger) (Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", BackendProcess:
		return NewProcessDevice(cfg, logger), nil
	case BackendMemory:
		return NewMemoryDevice(cfg.SampleRate, cfg.Channels), nil
	default:
		return nil, fmt.Errorf("unsupported audio backend: %s", cfg.Backend)
	}
}
