// Package dispatch routes inbound frames to playback or diagnostics.
package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/voicestream/internal/telemetry"
	"github.com/saker-ai/voicestream/internal/transport/frame"
)

const maxControlLogBytes = 256

// Player consumes audio payloads.
type Player interface {
	DecodeAndPlay(data []byte) error
}

// Dispatcher represents the inbound frame router. Dispatch never fails;
// playback errors are reported by the player.
type Dispatcher struct {
	player  Player
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu          sync.Mutex
	lastControl string
}

// New returns a dispatcher feeding audio to player.
func New(player Player, logger *zap.Logger, metrics *telemetry.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		player:  player,
		logger:  logger,
		metrics: telemetry.OrNoop(metrics),
	}
}

// Dispatch classifies one message by its transport type and routes it.
// It returns the kind it was classified as.
func (d *Dispatcher) Dispatch(ctx context.Context, messageType int, data []byte) frame.Kind {
	f := frame.Classify(messageType, data)
	d.metrics.FramesReceived.Add(ctx, 1, telemetry.Kind(f.Kind.String()))

	switch f.Kind {
	case frame.KindAudio:
		if d.player != nil {
			_ = d.player.DecodeAndPlay(f.Data)
		}
	default:
		text := f.Text(maxControlLogBytes)
		d.mu.Lock()
		d.lastControl = text
		d.mu.Unlock()
		d.logger.Debug("control message", zap.Int("bytes", len(f.Data)), zap.String("text", text))
	}
	return f.Kind
}

// LastControl returns the most recent control text, truncated.
func (d *Dispatcher) LastControl() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastControl
}
