// Package playback turns received audio payloads into clips and plays them
// on the output device.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/saker-ai/voicestream/internal/telemetry"
	"github.com/saker-ai/voicestream/pkg/audio"
	"github.com/saker-ai/voicestream/pkg/audioout"
)

// Playback modes.
const (
	// ModeOverlap starts every clip as soon as it is decoded. Clips may overlap.
	ModeOverlap = "overlap"
	// ModeOrdered plays clips one after another in arrival order.
	ModeOrdered = "ordered"
)

// ErrClosed is returned by DecodeAndPlay after Close.
var ErrClosed = errors.New("playback engine closed")

// Decoder converts one payload into a clip.
type Decoder interface {
	Decode(data []byte) (audio.Clip, error)
}

// Config represents the playback engine configuration.
type Config struct {
	Mode string
}

// NormalizeMode validates a mode name, defaulting to ModeOverlap.
func NormalizeMode(mode string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", ModeOverlap:
		return ModeOverlap, nil
	case ModeOrdered, "queue", "sequential":
		return ModeOrdered, nil
	default:
		return "", fmt.Errorf("unsupported playback mode: %s", mode)
	}
}

// Stats is a snapshot of engine activity.
type Stats struct {
	Mode           string `json:"mode"`
	Played         int64  `json:"played"`
	DecodeFailures int64  `json:"decode_failures"`
	Active         int64  `json:"active"`
	Queued         int    `json:"queued"`
}

// job is one decoded clip waiting for, or in, playback.
type job struct {
	seq  uint64
	clip audio.Clip
}

// Engine represents the audio playback engine. DecodeAndPlay is safe for
// concurrent use.
type Engine struct {
	mode    string
	decoder Decoder
	handle  audioout.Handle
	logger  *zap.Logger
	metrics *telemetry.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu     sync.Mutex
	closed bool
	queue  []job
	wake   chan struct{}

	seq            atomic.Uint64
	played         atomic.Int64
	decodeFailures atomic.Int64
	active         atomic.Int64
}

// NewEngine opens the device and returns a running engine.
func NewEngine(cfg Config, decoder Decoder, device audioout.Device, logger *zap.Logger, metrics *telemetry.Metrics) (*Engine, error) {
	if decoder == nil {
		return nil, errors.New("playback: decoder is required")
	}
	if device == nil {
		return nil, errors.New("playback: device is required")
	}
	mode, err := NormalizeMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handle, err := device.Open()
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		mode:    mode,
		decoder: decoder,
		handle:  handle,
		logger:  logger,
		metrics: telemetry.OrNoop(metrics),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
	}
	if mode == ModeOrdered {
		e.wg.Go(e.runQueue)
	}
	logger.Info("playback engine started", zap.String("mode", mode))
	return e, nil
}

// DecodeAndPlay decodes data and schedules the clip. A payload that fails to
// decode is logged and dropped; no playback is scheduled for it.
func (e *Engine) DecodeAndPlay(data []byte) error {
	clip, err := e.decoder.Decode(data)
	if err != nil {
		e.decodeFailures.Add(1)
		e.metrics.DecodeFailures.Add(e.ctx, 1)
		e.logger.Warn("failed to decode audio", zap.Int("bytes", len(data)), zap.Error(err))
		return err
	}

	j := job{seq: e.seq.Add(1), clip: clip}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	switch e.mode {
	case ModeOrdered:
		e.queue = append(e.queue, j)
		select {
		case e.wake <- struct{}{}:
		default:
		}
	default:
		e.wg.Go(func() { e.play(j) })
	}
	return nil
}

func (e *Engine) runQueue() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			select {
			case <-e.wake:
				continue
			case <-e.ctx.Done():
				return
			}
		}
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if e.ctx.Err() != nil {
			return
		}
		e.play(next)
	}
}

func (e *Engine) play(j job) {
	e.active.Add(1)
	defer e.active.Add(-1)

	clip, err := e.fitDevice(j.clip)
	if err != nil {
		e.metrics.PlaybackErrors.Add(e.ctx, 1)
		e.logger.Warn("failed to convert clip", zap.Uint64("seq", j.seq), zap.Error(err))
		return
	}

	e.metrics.ClipsPlayed.Add(e.ctx, 1)
	e.logger.Debug("playing clip",
		zap.Uint64("seq", j.seq),
		zap.Int("sample_rate", clip.SampleRate),
		zap.Int("channels", clip.Channels),
		zap.Duration("duration", clip.Duration()),
	)
	if err := e.handle.Play(e.ctx, clip); err != nil {
		if errors.Is(err, audioout.ErrDeviceClosed) || errors.Is(err, context.Canceled) {
			e.logger.Debug("playback abandoned", zap.Uint64("seq", j.seq))
			return
		}
		e.metrics.PlaybackErrors.Add(e.ctx, 1)
		e.logger.Warn("playback failed", zap.Uint64("seq", j.seq), zap.Error(err))
		return
	}
	e.played.Add(1)
}

// fitDevice resamples and remixes clip to the handle's format.
func (e *Engine) fitDevice(clip audio.Clip) (audio.Clip, error) {
	if rate := e.handle.SampleRate(); rate > 0 && rate != clip.SampleRate {
		resampled, err := audio.Resample(clip, rate)
		if err != nil {
			return audio.Clip{}, err
		}
		clip = resampled
	}
	if ch := e.handle.Channels(); ch > 0 && ch != clip.Channels {
		clip = audio.Remix(clip, ch)
	}
	return clip, nil
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	queued := len(e.queue)
	e.mu.Unlock()
	return Stats{
		Mode:           e.mode,
		Played:         e.played.Load(),
		DecodeFailures: e.decodeFailures.Load(),
		Active:         e.active.Load(),
		Queued:         queued,
	}
}

// Mode returns the active playback mode.
func (e *Engine) Mode() string {
	return e.mode
}

// Close abandons queued and playing clips, closes the device handle and
// waits for playback goroutines to return. It is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.queue = nil
	e.mu.Unlock()

	e.cancel()
	err := e.handle.Close()
	if recovered := e.wg.WaitAndRecover(); recovered != nil {
		e.logger.Error("playback goroutine panicked", zap.String("panic", recovered.String()))
	}
	e.logger.Info("playback engine closed")
	return err
}
