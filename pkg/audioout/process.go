package audioout

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/voicestream/pkg/audio"
)

const (
	defaultPlayerCommand = "ffplay"
	defaultSampleRate    = 24000
	defaultChannels      = 1
)

// DefaultPlayerArgs plays headerless PCM16 from stdin. {rate} and {channels}
// are substituted per clip.
var DefaultPlayerArgs = []string{
	"-nodisp", "-autoexit", "-loglevel", "error",
	"-f", "s16le", "-ar", "{rate}", "-ac", "{channels}",
	"pipe:0",
}

// ProcessDevice plays each clip through its own player process, so clips
// started close together overlap the way independent buffer sources do.
type ProcessDevice struct {
	cfg    Config
	logger *zap.Logger
}

// NewProcessDevice fills in defaults for an external player device.
func NewProcessDevice(cfg Config, logger *zap.Logger) *ProcessDevice {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = defaultPlayerCommand
	}
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultPlayerArgs
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessDevice{cfg: cfg, logger: logger}
}

// Open verifies the player exists and returns a handle.
func (d *ProcessDevice) Open() (Handle, error) {
	path, err := exec.LookPath(d.cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("audio player %q not found: %w", d.cfg.Command, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.logger.Info("audio device opened",
		zap.String("backend", BackendProcess),
		zap.String("command", path),
		zap.Int("sample_rate", d.cfg.SampleRate),
		zap.Int("channels", d.cfg.Channels),
	)
	return &processHandle{
		cfg:    d.cfg,
		path:   path,
		logger: d.logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

type processHandle struct {
	cfg    Config
	path   string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (h *processHandle) SampleRate() int { return h.cfg.SampleRate }

func (h *processHandle) Channels() int { return h.cfg.Channels }

func (h *processHandle) Play(ctx context.Context, clip audio.Clip) error {
	if h.ctx.Err() != nil {
		return ErrDeviceClosed
	}
	if clip.Empty() {
		return nil
	}

	playCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	cmd := exec.CommandContext(playCtx, h.path, expandArgs(h.cfg.Args, clip)...)
	cmd.Stdin = bytes.NewReader(clip.Bytes())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if h.ctx.Err() != nil {
		return ErrDeviceClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("audio player: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (h *processHandle) Close() error {
	h.once.Do(func() {
		h.cancel()
		h.logger.Info("audio device closed", zap.String("backend", BackendProcess))
	})
	return nil
}

func expandArgs(args []string, clip audio.Clip) []string {
	replacer := strings.NewReplacer(
		"{rate}", strconv.Itoa(clip.SampleRate),
		"{channels}", strconv.Itoa(clip.Channels),
	)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = replacer.Replace(arg)
	}
	return out
}
