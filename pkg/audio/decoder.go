package audio

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/saker-ai/voicestream/pkg/audio/opusx"
)

const opusMaxFrameDurationMs = 120

// Supported payload formats.
const (
	FormatAuto     = "auto"
	FormatWAV      = "wav"
	FormatOpus     = "opus"
	FormatPCMS16LE = "pcm_s16le"
	FormatPCMF32LE = "pcm_f32le"
)

// ErrDecode marks payloads that could not be turned into a clip.
var ErrDecode = errors.New("audio decode failed")

// DecoderConfig describes how headerless payloads are interpreted.
type DecoderConfig struct {
	Format     string
	SampleRate int
	Channels   int
}

// Decoder turns encoded payloads into clips. It is safe for concurrent use.
type Decoder struct {
	cfg DecoderConfig

	mu     sync.Mutex
	opus   *opusx.Decoder
	opusSR int
	opusCH int
}

// NewDecoder validates cfg and returns a decoder.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	cfg.Format = NormalizeFormat(cfg.Format)
	switch cfg.Format {
	case FormatAuto, FormatWAV, FormatOpus, FormatPCMS16LE, FormatPCMF32LE:
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", cfg.Format)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Decoder{cfg: cfg}, nil
}

// Config returns the normalized configuration.
func (d *Decoder) Config() DecoderConfig {
	return d.cfg
}

// Decode converts one payload into a clip. Failures wrap ErrDecode.
func (d *Decoder) Decode(data []byte) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	format := d.cfg.Format
	if format == FormatAuto {
		format = sniffFormat(data)
	}

	var (
		clip Clip
		err  error
	)
	switch format {
	case FormatWAV:
		clip, err = decodeWAV(data)
	case FormatOpus:
		clip, err = d.decodeOpus(data)
	case FormatPCMS16LE:
		clip, err = decodePCM16(data, d.cfg.SampleRate, d.cfg.Channels)
	case FormatPCMF32LE:
		clip, err = decodePCMFloat(data, d.cfg.SampleRate, d.cfg.Channels)
	default:
		err = fmt.Errorf("unsupported format %s", format)
	}
	if err != nil {
		if errors.Is(err, ErrDecode) {
			return Clip{}, err
		}
		return Clip{}, fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}
	if clip.Empty() {
		return Clip{}, fmt.Errorf("%w: %s: no samples", ErrDecode, format)
	}
	return clip, nil
}

// sniffFormat recognizes RIFF/WAVE containers. Anything else is taken to be
// the float32 tensor bytes the reference speech server emits.
func sniffFormat(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return FormatWAV
	}
	return FormatPCMF32LE
}

func decodeWAV(data []byte) (Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Clip{}, errors.New("invalid wav container")
	}
	if dec.WavAudioFormat != 1 {
		return Clip{}, fmt.Errorf("unsupported wav encoding %d", dec.WavAudioFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, err
	}
	if buf == nil || buf.Format == nil {
		return Clip{}, errors.New("wav data chunk not found")
	}
	return clipFromIntBuffer(buf, int(dec.BitDepth)), nil
}

func clipFromIntBuffer(buf *goaudio.IntBuffer, bitDepth int) Clip {
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = scaleToInt16(v, bitDepth)
	}
	return Clip{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}
}

func decodePCM16(data []byte, sampleRate int, channels int) (Clip, error) {
	if len(data)%(2*channels) != 0 {
		return Clip{}, fmt.Errorf("%w: pcm_s16le payload of %d bytes is not frame aligned", ErrDecode, len(data))
	}
	return Clip{Samples: BytesToInt16Slice(data), SampleRate: sampleRate, Channels: channels}, nil
}

func decodePCMFloat(data []byte, sampleRate int, channels int) (Clip, error) {
	if len(data)%(4*channels) != 0 {
		return Clip{}, fmt.Errorf("%w: pcm_f32le payload of %d bytes is not frame aligned", ErrDecode, len(data))
	}
	return Clip{Samples: Float32BytesToInt16Slice(data), SampleRate: sampleRate, Channels: channels}, nil
}

func (d *Decoder) decodeOpus(packet []byte) (Clip, error) {
	sampleRate := d.cfg.SampleRate
	channels := d.cfg.Channels

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureOpusLocked(sampleRate, channels); err != nil {
		return Clip{}, err
	}

	maxSamples := sampleRate * opusMaxFrameDurationMs / 1000
	if maxSamples <= 0 {
		maxSamples = 5760
	}
	pcm := int16Pool.acquire(maxSamples * channels)
	defer int16Pool.release(pcm)
	decoded, err := d.opus.Decode(packet, pcm)
	if err != nil {
		return Clip{}, err
	}
	if decoded <= 0 {
		return Clip{}, nil
	}
	samples := make([]int16, decoded*channels)
	copy(samples, pcm)
	return Clip{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

func (d *Decoder) ensureOpusLocked(sampleRate int, channels int) error {
	if d.opus != nil && d.opusSR == sampleRate && d.opusCH == channels {
		return nil
	}
	decoder, err := opusx.NewDecoder(sampleRate, channels)
	if err != nil {
		return err
	}
	d.opus = decoder
	d.opusSR = sampleRate
	d.opusCH = channels
	return nil
}

// NormalizeFormat maps aliases onto the supported format names.
func NormalizeFormat(format string) string {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "", "auto":
		return FormatAuto
	case "opus":
		return FormatOpus
	case "pcm", "pcm16", "pcm_s16le", "s16le":
		return FormatPCMS16LE
	case "f32", "float32", "pcm_f32le", "f32le":
		return FormatPCMF32LE
	case "wav", "wave":
		return FormatWAV
	default:
		return strings.TrimSpace(strings.ToLower(format))
	}
}
