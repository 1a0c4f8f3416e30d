package audioout

import (
	"context"
	"sync"
	"time"

	"github.com/saker-ai/voicestream/pkg/audio"
)

// MemoryDevice records played clips instead of sounding them.
type MemoryDevice struct {
	sampleRate int
	channels   int

	mu     sync.Mutex
	delay  time.Duration
	opens  int
	closes int
	played []audio.Clip
	notify chan struct{}
}

// NewMemoryDevice returns a device whose handles report the given format.
// Zero values accept any clip format.
func NewMemoryDevice(sampleRate, channels int) *MemoryDevice {
	return &MemoryDevice{
		sampleRate: sampleRate,
		channels:   channels,
		notify:     make(chan struct{}, 1),
	}
}

// SetDelay makes each Play block for d, simulating clip duration.
func (d *MemoryDevice) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

func (d *MemoryDevice) Open() (Handle, error) {
	d.mu.Lock()
	d.opens++
	d.mu.Unlock()
	return &memoryHandle{dev: d, done: make(chan struct{})}, nil
}

// Played returns a copy of every clip that finished playing, in completion order.
func (d *MemoryDevice) Played() []audio.Clip {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]audio.Clip, len(d.played))
	copy(out, d.played)
	return out
}

// Opens reports how many handles were opened.
func (d *MemoryDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes reports how many handles were closed.
func (d *MemoryDevice) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// WaitPlayed blocks until at least n clips were played or ctx is done.
func (d *MemoryDevice) WaitPlayed(ctx context.Context, n int) bool {
	for {
		d.mu.Lock()
		count := len(d.played)
		d.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-d.notify:
		case <-ctx.Done():
			return false
		}
	}
}

func (d *MemoryDevice) record(clip audio.Clip) {
	d.mu.Lock()
	d.played = append(d.played, clip)
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

type memoryHandle struct {
	dev  *MemoryDevice
	once sync.Once
	done chan struct{}
}

func (h *memoryHandle) SampleRate() int { return h.dev.sampleRate }

func (h *memoryHandle) Channels() int { return h.dev.channels }

func (h *memoryHandle) Play(ctx context.Context, clip audio.Clip) error {
	select {
	case <-h.done:
		return ErrDeviceClosed
	default:
	}

	h.dev.mu.Lock()
	delay := h.dev.delay
	h.dev.mu.Unlock()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			return ErrDeviceClosed
		}
	}
	h.dev.record(clip)
	return nil
}

func (h *memoryHandle) Close() error {
	h.once.Do(func() {
		close(h.done)
		h.dev.mu.Lock()
		h.dev.closes++
		h.dev.mu.Unlock()
	})
	return nil
}
