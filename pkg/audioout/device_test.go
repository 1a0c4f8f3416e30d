package audioout

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/saker-ai/voicestream/pkg/audio"
)

func TestNewSelectsBackend(t *testing.T) {
	dev, err := New(Config{Backend: "Memory", SampleRate: 16000, Channels: 1}, nil)
	if err != nil {
		t.Fatalf("New(memory) returned error: %v", err)
	}
	if _, ok := dev.(*MemoryDevice); !ok {
		t.Fatalf("New(memory)=%T, want *MemoryDevice", dev)
	}

	dev, err = New(Config{}, nil)
	if err != nil {
		t.Fatalf("New(default) returned error: %v", err)
	}
	if _, ok := dev.(*ProcessDevice); !ok {
		t.Fatalf("New(default)=%T, want *ProcessDevice", dev)
	}

	if _, err := New(Config{Backend: "alsa"}, nil); err == nil {
		t.Fatal("New(alsa) error=nil, want non-nil")
	}
}

func TestMemoryDeviceRecordsClips(t *testing.T) {
	dev := NewMemoryDevice(24000, 1)
	h, err := dev.Open()
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if h.SampleRate() != 24000 || h.Channels() != 1 {
		t.Fatalf("handle format=%d/%d, want 24000/1", h.SampleRate(), h.Channels())
	}

	clip := audio.Clip{Samples: []int16{1, 2, 3}, SampleRate: 24000, Channels: 1}
	if err := h.Play(context.Background(), clip); err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	played := dev.Played()
	if len(played) != 1 || !reflect.DeepEqual(played[0].Samples, clip.Samples) {
		t.Fatalf("Played=%+v, want [%+v]", played, clip)
	}
}

func TestMemoryHandleCloseIsIdempotent(t *testing.T) {
	dev := NewMemoryDevice(0, 0)
	h, _ := dev.Open()
	if err := h.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if dev.Closes() != 1 {
		t.Fatalf("Closes=%d, want 1", dev.Closes())
	}
	err := h.Play(context.Background(), audio.Clip{Samples: []int16{1}, SampleRate: 8000, Channels: 1})
	if !errors.Is(err, ErrDeviceClosed) {
		t.Fatalf("Play after Close error=%v, want ErrDeviceClosed", err)
	}
}

func TestMemoryHandleCloseAbandonsPlayback(t *testing.T) {
	dev := NewMemoryDevice(0, 0)
	dev.SetDelay(time.Hour)
	h, _ := dev.Open()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Play(context.Background(), audio.Clip{Samples: []int16{1}, SampleRate: 8000, Channels: 1})
	}()
	time.Sleep(10 * time.Millisecond)
	_ = h.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrDeviceClosed) {
			t.Fatalf("Play error=%v, want ErrDeviceClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Play did not return after Close")
	}
	if n := len(dev.Played()); n != 0 {
		t.Fatalf("Played=%d clips, want 0", n)
	}
}

func TestProcessDeviceDefaults(t *testing.T) {
	dev := NewProcessDevice(Config{}, nil)
	if dev.cfg.Command != "ffplay" {
		t.Fatalf("Command=%q, want ffplay", dev.cfg.Command)
	}
	if dev.cfg.SampleRate != 24000 || dev.cfg.Channels != 1 {
		t.Fatalf("format=%d/%d, want 24000/1", dev.cfg.SampleRate, dev.cfg.Channels)
	}
}

func TestProcessDeviceMissingCommand(t *testing.T) {
	dev := NewProcessDevice(Config{Command: "voicestream-no-such-player"}, nil)
	if _, err := dev.Open(); err == nil {
		t.Fatal("Open error=nil, want missing command error")
	}
}

func TestExpandArgs(t *testing.T) {
	clip := audio.Clip{SampleRate: 48000, Channels: 2}
	got := expandArgs([]string{"-ar", "{rate}", "-ac", "{channels}", "pipe:0"}, clip)
	want := []string{"-ar", "48000", "-ac", "2", "pipe:0"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expandArgs=%v, want %v", got, want)
	}
}

func TestProcessHandlePlaysClip(t *testing.T) {
	dev := NewProcessDevice(Config{Command: "cat", Args: []string{"-"}, SampleRate: 8000, Channels: 1}, nil)
	h, err := dev.Open()
	if err != nil {
		t.Skipf("cat not available: %v", err)
	}
	defer h.Close()

	clip := audio.Clip{Samples: []int16{1, 2, 3, 4}, SampleRate: 8000, Channels: 1}
	if err := h.Play(context.Background(), clip); err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
}

func TestProcessHandleCloseAbandonsPlayback(t *testing.T) {
	dev := NewProcessDevice(Config{Command: "sleep", Args: []string{"30"}, SampleRate: 8000, Channels: 1}, nil)
	h, err := dev.Open()
	if err != nil {
		t.Skipf("sleep not available: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Play(context.Background(), audio.Clip{Samples: []int16{1}, SampleRate: 8000, Channels: 1})
	}()
	time.Sleep(50 * time.Millisecond)
	if err := h.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrDeviceClosed) {
			t.Fatalf("Play error=%v, want ErrDeviceClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Close")
	}
	if err := h.Play(context.Background(), audio.Clip{Samples: []int16{1}, SampleRate: 8000, Channels: 1}); !errors.Is(err, ErrDeviceClosed) {
		t.Fatalf("Play after Close error=%v, want ErrDeviceClosed", err)
	}
}
