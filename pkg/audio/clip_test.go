package audio

import (
	"testing"
	"time"
)

func TestClipDuration(t *testing.T) {
	clip := Clip{Samples: make([]int16, 48000), SampleRate: 24000, Channels: 2}
	if got := clip.Duration(); got != time.Second {
		t.Fatalf("Duration=%v, want %v", got, time.Second)
	}
	if got := clip.Frames(); got != 24000 {
		t.Fatalf("Frames=%d, want 24000", got)
	}
}

func TestRemixDownmixAverages(t *testing.T) {
	clip := Clip{Samples: []int16{100, 300, -50, 50}, SampleRate: 8000, Channels: 2}
	got := Remix(clip, 1)
	want := []int16{200, 0}
	if got.Channels != 1 || len(got.Samples) != len(want) {
		t.Fatalf("Remix=%+v, want mono %v", got, want)
	}
	for i := range want {
		if got.Samples[i] != want[i] {
			t.Fatalf("Remix samples=%v, want %v", got.Samples, want)
		}
	}
}

func TestRemixUpmixDuplicates(t *testing.T) {
	clip := Clip{Samples: []int16{7, 9}, SampleRate: 8000, Channels: 1}
	got := Remix(clip, 2)
	want := []int16{7, 7, 9, 9}
	for i := range want {
		if got.Samples[i] != want[i] {
			t.Fatalf("Remix samples=%v, want %v", got.Samples, want)
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	got := BytesToInt16Slice(Int16SliceToBytes(samples))
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("round trip=%v, want %v", got, samples)
		}
	}
}

func TestResampleHalvesRate(t *testing.T) {
	samples := make([]int16, 4800)
	for i := range samples {
		samples[i] = int16((i % 100) * 100)
	}
	clip := Clip{Samples: samples, SampleRate: 48000, Channels: 1}
	got, err := Resample(clip, 24000)
	if err != nil {
		t.Fatalf("Resample returned error: %v", err)
	}
	if got.SampleRate != 24000 || got.Channels != 1 {
		t.Fatalf("Resample rate=%d channels=%d, want 24000/1", got.SampleRate, got.Channels)
	}
	if frames := got.Frames(); frames < 1200 || frames > 3600 {
		t.Fatalf("Resample frames=%d, want about 2400", frames)
	}
}

func TestResampleSameRateIsNoop(t *testing.T) {
	clip := Clip{Samples: []int16{1, 2, 3}, SampleRate: 16000, Channels: 1}
	got, err := Resample(clip, 16000)
	if err != nil {
		t.Fatalf("Resample returned error: %v", err)
	}
	if len(got.Samples) != 3 {
		t.Fatalf("Resample samples=%v, want unchanged", got.Samples)
	}
}
