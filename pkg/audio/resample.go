package audio

import (
	"errors"
	"sync"

	resampler "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
	quality resampler.QualityPreset
}

var soxrPools sync.Map

func getSoxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	pool := &sync.Pool{}
	actual, _ := soxrPools.LoadOrStore(key, pool)
	return actual.(*sync.Pool)
}

func acquireSoxrResampler(key soxrKey) (*resampler.SimpleResamplerFloat32, error) {
	if v := getSoxrPool(key).Get(); v != nil {
		if r, ok := v.(*resampler.SimpleResamplerFloat32); ok && r != nil {
			return r, nil
		}
	}
	return resampler.NewEngineFloat32(float64(key.inRate), float64(key.outRate), key.quality)
}

func releaseSoxrResampler(key soxrKey, r *resampler.SimpleResamplerFloat32) {
	if r == nil {
		return
	}
	r.Reset()
	getSoxrPool(key).Put(r)
}

// Resample converts a whole clip to outRate. Each channel runs through its
// own soxr engine so interleaving is preserved.
func Resample(clip Clip, outRate int) (Clip, error) {
	if outRate <= 0 || clip.SampleRate <= 0 || clip.SampleRate == outRate || clip.Empty() {
		return clip, nil
	}
	channels := clip.Channels
	if channels <= 0 {
		channels = 1
	}
	key := soxrKey{inRate: clip.SampleRate, outRate: outRate, quality: resampler.QualityHigh}

	frames := clip.Frames()
	planes := make([][]float32, channels)
	scratch := int16Pool.acquire(frames)
	defer int16Pool.release(scratch)
	for ch := 0; ch < channels; ch++ {
		for f := 0; f < frames; f++ {
			scratch[f] = clip.Samples[f*channels+ch]
		}
		plane, err := resamplePlane(key, scratch)
		if err != nil {
			return Clip{}, err
		}
		planes[ch] = plane
	}

	outFrames := len(planes[0])
	for _, plane := range planes[1:] {
		if len(plane) < outFrames {
			outFrames = len(plane)
		}
	}
	out := make([]int16, outFrames*channels)
	for f := 0; f < outFrames; f++ {
		for ch := 0; ch < channels; ch++ {
			out[f*channels+ch] = float32ToInt16(planes[ch][f])
		}
	}
	return Clip{Samples: out, SampleRate: outRate, Channels: channels}, nil
}

func resamplePlane(key soxrKey, pcm []int16) ([]float32, error) {
	r, err := acquireSoxrResampler(key)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.New("soxr resampler is nil")
	}
	defer releaseSoxrResampler(key, r)

	in := Int16SliceToFloat32Into(float32Pool.acquire(len(pcm)), pcm)
	defer float32Pool.release(in)
	out, err := r.Process(in)
	if err != nil {
		return nil, err
	}
	result := append([]float32(nil), out...)
	tail, err := r.Flush()
	if err != nil {
		return nil, err
	}
	return append(result, tail...), nil
}
