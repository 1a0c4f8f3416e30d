package audio

import "time"

// Clip is a decoded, interleaved PCM16 audio clip ready for output.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (c Clip) Frames() int {
	if c.Channels <= 0 {
		return len(c.Samples)
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Bytes renders the clip as little-endian PCM16.
func (c Clip) Bytes() []byte {
	return Int16SliceToBytes(c.Samples)
}

// Empty reports whether the clip has nothing to play.
func (c Clip) Empty() bool {
	return c.Frames() == 0
}

// Remix converts the clip to the requested channel count.
// Downmixing averages channels; upmixing duplicates the first channel.
func Remix(c Clip, channels int) Clip {
	if channels <= 0 || c.Channels <= 0 || channels == c.Channels {
		return c
	}
	frames := c.Frames()
	out := make([]int16, frames*channels)
	for f := 0; f < frames; f++ {
		in := c.Samples[f*c.Channels : (f+1)*c.Channels]
		if channels < c.Channels {
			for ch := 0; ch < channels; ch++ {
				sum := 0
				n := 0
				for src := ch; src < len(in); src += channels {
					sum += int(in[src])
					n++
				}
				out[f*channels+ch] = int16(sum / n)
			}
			continue
		}
		for ch := 0; ch < channels; ch++ {
			src := ch
			if src >= c.Channels {
				src = 0
			}
			out[f*channels+ch] = in[src]
		}
	}
	return Clip{Samples: out, SampleRate: c.SampleRate, Channels: channels}
}
