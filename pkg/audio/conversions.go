package audio

import (
	"encoding/binary"
	"math"
)

func float32ToInt16(sample float32) int16 {
	if sample > 1.0 {
		return 32767
	}
	if sample < -1.0 {
		return -32768
	}
	return int16(sample * 32767)
}

// Int16SliceToFloat32Into fills dst with int16 converted to float32 and returns the slice.
func Int16SliceToFloat32Into(dst []float32, samples []int16) []float32 {
	if cap(dst) < len(samples) {
		dst = make([]float32, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, sample := range samples {
		dst[i] = float32(sample) / float32(math.MaxInt16)
	}
	return dst
}

// Int16SliceToBytes converts samples to little-endian PCM16 bytes.
func Int16SliceToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// BytesToInt16Slice reads little-endian PCM16. A trailing odd byte is dropped.
func BytesToInt16Slice(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Float32BytesToInt16Slice reads little-endian IEEE float32 samples.
// A trailing partial sample is dropped.
func Float32BytesToInt16Slice(data []byte) []int16 {
	out := make([]int16, len(data)/4)
	for i := range out {
		sample := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		if math.IsNaN(float64(sample)) {
			sample = 0
		}
		out[i] = float32ToInt16(sample)
	}
	return out
}

// scaleToInt16 narrows a signed integer sample of the given bit depth.
func scaleToInt16(sample int, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		return int16((sample - 128) << 8)
	case bitDepth > 16:
		return int16(sample >> (bitDepth - 16))
	default:
		return int16(sample)
	}
}
