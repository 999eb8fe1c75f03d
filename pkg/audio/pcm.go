package audio

import "math"

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// SwapEndian16 swaps the byte order of each 16-bit sample, converting
// between big-endian and little-endian PCM16. A trailing odd byte is
// copied through unchanged.
func SwapEndian16(data []byte) []byte {
	out := make([]byte, len(data))
	n := len(data) &^ 1
	for i := 0; i < n; i += 2 {
		out[i] = data[i+1]
		out[i+1] = data[i]
	}
	if n < len(data) {
		out[n] = data[n]
	}
	return out
}

// RMS computes the root mean square of the samples in the 16-bit
// domain: sqrt(mean(s²)). A full-scale square wave yields 32767.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSNormalized computes RMS scaled to the 0..1 range by dividing by
// 32768. Used for energy threshold comparisons.
func RMSNormalized(samples []int16) float64 {
	return RMS(samples) / 32768
}
