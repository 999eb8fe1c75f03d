package audio

// Resample converts audio from one sample rate to another by
// nearest-neighbor duplication/decimation. The pipeline only crosses
// the 8k/16k/24k/48k telephony rates, where this is adequate.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}

	if len(samples) == 0 {
		return samples
	}

	newLen := len(samples) * toRate / fromRate
	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)
	for i := range result {
		src := i * fromRate / toRate
		if src >= len(samples) {
			src = len(samples) - 1
		}
		result[i] = samples[src]
	}
	return result
}

// ResampleBytes resamples raw PCM16 little-endian bytes.
func ResampleBytes(data []byte, fromRate, toRate int) []byte {
	samples := BytesToSamples(data)
	resampled := Resample(samples, fromRate, toRate)
	return SamplesToBytes(resampled)
}
