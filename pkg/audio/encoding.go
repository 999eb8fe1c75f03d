package audio

import (
	"fmt"
	"strings"
)

// Encoding identifies a carrier media encoding.
type Encoding string

const (
	// EncodingPCMU is G.711 µ-law at 8 kHz.
	EncodingPCMU Encoding = "PCMU"

	// EncodingPCMA is G.711 A-law at 8 kHz.
	EncodingPCMA Encoding = "PCMA"

	// EncodingL16 is linear PCM16 in network byte order.
	EncodingL16 Encoding = "L16"
)

// ParseEncoding normalizes the encoding names used by Telnyx and Twilio
// media formats. Unknown encodings are a fatal protocol error for the
// call.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pcmu", "mulaw", "ulaw", "audio/x-mulaw", "g711_ulaw", "g711u":
		return EncodingPCMU, nil
	case "pcma", "alaw", "audio/x-alaw", "g711_alaw", "g711a":
		return EncodingPCMA, nil
	case "l16", "pcm16", "linear16", "audio/l16":
		return EncodingL16, nil
	default:
		return "", fmt.Errorf("audio: unsupported encoding %q", s)
	}
}

// BytesPerSample returns the wire size of one sample.
func (e Encoding) BytesPerSample() int {
	if e == EncodingL16 {
		return 2
	}
	return 1
}

// BytesPerSecond returns the wire rate at the given sample rate.
func (e Encoding) BytesPerSecond(sampleRate int) int {
	return sampleRate * e.BytesPerSample()
}

// DecodeToPCM16 converts a carrier payload to linear samples.
// L16 payloads arrive big-endian and are byte-swapped first.
func (e Encoding) DecodeToPCM16(payload []byte) []int16 {
	switch e {
	case EncodingPCMU:
		samples := make([]int16, len(payload))
		for i, b := range payload {
			samples[i] = MuLawToPCM16(b)
		}
		return samples
	case EncodingPCMA:
		samples := make([]int16, len(payload))
		for i, b := range payload {
			samples[i] = ALawToPCM16(b)
		}
		return samples
	default:
		return BytesToSamples(SwapEndian16(payload))
	}
}

// EncodeFromPCM16 converts linear samples to a carrier payload.
func (e Encoding) EncodeFromPCM16(samples []int16) []byte {
	switch e {
	case EncodingPCMU:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = PCM16ToMuLaw(s)
		}
		return out
	case EncodingPCMA:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = PCM16ToALaw(s)
		}
		return out
	default:
		return SwapEndian16(SamplesToBytes(samples))
	}
}
