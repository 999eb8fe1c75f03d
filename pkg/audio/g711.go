// Package audio provides the stateless codec layer for telephony media:
// G.711 companding (µ-law and A-law), PCM16 byte packing, endian
// conversion, naive resampling, and RMS energy measurement.
//
// All conversions are pure functions. G.711 encode and decode are
// closed-form (segment search), no lookup tables.
package audio

const (
	// µ-law bias applied in the 14-bit magnitude domain (ITU G.711).
	muLawBias = 33
	// µ-law clip ceiling in the 14-bit magnitude domain.
	muLawClip = 8159
	// µ-law decode bias in the 16-bit domain (muLawBias << 2).
	muLawDecodeBias = 0x84
)

// MuLawToPCM16 decodes a single µ-law byte to a 16-bit linear sample.
func MuLawToPCM16(b byte) int16 {
	b = ^b
	exp := (b >> 4) & 0x07
	mant := b & 0x0F

	t := (int16(mant)<<3 + muLawDecodeBias) << exp
	if b&0x80 != 0 {
		return muLawDecodeBias - t
	}
	return t - muLawDecodeBias
}

// PCM16ToMuLaw encodes a 16-bit linear sample as a µ-law byte.
// Encoding uses segment search over the 33-biased 14-bit magnitude.
func PCM16ToMuLaw(s int16) byte {
	x := int32(s) >> 2
	var mask byte = 0xFF
	if x < 0 {
		x = -x
		mask = 0x7F
	}
	if x > muLawClip {
		x = muLawClip
	}
	x += muLawBias

	seg := uint(0)
	for bound := int32(0x3F); seg < 8 && x > bound; seg, bound = seg+1, bound<<1|1 {
	}
	if seg >= 8 {
		return 0x7F ^ mask
	}

	uval := byte(seg)<<4 | byte((x>>(seg+1))&0x0F)
	return uval ^ mask
}

// ALawToPCM16 decodes a single A-law byte to a 16-bit linear sample.
func ALawToPCM16(b byte) int16 {
	b ^= 0x55
	exp := (b >> 4) & 0x07
	mant := b & 0x0F

	t := int16(mant) << 4
	switch exp {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= exp - 1
	}

	if b&0x80 != 0 {
		return t
	}
	return -t
}

// PCM16ToALaw encodes a 16-bit linear sample as an A-law byte.
// The result is XORed with 0x55 per the A-law transmission format.
func PCM16ToALaw(s int16) byte {
	x := int32(s) >> 3
	var mask byte = 0xD5
	if x < 0 {
		mask = 0x55
		x = -x - 1
	}

	seg := uint(0)
	for bound := int32(0x1F); seg < 8 && x > bound; seg, bound = seg+1, bound<<1|1 {
	}
	if seg >= 8 {
		return 0x7F ^ mask
	}

	aval := byte(seg) << 4
	if seg < 2 {
		aval |= byte((x >> 1) & 0x0F)
	} else {
		aval |= byte((x >> seg) & 0x0F)
	}
	return aval ^ mask
}

// MuLawToPCM16Bytes decodes a µ-law buffer to PCM16 little-endian bytes.
func MuLawToPCM16Bytes(data []byte) []byte {
	samples := make([]int16, len(data))
	for i, b := range data {
		samples[i] = MuLawToPCM16(b)
	}
	return SamplesToBytes(samples)
}

// PCM16BytesToMuLaw encodes PCM16 little-endian bytes as a µ-law buffer.
func PCM16BytesToMuLaw(data []byte) []byte {
	samples := BytesToSamples(data)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = PCM16ToMuLaw(s)
	}
	return out
}

// ALawToPCM16Bytes decodes an A-law buffer to PCM16 little-endian bytes.
func ALawToPCM16Bytes(data []byte) []byte {
	samples := make([]int16, len(data))
	for i, b := range data {
		samples[i] = ALawToPCM16(b)
	}
	return SamplesToBytes(samples)
}

// PCM16BytesToALaw encodes PCM16 little-endian bytes as an A-law buffer.
func PCM16BytesToALaw(data []byte) []byte {
	samples := BytesToSamples(data)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = PCM16ToALaw(s)
	}
	return out
}
