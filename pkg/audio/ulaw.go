// Package audio provides the narrowband telephony codec and sample-rate
// conversion primitives used by the call bridge.
//
// All PCM buffers are mono, 16-bit signed little-endian. µ-law buffers are one
// byte per sample at 8 kHz, as delivered by carrier media streams. The
// functions here are pure and allocation-per-call; the bridge invokes them on
// every media frame, so they avoid anything heavier than a table lookup.
package audio

// G.711 µ-law constants.
const (
	ulawBias = 0x84
	ulawClip = 32635
)

// DecodeULaw expands G.711 µ-law bytes into 16-bit little-endian PCM.
// One input byte produces one output sample (two bytes). An empty input
// yields an empty output.
func DecodeULaw(data []byte) []byte {
	out := make([]byte, len(data)*2)
	for i, b := range data {
		s := decodeULawSample(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeULaw compresses 16-bit little-endian PCM into G.711 µ-law bytes.
// A trailing odd byte is dropped.
func EncodeULaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = encodeULawSample(s)
	}
	return out
}

// decodeULawSample expands a single µ-law byte to a linear sample.
func decodeULawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	t := ((int32(mantissa) << 3) + ulawBias) << exponent
	t -= ulawBias

	if sign != 0 {
		return int16(-t)
	}
	return int16(t)
}

// encodeULawSample compresses a single linear sample to a µ-law byte.
func encodeULawSample(s int16) byte {
	var sign byte
	v := int32(s)
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	// Exponent is the position of the highest set bit above bit 7.
	exponent := int32(7)
	for mask := int32(0x4000); exponent > 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)

	return ^(sign | byte(exponent)<<4 | mantissa)
}
