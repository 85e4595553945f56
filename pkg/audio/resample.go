package audio

// The carrier leg runs at 8 kHz and the model leg at 24 kHz — an exact factor
// of three in both directions, so the bridge uses the integer fast paths below.
// ResampleMono16 remains as a general fallback for any other ratio.

// UpsampleX3 converts 8 kHz mono PCM16 to 24 kHz by linear interpolation,
// inserting two samples at 1/3 and 2/3 between each adjacent pair. The last
// input sample is repeated so that the output is exactly three times as long.
// Input is little-endian int16 bytes; a trailing odd byte is dropped.
func UpsampleX3(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}

	out := make([]byte, n*3*2)
	put := func(idx int, s int16) {
		out[idx*2] = byte(s)
		out[idx*2+1] = byte(s >> 8)
	}

	for i := range n {
		s0 := int32(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		s1 := s0
		if i+1 < n {
			s1 = int32(int16(pcm[(i+1)*2]) | int16(pcm[(i+1)*2+1])<<8)
		}
		put(i*3, int16(s0))
		put(i*3+1, int16((2*s0+s1)/3))
		put(i*3+2, int16((s0+2*s1)/3))
	}
	return out
}

// DownsampleDiv3 converts 24 kHz mono PCM16 to 8 kHz by keeping every third
// sample. Anti-alias filtering is deliberately omitted: the added latency is
// not worth it when the consumer is a narrowband µ-law carrier leg.
// Input is little-endian int16 bytes; a trailing odd byte is dropped.
func DownsampleDiv3(pcm []byte) []byte {
	n := len(pcm) / 2
	keep := (n + 2) / 3
	if keep == 0 {
		return nil
	}

	out := make([]byte, keep*2)
	for i := range keep {
		src := i * 3 * 2
		out[i*2] = pcm[src]
		out[i*2+1] = pcm[src+1]
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged. The 8↔24 kHz hot path
// should use [UpsampleX3] / [DownsampleDiv3] instead.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}
