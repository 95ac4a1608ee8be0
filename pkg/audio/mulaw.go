package audio

// G.711 µ-law companding for 16-bit linear PCM.

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// LinearToMuLaw compresses one 16-bit sample.
func LinearToMuLaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias
	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// MuLawToLinear expands one µ-law byte.
func MuLawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	s := ((int(mantissa) << 3) + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}

// MuLawEncode converts little-endian 16-bit PCM to µ-law. A trailing odd byte is ignored.
func MuLawEncode(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = LinearToMuLaw(sample)
	}
	return out
}

// MuLawDecode converts µ-law to little-endian 16-bit PCM.
func MuLawDecode(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		s := uint16(MuLawToLinear(u))
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
