// Package audio provides the telephony audio primitives used by the phone
// assistant.
//
// mulaw.go implements the G.711 μ-law codec used by Twilio Media Streams.
//
// Features:
//   - μ-law byte to 16-bit signed linear PCM (little endian) via lookup table
//   - 16-bit linear PCM to μ-law with clipping
//   - Width contract: decode doubles the byte length, encode halves it
//
// Audio Format:
//   - Telephony: μ-law, 8kHz, mono
//   - Processing: PCM16 LE, 8kHz, mono
//
// Reference: ITU-T G.711
package audio

// TelephonySampleRate is the only rate the call leg ever uses, in and out.
const (
	TelephonySampleRate = 8000
	BytesPerSample      = 2
	Channels            = 1
)

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// muLawTable maps every μ-law byte to its linear value. 0x7F and 0xFF are the
// two encodings of zero.
var muLawTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// segmentEnds holds the upper bound of each of the eight μ-law segments.
var segmentEnds = [8]int32{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// DecodeSample converts one μ-law byte to a linear sample.
func DecodeSample(b byte) int16 {
	return muLawTable[b]
}

// EncodeSample converts one linear sample to μ-law. The computation runs on
// int32 so that -32768 clips instead of overflowing.
func EncodeSample(sample int16) byte {
	v := int32(sample)
	var sign int32
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	seg := int32(7)
	for i, end := range segmentEnds {
		if v <= end {
			seg = int32(i)
			break
		}
	}

	return byte(^(sign | seg<<4 | (v>>(seg+3))&0x0F))
}

// DecodeMuLaw converts a μ-law payload to PCM16 LE. The result is exactly
// twice as long as the input.
func DecodeMuLaw(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*BytesPerSample)
	for i, b := range mulaw {
		s := muLawTable[b]
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return pcm
}

// EncodeMuLaw converts PCM16 LE to μ-law. A trailing odd byte is ignored, so
// the result is len(pcm)/2 bytes long.
func EncodeMuLaw(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = EncodeSample(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return out
}
