package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Samples interprets PCM16 LE bytes as samples. A trailing odd byte is dropped.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// Bytes serialises samples as PCM16 LE.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// RMS returns the root mean square of a PCM16 LE buffer, in sample units.
// An empty buffer has an RMS of 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// BytesFor returns the PCM16 mono byte count covering d at sampleRate.
func BytesFor(d time.Duration, sampleRate int) int {
	return int(int64(sampleRate)*d.Milliseconds()/1000) * BytesPerSample
}

// DurationOf returns the playback duration of a PCM16 mono buffer.
func DurationOf(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Normalize removes the DC offset and brings the peak to about -1 dBFS with
// a soft clip. Gain is capped at 1.3 so near-silence is not blown up into
// noise that transcription engines read as words.
func Normalize(pcm []byte) []byte {
	samples := Samples(pcm)
	if len(samples) == 0 {
		return pcm
	}

	var acc int64
	for _, s := range samples {
		acc += int64(s)
	}
	offset := int32(acc / int64(len(samples)))

	peak := int32(1)
	centred := make([]int32, len(samples))
	for i, s := range samples {
		v := int32(s) - offset
		centred[i] = v
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}

	gain := 0.89125 * 32767 / float64(peak)
	if gain > 1.3 {
		gain = 1.3
	}
	for i, v := range centred {
		samples[i] = clip(math.Tanh(float64(v)*gain/32767.0) * 32767.0)
	}
	return Bytes(samples)
}

// Resample converts PCM16 mono between sample rates with linear
// interpolation. Telephony speech is band-limited to 4 kHz, which keeps the
// aliasing of a plain linear filter inaudible on the call leg.
func Resample(pcm []byte, inRate, outRate int) []byte {
	if inRate == outRate || len(pcm) < BytesPerSample || inRate <= 0 || outRate <= 0 {
		return pcm
	}
	in := Samples(pcm)
	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	if outLen < 1 {
		return nil
	}

	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) / ratio
		i0 := int(math.Floor(pos))
		if i0 >= len(in) {
			i0 = len(in) - 1
		}
		i1 := i0 + 1
		if i1 >= len(in) {
			i1 = len(in) - 1
		}
		f := pos - float64(i0)
		out[i] = clip(float64(in[i0])*(1-f) + float64(in[i1])*f)
	}
	return Bytes(out)
}

// Tone generates a sine tone of the given frequency and amplitude as PCM16
// mono. It backs the default waiting loop when no hold music file is set.
func Tone(freq float64, amplitude int16, d time.Duration, sampleRate int) []byte {
	n := int(int64(sampleRate) * d.Milliseconds() / 1000)
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = int16(float64(amplitude) * math.Sin(2*math.Pi*freq*t))
	}
	return Bytes(out)
}

func clip(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
