package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSample(t *testing.T) {
	samples := []int16{0, 100, 1000, 10000, 32000, -100, -1000, -10000, -32000}

	for _, original := range samples {
		decoded := DecodeSample(EncodeSample(original))

		diff := int32(original) - int32(decoded)
		if diff < 0 {
			diff = -diff
		}
		abs := int32(original)
		if abs < 0 {
			abs = -abs
		}
		maxErr := abs / 20
		if maxErr < 200 {
			maxErr = 200
		}
		if diff > maxErr {
			t.Errorf("round trip for %d: decoded=%d diff=%d (max %d)", original, decoded, diff, maxErr)
		}
	}
}

func TestEncodeSample_ExtremeNegativeClips(t *testing.T) {
	// -32768 has no positive counterpart in int16
	b := EncodeSample(-32768)
	assert.Less(t, DecodeSample(b), int16(-30000))
}

func TestDecodeSample_Zeros(t *testing.T) {
	assert.Equal(t, int16(0), DecodeSample(0x7F))
	assert.Equal(t, int16(0), DecodeSample(0xFF))
	assert.Less(t, DecodeSample(0x00), int16(0))
	assert.Greater(t, DecodeSample(0x80), int16(0))
}

func TestCodecWidths(t *testing.T) {
	t.Run("decode doubles length", func(t *testing.T) {
		frame := []byte{0x7F, 0xFF, 0x00, 0x80, 0x12}
		pcm := DecodeMuLaw(frame)
		require.Len(t, pcm, len(frame)*2)
		for i, b := range frame {
			got := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
			assert.Equal(t, DecodeSample(b), got)
		}
	})

	t.Run("round trip preserves frame length", func(t *testing.T) {
		// Twilio sends 160-byte frames (20ms)
		for _, size := range []int{1, 160, 320, 8000} {
			frame := make([]byte, size)
			for i := range frame {
				frame[i] = byte(i * 7)
			}
			assert.Len(t, EncodeMuLaw(DecodeMuLaw(frame)), size)
		}
	})

	t.Run("round trip is stable after first pass", func(t *testing.T) {
		frame := make([]byte, 256)
		for i := range frame {
			frame[i] = byte(i)
		}
		once := EncodeMuLaw(DecodeMuLaw(frame))
		twice := EncodeMuLaw(DecodeMuLaw(once))
		assert.Equal(t, once, twice)
	})

	t.Run("odd pcm byte ignored", func(t *testing.T) {
		assert.Len(t, EncodeMuLaw([]byte{1, 2, 3}), 1)
	})
}

func BenchmarkDecodeMuLaw(b *testing.B) {
	frame := make([]byte, TelephonySampleRate)
	for i := range frame {
		frame[i] = byte(i % 256)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = DecodeMuLaw(frame)
	}
}

func BenchmarkEncodeMuLaw(b *testing.B) {
	pcm := make([]byte, TelephonySampleRate*BytesPerSample)
	for i := 0; i < len(pcm); i += 2 {
		s := int16((i / 2) * 10)
		pcm[i] = byte(s)
		pcm[i+1] = byte(s >> 8)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = EncodeMuLaw(pcm)
	}
}
