package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// LoadHoldMusic reads the waiting loop played during long operations and
// returns it as PCM16 mono at the telephony rate.
//
// Supported inputs:
//   - .mp3: decoded, downmixed to mono, resampled to 8kHz
//   - anything else: raw PCM16 LE mono already at 8kHz
//
// An empty path yields the default soft tone loop.
func LoadHoldMusic(path string) ([]byte, error) {
	if path == "" {
		return DefaultHoldLoop(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hold music: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		return DecodeMP3(bytes.NewReader(data))
	}

	if len(data) < BytesPerSample {
		return nil, fmt.Errorf("hold music file %s is empty", path)
	}
	return data[:len(data)-len(data)%BytesPerSample], nil
}

// DecodeMP3 decodes an MP3 stream to PCM16 mono at the telephony rate.
func DecodeMP3(r io.Reader) ([]byte, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("open mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	// go-mp3 always produces interleaved stereo PCM16 LE
	stereo := Samples(raw)
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	if len(mono) == 0 {
		return nil, fmt.Errorf("mp3 contains no audio")
	}
	return Resample(Bytes(mono), dec.SampleRate(), TelephonySampleRate), nil
}

// DefaultHoldLoop is a quiet two-note chime followed by silence, two seconds
// long at the telephony rate.
func DefaultHoldLoop() []byte {
	var loop []byte
	loop = append(loop, Tone(440, 1200, 300*time.Millisecond, TelephonySampleRate)...)
	loop = append(loop, Tone(554, 1000, 300*time.Millisecond, TelephonySampleRate)...)
	loop = append(loop, make([]byte, BytesFor(1400*time.Millisecond, TelephonySampleRate))...)
	return loop
}
