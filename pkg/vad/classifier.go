package vad

// FrameClassifier scores a frame of audio as speech. It refines the energy
// decision of the Detector; an energetic frame the classifier rejects (a
// door slam, line noise) does not count as speech.
type FrameClassifier interface {
	// Infer returns a speech probability in [0, 1] for samples normalized
	// to [-1, 1].
	Infer(samples []float32) (float32, error)

	// Reset clears any state carried between frames. Called on each new
	// utterance.
	Reset() error

	// Destroy releases all resources held by the classifier.
	Destroy() error
}

// toFloat32 converts PCM16 LE to normalized float samples.
func toFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(s) / 32768.0
	}
	return out
}
