package audio

import "sync"

// RingBuffer keeps the most recent few hundred milliseconds of caller audio
// so the utterance handed to transcription starts slightly before the frame
// that crossed the speech threshold. A zero-capacity ring is valid and
// stores nothing, which is how pre-roll is disabled.
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	capacity int
	start    int
	size     int
}

// NewRingBuffer sizes the ring for durationMs of PCM16 mono at sampleRate.
func NewRingBuffer(sampleRate, durationMs int) *RingBuffer {
	capacity := sampleRate * durationMs / 1000 * BytesPerSample
	if capacity < 0 {
		capacity = 0
	}
	return &RingBuffer{data: make([]byte, capacity), capacity: capacity}
}

// Write appends pcm, overwriting the oldest bytes once full.
func (rb *RingBuffer) Write(pcm []byte) {
	if rb.capacity == 0 || len(pcm) == 0 {
		return
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(pcm) >= rb.capacity {
		copy(rb.data, pcm[len(pcm)-rb.capacity:])
		rb.start, rb.size = 0, rb.capacity
		return
	}
	for _, b := range pcm {
		end := (rb.start + rb.size) % rb.capacity
		rb.data[end] = b
		if rb.size < rb.capacity {
			rb.size++
		} else {
			rb.start = (rb.start + 1) % rb.capacity
		}
	}
}

// Drain returns the buffered bytes oldest first and empties the ring.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return nil
	}
	out := make([]byte, rb.size)
	first := copy(out, rb.data[rb.start:min(rb.start+rb.size, rb.capacity)])
	copy(out[first:], rb.data[:rb.size-first])
	rb.start, rb.size = 0, 0
	return out
}

// Clear empties the ring.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	rb.start, rb.size = 0, 0
	rb.mu.Unlock()
}

// Size returns the number of buffered bytes.
func (rb *RingBuffer) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Capacity returns the ring capacity in bytes.
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
