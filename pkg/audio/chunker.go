package audio

import "sync"

// Chunker cuts a PCM stream of arbitrary write sizes into fixed-size chunks.
// Outgoing speech is queued chunk by chunk so that an interruption never has
// more than one chunk in flight.
//
// Features:
//   - Fixed chunk size derived from a duration at the telephony rate
//   - Accumulates partial writes until a full chunk is available
//   - Flush returns the trailing partial chunk, sample aligned
type Chunker struct {
	mu         sync.Mutex
	buffer     []byte
	chunkBytes int
}

// NewChunker creates a chunker emitting chunkBytes-sized chunks. The size is
// rounded down to a whole sample and never below one sample.
func NewChunker(chunkBytes int) *Chunker {
	chunkBytes -= chunkBytes % BytesPerSample
	if chunkBytes < BytesPerSample {
		chunkBytes = BytesPerSample
	}
	return &Chunker{
		buffer:     make([]byte, 0, chunkBytes*2),
		chunkBytes: chunkBytes,
	}
}

// ChunkBytes returns the configured chunk size.
func (c *Chunker) ChunkBytes() int {
	return c.chunkBytes
}

// Write appends PCM and returns every complete chunk now available.
func (c *Chunker) Write(pcm []byte) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = append(c.buffer, pcm...)
	var chunks [][]byte
	for len(c.buffer) >= c.chunkBytes {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.buffer[:c.chunkBytes])
		chunks = append(chunks, chunk)
		c.buffer = c.buffer[c.chunkBytes:]
	}
	// keep the backing array from growing without bound
	if len(c.buffer) == 0 {
		c.buffer = c.buffer[:0:0]
	}
	return chunks
}

// Flush returns the remaining partial chunk, or nil when nothing is buffered.
func (c *Chunker) Flush() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.buffer) - len(c.buffer)%BytesPerSample
	if n == 0 {
		c.buffer = nil
		return nil
	}
	out := make([]byte, n)
	copy(out, c.buffer[:n])
	c.buffer = nil
	return out
}

// Split cuts a complete buffer into chunkBytes-sized chunks; the last chunk
// may be shorter.
func Split(pcm []byte, chunkBytes int) [][]byte {
	c := NewChunker(chunkBytes)
	chunks := c.Write(pcm)
	if tail := c.Flush(); tail != nil {
		chunks = append(chunks, tail)
	}
	return chunks
}
