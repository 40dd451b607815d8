package vad

import "sync"

// MockClassifier is a FrameClassifier for tests. InferFunc decides the
// score; with no InferFunc every frame scores zero.
type MockClassifier struct {
	InferFunc func(samples []float32) (float32, error)

	mu         sync.Mutex
	inferCalls int
	resets     int
	destroyed  bool
}

// NewMockClassifier returns a classifier that scores every frame prob.
func NewMockClassifier(prob float32) *MockClassifier {
	return &MockClassifier{
		InferFunc: func([]float32) (float32, error) { return prob, nil },
	}
}

// NewMockClassifierSequence returns scores from probs in order, cycling.
func NewMockClassifierSequence(probs ...float32) *MockClassifier {
	var mu sync.Mutex
	idx := 0
	return &MockClassifier{
		InferFunc: func([]float32) (float32, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(probs) == 0 {
				return 0, nil
			}
			p := probs[idx]
			idx = (idx + 1) % len(probs)
			return p, nil
		},
	}
}

func (m *MockClassifier) Infer(samples []float32) (float32, error) {
	m.mu.Lock()
	m.inferCalls++
	fn := m.InferFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(samples)
	}
	return 0, nil
}

func (m *MockClassifier) Reset() error {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
	return nil
}

func (m *MockClassifier) Destroy() error {
	m.mu.Lock()
	m.destroyed = true
	m.mu.Unlock()
	return nil
}

// InferCalls returns how many frames were scored.
func (m *MockClassifier) InferCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inferCalls
}

// Resets returns how many times Reset was called.
func (m *MockClassifier) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Destroyed reports whether Destroy was called.
func (m *MockClassifier) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

var _ FrameClassifier = (*MockClassifier)(nil)
