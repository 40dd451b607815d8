package rag

import "sync"

// InterruptFlag is shared between a running stream and the barge-in path.
// Once set it stays set; use a new flag for the next query. A nil flag is
// never interrupted.
type InterruptFlag struct {
	mu          sync.Mutex
	interrupted bool
	done        chan struct{}
}

// NewInterruptFlag returns a cleared flag.
func NewInterruptFlag() *InterruptFlag {
	return &InterruptFlag{done: make(chan struct{})}
}

// Interrupt sets the flag.
func (f *InterruptFlag) Interrupt() {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.interrupted {
		return
	}
	f.interrupted = true
	if f.done == nil {
		f.done = make(chan struct{})
	}
	close(f.done)
}

// Interrupted reports whether the flag is set.
func (f *InterruptFlag) Interrupted() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupted
}

// Done is closed when the flag is set.
func (f *InterruptFlag) Done() <-chan struct{} {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done == nil {
		f.done = make(chan struct{})
	}
	return f.done
}
