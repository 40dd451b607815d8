package llm

import (
	"context"
	"sync"
)

// FakeClient replays canned replies. It is used by tests of the packages
// that sit on top of a Client.
type FakeClient struct {
	mu sync.Mutex
	// Reply computes the answer when set; otherwise Replies are consumed in
	// order and the last one repeats.
	Reply   func(req Request) (string, error)
	Replies []string
	Err     error

	requests []Request
}

// NewFakeClient returns a client answering replies in order.
func NewFakeClient(replies ...string) *FakeClient {
	return &FakeClient{Replies: replies}
}

// Complete records req and returns the next canned reply.
func (f *FakeClient) Complete(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	if f.Reply != nil {
		return f.Reply(req)
	}
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Replies) == 0 {
		return "", ErrEmptyResponse
	}
	out := f.Replies[0]
	if len(f.Replies) > 1 {
		f.Replies = f.Replies[1:]
	}
	return out, nil
}

// Requests returns the requests seen so far.
func (f *FakeClient) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}
