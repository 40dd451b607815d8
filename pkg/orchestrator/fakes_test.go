package orchestrator

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/asr"
	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"github.com/festnoze/squad-ai-sub000/pkg/connection"
	"github.com/festnoze/squad-ai-sub000/pkg/crm"
	"github.com/festnoze/squad-ai-sub000/pkg/rag"
	"github.com/festnoze/squad-ai-sub000/pkg/tts"
)

// fakeConn is a call leg driven by the test.
type fakeConn struct {
	events chan connection.Event

	mu     sync.Mutex
	audio  int
	marks  []string
	clears int
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan connection.Event, 1024)}
}

func (f *fakeConn) PeerID() string                                      { return "fake" }
func (f *fakeConn) Events() <-chan connection.Event                     { return f.events }
func (f *fakeConn) RegisterEventHandler(connection.ConnectionEventHandler) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SendAudio([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio++
	return nil
}

func (f *fakeConn) SendMark(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, name)
	return nil
}

func (f *fakeConn) ClearAudio() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) sent() (audio, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio, f.clears
}

func (f *fakeConn) start(callSid, caller string) {
	f.events <- connection.Event{
		Type:       connection.EventStart,
		CallSid:    callSid,
		StreamSid:  "MZ" + callSid,
		Parameters: map[string]string{CallerParameter: caller},
	}
}

func (f *fakeConn) stop() {
	f.events <- connection.Event{Type: connection.EventStop}
}

// frame is 20ms of constant amplitude, whose RMS is the amplitude.
func frame(amplitude int16) []byte {
	out := make([]byte, 320)
	for i := 0; i < len(out); i += 2 {
		out[i] = byte(uint16(amplitude))
		out[i+1] = byte(uint16(amplitude) >> 8)
	}
	return out
}

func (f *fakeConn) send(amplitude int16, d time.Duration) {
	for i := 0; i < int(d/(20*time.Millisecond)); i++ {
		f.events <- connection.Event{Type: connection.EventMedia, PCM: frame(amplitude)}
	}
}

// utterance is enough speech followed by enough silence to be released.
func (f *fakeConn) utterance() {
	f.send(2000, 600*time.Millisecond)
	f.send(0, 400*time.Millisecond)
}

// fakeSynth returns a tone whose length depends on the text.
type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	long  string
}

func (s *fakeSynth) Name() string            { return "fake" }
func (s *fakeSynth) GetDefaultVoice() string { return "voice" }
func (s *fakeSynth) ValidateConfig() error   { return nil }

func (s *fakeSynth) Synthesize(_ context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	s.mu.Lock()
	s.texts = append(s.texts, req.Text)
	s.mu.Unlock()

	d := 40 * time.Millisecond
	if s.long != "" && strings.HasPrefix(req.Text, s.long) {
		d = 3 * time.Second
	}
	return &tts.SynthesizeResponse{
		AudioData:   audio.Tone(440, 1000, d, audio.TelephonySampleRate),
		AudioFormat: tts.AudioFormat{SampleRate: audio.TelephonySampleRate, Channels: 1, Encoding: "pcm_s16le"},
	}, nil
}

func (s *fakeSynth) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// fakeSTT answers transcripts in order.
type fakeSTT struct {
	mu      sync.Mutex
	answers []string
	calls   int
}

func (p *fakeSTT) Name() string { return "fake-stt" }
func (p *fakeSTT) Close() error { return nil }

func (p *fakeSTT) Recognize(_ context.Context, r io.Reader, _ asr.AudioConfig, _ asr.RecognitionConfig) (*asr.RecognitionResult, error) {
	_, _ = io.Copy(io.Discard, r)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.answers) == 0 {
		return nil, errors.New("no scripted transcript")
	}
	text := p.answers[0]
	p.answers = p.answers[1:]
	return &asr.RecognitionResult{Text: text, Provider: "fake-stt"}, nil
}

func (p *fakeSTT) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type storedMessage struct {
	conversationID string
	text           string
}

// fakeStore plays the RAG service's identity side.
type fakeStore struct {
	mu       sync.Mutex
	users    []rag.User
	messages []storedMessage
	err      error
}

func (s *fakeStore) CreateOrRetrieveUser(_ context.Context, u rag.User) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
	if s.err != nil {
		return "", s.err
	}
	return "user-1", nil
}

func (s *fakeStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStore) CreateConversation(context.Context, string) (string, error) {
	return "conv-1", nil
}

func (s *fakeStore) AddExternalMessage(_ context.Context, conversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, storedMessage{conversationID, text})
	return nil
}

func (s *fakeStore) userNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, u := range s.users {
		names = append(names, u.Name)
	}
	return names
}

func (s *fakeStore) stored() []storedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storedMessage(nil), s.messages...)
}

type fakeDirectory struct {
	person *crm.Person
	owner  *crm.Owner
}

func (d *fakeDirectory) GetPersonByPhone(context.Context, string) (*crm.Person, error) {
	if d.person == nil {
		return nil, nil
	}
	p := *d.person
	return &p, nil
}

func (d *fakeDirectory) GetOwnerByID(context.Context, string) (*crm.Owner, error) {
	return d.owner, nil
}

// blockingStreamer sends its first chunk, then waits for the barge-in.
type blockingStreamer struct {
	first       string
	interrupted chan struct{}
	once        sync.Once
}

func newBlockingStreamer(first string) *blockingStreamer {
	return &blockingStreamer{first: first, interrupted: make(chan struct{})}
}

func (s *blockingStreamer) Stream(ctx context.Context, _ rag.Query, flag *rag.InterruptFlag) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield(s.first, nil) {
			return
		}
		select {
		case <-flag.Done():
			s.once.Do(func() { close(s.interrupted) })
			yield("", rag.ErrInterrupted)
		case <-ctx.Done():
			yield("", ctx.Err())
		case <-time.After(5 * time.Second):
			yield(" Cette phrase n'aurait pas dû arriver.", nil)
		}
	}
}

type fakeObserver struct {
	mu       sync.Mutex
	started  int
	outcomes []string
	bargeIns int
}

func (o *fakeObserver) CallStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *fakeObserver) CallEnded(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *fakeObserver) BargeIn() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bargeIns++
}

func (o *fakeObserver) snapshot() (int, []string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started, append([]string(nil), o.outcomes...), o.bargeIns
}
