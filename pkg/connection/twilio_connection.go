// TwilioConnection implements the Connection interface for Twilio Media
// Streams.
//
// Features:
//   - Twilio Media Streams WebSocket protocol handling
//   - μ-law 8kHz ↔ PCM16 8kHz conversion, no resampling on the call leg
//   - Malformed frames are logged and dropped, never fatal
//   - Mark and clear messages for playback synchronisation and barge-in
//   - DTMF events surfaced to the conversation
//
// Audio Format:
//   - Twilio: μ-law, 8kHz, mono
//   - Processing: PCM16 LE, 8kHz, mono
//
// Reference: https://www.twilio.com/docs/voice/media-streams
package connection

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/audio"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNoStream is returned when audio is sent before the start event.
var ErrNoStream = errors.New("twilio stream not started")

// ErrClosed is returned when writing to a closed connection.
var ErrClosed = errors.New("twilio connection closed")

const (
	eventBufferSize = 256
	writeTimeout    = 5 * time.Second
)

// TwilioMediaMessage is the wire envelope of every Media Streams message,
// in both directions.
type TwilioMediaMessage struct {
	Event          string              `json:"event"`
	SequenceNumber string              `json:"sequenceNumber,omitempty"`
	StreamSid      string              `json:"streamSid,omitempty"`
	Protocol       string              `json:"protocol,omitempty"`
	Version        string              `json:"version,omitempty"`
	Start          *TwilioStartPayload `json:"start,omitempty"`
	Media          *TwilioMediaPayload `json:"media,omitempty"`
	Stop           *TwilioStopPayload  `json:"stop,omitempty"`
	Mark           *TwilioMarkPayload  `json:"mark,omitempty"`
	DTMF           *TwilioDTMFPayload  `json:"dtmf,omitempty"`
}

// TwilioStartPayload contains stream initialization data.
type TwilioStartPayload struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      TwilioMediaFormat `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// TwilioMediaFormat describes the audio format.
type TwilioMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// TwilioMediaPayload contains base64 μ-law audio.
type TwilioMediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// TwilioStopPayload contains stream termination data.
type TwilioStopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// TwilioMarkPayload names a playback checkpoint.
type TwilioMarkPayload struct {
	Name string `json:"name"`
}

// TwilioDTMFPayload contains DTMF digit data.
type TwilioDTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// TwilioConnection is one Media Streams WebSocket.
type TwilioConnection struct {
	conn   *websocket.Conn
	logger *zap.Logger

	handlers   []ConnectionEventHandler
	handlersMu sync.RWMutex

	metaMu     sync.RWMutex
	streamSid  string
	callSid    string
	parameters map[string]string

	events chan Event
	done   chan struct{}

	state     ConnectionState
	stateMu   sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex
}

// NewTwilioConnection wraps an upgraded WebSocket.
func NewTwilioConnection(conn *websocket.Conn, logger *zap.Logger) *TwilioConnection {
	return &TwilioConnection{
		conn:   conn,
		logger: logging.OrNop(logger).Named("twilio-conn"),
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
		state:  ConnectionStateNew,
	}
}

// PeerID returns the call SID once known.
func (tc *TwilioConnection) PeerID() string {
	if sid := tc.CallSid(); sid != "" {
		return sid
	}
	return "twilio-pending"
}

// StreamSid returns the Twilio stream SID.
func (tc *TwilioConnection) StreamSid() string {
	tc.metaMu.RLock()
	defer tc.metaMu.RUnlock()
	return tc.streamSid
}

// CallSid returns the Twilio call SID.
func (tc *TwilioConnection) CallSid() string {
	tc.metaMu.RLock()
	defer tc.metaMu.RUnlock()
	return tc.callSid
}

// Parameter returns a <Parameter> value passed through TwiML.
func (tc *TwilioConnection) Parameter(name string) string {
	tc.metaMu.RLock()
	defer tc.metaMu.RUnlock()
	return tc.parameters[name]
}

// RegisterEventHandler registers a lifecycle handler.
func (tc *TwilioConnection) RegisterEventHandler(handler ConnectionEventHandler) {
	tc.handlersMu.Lock()
	tc.handlers = append(tc.handlers, handler)
	tc.handlersMu.Unlock()
}

// Events returns the inbound event channel.
func (tc *TwilioConnection) Events() <-chan Event {
	return tc.events
}

// Start begins reading the socket.
func (tc *TwilioConnection) Start() {
	tc.setState(ConnectionStateConnecting)
	go tc.readPump()
}

// Close closes the socket. Safe to call more than once and from any goroutine.
func (tc *TwilioConnection) Close() error {
	var err error
	tc.closeOnce.Do(func() {
		tc.closed.Store(true)
		close(tc.done)
		tc.logger.Info("closing connection", zap.String("stream_sid", tc.StreamSid()))
		if tc.conn != nil {
			err = tc.conn.Close()
		}
		tc.setState(ConnectionStateClosed)
	})
	return err
}

// readPump is the only sender on tc.events, so it owns closing it.
func (tc *TwilioConnection) readPump() {
	defer close(tc.events)
	defer tc.Close()

	for {
		_, message, err := tc.conn.ReadMessage()
		if err != nil {
			if !tc.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				tc.logger.Warn("read error", zap.Error(err))
				tc.setState(ConnectionStateFailed)
				tc.notifyError(err)
			}
			return
		}

		var msg TwilioMediaMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			tc.logger.Warn("dropping unparsable frame", zap.Error(err), zap.Int("size", len(message)))
			continue
		}

		if !tc.handleMessage(&msg) {
			return
		}
	}
}

// handleMessage returns false once the stream has stopped.
func (tc *TwilioConnection) handleMessage(msg *TwilioMediaMessage) bool {
	switch msg.Event {
	case "connected":
		tc.logger.Debug("connected to media streams",
			zap.String("protocol", msg.Protocol), zap.String("version", msg.Version))
	case "start":
		tc.handleStart(msg)
	case "media":
		tc.handleMedia(msg)
	case "mark":
		tc.handleMark(msg)
	case "dtmf":
		tc.handleDTMF(msg)
	case "stop":
		tc.handleStop(msg)
		return false
	default:
		tc.logger.Debug("ignoring unknown event", zap.String("event", msg.Event))
	}
	return true
}

func (tc *TwilioConnection) handleStart(msg *TwilioMediaMessage) {
	if msg.Start == nil {
		tc.logger.Warn("start event missing payload")
		return
	}

	tc.metaMu.Lock()
	tc.streamSid = msg.Start.StreamSid
	tc.callSid = msg.Start.CallSid
	tc.parameters = msg.Start.CustomParameters
	tc.metaMu.Unlock()

	tc.logger.Info("stream started",
		zap.String("call_sid", msg.Start.CallSid),
		zap.String("stream_sid", msg.Start.StreamSid),
		zap.String("encoding", msg.Start.MediaFormat.Encoding),
		zap.Int("sample_rate", msg.Start.MediaFormat.SampleRate))

	tc.emit(Event{
		Type:       EventStart,
		CallSid:    msg.Start.CallSid,
		StreamSid:  msg.Start.StreamSid,
		Parameters: msg.Start.CustomParameters,
	})
	tc.setState(ConnectionStateConnected)
}

func (tc *TwilioConnection) handleMedia(msg *TwilioMediaMessage) {
	if msg.Media == nil || msg.Media.Payload == "" {
		tc.logger.Debug("dropping media frame without payload")
		return
	}
	if msg.Media.Track != "" && msg.Media.Track != "inbound" {
		return
	}

	mulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		tc.logger.Warn("dropping media frame with bad base64", zap.Error(err))
		return
	}

	tc.emit(Event{
		Type:      EventMedia,
		StreamSid: tc.StreamSid(),
		PCM:       audio.DecodeMuLaw(mulaw),
	})
}

func (tc *TwilioConnection) handleMark(msg *TwilioMediaMessage) {
	if msg.Mark == nil {
		return
	}
	tc.emit(Event{Type: EventMark, StreamSid: tc.StreamSid(), Mark: msg.Mark.Name})
}

func (tc *TwilioConnection) handleDTMF(msg *TwilioMediaMessage) {
	if msg.DTMF == nil {
		return
	}
	tc.emit(Event{Type: EventDTMF, StreamSid: tc.StreamSid(), Digit: msg.DTMF.Digit})
}

func (tc *TwilioConnection) handleStop(msg *TwilioMediaMessage) {
	tc.logger.Info("stream stopped", zap.String("call_sid", tc.CallSid()))
	tc.emit(Event{Type: EventStop, CallSid: tc.CallSid(), StreamSid: tc.StreamSid()})
	tc.setState(ConnectionStateDisconnected)
}

// emit blocks so that inbound frames keep their arrival order; it gives up
// only when the connection is closed.
func (tc *TwilioConnection) emit(ev Event) {
	select {
	case tc.events <- ev:
	case <-tc.done:
	}
}

// SendAudio encodes PCM16 8kHz to μ-law and sends one media message.
func (tc *TwilioConnection) SendAudio(pcm []byte) error {
	streamSid := tc.StreamSid()
	if streamSid == "" {
		return ErrNoStream
	}
	return tc.writeJSON(TwilioMediaMessage{
		Event:     "media",
		StreamSid: streamSid,
		Media: &TwilioMediaPayload{
			Payload: base64.StdEncoding.EncodeToString(audio.EncodeMuLaw(pcm)),
		},
	})
}

// SendMark asks Twilio to echo name once everything sent before it played.
func (tc *TwilioConnection) SendMark(name string) error {
	streamSid := tc.StreamSid()
	if streamSid == "" {
		return ErrNoStream
	}
	return tc.writeJSON(TwilioMediaMessage{
		Event:     "mark",
		StreamSid: streamSid,
		Mark:      &TwilioMarkPayload{Name: name},
	})
}

// ClearAudio drops audio buffered on Twilio's side.
func (tc *TwilioConnection) ClearAudio() error {
	streamSid := tc.StreamSid()
	if streamSid == "" {
		return ErrNoStream
	}
	tc.logger.Debug("clearing provider audio buffer")
	return tc.writeJSON(TwilioMediaMessage{Event: "clear", StreamSid: streamSid})
}

func (tc *TwilioConnection) writeJSON(msg TwilioMediaMessage) error {
	if tc.closed.Load() {
		return ErrClosed
	}
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	_ = tc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return tc.conn.WriteJSON(msg)
}

func (tc *TwilioConnection) setState(state ConnectionState) {
	tc.stateMu.Lock()
	if tc.state == state || tc.state == ConnectionStateClosed {
		tc.stateMu.Unlock()
		return
	}
	tc.state = state
	tc.stateMu.Unlock()

	tc.handlersMu.RLock()
	defer tc.handlersMu.RUnlock()
	for _, h := range tc.handlers {
		h.OnConnectionStateChange(state)
	}
}

func (tc *TwilioConnection) notifyError(err error) {
	tc.handlersMu.RLock()
	defer tc.handlersMu.RUnlock()
	for _, h := range tc.handlers {
		h.OnError(err)
	}
}

// State returns the current connection state.
func (tc *TwilioConnection) State() ConnectionState {
	tc.stateMu.RLock()
	defer tc.stateMu.RUnlock()
	return tc.state
}

var _ Connection = (*TwilioConnection)(nil)
