// Package connection provides the telephony transport of the phone assistant.
package connection

// ConnectionState represents the state of a connection.
type ConnectionState int

const (
	// ConnectionStateNew - socket accepted, no start event yet
	ConnectionStateNew ConnectionState = iota
	// ConnectionStateConnecting - read loop running, waiting for start
	ConnectionStateConnecting
	// ConnectionStateConnected - start received, call and stream ids known
	ConnectionStateConnected
	// ConnectionStateDisconnected - stop received from the provider
	ConnectionStateDisconnected
	// ConnectionStateFailed - socket error
	ConnectionStateFailed
	// ConnectionStateClosed - closed locally or by the peer
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionEventHandler is notified of lifecycle changes.
type ConnectionEventHandler interface {
	// OnConnectionStateChange is called when the connection state changes.
	OnConnectionStateChange(state ConnectionState)

	// OnError is called when the socket fails.
	OnError(err error)
}

// EventType identifies an inbound telephony event.
type EventType int

const (
	EventStart EventType = iota + 1
	EventMedia
	EventMark
	EventDTMF
	EventStop
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventMedia:
		return "media"
	case EventMark:
		return "mark"
	case EventDTMF:
		return "dtmf"
	case EventStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Event is one decoded inbound message. Media events carry PCM16 LE at 8kHz.
type Event struct {
	Type       EventType
	CallSid    string
	StreamSid  string
	Parameters map[string]string
	PCM        []byte
	Mark       string
	Digit      string
}

// AudioSink is the outbound half of a call leg: PCM16 at 8kHz in, telephony
// codec on the wire.
type AudioSink interface {
	SendAudio(pcm []byte) error
	SendMark(name string) error
	ClearAudio() error
}

// Connection represents one call leg.
type Connection interface {
	AudioSink

	// PeerID returns the unique identifier for this connection.
	PeerID() string

	// Events delivers inbound events in arrival order. It is closed when the
	// socket ends.
	Events() <-chan Event

	// RegisterEventHandler registers an event handler for lifecycle events.
	RegisterEventHandler(handler ConnectionEventHandler)

	// Close closes the connection and releases resources.
	Close() error
}
