// Package server hosts the telephony endpoints.
//
// TwilioMediaServer implements a WebSocket server for Twilio Media Streams.
// Each stream is handed to a CallHandler which owns the conversation until
// the caller hangs up.
//
// Endpoints:
//   - /media  WebSocket for Twilio Media Streams
//   - /twiml  voice webhook answering <Connect><Stream>
//   - /health active session count
//   - /metrics Prometheus metrics, when a handler is configured
//
// Usage:
//  1. Point the phone number's voice webhook at /twiml
//  2. Set StreamURL to the public wss:// address of /media
//  3. Start the server
//
// Reference: https://www.twilio.com/docs/voice/media-streams
package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/festnoze/squad-ai-sub000/pkg/connection"
	"github.com/festnoze/squad-ai-sub000/pkg/logging"
	"github.com/festnoze/squad-ai-sub000/pkg/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// CallerParameter is the <Parameter> carrying the caller's number.
const CallerParameter = "caller"

// TwilioServerConfig holds configuration for TwilioMediaServer.
type TwilioServerConfig struct {
	// Address is the listen address (e.g., ":8080")
	Address string

	// WebSocketPath is the path for WebSocket connections (default: "/media")
	WebSocketPath string

	// TwiMLPath is the path for TwiML webhook (default: "/twiml")
	TwiMLPath string

	// StreamURL is the public URL for WebSocket connections
	// This is used in TwiML response for <Connect><Stream>
	// Example: "wss://your-domain.com/media"
	StreamURL string

	// ReadBufferSize for WebSocket (default: 1024)
	ReadBufferSize int

	// WriteBufferSize for WebSocket (default: 1024)
	WriteBufferSize int

	// CustomParameters to pass from TwiML to the stream
	CustomParameters map[string]string

	// ShutdownTimeout bounds Stop (default: 5s)
	ShutdownTimeout time.Duration
}

// CallHandler runs one call on an established media stream. It returns
// when the call is over and closes conn.
type CallHandler interface {
	HandleCall(ctx context.Context, conn connection.Connection) error
}

// TwilioMediaServer handles Twilio Media Streams WebSocket connections.
type TwilioMediaServer struct {
	config   TwilioServerConfig
	handler  CallHandler
	registry session.Registry
	metrics  http.Handler
	logger   *zap.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	// Active sessions
	sessions   map[*connection.TwilioConnection]*TwilioSession
	sessionsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// TwilioSession represents an active Twilio call session.
type TwilioSession struct {
	Connection *connection.TwilioConnection
	RemoteAddr string
	StartTime  time.Time
}

// Option customizes the server.
type Option func(*TwilioMediaServer)

// WithRegistry records the caller of each answered call so that the
// stream can recover it from the call SID.
func WithRegistry(r session.Registry) Option {
	return func(s *TwilioMediaServer) { s.registry = r }
}

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *TwilioMediaServer) { s.metrics = h }
}

// NewTwilioMediaServer creates a new Twilio Media Streams server.
func NewTwilioMediaServer(config TwilioServerConfig, handler CallHandler, logger *zap.Logger, opts ...Option) *TwilioMediaServer {
	if config.WebSocketPath == "" {
		config.WebSocketPath = "/media"
	}
	if config.TwiMLPath == "" {
		config.TwiMLPath = "/twiml"
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 1024
	}
	if config.WriteBufferSize == 0 {
		config.WriteBufferSize = 1024
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}

	s := &TwilioMediaServer{
		config:  config,
		handler: handler,
		logger:  logging.OrNop(logger).Named("twilio-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[*connection.TwilioConnection]*TwilioSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Handler returns the HTTP routes of the server.
func (s *TwilioMediaServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
	mux.HandleFunc(s.config.TwiMLPath, s.handleTwiML)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start listens on the configured address. Calls are cancelled when ctx
// is done or Stop is called.
func (s *TwilioMediaServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("server started",
		zap.String("address", ln.Addr().String()),
		zap.String("websocket_path", s.config.WebSocketPath),
		zap.String("twiml_path", s.config.TwiMLPath),
		zap.Bool("metrics", s.metrics != nil))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the server gracefully: running calls are cancelled and their
// sockets closed.
func (s *TwilioMediaServer) Stop() error {
	s.logger.Info("stopping server", zap.Int("sessions", s.SessionCount()))
	s.cancel()

	s.sessionsMu.RLock()
	for conn := range s.sessions {
		conn.Close()
	}
	s.sessionsMu.RUnlock()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		err = s.server.Shutdown(ctx)
	}

	s.wg.Wait()
	s.logger.Info("server stopped")
	return err
}

// handleWebSocket upgrades a Twilio media stream and runs the call.
func (s *TwilioMediaServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	conn := connection.NewTwilioConnection(wsConn, s.logger)
	conn.RegisterEventHandler(&twilioSessionHandler{logger: s.logger, connection: conn})

	s.wg.Add(1)
	s.sessionsMu.Lock()
	s.sessions[conn] = &TwilioSession{Connection: conn, RemoteAddr: r.RemoteAddr, StartTime: time.Now()}
	s.sessionsMu.Unlock()

	s.logger.Info("media stream connected", zap.String("remote", r.RemoteAddr))
	conn.Start()

	go func() {
		defer s.wg.Done()
		defer s.removeSession(conn)
		if err := s.handler.HandleCall(s.ctx, conn); err != nil {
			s.logger.Warn("call ended with error", zap.String("call_sid", conn.CallSid()), zap.Error(err))
		}
	}()
}

var twimlTemplate = template.Must(template.New("twiml").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="{{.StreamURL}}">
            {{- range $key, $value := .Parameters}}
            <Parameter name="{{$key}}" value="{{$value}}" />
            {{- end}}
        </Stream>
    </Connect>
</Response>`))

// handleTwiML answers the voice webhook of an incoming call.
func (s *TwilioMediaServer) handleTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	callSid := r.FormValue("CallSid")
	from := r.FormValue("From")
	s.logger.Info("incoming call",
		zap.String("call_sid", callSid),
		logging.MaskPhone("from", from),
		zap.String("to", r.FormValue("To")))

	params := make(map[string]string, len(s.config.CustomParameters)+1)
	for k, v := range s.config.CustomParameters {
		params[k] = v
	}
	if from != "" {
		params[CallerParameter] = from
		if s.registry != nil && callSid != "" {
			if err := s.registry.Put(r.Context(), callSid, from); err != nil {
				s.logger.Warn("could not register caller", zap.String("call_sid", callSid), zap.Error(err))
			}
		}
	}

	data := struct {
		StreamURL  string
		Parameters map[string]string
	}{
		StreamURL:  s.config.StreamURL,
		Parameters: params,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := twimlTemplate.Execute(w, data); err != nil {
		s.logger.Error("twiml rendering failed", zap.Error(err))
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// handleHealth handles health check requests.
func (s *TwilioMediaServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Sessions: s.SessionCount()})
}

func (s *TwilioMediaServer) removeSession(conn *connection.TwilioConnection) {
	s.sessionsMu.Lock()
	session, ok := s.sessions[conn]
	delete(s.sessions, conn)
	s.sessionsMu.Unlock()
	if ok {
		s.logger.Info("session removed",
			zap.String("call_sid", conn.CallSid()),
			zap.Duration("duration", time.Since(session.StartTime)))
	}
}

// SessionCount returns the number of open media streams.
func (s *TwilioMediaServer) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// GetActiveSessions returns all active sessions.
func (s *TwilioMediaServer) GetActiveSessions() []*TwilioSession {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	sessions := make([]*TwilioSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// twilioSessionHandler logs connection lifecycle events.
type twilioSessionHandler struct {
	logger     *zap.Logger
	connection *connection.TwilioConnection
}

func (h *twilioSessionHandler) OnConnectionStateChange(state connection.ConnectionState) {
	h.logger.Debug("connection state changed",
		zap.String("call_sid", h.connection.CallSid()),
		zap.Stringer("state", state))
}

func (h *twilioSessionHandler) OnError(err error) {
	h.logger.Warn("connection error", zap.String("call_sid", h.connection.CallSid()), zap.Error(err))
}
