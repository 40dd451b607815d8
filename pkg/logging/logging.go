// Package logging builds the process logger.
//
// Every component receives a *zap.Logger through its constructor and derives
// a named child (logger.Named("twilio-conn")). Call-scoped loggers add the
// call_sid and stream_sid fields once so each line can be correlated.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger. level is one of debug, info, warn, error; format is
// "json" for production or "console" for local runs.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// ForCall returns a child logger tagged with the call identifiers.
func ForCall(l *zap.Logger, callSid, streamSid string) *zap.Logger {
	return OrNop(l).With(zap.String("call_sid", callSid), zap.String("stream_sid", streamSid))
}

// MaskPhone keeps the country prefix and the last two digits of a phone
// number so logs stay useful without exposing the caller.
func MaskPhone(key, phone string) zap.Field {
	if len(phone) <= 5 {
		return zap.String(key, strings.Repeat("*", len(phone)))
	}
	return zap.String(key, phone[:3]+strings.Repeat("*", len(phone)-5)+phone[len(phone)-2:])
}
