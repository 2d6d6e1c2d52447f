package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

type Logger interface {
	Info(action, message, requestID string, details map[string]interface{})
	Debug(action, message, requestID string, details map[string]interface{})
	Error(action, message, requestID string, details map[string]interface{}, err error)
}

type jsonLogger struct {
	zl zerolog.Logger
}

// New returns a JSON logger writing to stdout, tagged with the service name.
func New(service string) Logger {
	return NewWithWriter(service, os.Stdout)
}

func NewWithWriter(service string, w io.Writer) Logger {
	hostname, _ := os.Hostname()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	zl := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname).
		Logger()
	return &jsonLogger{zl: zl}
}

// Nop discards everything. Used by tests and tools.
func Nop() Logger {
	return &jsonLogger{zl: zerolog.Nop()}
}

func (l *jsonLogger) Info(action, message, requestID string, details map[string]interface{}) {
	l.log(l.zl.Info(), action, message, requestID, details, nil)
}

func (l *jsonLogger) Debug(action, message, requestID string, details map[string]interface{}) {
	l.log(l.zl.Debug(), action, message, requestID, details, nil)
}

func (l *jsonLogger) Error(action, message, requestID string, details map[string]interface{}, err error) {
	l.log(l.zl.Error(), action, message, requestID, details, err)
}

func (l *jsonLogger) log(ev *zerolog.Event, action, message, requestID string, details map[string]interface{}, err error) {
	ev = ev.Str("action", action)
	if requestID != "" {
		ev = ev.Str("request_id", requestID)
	}
	if len(details) > 0 {
		ev = ev.Interface("details", details)
	}
	if err != nil {
		ev = ev.Dict("error", zerolog.Dict().Str("msg", err.Error()))
	}
	ev.Msg(message)
}
