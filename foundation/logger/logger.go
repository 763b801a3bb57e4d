// Package logger provides a convenience function to constructing a logger
// for use. This is required not just for applications but for testing.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a Sugared Logger that writes to stdout and
// provides human readable timestamps.
func New(service string, outputPaths ...string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()

	config.OutputPaths = []string{"stdout"}
	if outputPaths != nil {
		config.OutputPaths = outputPaths
	}

	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]any{
		"service": service,
	}

	log, err := config.Build()
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}

// EventHandler returns a function the foundation packages can log through.
// Messages carrying an ERROR or WARNING marker are logged at that level. Every
// message is also handed to the optional send function.
func EventHandler(log *zap.SugaredLogger, send func(string)) func(v string, args ...any) {
	return func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)

		switch {
		case strings.Contains(s, "ERROR:"):
			log.Errorw(s, "traceid", "00000000-0000-0000-0000-000000000000")
		case strings.Contains(s, "WARNING:"):
			log.Warnw(s, "traceid", "00000000-0000-0000-0000-000000000000")
		default:
			log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		}

		if send != nil {
			send(s)
		}
	}
}
