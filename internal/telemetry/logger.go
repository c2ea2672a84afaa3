// Package telemetry wires the ambient logging and metrics stack used by
// every protocol layer. Grounded on omar251990-omar251990's
// internal/logger/logger.go (zerolog-backed, leveled component logger).
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger scoped to one component name. The debug
// level recorded on ss7core.Base gates which zerolog level is active.
type Logger struct {
	zl zerolog.Logger
}

// New returns a Logger writing to w (os.Stderr if nil) tagged with component.
func New(w io.Writer, component string) Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return Logger{zl: zl}
}

// WithLevel returns a derived Logger clamped to the given zerolog level,
// mirroring Component.DebugLevel (0 = Info and above, higher = more verbose
// down to Trace).
func (l Logger) WithLevel(debug int) Logger {
	lvl := zerolog.InfoLevel
	switch {
	case debug >= 3:
		lvl = zerolog.TraceLevel
	case debug == 2:
		lvl = zerolog.DebugLevel
	case debug == 1:
		lvl = zerolog.InfoLevel
	}
	return Logger{zl: l.zl.Level(lvl)}
}

func (l Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// WithFields returns a derived Logger with additional structured context,
// e.g. a CIC, a point code, or a TCAP transaction ID.
func (l Logger) WithFields(fields map[string]any) Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return Logger{zl: ctx.Logger()}
}
