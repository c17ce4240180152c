// Package logging configures the shared zerolog logger. Hook-invoked
// commands log to stderr only; nothing here may write to stdout, which
// belongs to the host git operation.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

var (
	base zerolog.Logger
	once sync.Once
)

func root() zerolog.Logger {
	once.Do(func() {
		var out io.Writer = os.Stderr
		if term.IsTerminal(int(os.Stderr.Fd())) {
			out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		}
		level := zerolog.InfoLevel
		if os.Getenv("PROMPTRAIL_DEBUG") == "1" {
			level = zerolog.DebugLevel
		}
		base = zerolog.New(out).Level(level).With().Timestamp().Logger()
	})
	return base
}

// New returns a logger tagged with the given component.
func New(component string) zerolog.Logger {
	return root().With().Str("component", component).Logger()
}

// SetLevel adjusts the global level at runtime.
func SetLevel(level zerolog.Level) {
	root()
	base = base.Level(level)
}
