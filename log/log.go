package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/albumshelf/config"
	"github.com/xeptore/albumshelf/constant"
)

func FromConfig(conf config.Log) zerolog.Logger {
	return New(os.Stderr, conf)
}

// New builds a logger writing to w. It panics on a level or format that
// config validation would have rejected.
func New(w io.Writer, conf config.Log) zerolog.Logger {
	level, err := zerolog.ParseLevel(conf.Level)
	if nil != err {
		panic("invalid logging level: " + conf.Level)
	}

	switch strings.ToLower(conf.Format) {
	case "json":
		return withContext(zerolog.New(w)).Level(level)
	case "pretty":
		return withContext(zerolog.New(consoleWriter(w))).Level(level)
	default:
		panic("invalid logging format: " + conf.Format)
	}
}

func NewDefault() zerolog.Logger {
	return withContext(zerolog.New(consoleWriter(os.Stderr))).Level(zerolog.InfoLevel)
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{ //nolint:exhaustruct
		Out:          w,
		TimeFormat:   time.RFC3339,
		TimeLocation: time.UTC,
	}
}

func withContext(l zerolog.Logger) zerolog.Logger {
	return l.
		Hook(&stackHook{}).
		With().
		Timestamp().
		Str("version", constant.Version).
		Str("compile_time", constant.CompileTime).
		Logger()
}
