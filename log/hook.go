package log

import (
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// stackHook attaches the caller stack to error and higher level events.
type stackHook struct{}

func (h *stackHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level < zerolog.ErrorLevel {
		return
	}

	arr := zerolog.Arr()
	for _, f := range callerFrames(5, 16) {
		arr.Dict(zerolog.Dict().
			Int("line", f.Line).
			Str("file", f.File).
			Str("function", f.Function),
		)
	}
	e.Array("stack", arr)
}

// callerFrames collects at most limit frames, skipping zerolog internals and
// the Go runtime.
func callerFrames(skip, limit int) []runtime.Frame {
	const depth = 64
	var pcs [depth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]runtime.Frame, 0, limit)
	for len(out) < limit {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "github.com/rs/zerolog") &&
			!strings.HasPrefix(frame.Function, "runtime.") {
			out = append(out, frame)
		}
		if !more {
			break
		}
	}

	return out
}
