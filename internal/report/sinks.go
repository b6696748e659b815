package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// LogSink forwards lines to a zerolog logger at the level matching their severity.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Line(l Line) {
	var ev *zerolog.Event
	switch l.Severity {
	case SeverityError:
		ev = s.Log.Error()
	case SeverityWarning:
		ev = s.Log.Warn()
	default:
		ev = s.Log.Info()
	}
	ev.Int("verbosity", l.Level).Msg(l.Text)
}

// WriterSink prints lines to w, indenting detail levels the way the console
// output of the restore command always has.
type WriterSink struct {
	W     io.Writer
	Color bool
}

func (s WriterSink) Line(l Line) {
	text := l.Text
	switch {
	case l.Level == Verbose:
		text = "  - " + text
	case l.Level >= Debug:
		text = "    > " + text
	}
	if s.Color {
		switch l.Severity {
		case SeverityError:
			text = color.New(color.FgRed).Sprint(text)
		case SeverityWarning:
			text = color.New(color.FgYellow).Sprint(text)
		}
	}
	fmt.Fprintln(s.W, text)
}
